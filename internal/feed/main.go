package feed

import (
	"sync"

	"github.com/3leaps/sfeed/internal/config"
	"github.com/3leaps/sfeed/internal/selfupdate"
)

var (
	mainMu   sync.Mutex
	mainOnce = new(sync.Once)
	mainFeed *Feed
	mainErr  error
)

// Main returns the process-wide feed, building it on first use from
// config.LoadMain. Without configured targets it keeps the running executable
// up to date. Options apply to the first call only.
func Main(opts ...Option) (*Feed, error) {
	mainMu.Lock()
	once := mainOnce
	mainMu.Unlock()

	once.Do(func() {
		f, err := buildMain(opts...)
		mainMu.Lock()
		mainFeed, mainErr = f, err
		mainMu.Unlock()
	})
	mainMu.Lock()
	defer mainMu.Unlock()
	return mainFeed, mainErr
}

func buildMain(opts ...Option) (*Feed, error) {
	cfg, err := config.LoadMain()
	if err != nil {
		return nil, err
	}
	if len(cfg.Targets) == 0 {
		exe, err := selfupdate.ComputeTargetPath("")
		if err != nil {
			return nil, err
		}
		cfg.Targets = []string{exe}
	}
	return New(cfg, opts...)
}

// ResetMain closes the process-wide feed and forgets it, so the next Main call
// builds a new one.
func ResetMain() {
	mainMu.Lock()
	f := mainFeed
	mainFeed, mainErr = nil, nil
	mainOnce = new(sync.Once)
	mainMu.Unlock()
	if f != nil {
		f.Close()
	}
}
