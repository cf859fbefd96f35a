package host

import (
	"context"
	"sort"
	"sync"

	"github.com/3leaps/sfeed/internal/model"
)

// Fetcher fetches release information for locators of one service.
type Fetcher interface {
	FetchRelease(ctx context.Context, loc Locator) (model.ReleaseInfo, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, loc Locator) (model.ReleaseInfo, error)

func (f FetcherFunc) FetchRelease(ctx context.Context, loc Locator) (model.ReleaseInfo, error) {
	return f(ctx, loc)
}

// Registry maps service hosts to fetchers. It is built explicitly at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Fetcher
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Fetcher)}
}

// Register binds service to f, replacing any previous binding.
func (r *Registry) Register(service string, f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[Locator(service).Service()] = f
}

// Lookup returns the fetcher for the locator's service.
func (r *Registry) Lookup(loc Locator) (Fetcher, error) {
	if loc.IsCacheOnly() {
		return nil, model.Errorf(model.ErrInvalidState, "lookup service", "cache-only locator has no service")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.handlers[loc.Service()]
	if !ok {
		return nil, model.Errorf(model.ErrParse, "lookup service", "unrecognized service %q", loc.Service())
	}
	return f, nil
}

// Services lists registered service hosts.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Fetch looks up the service for loc and fetches its release.
func (r *Registry) Fetch(ctx context.Context, loc Locator) (model.ReleaseInfo, error) {
	f, err := r.Lookup(loc)
	if err != nil {
		return model.ReleaseInfo{}, err
	}
	return f.FetchRelease(ctx, loc)
}
