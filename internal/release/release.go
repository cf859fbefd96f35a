// Package release implements the lifecycle of one release of a repository:
// Empty → Fetched → ReadyToInstall → Installed.
//
// A Release is safe for concurrent use. Fetch and PrepareAssets block and are
// meant to run on the caller's goroutine; at most one of them runs at a time.
// Cancel and Clear abort in-flight work; results arriving afterwards are
// discarded, and the release stays busy until the aborted call has returned.
// State listeners run outside the release lock on the goroutine that caused
// the change. Progress listeners run on download worker goroutines, possibly
// concurrently; feed.Feed marshals both onto its dispatcher.
package release

import (
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/3leaps/sfeed/internal/cache"
	"github.com/3leaps/sfeed/internal/download"
	"github.com/3leaps/sfeed/internal/extract"
	"github.com/3leaps/sfeed/internal/host"
	"github.com/3leaps/sfeed/internal/model"
	"github.com/3leaps/sfeed/internal/telemetry"
	"github.com/3leaps/sfeed/internal/verify"
)

// StateFunc observes state changes. It is called once per change, in order.
type StateFunc func(r *Release, s model.State)

// ProgressFunc observes download progress in [0, 1].
type ProgressFunc func(r *Release, fraction float64)

type Release struct {
	id       string
	locator  host.Locator
	targets  []string
	cacheDir string

	store      *cache.Store
	registry   *host.Registry
	downloader *download.Downloader
	extractor  extract.Extractor
	verifier   *verify.Verifier
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	onState    StateFunc
	onProgress ProgressFunc

	mu           sync.Mutex
	state        model.State
	pending      []model.State
	draining     bool
	info         model.ReleaseInfo
	dir          string
	prepared     []string
	replacements map[string]string
	swapped      []string
	generation   uint64
	busy         bool
	cancel       context.CancelFunc
	orphan       string

	progress atomic.Pointer[download.Progress]
}

type Option func(*Release)

// WithTargets sets the installed bundles this release replaces.
func WithTargets(targets ...string) Option {
	return func(r *Release) {
		r.targets = nil
		for _, t := range targets {
			if t != "" {
				r.targets = append(r.targets, filepath.Clean(t))
			}
		}
	}
}

func WithStore(s *cache.Store) Option {
	return func(r *Release) { r.store = s }
}

func WithRegistry(reg *host.Registry) Option {
	return func(r *Release) { r.registry = reg }
}

func WithDownloader(d *download.Downloader) Option {
	return func(r *Release) { r.downloader = d }
}

func WithExtractor(x extract.Extractor) Option {
	return func(r *Release) { r.extractor = x }
}

func WithVerifier(v *verify.Verifier) Option {
	return func(r *Release) { r.verifier = v }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Release) { r.logger = l }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Release) { r.metrics = m }
}

func WithStateListener(fn StateFunc) Option {
	return func(r *Release) { r.onState = fn }
}

// WithProgressListener sets fn to receive the download fraction of
// PrepareAssets each time it moves by a whole percent. fn runs on download
// worker goroutines, possibly concurrently, so it must be safe for that.
func WithProgressListener(fn ProgressFunc) Option {
	return func(r *Release) { r.onProgress = fn }
}

// New returns an Empty release of the repository at loc.
func New(loc host.Locator, opts ...Option) *Release {
	r := &Release{
		id:        uuid.NewString(),
		locator:   loc,
		extractor: extract.Archives{},
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.store == nil {
		if base, err := cache.DefaultBase(); err == nil {
			r.store = cache.New(base)
		} else {
			r.store = cache.New(filepath.Join(".", ".sfeed-cache"))
		}
	}
	if r.verifier == nil {
		r.verifier = verify.NewVerifier(verify.ManifestInspector{}, verify.WithVerifierLogger(r.logger))
	}
	if r.downloader == nil {
		r.downloader = download.New(host.NewClient(), download.WithLogger(r.logger), download.WithMetrics(r.metrics))
	}
	r.logger = r.logger.With("release", r.id)
	return r
}

// NewCached returns an Empty cache-only release backed by the release
// directory dir. It can only be fetched with FetchSynchronously.
func NewCached(dir string, opts ...Option) *Release {
	r := New("", opts...)
	r.cacheDir = filepath.Clean(dir)
	return r
}

func (r *Release) ID() string { return r.id }

func (r *Release) Locator() host.Locator { return r.locator }

func (r *Release) Targets() []string { return slices.Clone(r.targets) }

func (r *Release) IsCacheOnly() bool { return r.locator.IsCacheOnly() }

func (r *Release) Store() *cache.Store { return r.store }

func (r *Release) Verifier() *verify.Verifier { return r.verifier }

func (r *Release) State() model.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Release) Version() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info.Version
}

func (r *Release) Info() model.ReleaseInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := r.info
	info.Assets = slices.Clone(r.info.Assets)
	return info
}

// Dir is the cache directory of the release, or "" before it was fetched.
func (r *Release) Dir() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dir
}

// PreparedAssets lists prepared asset paths.
func (r *Release) PreparedAssets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.prepared)
}

// Replacements maps each target bundle to its prepared replacement.
func (r *Release) Replacements() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.replacements))
	for k, v := range r.replacements {
		out[k] = v
	}
	return out
}

// Progress is the download progress of the running or last preparation.
func (r *Release) Progress() float64 {
	if p := r.progress.Load(); p != nil {
		return p.Fraction()
	}
	return 0
}

// Busy reports whether a blocking operation is in flight.
func (r *Release) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy
}

// begin reserves the release for one blocking operation. It fails without side
// effects when another operation runs or the state does not allow op.
func (r *Release) begin(ctx context.Context, op string, allowed ...model.State) (uint64, context.Context, context.CancelFunc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy {
		return 0, nil, nil, model.Errorf(model.ErrInvalidState, op, "another operation is in progress")
	}
	if !slices.Contains(allowed, r.state) {
		return 0, nil, nil, model.Errorf(model.ErrInvalidState, op, "not allowed in state %s", r.state)
	}
	ctx, cancel := context.WithCancel(ctx)
	r.busy = true
	r.cancel = cancel
	return r.generation, ctx, cancel, nil
}

// end releases the reservation taken by begin. A directory cleared while the
// operation ran is removed again, since the aborted operation may have written
// into it after Clear.
func (r *Release) end(cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	r.mu.Lock()
	r.busy = false
	r.cancel = nil
	orphan := r.orphan
	r.orphan = ""
	r.mu.Unlock()
	if orphan != "" {
		if err := r.store.Remove(orphan); err != nil {
			r.logger.Warn("could not remove cleared release directory", "dir", orphan, "error", err)
		}
	}
}

func (r *Release) staleLocked(gen uint64) bool {
	return r.generation != gen
}

func cancelled(op string) error {
	return model.Errorf(model.ErrCancelled, op, "release was cancelled")
}

// setStateLocked records s and queues a notification if it differs from the
// old state. Callers run flush after unlocking.
func (r *Release) setStateLocked(s model.State) {
	if r.state == s {
		return
	}
	r.state = s
	r.pending = append(r.pending, s)
}

// flush delivers queued state changes in order. Only one goroutine drains at a
// time; changes queued by listeners are delivered by the same loop.
func (r *Release) flush() {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return
	}
	r.draining = true
	for len(r.pending) > 0 {
		s := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		r.emit(s)
		r.mu.Lock()
	}
	r.draining = false
	r.mu.Unlock()
}

func (r *Release) emit(s model.State) {
	r.metrics.ObserveTransition(s.String())
	r.logger.Debug("release state changed", "state", s.String())
	if r.onState != nil {
		r.onState(r, s)
	}
}

// Cancel aborts an in-flight fetch or preparation. The state is unchanged. New
// operations are rejected until the aborted one has returned.
func (r *Release) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelLocked()
}

func (r *Release) cancelLocked() {
	r.generation++
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// Clear cancels in-flight work, resets the release to Empty and removes its
// cache directory. The in-memory reset happens even if removal fails.
func (r *Release) Clear() error {
	r.mu.Lock()
	r.cancelLocked()
	dir := r.dir
	if dir == "" {
		dir = r.cacheDir
	}
	r.info = model.ReleaseInfo{}
	r.dir = ""
	r.prepared = nil
	r.replacements = nil
	r.swapped = nil
	r.setStateLocked(model.StateEmpty)
	if r.busy && dir != "" {
		r.orphan = dir
	}
	r.mu.Unlock()
	r.progress.Store(nil)
	r.flush()

	if dir == "" {
		return nil
	}
	return r.store.Remove(dir)
}

// Fetch asks the release service for the latest release and moves to Fetched.
// Cache-only releases are fetched from their snapshot instead.
func (r *Release) Fetch(ctx context.Context) error {
	if r.IsCacheOnly() {
		return r.FetchSynchronously()
	}
	if r.registry == nil {
		return model.Errorf(model.ErrInvalidState, "fetch", "no release service registry configured")
	}
	gen, ctx, cancel, err := r.begin(ctx, "fetch", model.StateEmpty, model.StateFetched)
	if err != nil {
		return err
	}
	defer r.end(cancel)

	info, err := r.registry.Fetch(ctx, r.locator)

	r.mu.Lock()
	if r.staleLocked(gen) {
		r.mu.Unlock()
		return cancelled("fetch")
	}
	if err != nil {
		r.mu.Unlock()
		return err
	}
	prev := r.dir
	r.info = info
	r.dir = r.store.ReleaseDir(r.locator, info.Version)
	r.prepared = nil
	r.replacements = nil
	r.swapped = nil
	r.setStateLocked(model.StateFetched)
	r.mu.Unlock()

	// a re-fetch that found another version leaves the old directory behind
	if prev != "" && prev != r.Dir() && r.ownsDir(prev) {
		if err := r.store.Remove(prev); err != nil {
			r.logger.Warn("could not remove superseded release directory", "dir", prev, "error", err)
		}
	}

	r.logger.Info("fetched release", "repository", r.locator.String(), "version", info.Version, "assets", len(info.Assets))
	if !r.persistedBeyond(model.StateFetched) {
		if err := r.Commit(); err != nil {
			r.logger.Warn("could not persist fetched release", "error", err)
		}
	}
	r.flush()
	return nil
}

// ownsDir reports whether the snapshot in dir was written by this release.
// Directories holding another release's snapshot are left alone.
func (r *Release) ownsDir(dir string) bool {
	snap, err := r.store.Load(dir)
	return err == nil && snap.ID == r.id
}

// persistedBeyond reports whether the snapshot in the release directory is
// further along than s. A re-fetch must not rewind it.
func (r *Release) persistedBeyond(s model.State) bool {
	snap, err := r.store.Load(r.Dir())
	if err != nil {
		return false
	}
	persisted, err := model.ParseState(snap.State)
	return err == nil && persisted > s
}
