// Package feed keeps a set of installed bundles up to date with a repository.
//
// A Feed checks the repository periodically, adopts strictly newer releases as
// its current release, prepares them and, depending on the install policy,
// installs them from host lifecycle hooks. Observers receive ordered events
// from a single dispatcher goroutine.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"golang.org/x/sync/singleflight"

	"github.com/3leaps/sfeed/internal/cache"
	"github.com/3leaps/sfeed/internal/config"
	"github.com/3leaps/sfeed/internal/download"
	"github.com/3leaps/sfeed/internal/host"
	"github.com/3leaps/sfeed/internal/host/github"
	"github.com/3leaps/sfeed/internal/host/index"
	"github.com/3leaps/sfeed/internal/model"
	"github.com/3leaps/sfeed/internal/release"
	"github.com/3leaps/sfeed/internal/telemetry"
	"github.com/3leaps/sfeed/internal/verify"
	"github.com/3leaps/sfeed/pkg/update"
)

type Feed struct {
	cfg        *config.Config
	loc        host.Locator
	targets    []string
	store      *cache.Store
	client     *host.Client
	registry   *host.Registry
	downloader *download.Downloader
	verifier   *verify.Verifier
	inspector  verify.BundleInspector
	clock      clock.Clock
	hooks      Hooks
	logger     *slog.Logger
	metrics    *telemetry.Metrics

	events  *dispatcher
	checks  singleflight.Group
	watched sync.Map // release id -> *release.Release

	mu      sync.Mutex
	current *release.Release
	active  bool
	policy  model.InstallPolicy
	stop    context.CancelFunc
	done    chan struct{}
	unhook  []func()
	closed  bool
}

type Option func(*Feed)

func WithClock(c clock.Clock) Option {
	return func(f *Feed) { f.clock = c }
}

func WithHooks(h Hooks) Option {
	return func(f *Feed) { f.hooks = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(f *Feed) { f.logger = l }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(f *Feed) { f.metrics = m }
}

func WithClient(c *host.Client) Option {
	return func(f *Feed) { f.client = c }
}

// WithRegistry replaces the default registry (GitHub plus a release index for
// the configured service).
func WithRegistry(r *host.Registry) Option {
	return func(f *Feed) { f.registry = r }
}

func WithStore(s *cache.Store) Option {
	return func(f *Feed) { f.store = s }
}

func WithInspector(i verify.BundleInspector) Option {
	return func(f *Feed) { f.inspector = i }
}

// New validates cfg and returns an inactive feed.
func New(cfg *config.Config, opts ...Option) (*Feed, error) {
	if cfg == nil {
		return nil, model.Errorf(model.ErrInvalidState, "new feed", "config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f := &Feed{
		cfg:    cfg.Clone(),
		loc:    cfg.Locator(),
		clock:  clock.NewClock(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.targets = append([]string(nil), f.cfg.Targets...)
	if f.hooks == nil {
		f.hooks = NewHookSet()
	}
	if f.client == nil {
		f.client = host.NewClient(host.WithAuth(github.AuthForURL))
	}
	if f.store == nil {
		base := f.cfg.CacheDir
		if base == "" {
			var err error
			if base, err = cache.DefaultBase(); err != nil {
				return nil, model.Wrap(model.ErrFilesystem, "new feed", err)
			}
		}
		f.store = cache.New(base)
	}
	if f.registry == nil {
		f.registry = DefaultRegistry(f.client, f.cfg)
	}
	if f.inspector == nil {
		f.inspector = f.cfg.Inspector()
	}
	vopts := []verify.VerifierOption{verify.WithVerifierLogger(f.logger)}
	if f.cfg.Signature.Skip {
		vopts = append(vopts, verify.WithoutCodeSignature())
	}
	f.verifier = verify.NewVerifier(f.inspector, vopts...)
	f.downloader = download.New(f.client,
		download.WithConcurrency(f.cfg.Concurrency),
		download.WithKeys(f.cfg.Keys()),
		download.WithLogger(f.logger),
		download.WithMetrics(f.metrics),
	)
	f.logger = f.logger.With("repository", f.loc.String())
	f.events = newDispatcher()
	return f, nil
}

// DefaultRegistry serves github.com from the releases API and the configured
// repository's service, if different, from a hosted release index.
func DefaultRegistry(client *host.Client, cfg *config.Config) *host.Registry {
	reg := host.NewRegistry()
	reg.Register(github.Service, &github.Fetcher{Client: client, AllowPrerelease: cfg.AllowPrerelease})
	loc := cfg.Locator()
	if !loc.IsCacheOnly() && loc.Service() != github.Service {
		reg.Register(loc.Service(), &index.Fetcher{Client: client, BaseURL: cfg.IndexBase, AllowPrerelease: cfg.AllowPrerelease})
	}
	return reg
}

func (f *Feed) Locator() host.Locator { return f.loc }

func (f *Feed) Targets() []string { return append([]string(nil), f.targets...) }

func (f *Feed) Store() *cache.Store { return f.store }

func (f *Feed) Hooks() Hooks { return f.hooks }

func (f *Feed) Period() time.Duration { return f.cfg.Period() }

// CurrentRelease returns the adopted release, or nil.
func (f *Feed) CurrentRelease() *release.Release {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Active reports whether Activate is in effect and with which policy.
func (f *Feed) Active() (bool, model.InstallPolicy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, f.policy
}

// Subscribe registers fn for events of the current release. Events are
// delivered on one goroutine in posting order; fn must not block for long.
func (f *Feed) Subscribe(fn func(Event)) (unsubscribe func()) {
	return f.events.subscribe(fn)
}

func (f *Feed) releaseOptions() []release.Option {
	return []release.Option{
		release.WithTargets(f.targets...),
		release.WithStore(f.store),
		release.WithRegistry(f.registry),
		release.WithDownloader(f.downloader),
		release.WithVerifier(f.verifier),
		release.WithLogger(f.logger),
		release.WithMetrics(f.metrics),
		release.WithStateListener(f.onState),
		release.WithProgressListener(f.onProgress),
	}
}

func (f *Feed) onState(r *release.Release, s model.State) {
	if _, ok := f.watched.Load(r.ID()); ok {
		f.events.post(Event{Kind: EventState, Release: r, ID: r.ID(), Version: r.Version(), State: s})
	}
}

func (f *Feed) onProgress(r *release.Release, fraction float64) {
	if _, ok := f.watched.Load(r.ID()); ok {
		f.events.post(Event{Kind: EventProgress, Release: r, ID: r.ID(), Version: r.Version(), State: r.State(), Progress: fraction})
	}
}

// InstalledVersion is the configured installed version, else the version the
// inspector reports for the first target. "" when unknown.
func (f *Feed) InstalledVersion() string {
	if f.cfg.InstalledVersion != "" {
		return f.cfg.InstalledVersion
	}
	if len(f.targets) == 0 {
		return ""
	}
	v, err := f.inspector.Version(f.targets[0])
	if err != nil {
		f.logger.Debug("installed version unknown", "target", f.targets[0], "error", err)
		return ""
	}
	return v
}

// Check fetches the latest release and adopts it when it is strictly newer
// than both the installed bundle and the current release. An adopted release
// is prepared right away. Concurrent calls share one check.
func (f *Feed) Check(ctx context.Context) (*release.Release, error) {
	v, err, shared := f.checks.Do("check", func() (any, error) {
		return f.check(ctx)
	})
	if shared {
		f.logger.Debug("joined running check")
	}
	r, _ := v.(*release.Release)
	return r, err
}

func (f *Feed) check(ctx context.Context) (*release.Release, error) {
	if f.loc.IsCacheOnly() {
		return f.CurrentRelease(), model.Errorf(model.ErrInvalidState, "check", "feed has no repository")
	}
	defer func() {
		if err := f.store.SetLastCheck(f.loc, f.clock.Now()); err != nil {
			f.logger.Warn("could not record check time", "error", err)
		}
	}()

	candidate := release.New(f.loc, f.releaseOptions()...)
	if err := candidate.Fetch(ctx); err != nil {
		f.metrics.ObserveCheck("error")
		f.logger.Warn("check failed", "error", err, "retryable", model.Retryable(err))
		return f.CurrentRelease(), err
	}
	version := candidate.Version()
	cur := f.CurrentRelease()
	if cur != nil && cur.State() == model.StateEmpty {
		cur = nil
	}

	installed := f.InstalledVersion()
	decision, msg, _ := update.DecideUpdate(installed, version, update.Options{Name: f.loc.String()})
	if !decision.ShouldProceed() {
		f.logger.Info(msg, "installed", installed, "available", version)
		f.discard(candidate, cur)
		f.metrics.ObserveCheck("current")
		return cur, nil
	}

	if cur != nil {
		cmp, err := update.Compare(version, cur.Version())
		switch {
		case err != nil:
			f.discard(candidate, cur)
			f.metrics.ObserveCheck("error")
			return cur, model.Wrap(model.ErrParse, "check", err)
		case cmp < 0:
			f.discard(candidate, cur)
			f.metrics.ObserveCheck("current")
			return cur, nil
		case cmp == 0:
			f.metrics.ObserveCheck("current")
			if cur.State() != model.StateFetched {
				return cur, nil
			}
			f.logger.Info("retrying preparation", "version", version)
			return cur, f.prepare(ctx, cur)
		}
	}

	f.adopt(candidate)
	f.metrics.ObserveCheck("update")
	f.logger.Info("new release available", "installed", installed, "version", version)
	return candidate, f.prepare(ctx, candidate)
}

// discard drops a candidate release. Its directory is removed unless the current
// release lives there.
func (f *Feed) discard(candidate, cur *release.Release) {
	if cur != nil && cur.Dir() == candidate.Dir() {
		return
	}
	if err := candidate.Clear(); err != nil {
		f.logger.Debug("could not remove candidate release", "error", err)
	}
}

// adopt makes r the current release, announces its state and clears the
// previous current release.
func (f *Feed) adopt(r *release.Release) {
	f.mu.Lock()
	old := f.current
	f.current = r
	f.watched.Store(r.ID(), r)
	f.mu.Unlock()

	f.events.post(Event{Kind: EventState, Release: r, ID: r.ID(), Version: r.Version(), State: r.State()})
	if old != nil {
		old.Cancel()
		if err := old.Clear(); err != nil {
			f.logger.Warn("could not clear superseded release", "version", old.Version(), "error", err)
		}
		f.watched.Delete(old.ID())
	}
}

func (f *Feed) prepare(ctx context.Context, r *release.Release) error {
	res, err := r.PrepareAssets(ctx)
	for url, ferr := range res.Failed {
		f.logger.Warn("asset failed", "url", url, "error", ferr)
	}
	if err != nil {
		return err
	}
	_, policy := f.Active()
	if policy == model.InstallWhenReady {
		f.logger.Info("release ready; waiting for the host to install", "version", r.Version())
	}
	return nil
}

// InstallReady installs the current release if it is ReadyToInstall and clears
// older cached releases afterwards.
func (f *Feed) InstallReady() (release.InstallResult, error) {
	r := f.CurrentRelease()
	if r == nil || r.State() != model.StateReadyToInstall {
		return release.InstallResult{}, model.Errorf(model.ErrInvalidState, "install", "no release is ready to install")
	}
	res, err := r.InstallAssets()
	if err != nil {
		return res, err
	}
	if _, err := f.store.ClearThrough(f.loc, r.Version(), r.Dir()); err != nil {
		f.logger.Warn("could not clear older releases", "error", err)
	}
	return res, nil
}

// ClearThisAndPriorReleases clears r and removes every cached release of the
// repository whose version is not newer than r's.
func (f *Feed) ClearThisAndPriorReleases(r *release.Release) error {
	if r == nil {
		return model.Errorf(model.ErrInvalidState, "clear releases", "no release")
	}
	version := r.Version()
	if version == "" {
		return model.Errorf(model.ErrInvalidState, "clear releases", "release has not been fetched")
	}
	var errs []error
	if err := r.Clear(); err != nil {
		errs = append(errs, err)
	}
	f.mu.Lock()
	if f.current == r {
		f.current = nil
	}
	f.mu.Unlock()
	f.watched.Delete(r.ID())

	if _, err := f.store.ClearThrough(f.loc, version); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Activate restores a prepared release from the cache, starts periodic checks
// and registers install hooks for policy. The first check runs one period
// after the last recorded check, or immediately if none was recorded.
func (f *Feed) Activate(policy model.InstallPolicy) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return model.Errorf(model.ErrInvalidState, "activate", "feed is closed")
	}
	if f.active {
		f.mu.Unlock()
		return model.Errorf(model.ErrInvalidState, "activate", "feed is already active")
	}
	f.active = true
	f.policy = policy
	ctx, stop := context.WithCancel(context.Background())
	f.stop = stop
	f.done = make(chan struct{})
	done := f.done
	f.mu.Unlock()

	f.Restore()

	var unhook []func()
	switch policy {
	case model.InstallAtActivation:
		unhook = append(unhook, f.hooks.OnActivate(f.installFromHook))
	case model.InstallAtQuit:
		unhook = append(unhook, f.hooks.OnQuit(f.installFromHook))
	}
	f.mu.Lock()
	f.unhook = unhook
	f.mu.Unlock()

	go f.loop(ctx, done)
	f.logger.Info("feed activated", "policy", policy.String(), "period", f.Period().String())
	return nil
}

// Deactivate stops periodic checks and removes hooks. It waits for a running
// scheduled check to return.
func (f *Feed) Deactivate() {
	f.mu.Lock()
	if !f.active {
		f.mu.Unlock()
		return
	}
	f.active = false
	stop, done, unhook := f.stop, f.done, f.unhook
	f.stop, f.done, f.unhook = nil, nil, nil
	f.mu.Unlock()

	stop()
	for _, fn := range unhook {
		fn()
	}
	<-done
	f.logger.Info("feed deactivated")
}

// Close deactivates the feed, cancels in-flight work of the current release
// and stops event delivery.
func (f *Feed) Close() {
	f.Deactivate()
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	cur := f.current
	f.mu.Unlock()
	if cur != nil {
		cur.Cancel()
	}
	f.events.close()
}

func (f *Feed) installFromHook() {
	res, err := f.InstallReady()
	switch {
	case errors.Is(err, model.ErrInvalidState):
		return
	case err != nil:
		f.logger.Error("install failed", "error", err, "failed", len(res.Failed))
	default:
		f.logger.Info("release installed", "targets", len(res.Installed))
	}
}

// Restore removes cached releases the installed bundle has caught up with and,
// without a current release, adopts the newest cached release that is ready to
// install. It returns the current release. Activate calls it.
func (f *Feed) Restore() *release.Release {
	installed := f.InstalledVersion()
	if update.Validate(installed) == nil {
		var keep []string
		if cur := f.CurrentRelease(); cur != nil {
			keep = append(keep, cur.Dir())
		}
		removed, err := f.store.ClearThrough(f.loc, installed, keep...)
		if err != nil {
			f.logger.Warn("could not clear installed releases", "error", err)
		}
		for _, dir := range removed {
			f.logger.Debug("removed cached release", "dir", dir)
		}
	}
	if cur := f.CurrentRelease(); cur != nil {
		return cur
	}

	cached, err := f.store.Releases(f.loc)
	if err != nil {
		f.logger.Warn("could not list cached releases", "error", err)
		return nil
	}
	for _, cr := range cached {
		if cr.Snapshot == nil || cr.Snapshot.State != model.StateReadyToInstall.String() {
			continue
		}
		if installed != "" {
			if cmp, err := update.Compare(cr.Version, installed); err != nil || cmp <= 0 {
				continue
			}
		}
		r := release.NewCached(cr.Dir, f.releaseOptions()...)
		if err := r.FetchSynchronously(); err != nil || r.State() != model.StateReadyToInstall {
			f.logger.Debug("cached release not usable", "dir", cr.Dir, "error", err)
			continue
		}
		f.adopt(r)
		f.logger.Info("restored prepared release", "version", r.Version())
		return r
	}
	return nil
}

func (f *Feed) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	period := f.Period()
	first := time.Duration(0)
	if last := f.store.LastCheck(f.loc); !last.IsZero() {
		if first = period - f.clock.Since(last); first < 0 {
			first = 0
		}
	}
	timer := f.clock.NewTimer(first)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C():
			if _, err := f.Check(ctx); err != nil && !errors.Is(err, model.ErrCancelled) {
				f.logger.Debug("scheduled check finished with error", "error", err)
			}
			timer.Reset(period)
		}
	}
}
