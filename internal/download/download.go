// Package download fetches release assets into a release directory.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/3leaps/sfeed/internal/cache"
	"github.com/3leaps/sfeed/internal/host"
	"github.com/3leaps/sfeed/internal/model"
	"github.com/3leaps/sfeed/internal/telemetry"
	"github.com/3leaps/sfeed/internal/verify"
)

const (
	DefaultConcurrency = 4
	tempDir            = ".download"
)

// Result maps asset URLs to the downloaded file or the failure.
type Result struct {
	Files  map[string]string
	Failed map[string]error
}

func newResult() Result {
	return Result{Files: make(map[string]string), Failed: make(map[string]error)}
}

// Progress aggregates bytes received across parallel downloads. It is safe to
// read while downloads run.
type Progress struct {
	received atomic.Int64
	expected atomic.Int64
	reported atomic.Int64
	onChange func(float64)
}

// NewProgress returns a Progress calling fn (may be nil) whenever the fraction
// moves to another whole percent. fn runs on the download worker goroutines and
// may be called concurrently.
func NewProgress(fn func(float64)) *Progress {
	p := &Progress{onChange: fn}
	p.reported.Store(-1)
	return p
}

func (p *Progress) Received() int64 { return p.received.Load() }
func (p *Progress) Expected() int64 { return p.expected.Load() }

// Fraction is received/expected clamped to [0, 1]; 0 while nothing is expected.
func (p *Progress) Fraction() float64 {
	exp := p.expected.Load()
	if exp <= 0 {
		return 0
	}
	f := float64(p.received.Load()) / float64(exp)
	if f > 1 {
		return 1
	}
	return f
}

func (p *Progress) expect(n int64) {
	if n > 0 {
		p.expected.Add(n)
	}
}

func (p *Progress) add(n int64) {
	p.received.Add(n)
	if p.onChange == nil {
		return
	}
	var step int64
	if exp := p.expected.Load(); exp > 0 {
		step = min(p.received.Load()*100/exp, 100)
	}
	prev := p.reported.Load()
	if step == prev || !p.reported.CompareAndSwap(prev, step) {
		return
	}
	p.onChange(p.Fraction())
}

type Downloader struct {
	client      *host.Client
	concurrency int
	keys        verify.Keys
	logger      *slog.Logger
	metrics     *telemetry.Metrics
}

type Option func(*Downloader)

func WithConcurrency(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithKeys sets the trust roots for SUMS signatures.
func WithKeys(k verify.Keys) Option {
	return func(d *Downloader) { d.keys = k }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Downloader) { d.logger = l }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Downloader) { d.metrics = m }
}

func New(client *host.Client, opts ...Option) *Downloader {
	d := &Downloader{
		client:      client,
		concurrency: DefaultConcurrency,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download fetches assets into dir in parallel. Each asset is streamed into
// dir/.download/<name>.part and renamed into place once complete. It returns
// after every download has finished or failed.
func (d *Downloader) Download(ctx context.Context, assets []model.Asset, dir string, progress *Progress) Result {
	res := newResult()
	if progress == nil {
		progress = NewProgress(nil)
	}
	if err := os.MkdirAll(filepath.Join(dir, tempDir), 0o755); err != nil {
		for _, a := range assets {
			res.Failed[a.URL] = model.Wrap(model.ErrFilesystem, "prepare download dir", err)
		}
		return res
	}
	defer os.RemoveAll(filepath.Join(dir, tempDir))

	for _, a := range assets {
		progress.expect(a.Size)
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)
	for _, a := range assets {
		g.Go(func() error {
			path, err := d.fetchOne(ctx, a, dir, progress)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				d.logger.Debug("download failed", "url", a.URL, "error", err)
				res.Failed[a.URL] = err
				return nil
			}
			res.Files[a.URL] = path
			return nil
		})
	}
	_ = g.Wait()
	return res
}

func (d *Downloader) fetchOne(ctx context.Context, a model.Asset, dir string, progress *Progress) (string, error) {
	name := a.FileName()
	if err := checkName(name); err != nil {
		return "", model.Wrap(model.ErrParse, "download "+a.URL, err)
	}
	final := filepath.Join(dir, name)
	part := filepath.Join(dir, tempDir, name+".part")

	// #nosec G304 -- part path built from a sanitized base name
	f, err := os.Create(part)
	if err != nil {
		return "", model.Wrap(model.ErrFilesystem, "download "+name, err)
	}
	sawTotal := a.Size > 0
	n, err := d.client.Download(ctx, a.URL, f, func(n, total int64) {
		if !sawTotal {
			sawTotal = true
			progress.expect(total)
		}
		progress.add(n)
	})
	d.metrics.AddDownloaded(n)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = model.Wrap(model.ErrFilesystem, "download "+name, cerr)
	}
	if err != nil {
		os.Remove(part)
		return "", err
	}
	if err := os.RemoveAll(final); err != nil {
		return "", model.Wrap(model.ErrFilesystem, "download "+name, err)
	}
	if err := os.Rename(part, final); err != nil {
		return "", model.Wrap(model.ErrFilesystem, "download "+name, err)
	}
	d.logger.Debug("downloaded", "asset", name, "size", verify.FormatSize(n))
	return final, nil
}

// Retrieve downloads the plan into dir and checks payload integrity against the
// release SUMS file when one is published. Only payload files appear in the
// result; integrity files stay on disk next to them.
func (d *Downloader) Retrieve(ctx context.Context, plan Plan, dir string, progress *Progress) Result {
	raw := d.Download(ctx, plan.Assets(), dir, progress)
	res := newResult()
	for _, a := range plan.Payload {
		if err, ok := raw.Failed[a.URL]; ok {
			res.Failed[a.URL] = err
		} else if p, ok := raw.Files[a.URL]; ok {
			res.Files[a.URL] = p
		}
	}
	if plan.Sums == nil {
		if !d.keys.Empty() {
			d.logger.Warn("release publishes no checksum file; skipping integrity check")
		}
		return res
	}

	sums, sumsErr := d.checkSums(plan, raw)
	for _, a := range plan.Payload {
		path, ok := res.Files[a.URL]
		if !ok {
			continue
		}
		err := sumsErr
		if err == nil {
			err = verify.CheckFileDigest(path, a.FileName(), sums, plan.Sums.FileName())
		}
		if err != nil {
			delete(res.Files, a.URL)
			res.Failed[a.URL] = err
		}
	}
	return res
}

// checkSums reads the SUMS file and verifies its signature when one was
// published and keys are configured.
func (d *Downloader) checkSums(plan Plan, raw Result) ([]byte, error) {
	if err, ok := raw.Failed[plan.Sums.URL]; ok {
		return nil, err
	}
	// #nosec G304 -- downloaded into the release directory
	sums, err := os.ReadFile(raw.Files[plan.Sums.URL])
	if err != nil {
		return nil, model.Wrap(model.ErrFilesystem, "read "+plan.Sums.FileName(), err)
	}
	if plan.SumsSig == nil {
		return sums, nil
	}
	if err, ok := raw.Failed[plan.SumsSig.URL]; ok {
		return nil, err
	}
	if d.keys.Empty() {
		d.logger.Debug("no signature keys configured; trusting checksum file", "file", plan.Sums.FileName())
		return sums, nil
	}
	// #nosec G304 -- downloaded into the release directory
	sig, err := os.ReadFile(raw.Files[plan.SumsSig.URL])
	if err != nil {
		return nil, model.Wrap(model.ErrFilesystem, "read "+plan.SumsSig.FileName(), err)
	}
	if err := verify.CheckSumsSignature(sums, sig, plan.SumsSig.FileName(), d.keys); err != nil {
		return nil, err
	}
	d.logger.Info("checksum file signature verified", "file", plan.SumsSig.FileName(), "keys", verify.DescribeKeys(d.keys))
	return sums, nil
}

// Err joins every failure in r, or returns nil.
func (r Result) Err() error {
	var errs []error
	for _, err := range r.Failed {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// checkName rejects asset names that would resolve outside the release
// directory or clobber its bookkeeping files.
func checkName(name string) error {
	switch {
	case name == "" || name == "." || name == "/":
		return errors.New("asset has no file name")
	case name == ".." || strings.ContainsAny(name, `/\`):
		return fmt.Errorf("asset name %q is not a plain file name", name)
	case name == tempDir || name == cache.SnapshotFile:
		return fmt.Errorf("asset name %q is reserved", name)
	}
	return nil
}
