package release

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/3leaps/sfeed/internal/download"
	"github.com/3leaps/sfeed/internal/extract"
	"github.com/3leaps/sfeed/internal/model"
)

// PrepareResult reports what PrepareAssets did with each asset and target.
type PrepareResult struct {
	// Downloaded maps asset URLs to the prepared path (the extraction
	// directory for archives).
	Downloaded map[string]string
	// Failed maps asset URLs to their download, integrity or extraction error.
	Failed map[string]error
	// Targets maps target bundles without a verified replacement to the reason.
	Targets map[string]error
}

// Err joins every failure in the result.
func (p PrepareResult) Err() error {
	var errs []error
	for _, k := range sortedKeys(p.Failed) {
		errs = append(errs, p.Failed[k])
	}
	for _, k := range sortedKeys(p.Targets) {
		errs = append(errs, p.Targets[k])
	}
	return errors.Join(errs...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PrepareAssets downloads, checks, extracts and verifies the assets of a
// Fetched release. It succeeds when every target bundle has a verified
// replacement; without targets, when nothing failed and at least one asset was
// prepared. On success the snapshot is committed and the release moves to
// ReadyToInstall. On failure the state is unchanged.
func (r *Release) PrepareAssets(ctx context.Context) (PrepareResult, error) {
	result := PrepareResult{
		Downloaded: make(map[string]string),
		Failed:     make(map[string]error),
		Targets:    make(map[string]error),
	}
	gen, ctx, cancel, err := r.begin(ctx, "prepare", model.StateFetched)
	if err != nil {
		return result, err
	}
	defer r.end(cancel)

	info := r.Info()
	dir := r.Dir()
	progress := download.NewProgress(func(f float64) {
		if r.onProgress != nil {
			r.onProgress(r, f)
		}
	})
	r.progress.Store(progress)

	plan := download.NewPlan(info.Assets)
	for _, a := range plan.Skipped {
		r.logger.Debug("skipping asset", "asset", a.FileName())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return result, model.Wrap(model.ErrFilesystem, "prepare", err)
	}
	res := r.downloader.Retrieve(ctx, plan, dir, progress)
	if r.isStale(gen) {
		return result, cancelled("prepare")
	}
	for url, err := range res.Failed {
		result.Failed[url] = err
	}

	var prepared []string
	for _, a := range plan.Payload {
		path, ok := res.Files[a.URL]
		if !ok {
			continue
		}
		out, err := r.prepareOne(path)
		if err != nil {
			result.Failed[a.URL] = err
			continue
		}
		result.Downloaded[a.URL] = out
		prepared = append(prepared, out)
	}
	if r.isStale(gen) {
		return result, cancelled("prepare")
	}

	replacements := make(map[string]string, len(r.targets))
	for _, target := range r.targets {
		repl, ok := findReplacement(prepared, target)
		if !ok {
			result.Targets[target] = model.Errorf(model.ErrFilesystem, "prepare", "release has no replacement for %s", target)
			continue
		}
		if err := r.verifier.Verify(repl, target); err != nil {
			result.Targets[target] = err
			continue
		}
		replacements[target] = repl
	}

	ok := len(replacements) == len(r.targets)
	if len(r.targets) == 0 {
		ok = len(result.Failed) == 0 && len(prepared) > 0
	}
	if !ok {
		err := result.Err()
		if err == nil {
			err = model.Errorf(model.ErrParse, "prepare", "release %s has no usable assets", info.Version)
		}
		r.logger.Warn("release preparation failed", "version", info.Version, "error", err)
		return result, fmt.Errorf("prepare %s: %w", info.Version, err)
	}

	r.mu.Lock()
	if r.staleLocked(gen) {
		r.mu.Unlock()
		return result, cancelled("prepare")
	}
	r.prepared = prepared
	r.replacements = replacements
	r.mu.Unlock()

	if err := r.commit(model.StateReadyToInstall); err != nil {
		r.mu.Lock()
		if !r.staleLocked(gen) {
			r.prepared = nil
			r.replacements = nil
		}
		r.mu.Unlock()
		return result, err
	}

	r.mu.Lock()
	if r.staleLocked(gen) {
		r.mu.Unlock()
		return result, cancelled("prepare")
	}
	r.setStateLocked(model.StateReadyToInstall)
	r.mu.Unlock()
	r.flush()
	r.logger.Info("release ready to install", "version", info.Version, "prepared", len(prepared))
	return result, nil
}

func (r *Release) isStale(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.staleLocked(gen)
}

// prepareOne extracts archives next to the download and returns the path
// standing for the asset.
func (r *Release) prepareOne(path string) (string, error) {
	if r.extractor == nil || !r.extractor.CanExtract(path) {
		return path, nil
	}
	dst := extract.TrimArchiveExt(path)
	if dst == path {
		dst = path + ".contents"
	}
	if err := os.RemoveAll(dst); err != nil {
		return "", model.Wrap(model.ErrFilesystem, "extract "+filepath.Base(path), err)
	}
	if err := r.extractor.Extract(path, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// findReplacement matches a target bundle against prepared assets: either the
// asset contains an entry named like the target, or the asset itself is.
func findReplacement(prepared []string, target string) (string, bool) {
	name := filepath.Base(target)
	for _, p := range prepared {
		candidate := filepath.Join(p, name)
		if _, err := os.Lstat(candidate); err == nil {
			return candidate, true
		}
	}
	for _, p := range prepared {
		if filepath.Base(p) == name {
			return p, true
		}
	}
	return "", false
}
