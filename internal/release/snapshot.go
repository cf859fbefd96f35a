package release

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/3leaps/sfeed/internal/cache"
	"github.com/3leaps/sfeed/internal/model"
)

// Snapshot returns the persisted form of the release in its current state.
func (r *Release) Snapshot() cache.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(r.state)
}

func (r *Release) snapshotLocked(state model.State) cache.Snapshot {
	snap := cache.Snapshot{
		Schema:     cache.SchemaVersion,
		ID:         r.id,
		Repository: r.locator.String(),
		Version:    r.info.Version,
		Prerelease: r.info.Prerelease,
		State:      state.String(),
		Assets:     slices.Clone(r.info.Assets),
	}
	for _, p := range r.prepared {
		snap.Prepared = append(snap.Prepared, relTo(r.dir, p))
	}
	if len(r.replacements) > 0 {
		snap.Replacements = make(map[string]string, len(r.replacements))
		for target, p := range r.replacements {
			snap.Replacements[target] = relTo(r.dir, p)
		}
	}
	snap.Installed = slices.Clone(r.swapped)
	return snap
}

func relTo(dir, p string) string {
	if rel, err := filepath.Rel(dir, p); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return p
}

func absFrom(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, filepath.FromSlash(p))
}

// Commit writes the release snapshot to its cache directory.
func (r *Release) Commit() error {
	return r.commit(r.State())
}

func (r *Release) commit(state model.State) error {
	r.mu.Lock()
	if state == model.StateEmpty || r.info.Version == "" {
		r.mu.Unlock()
		return model.Errorf(model.ErrInvalidState, "commit", "release has not been fetched")
	}
	dir := r.dir
	snap := r.snapshotLocked(state)
	r.mu.Unlock()

	snap.CommittedAt = time.Now().UTC()
	return r.store.Save(dir, snap)
}

// FetchSynchronously loads a cache-only release from its snapshot. A snapshot
// in ReadyToInstall whose prepared files still exist is restored as
// ReadyToInstall; anything else as Fetched.
func (r *Release) FetchSynchronously() error {
	if !r.IsCacheOnly() {
		return model.Errorf(model.ErrInvalidState, "fetch", "release has a service; use Fetch")
	}
	gen, _, cancel, err := r.begin(context.Background(), "fetch", model.StateEmpty, model.StateFetched)
	if err != nil {
		return err
	}
	defer r.end(cancel)

	snap, err := r.store.Load(r.cacheDir)
	if err != nil {
		return err
	}
	state, err := model.ParseState(snap.State)
	if err != nil {
		return model.Wrap(model.ErrParse, "fetch", err)
	}
	if state != model.StateReadyToInstall || !r.preparedExist(snap) {
		state = model.StateFetched
	}

	r.mu.Lock()
	if r.staleLocked(gen) {
		r.mu.Unlock()
		return cancelled("fetch")
	}
	r.info = model.ReleaseInfo{Version: snap.Version, Prerelease: snap.Prerelease, Assets: snap.Assets}
	r.dir = r.cacheDir
	r.prepared = nil
	r.replacements = nil
	r.swapped = nil
	if state == model.StateReadyToInstall {
		r.swapped = slices.Clone(snap.Installed)
		for _, p := range snap.Prepared {
			r.prepared = append(r.prepared, absFrom(r.dir, p))
		}
		r.replacements = make(map[string]string, len(snap.Replacements))
		for target, p := range snap.Replacements {
			r.replacements[target] = absFrom(r.dir, p)
		}
	}
	r.setStateLocked(state)
	r.mu.Unlock()
	r.flush()
	return nil
}

func (r *Release) preparedExist(snap cache.Snapshot) bool {
	if len(snap.Prepared) == 0 {
		return false
	}
	for _, p := range snap.Prepared {
		if _, err := os.Lstat(absFrom(r.cacheDir, p)); err != nil {
			return false
		}
	}
	for _, target := range r.targets {
		p, ok := snap.Replacements[target]
		if !ok {
			return false
		}
		if _, err := os.Lstat(absFrom(r.cacheDir, p)); err != nil {
			return false
		}
	}
	return true
}
