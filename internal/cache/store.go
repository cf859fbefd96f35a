// Package cache stores release snapshots and downloaded assets on disk:
//
//	<base>/<sanitized-locator>/lastcheck.json
//	<base>/<sanitized-locator>/<sanitized-version>/release.json
//	<base>/<sanitized-locator>/<sanitized-version>/<asset files>
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/3leaps/sfeed/internal/host"
	"github.com/3leaps/sfeed/internal/model"
	"github.com/3leaps/sfeed/internal/schemas"
	"github.com/3leaps/sfeed/pkg/update"
)

const (
	SnapshotFile  = "release.json"
	LastCheckFile = "lastcheck.json"
	DownloadDir   = ".download"

	SchemaVersion = 1
)

// Snapshot is the persisted form of a release.
type Snapshot struct {
	Schema       int               `json:"schema"`
	ID           string            `json:"id,omitempty"`
	Repository   string            `json:"repository,omitempty"`
	Version      string            `json:"version"`
	Prerelease   bool              `json:"prerelease,omitempty"`
	State        string            `json:"state"`
	Assets       []model.Asset     `json:"assets"`
	Prepared     []string          `json:"prepared,omitempty"`
	Replacements map[string]string `json:"replacements,omitempty"`
	Installed    []string          `json:"installed,omitempty"`
	CommittedAt  time.Time         `json:"committedAt,omitempty"`
}

// Store resolves and manages cache directories below a base directory.
type Store struct {
	base string
}

func New(base string) *Store {
	return &Store{base: base}
}

// DefaultBase is the per-user cache directory for sfeed.
func DefaultBase() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", model.Wrap(model.ErrFilesystem, "resolve cache dir", err)
	}
	return filepath.Join(dir, "sfeed"), nil
}

func (s *Store) Base() string { return s.base }

// RepoDir is the directory holding every cached release of loc.
func (s *Store) RepoDir(loc host.Locator) string {
	return filepath.Join(s.base, host.Sanitize(loc.String()))
}

// ReleaseDir is the directory of one version of loc.
func (s *Store) ReleaseDir(loc host.Locator, version string) string {
	return filepath.Join(s.RepoDir(loc), host.Sanitize(version))
}

// Save writes dir/release.json atomically.
func (s *Store) Save(dir string, snap Snapshot) error {
	if snap.Schema == 0 {
		snap.Schema = SchemaVersion
	}
	if snap.Assets == nil {
		snap.Assets = []model.Asset{}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return model.Wrap(model.ErrParse, "encode snapshot", err)
	}
	if err := schemas.Validate(schemas.ReleaseSnapshot, data); err != nil {
		return model.Wrap(model.ErrParse, "encode snapshot", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.Wrap(model.ErrFilesystem, "save snapshot", err)
	}
	if err := writeAtomic(filepath.Join(dir, SnapshotFile), append(data, '\n')); err != nil {
		return model.Wrap(model.ErrFilesystem, "save snapshot", err)
	}
	return nil
}

// Load reads dir/release.json. A missing file is a filesystem error; a corrupt
// one is a parse error.
func (s *Store) Load(dir string) (Snapshot, error) {
	// #nosec G304 -- dir is inside the cache base
	data, err := os.ReadFile(filepath.Join(dir, SnapshotFile))
	if err != nil {
		return Snapshot{}, model.Wrap(model.ErrFilesystem, "load snapshot", err)
	}
	if err := schemas.Validate(schemas.ReleaseSnapshot, data); err != nil {
		return Snapshot{}, model.Wrap(model.ErrParse, "load snapshot "+dir, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, model.Wrap(model.ErrParse, "load snapshot "+dir, err)
	}
	return snap, nil
}

// Remove deletes a release directory. A missing directory is not an error.
func (s *Store) Remove(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return model.Wrap(model.ErrFilesystem, "remove "+dir, err)
	}
	return nil
}

// CachedRelease is one release directory of a repository.
type CachedRelease struct {
	Dir      string
	Version  string
	Snapshot *Snapshot
}

// Releases lists the release directories of loc, newest first. Directories whose
// version cannot be determined sort last.
func (s *Store) Releases(loc host.Locator) ([]CachedRelease, error) {
	entries, err := os.ReadDir(s.RepoDir(loc))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, model.Wrap(model.ErrFilesystem, "list releases", err)
	}
	var out []CachedRelease
	for _, e := range entries {
		if !e.IsDir() || e.Name() == DownloadDir {
			continue
		}
		dir := filepath.Join(s.RepoDir(loc), e.Name())
		cr := CachedRelease{Dir: dir, Version: e.Name()}
		if snap, err := s.Load(dir); err == nil {
			cr.Snapshot = &snap
			cr.Version = snap.Version
		}
		out = append(out, cr)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return compareLoose(out[i].Version, out[j].Version) > 0
	})
	return out, nil
}

// ClearThrough removes every release directory of loc whose version compares
// less than or equal to version. Directories listed in keep survive. Versions
// that cannot be compared are left alone.
func (s *Store) ClearThrough(loc host.Locator, version string, keep ...string) ([]string, error) {
	if err := update.Validate(version); err != nil {
		return nil, model.Wrap(model.ErrParse, "clear releases", err)
	}
	releases, err := s.Releases(loc)
	if err != nil {
		return nil, err
	}
	kept := make(map[string]bool, len(keep))
	for _, k := range keep {
		kept[filepath.Clean(k)] = true
	}
	var removed []string
	var errs []error
	for _, cr := range releases {
		if kept[filepath.Clean(cr.Dir)] {
			continue
		}
		cmp, err := update.Compare(cr.Version, version)
		if err != nil || cmp > 0 {
			continue
		}
		if err := s.Remove(cr.Dir); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, cr.Dir)
	}
	return removed, errors.Join(errs...)
}

type lastCheck struct {
	CheckedAt time.Time `json:"checkedAt"`
}

// LastCheck returns the time of the last completed check of loc, or the zero
// time when none was recorded.
func (s *Store) LastCheck(loc host.Locator) time.Time {
	// #nosec G304 -- path inside the cache base
	data, err := os.ReadFile(filepath.Join(s.RepoDir(loc), LastCheckFile))
	if err != nil {
		return time.Time{}
	}
	var lc lastCheck
	if err := json.Unmarshal(data, &lc); err != nil {
		return time.Time{}
	}
	return lc.CheckedAt
}

func (s *Store) SetLastCheck(loc host.Locator, at time.Time) error {
	data, err := json.Marshal(lastCheck{CheckedAt: at.UTC()})
	if err != nil {
		return model.Wrap(model.ErrParse, "encode last check", err)
	}
	dir := s.RepoDir(loc)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.Wrap(model.ErrFilesystem, "record last check", err)
	}
	if err := writeAtomic(filepath.Join(dir, LastCheckFile), data); err != nil {
		return model.Wrap(model.ErrFilesystem, "record last check", err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func compareLoose(a, b string) int {
	if cmp, err := update.Compare(a, b); err == nil {
		return cmp
	}
	_, aok := update.NormalizeVersion(a)
	_, bok := update.NormalizeVersion(b)
	switch {
	case aok && !bok:
		return 1
	case !aok && bok:
		return -1
	default:
		return 0
	}
}
