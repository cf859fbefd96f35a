package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/sfeed/internal/host"
	"github.com/3leaps/sfeed/internal/model"
)

const loc = host.Locator("github.com/owner/repo")

func TestLayout(t *testing.T) {
	t.Parallel()

	s := New("/cache")
	assert.Equal(t, filepath.Join("/cache", "github.com_owner_repo"), s.RepoDir(loc))
	assert.Equal(t, filepath.Join("/cache", "github.com_owner_repo", "2.0.0-rc.1_b7"), s.ReleaseDir(loc, "2.0.0-rc.1+b7"))
	assert.Equal(t, filepath.Join("/cache", "_"), s.RepoDir(""))
}

func TestSaveLoadSnapshot(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir())
	dir := s.ReleaseDir(loc, "1.2.0")
	snap := Snapshot{
		ID:           "id-1",
		Repository:   loc.String(),
		Version:      "1.2.0",
		State:        "ready",
		Assets:       []model.Asset{{Name: "App.zip", URL: "https://x/App.zip", Size: 4}},
		Prepared:     []string{"App"},
		Replacements: map[string]string{"/opt/App": "App"},
		CommittedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, s.Save(dir, snap))

	got, err := s.Load(dir)
	require.NoError(t, err)
	snap.Schema = SchemaVersion
	assert.Equal(t, snap, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir())
	_, err := s.Load(filepath.Join(s.Base(), "missing"))
	assert.ErrorIs(t, err, model.ErrFilesystem)

	dir := filepath.Join(s.Base(), "corrupt")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, SnapshotFile), []byte(`{"schema":1,"state":"ready"}`), 0o644))
	_, err = s.Load(dir)
	assert.ErrorIs(t, err, model.ErrParse)

	err = s.Save(dir, Snapshot{Version: "1.0.0", State: "bogus"})
	assert.ErrorIs(t, err, model.ErrParse)
}

func seed(t *testing.T, s *Store, versions ...string) {
	t.Helper()
	for _, v := range versions {
		require.NoError(t, s.Save(s.ReleaseDir(loc, v), Snapshot{Version: v, State: "fetched"}))
	}
}

func TestReleasesNewestFirst(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir())
	seed(t, s, "1.0.0", "1.10.0", "1.2.0", "1.10.0-rc.1")
	require.NoError(t, os.MkdirAll(filepath.Join(s.RepoDir(loc), "junk"), 0o755))

	rels, err := s.Releases(loc)
	require.NoError(t, err)
	var versions []string
	for _, r := range rels {
		versions = append(versions, r.Version)
	}
	assert.Equal(t, []string{"1.10.0", "1.10.0-rc.1", "1.2.0", "1.0.0", "junk"}, versions)
	assert.NotNil(t, rels[0].Snapshot)
	assert.Nil(t, rels[4].Snapshot)
}

func TestClearThroughRemovesThisAndPrior(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir())
	seed(t, s, "1.0.0", "1.1.0", "1.2.0", "2.0.0")
	// a directory without snapshot falls back to its name
	require.NoError(t, os.MkdirAll(s.ReleaseDir(loc, "0.9.0"), 0o755))

	removed, err := s.ClearThrough(loc, "1.1.0")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		s.ReleaseDir(loc, "1.1.0"),
		s.ReleaseDir(loc, "1.0.0"),
		s.ReleaseDir(loc, "0.9.0"),
	}, removed)

	for _, v := range []string{"1.2.0", "2.0.0"} {
		assert.DirExists(t, s.ReleaseDir(loc, v))
	}
	for _, v := range []string{"0.9.0", "1.0.0", "1.1.0"} {
		assert.NoDirExists(t, s.ReleaseDir(loc, v))
	}
}

func TestClearThroughKeepsListedDirs(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir())
	seed(t, s, "1.0.0", "1.1.0")

	_, err := s.ClearThrough(loc, "1.1.0", s.ReleaseDir(loc, "1.1.0"))
	require.NoError(t, err)
	assert.DirExists(t, s.ReleaseDir(loc, "1.1.0"))
	assert.NoDirExists(t, s.ReleaseDir(loc, "1.0.0"))

	_, err = s.ClearThrough(loc, "dev")
	assert.ErrorIs(t, err, model.ErrParse)
}

func TestClearThroughOtherRepositoryUntouched(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir())
	seed(t, s, "1.0.0")
	other := host.Locator("github.com/owner/other")
	require.NoError(t, s.Save(s.ReleaseDir(other, "1.0.0"), Snapshot{Version: "1.0.0", State: "fetched"}))

	_, err := s.ClearThrough(loc, "9.0.0")
	require.NoError(t, err)
	assert.DirExists(t, s.ReleaseDir(other, "1.0.0"))
}

func TestLastCheck(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir())
	assert.True(t, s.LastCheck(loc).IsZero())

	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetLastCheck(loc, at))
	assert.True(t, at.Equal(s.LastCheck(loc)))

	require.NoError(t, os.WriteFile(filepath.Join(s.RepoDir(loc), LastCheckFile), []byte("{"), 0o644))
	assert.True(t, s.LastCheck(loc).IsZero())
}
