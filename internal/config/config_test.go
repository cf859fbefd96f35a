package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/sfeed/internal/model"
	"github.com/3leaps/sfeed/internal/verify"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaultIsValid(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	assert.Equal(t, "github.com/3leaps/sfeed", cfg.Repository)
	assert.Equal(t, DefaultCheckPeriod, cfg.Period())
	assert.Equal(t, model.InstallWhenReady, cfg.Policy())

	cfg.Targets = append(cfg.Targets, "/tmp/x")
	again, err := Default()
	require.NoError(t, err)
	assert.Empty(t, again.Targets, "Default returns a copy")
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
repository: test.local/repo
targets: [/Applications/App]
check_period: 90m
install_policy: at-quit
signature:
  inspector: codesign
  minisign_key: RWQ
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 90*time.Minute, cfg.Period())
	assert.Equal(t, model.InstallAtQuit, cfg.Policy())
	assert.Equal(t, "test.local/repo", cfg.Locator().String())
	assert.IsType(t, verify.CodesignInspector{}, cfg.Inspector())
	assert.Equal(t, "RWQ", cfg.Keys().Minisign)

	_, err = Parse([]byte("repsitory: typo\n"))
	assert.ErrorIs(t, err, model.ErrParse)

	empty, err := Parse(nil)
	require.NoError(t, err)
	assert.IsType(t, verify.ManifestInspector{}, empty.Inspector())
}

func TestPeriodFloor(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, DefaultCheckPeriod},
		{time.Second, MinCheckPeriod},
		{time.Minute, time.Minute},
		{6 * time.Hour, 6 * time.Hour},
	}
	for _, tt := range tests {
		c := Config{CheckPeriod: tt.in}
		assert.Equal(t, tt.want, c.Period(), "period %s", tt.in)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	c := Config{
		Repository:    "nohost",
		CheckPeriod:   -time.Second,
		InstallPolicy: "sometimes",
		Concurrency:   -1,
		Targets:       []string{""},
		Signature:     Signature{Inspector: "magic", Ed25519: "zz"},
	}
	err := c.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrParse)
	for _, want := range []string{"repository:", "check_period:", "install_policy:", "concurrency:", "targets[0]", "signature.inspector:", "signature.ed25519_key:"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestApplyEnv(t *testing.T) {
	c := Config{Repository: "github.com/a/b"}
	err := c.ApplyEnv(env(map[string]string{
		"SFEED_REPOSITORY":       "test.local/repo",
		"SFEED_TARGETS":          "/a" + string(os.PathListSeparator) + "/b",
		"SFEED_CHECK_PERIOD":     "2h",
		"SFEED_ALLOW_PRERELEASE": "true",
		"SFEED_SKIP_SIG":         "1",
		"SFEED_INSTALL_POLICY":   "activation",
	}))
	require.NoError(t, err)
	assert.Equal(t, "test.local/repo", c.Repository)
	assert.Equal(t, []string{"/a", "/b"}, c.Targets)
	assert.Equal(t, 2*time.Hour, c.CheckPeriod)
	assert.True(t, c.AllowPrerelease)
	assert.True(t, c.Signature.Skip)
	assert.Equal(t, model.InstallAtActivation, c.Policy())

	assert.ErrorIs(t, c.ApplyEnv(env(map[string]string{"SFEED_CHECK_PERIOD": "soon"})), model.ErrParse)
	assert.ErrorIs(t, c.ApplyEnv(env(map[string]string{"SFEED_SKIP_SIG": "maybe"})), model.ErrParse)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(p, []byte("repository: test.local/repo\ninstall_policy: none\n"), 0o644))

	t.Setenv("SFEED_CACHE_DIR", filepath.Join(dir, "cache"))
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cache"), cfg.CacheDir)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, model.ErrFilesystem)

	require.NoError(t, os.WriteFile(p, []byte("repository: bad\n"), 0o644))
	_, err = Load(p)
	assert.ErrorIs(t, err, model.ErrParse)
}

func TestLoadMainPrefersEnvFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "feed.yaml")
	require.NoError(t, os.WriteFile(p, []byte("repository: test.local/other\n"), 0o644))
	t.Setenv(EnvConfig, p)

	cfg, err := LoadMain()
	require.NoError(t, err)
	assert.Equal(t, "test.local/other", cfg.Repository)
}
