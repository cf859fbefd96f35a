package verify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/sfeed/internal/model"
)

func writeBundle(t *testing.T, dir, identity, version string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	manifest := "version: " + version + "\n"
	if identity != "" {
		manifest += "identity: " + identity + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestName), []byte(manifest), 0o644))
	return dir
}

func TestManifestInspector(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	app := writeBundle(t, filepath.Join(root, "App"), "team:ABC", "1.4.0")

	var in ManifestInspector
	id, err := in.Identity(app)
	require.NoError(t, err)
	assert.Equal(t, "team:ABC", id)
	v, err := in.Version(app)
	require.NoError(t, err)
	assert.Equal(t, "1.4.0", v)

	exe := filepath.Join(root, "tool")
	require.NoError(t, os.WriteFile(exe, []byte("bin"), 0o755))
	require.NoError(t, os.WriteFile(exe+"."+ManifestName, []byte("identity: team:ABC\n"), 0o644))
	id, err = in.Identity(exe)
	require.NoError(t, err)
	assert.Equal(t, "team:ABC", id)
	_, err = in.Version(exe)
	assert.ErrorIs(t, err, ErrNoVersion)
}

func TestVerifierIdentity(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	installed := writeBundle(t, filepath.Join(root, "installed", "App"), "team:ABC", "1.0.0")
	same := writeBundle(t, filepath.Join(root, "same", "App"), "team:ABC", "2.0.0")
	other := writeBundle(t, filepath.Join(root, "other", "App"), "team:XYZ", "2.0.0")
	unsigned := writeBundle(t, filepath.Join(root, "unsigned", "App"), "", "2.0.0")

	v := NewVerifier(ManifestInspector{})
	require.NoError(t, v.Verify(same, installed))
	assert.ErrorIs(t, v.Verify(other, installed), model.ErrSignatureMismatch)
	assert.ErrorIs(t, v.Verify(unsigned, installed), model.ErrSignatureMismatch)
	require.NoError(t, v.Verify(same, filepath.Join(root, "absent", "App")))

	off := NewVerifier(ManifestInspector{}, WithoutCodeSignature())
	assert.True(t, off.Disabled())
	require.NoError(t, off.Verify(other, installed))

	assert.ErrorIs(t, NewVerifier(nil).Verify(same, installed), model.ErrSignatureMismatch)
}

func TestCodesignInspectorParsesRequirement(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fake := filepath.Join(dir, "codesign")
	script := "#!/bin/sh\necho 'Executable=/Applications/App.app'\necho 'designated => identifier \"com.example.app\" and anchor apple generic'\n"
	require.NoError(t, os.WriteFile(fake, []byte(script), 0o755))

	id, err := CodesignInspector{Bin: fake}.Identity("/Applications/App.app")
	if err != nil {
		t.Skipf("cannot run shell script: %v", err)
	}
	assert.Equal(t, `identifier "com.example.app" and anchor apple generic`, id)

	_, err = CodesignInspector{}.Version("/Applications/App.app")
	assert.ErrorIs(t, err, ErrNoVersion)
}
