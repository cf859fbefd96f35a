package selfupdate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutableResolvesSymlinks(t *testing.T) {
	t.Parallel()

	exe, err := Executable()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(exe))

	resolved, err := filepath.EvalSymlinks(exe)
	require.NoError(t, err)
	assert.Equal(t, resolved, exe)
}

func TestComputeTargetPath(t *testing.T) {
	t.Parallel()

	exe, err := Executable()
	require.NoError(t, err)

	t.Run("running executable", func(t *testing.T) {
		got, err := ComputeTargetPath("")
		require.NoError(t, err)
		assert.Equal(t, exe, got)
		_, err = os.Stat(got)
		assert.NoError(t, err)
	})

	t.Run("dir override keeps the base name", func(t *testing.T) {
		dir := t.TempDir()
		got, err := ComputeTargetPath(dir)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, filepath.Base(exe)), got)
	})
}
