package model

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapMatchesKindAndCause(t *testing.T) {
	t.Parallel()

	err := Wrap(ErrFilesystem, "clear", fs.ErrPermission)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFilesystem)
	assert.ErrorIs(t, err, fs.ErrPermission)
	assert.Equal(t, ErrFilesystem, KindOf(err))

	var typed *Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, "clear", typed.Op)
}

func TestWrapKeepsExistingKind(t *testing.T) {
	t.Parallel()

	inner := Errorf(ErrNetwork, "download", "status %d", 502)
	err := Wrap(ErrFilesystem, "prepare", inner)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.NotErrorIs(t, err, ErrFilesystem)
	assert.True(t, Retryable(err))
	assert.Contains(t, err.Error(), "prepare")
}

func TestWrapNil(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Wrap(ErrParse, "fetch", nil))
	assert.Nil(t, KindOf(nil))
	assert.Nil(t, KindOf(errors.New("plain")))
}

func TestParseInstallPolicy(t *testing.T) {
	t.Parallel()

	for _, p := range []InstallPolicy{InstallNone, InstallAtActivation, InstallAtQuit, InstallWhenReady} {
		got, err := ParseInstallPolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParseInstallPolicy("sometimes")
	assert.Error(t, err)
}

func TestParseState(t *testing.T) {
	t.Parallel()

	for _, s := range []State{StateEmpty, StateFetched, StateReadyToInstall, StateInstalled} {
		got, err := ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseState("gone")
	assert.Error(t, err)
}

func TestAssetFileName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "tool.zip", Asset{Name: "tool.zip", URL: "https://x/y/other"}.FileName())
	assert.Equal(t, "tool.tar.gz", Asset{URL: "https://x/dl/tool.tar.gz?sig=1"}.FileName())
}
