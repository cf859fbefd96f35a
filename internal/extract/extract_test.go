package extract

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/sfeed/internal/model"
)

type entry struct {
	name string
	body string
	dir  bool
	link string
}

func writeTarGz(t *testing.T, path string, gz bool, entries []entry) {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		h := &tar.Header{Name: e.name, Mode: 0o755}
		switch {
		case e.dir:
			h.Typeflag = tar.TypeDir
		case e.link != "":
			h.Typeflag = tar.TypeSymlink
			h.Linkname = e.link
		default:
			h.Typeflag = tar.TypeReg
			h.Size = int64(len(e.body))
		}
		require.NoError(t, tw.WriteHeader(h))
		if h.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())

	data := buf.Bytes()
	if gz {
		var zbuf bytes.Buffer
		zw := gzip.NewWriter(&zbuf)
		_, err := zw.Write(data)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		data = zbuf.Bytes()
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func writeZip(t *testing.T, path string, entries []entry) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestArchiveTypeFromName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"App.zip":        TypeZip,
		"tool.tar.gz":    TypeTarGz,
		"tool.TGZ":       TypeTarGz,
		"tool.tar.bz2":   TypeTarBz2,
		"tool.tar":       TypeTar,
		"tool":           "",
		"SHA256SUMS.asc": "",
	}
	for name, want := range tests {
		assert.Equal(t, want, ArchiveTypeFromName(name), name)
	}
	assert.Equal(t, "App", TrimArchiveExt("App.zip"))
	assert.Equal(t, "tool_1.0", TrimArchiveExt("tool_1.0.tar.gz"))
	assert.Equal(t, "tool", TrimArchiveExt("tool"))
}

func TestExtractTarGz(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "App.tar.gz")
	writeTarGz(t, archive, true, []entry{
		{name: "App/", dir: true},
		{name: "App/bin/tool", body: "#!/bin/sh\n"},
		{name: "App/current", link: "bin/tool"},
	})

	var x Archives
	require.True(t, x.CanExtract(archive))
	dst := filepath.Join(dir, "out")
	require.NoError(t, x.Extract(archive, dst))

	data, err := os.ReadFile(filepath.Join(dst, "App", "bin", "tool"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\n", string(data))
	info, err := os.Stat(filepath.Join(dst, "App", "bin", "tool"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o100)

	link, err := os.Readlink(filepath.Join(dst, "App", "current"))
	require.NoError(t, err)
	assert.Equal(t, "bin/tool", link)
}

func TestExtractSniffsContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tarball := filepath.Join(dir, "payload")
	writeTarGz(t, tarball, false, []entry{{name: "file.txt", body: "plain"}})
	zipped := filepath.Join(dir, "payload2")
	writeZip(t, zipped, []entry{{name: "App/readme", body: "zipped"}})

	var x Archives
	require.True(t, x.CanExtract(tarball))
	require.True(t, x.CanExtract(zipped))

	dst := filepath.Join(dir, "out")
	require.NoError(t, x.Extract(tarball, dst))
	require.NoError(t, x.Extract(zipped, dst))
	assert.FileExists(t, filepath.Join(dst, "file.txt"))
	assert.FileExists(t, filepath.Join(dst, "App", "readme"))

	plain := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(plain, []byte("hello"), 0o644))
	assert.False(t, x.CanExtract(plain))
	assert.ErrorIs(t, x.Extract(plain, dst), model.ErrParse)
}

func TestExtractRejectsTraversal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entries []entry
	}{
		{name: "dotdot", entries: []entry{{name: "../evil", body: "x"}}},
		{name: "nested dotdot", entries: []entry{{name: "App/../../evil", body: "x"}}},
		{name: "absolute", entries: []entry{{name: "/etc/evil", body: "x"}}},
		{name: "symlink escape", entries: []entry{{name: "App/link", link: "../../outside"}}},
		{name: "absolute symlink", entries: []entry{{name: "App/link", link: "/etc/passwd"}}},
		{name: "chained symlinks", entries: []entry{
			{name: "sub", dir: true},
			{name: "sub/l", link: ".."},
			{name: "sub/l/m", link: ".."},
			{name: "sub/l/m/evil", body: "x"},
		}},
		{name: "file below symlink", entries: []entry{
			{name: "App/up", link: ".."},
			{name: "App/up/up/evil", body: "x"},
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			archive := filepath.Join(dir, "bad.tar.gz")
			writeTarGz(t, archive, true, tc.entries)

			dst := filepath.Join(dir, "out")
			err := Archives{}.Extract(archive, dst)
			assert.ErrorIs(t, err, model.ErrParse)
			assert.NoFileExists(t, filepath.Join(dir, "evil"))
		})
	}
}

func TestExtractZipRejectsTraversal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "bad.zip")
	writeZip(t, archive, []entry{{name: "../evil", body: "x"}})
	err := Archives{}.Extract(archive, filepath.Join(dir, "out"))
	assert.ErrorIs(t, err, model.ErrParse)
}

func TestExtractReplacesPlantedLink(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "App.tar")
	writeTarGz(t, archive, false, []entry{
		{name: "App/keep", body: "keep"},
		{name: "App/bin", link: "keep"},
		{name: "App/bin", body: "binary"},
	})
	dst := filepath.Join(dir, "out")
	require.NoError(t, Archives{}.Extract(archive, dst))

	data, err := os.ReadFile(filepath.Join(dst, "App", "keep"))
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
	info, err := os.Lstat(filepath.Join(dst, "App", "bin"))
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular())
}
