package main

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/sfeed/internal/host/index"
	"github.com/3leaps/sfeed/internal/model"
	"github.com/3leaps/sfeed/internal/verify"
)

type indexServer struct {
	t      *testing.T
	server *httptest.Server

	mu    sync.Mutex
	files map[string][]byte
}

func newIndexServer(t *testing.T) *indexServer {
	s := &indexServer{t: t, files: map[string][]byte{}}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		data, ok := s.files[r.URL.Path]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *indexServer) publish(version string) {
	s.t.Helper()
	name := "App-" + version + ".zip"
	doc, err := json.Marshal(index.Document{
		Version: version,
		Assets:  []model.Asset{{Name: name, URL: name}},
	})
	require.NoError(s.t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files["/tools/app/"+index.FileName] = doc
	s.files["/tools/app/"+name] = appZip(s.t, version)
}

func appZip(t *testing.T, version string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"App/" + verify.ManifestName: "identity: team:A\nversion: " + version + "\n",
		"App/bin/app":                "#!/bin/sh\necho " + version + "\n",
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeApp(t *testing.T, dir, version string) string {
	t.Helper()
	target := filepath.Join(dir, "App")
	require.NoError(t, os.MkdirAll(filepath.Join(target, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(target, verify.ManifestName), []byte("identity: team:A\nversion: "+version+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(target, "bin", "app"), []byte("old"), 0o755))
	return target
}

func TestIntegrationCheckInstallStatusClear(t *testing.T) {
	srv := newIndexServer(t)
	srv.publish("2.0.0")

	dir := t.TempDir()
	target := writeApp(t, dir, "1.0.0")
	cacheDir := filepath.Join(dir, "cache")
	cfgPath := filepath.Join(dir, "sfeed.yaml")
	cfg := "repository: test.local/tools/app\n" +
		"index_base: " + srv.server.URL + "\n" +
		"targets: [" + target + "]\n" +
		"cache_dir: " + cacheDir + "\n" +
		"install_policy: none\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	code, out, stderr := runCLI(t, "check", "--config", cfgPath)
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "test.local/tools/app v2.0.0 is ready to install (installed v1.0.0)\n", out)

	manifest, err := os.ReadFile(filepath.Join(target, verify.ManifestName))
	require.NoError(t, err)
	assert.Contains(t, string(manifest), "version: 1.0.0", "check must not touch the target")

	code, out, stderr = runCLI(t, "install", "--config", cfgPath)
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "installed v2.0.0 into "+target+"\n", out)

	manifest, err = os.ReadFile(filepath.Join(target, verify.ManifestName))
	require.NoError(t, err)
	assert.Contains(t, string(manifest), "version: 2.0.0")
	bin, err := os.ReadFile(filepath.Join(target, "bin", "app"))
	require.NoError(t, err)
	assert.Contains(t, string(bin), "echo 2.0.0")

	code, out, stderr = runCLI(t, "status", "--config", cfgPath, "--json")
	require.Equal(t, exitOK, code, stderr)
	var rep statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "test.local/tools/app", rep.Repository)
	assert.Equal(t, "2.0.0", rep.Installed)
	assert.Equal(t, "none", rep.Policy)
	assert.NotNil(t, rep.LastCheck)
	require.Len(t, rep.Targets, 1)
	assert.Equal(t, target, rep.Targets[0].Path)
	assert.Equal(t, "2.0.0", rep.Targets[0].Version)
	require.Len(t, rep.Releases, 1)
	assert.Equal(t, "2.0.0", rep.Releases[0].Version)
	assert.Equal(t, model.StateInstalled.String(), rep.Releases[0].State)

	code, out, stderr = runCLI(t, "check", "--config", cfgPath)
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "test.local/tools/app is up to date (installed v2.0.0)\n", out)

	code, out, stderr = runCLI(t, "clear", "--config", cfgPath)
	require.Equal(t, exitOK, code, stderr)
	assert.True(t, strings.HasPrefix(out, "cleared cache of test.local/tools/app"))
	entries, err := os.ReadDir(cacheDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIntegrationInstallWithNothingNewer(t *testing.T) {
	srv := newIndexServer(t)
	srv.publish("1.0.0")

	dir := t.TempDir()
	target := writeApp(t, dir, "1.0.0")
	code, out, stderr := runCLI(t, "install",
		"--repo", "test.local/tools/app",
		"--target", target,
		"--cache-dir", filepath.Join(dir, "cache"),
		"--config", writeConfig(t, dir, "index_base: "+srv.server.URL+"\n"),
	)
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "test.local/tools/app is up to date (installed v1.0.0)\n", out)
}

func TestIntegrationCheckNetworkFailure(t *testing.T) {
	srv := newIndexServer(t)
	dir := t.TempDir()
	target := writeApp(t, dir, "1.0.0")
	cfgPath := writeConfig(t, dir, "repository: test.local/tools/app\nindex_base: "+srv.server.URL+"\ntargets: ["+target+"]\ncache_dir: "+filepath.Join(dir, "cache")+"\n")

	code, _, stderr := runCLI(t, "check", "--config", cfgPath)
	assert.Equal(t, exitNetwork, code, stderr)
}

func TestIntegrationClearThrough(t *testing.T) {
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")
	repoDir := filepath.Join(cacheDir, "test.local_tools_app")
	for _, v := range []string{"1.0.0", "1.5.0", "2.0.0"} {
		require.NoError(t, os.MkdirAll(filepath.Join(repoDir, v), 0o755))
	}
	cfgPath := writeConfig(t, dir, "repository: test.local/tools/app\ntargets: ["+filepath.Join(dir, "App")+"]\ncache_dir: "+cacheDir+"\n")

	code, out, stderr := runCLI(t, "clear", "--config", cfgPath, "--through", "1.5.0")
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "removed 2 cached release(s) up to v1.5.0\n", out)
	entries, err := os.ReadDir(repoDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2.0.0", entries[0].Name())

	code, _, _ = runCLI(t, "clear", "--config", cfgPath, "--through", "latest")
	assert.Equal(t, exitUsage, code)
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "sfeed.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}
