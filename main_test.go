package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/3leaps/sfeed/internal/model"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersion(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	if code != exitOK {
		t.Fatalf("exit %d", code)
	}
	if strings.TrimSpace(out) != "sfeed "+version {
		t.Errorf("got %q", out)
	}

	code, out, _ = runCLI(t, "version", "--json")
	if code != exitOK {
		t.Fatalf("exit %d", code)
	}
	var doc map[string]string
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["version"] != version {
		t.Errorf("version got %q want %q", doc["version"], version)
	}
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"version", "--nope"}},
		{"unexpected argument", []string{"version", "extra"}},
		{"bad locator", []string{"status", "--repo", "nohost"}},
		{"bad policy", []string{"watch", "--repo", "test.local/a/b", "--policy", "sometimes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SFEED_CONFIG", "")
			t.Setenv("SFEED_CACHE_DIR", t.TempDir())
			code, _, stderr := runCLI(t, tt.args...)
			if code != exitUsage {
				t.Errorf("exit got %d want %d (stderr %q)", code, exitUsage, stderr)
			}
			if !strings.HasPrefix(stderr, "error: ") {
				t.Errorf("stderr %q", stderr)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New("boom"), exitError},
		{usageError{errors.New("bad flag")}, exitUsage},
		{model.Errorf(model.ErrNetwork, "fetch", "timeout"), exitNetwork},
		{fmt.Errorf("check: %w", model.Errorf(model.ErrSignatureMismatch, "verify", "digest")), exitIntegrity},
		{model.Errorf(model.ErrFilesystem, "install", "read-only"), exitError},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) got %d want %d", tt.err, got, tt.want)
		}
	}
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, false, false).Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info logged at default level: %q", buf.String())
	}
	newLogger(&buf, true, true).Debug("shown")
	if !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Errorf("debug not logged as json: %q", buf.String())
	}
}
