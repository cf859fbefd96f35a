package selfupdate

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRelaunchTarget(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bin := filepath.Join(dir, "app")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := relaunchTarget(bin)
	if err != nil {
		t.Fatalf("relaunchTarget: %v", err)
	}
	if got != bin {
		t.Fatalf("target: got %q want %q", got, bin)
	}

	if _, err := relaunchTarget(dir); err == nil {
		t.Fatalf("expected error for directory")
	}
	if _, err := relaunchTarget(filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("expected error for missing file")
	}

	self, err := relaunchTarget("")
	if err != nil {
		t.Fatalf("relaunchTarget(\"\"): %v", err)
	}
	exe, err := Executable()
	if err != nil {
		t.Fatalf("Executable: %v", err)
	}
	if self != exe {
		t.Fatalf("default target: got %q want %q", self, exe)
	}
}
