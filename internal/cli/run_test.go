package cli

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestRunWithoutHandler(t *testing.T) {
	saved := Handler
	t.Cleanup(func() { Handler = saved })
	Handler = nil

	var stderr bytes.Buffer
	if code := Run(nil, io.Discard, &stderr); code != 1 {
		t.Fatalf("exit: got %d want 1", code)
	}
	if !strings.Contains(stderr.String(), "not installed") {
		t.Fatalf("stderr: got %q", stderr.String())
	}
}

func TestRunDelegatesToHandler(t *testing.T) {
	saved := Handler
	t.Cleanup(func() { Handler = saved })

	var got []string
	Handler = func(args []string, stdout, stderr io.Writer) int {
		got = args
		return 7
	}
	if code := Run([]string{"check", "--json"}, io.Discard, io.Discard); code != 7 {
		t.Fatalf("exit: got %d want 7", code)
	}
	if strings.Join(got, " ") != "check --json" {
		t.Fatalf("args: got %v", got)
	}
}
