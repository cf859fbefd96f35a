//go:build windows

package selfupdate

import (
	"fmt"
	"os"
	"os/exec"
)

// Relaunch starts path (the running executable when empty) with args and exits
// the current process. Windows has no exec; the new process outlives this one.
func Relaunch(path string, args []string) error {
	exe, err := relaunchTarget(path)
	if err != nil {
		return err
	}
	cmd := exec.Command(exe, args...) // #nosec G204 -- exe is the installed target
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("relaunch %s: %w", exe, err)
	}
	os.Exit(0)
	return nil
}
