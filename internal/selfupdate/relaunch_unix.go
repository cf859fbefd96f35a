//go:build !windows

package selfupdate

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Relaunch replaces the current process with path (the running executable when
// empty), passing args after argv[0]. It only returns on failure.
func Relaunch(path string, args []string) error {
	exe, err := relaunchTarget(path)
	if err != nil {
		return err
	}
	argv := append([]string{exe}, args...)
	if err := unix.Exec(exe, argv, os.Environ()); err != nil {
		return fmt.Errorf("relaunch %s: %w", exe, err)
	}
	return nil
}
