// Package selfupdate locates the running executable and relaunches the process
// after the feed installed a new build of it.
package selfupdate

import (
	"fmt"
	"os"
	"path/filepath"
)

// Executable returns the path of the running executable with symlinks
// resolved where possible.
func Executable() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("determine current executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exePath); err == nil {
		exePath = resolved
	}
	return exePath, nil
}

// ComputeTargetPath returns where the running executable lives, or where a
// file of the same name would live in dir when dir is set. The feed uses it as
// the default target bundle.
func ComputeTargetPath(dir string) (string, error) {
	exePath, err := Executable()
	if err != nil {
		return "", err
	}
	targetDir := filepath.Dir(exePath)
	if dir != "" {
		targetDir = dir
	}
	return filepath.Join(targetDir, filepath.Base(exePath)), nil
}
