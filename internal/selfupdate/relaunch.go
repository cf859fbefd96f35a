package selfupdate

import (
	"fmt"
	"os"
	"path/filepath"
)

func relaunchTarget(path string) (string, error) {
	if path == "" {
		return ComputeTargetPath("")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("relaunch %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("relaunch %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("relaunch %s: is a directory", path)
	}
	return abs, nil
}
