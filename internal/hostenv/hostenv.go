// Package hostenv inspects the mount a target bundle lives on before the
// installer swaps it.
package hostenv

import (
	"os"
	"path/filepath"
	"slices"
)

// Hazard is a mount property that gets in the way of installing an executable
// bundle.
type Hazard string

const (
	HazardReadOnly Hazard = "ro"
	HazardNoExec   Hazard = "noexec"
)

// IsNoExecMount reports whether path is on a mount that forbids execution.
func IsNoExecMount(path string) bool {
	return slices.Contains(Hazards(path), HazardNoExec)
}

// IsReadOnlyMount reports whether path is on a read-only mount.
func IsReadOnlyMount(path string) bool {
	return slices.Contains(Hazards(path), HazardReadOnly)
}

// nearestExisting walks up from path to the first existing directory, so a
// target that does not exist yet is judged by the mount it will land on.
func nearestExisting(path string) string {
	p := filepath.Clean(path)
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
