//go:build linux

package hostenv

import (
	"os"

	"golang.org/x/sys/unix"
)

// Hazards reports hazards of the mount holding path. statfs answers first;
// the procfs mount tables are the fallback. Best effort: unknown means none.
func Hazards(path string) []Hazard {
	if path == "" {
		return nil
	}
	dir := nearestExisting(path)

	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err == nil {
		flags := uint64(st.Flags)
		var out []Hazard
		if flags&unix.ST_RDONLY != 0 {
			out = append(out, HazardReadOnly)
		}
		if flags&unix.ST_NOEXEC != 0 {
			out = append(out, HazardNoExec)
		}
		return out
	}

	if data, err := os.ReadFile("/proc/self/mountinfo"); err == nil { // #nosec G304 -- fixed procfs path
		if m, ok := mountFor(dir, parseMountinfo(string(data))); ok {
			return mountHazards(m)
		}
	}
	data, err := os.ReadFile("/proc/mounts") // #nosec G304 -- fixed procfs path
	if err != nil {
		return nil
	}
	if m, ok := mountFor(dir, parseProcMounts(string(data))); ok {
		return mountHazards(m)
	}
	return nil
}
