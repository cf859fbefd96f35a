//go:build darwin

package hostenv

import "golang.org/x/sys/unix"

// Hazards reports hazards of the mount holding path from statfs flags.
func Hazards(path string) []Hazard {
	if path == "" {
		return nil
	}
	var st unix.Statfs_t
	if err := unix.Statfs(nearestExisting(path), &st); err != nil {
		return nil
	}
	var out []Hazard
	if st.Flags&unix.MNT_RDONLY != 0 {
		out = append(out, HazardReadOnly)
	}
	if st.Flags&unix.MNT_NOEXEC != 0 {
		out = append(out, HazardNoExec)
	}
	return out
}
