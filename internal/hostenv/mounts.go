package hostenv

import (
	"path/filepath"
	"strings"
)

// Mount is one entry of the kernel mount table.
type Mount struct {
	Point   string
	Options map[string]struct{}
}

func (m Mount) Has(opt string) bool {
	_, ok := m.Options[opt]
	return ok
}

// parseMountinfo reads /proc/self/mountinfo. Fields are
// id parent major:minor root mountpoint options ... "-" fstype source superopts.
func parseMountinfo(content string) []Mount {
	var out []Mount
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		sep := -1
		for i, f := range fields {
			if f == "-" {
				sep = i
				break
			}
		}
		if sep < 6 {
			continue
		}
		m := Mount{Point: unescapeMountPath(fields[4]), Options: parseMountOptions(fields[5])}
		if sep+3 < len(fields) {
			for k := range parseMountOptions(fields[sep+3]) {
				m.Options[k] = struct{}{}
			}
		}
		out = append(out, m)
	}
	return out
}

// parseProcMounts reads the fstab-like /proc/mounts.
func parseProcMounts(content string) []Mount {
	var out []Mount
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		out = append(out, Mount{Point: unescapeMountPath(fields[1]), Options: parseMountOptions(fields[3])})
	}
	return out
}

func parseMountOptions(opt string) map[string]struct{} {
	m := make(map[string]struct{})
	for _, part := range strings.Split(opt, ",") {
		if part = strings.TrimSpace(part); part != "" {
			m[part] = struct{}{}
		}
	}
	return m
}

// procfs escapes blanks and backslashes as octal.
var mountPathReplacer = strings.NewReplacer(
	"\\040", " ",
	"\\011", "\t",
	"\\012", "\n",
	"\\134", "\\",
)

func unescapeMountPath(value string) string {
	return mountPathReplacer.Replace(value)
}

// mountFor returns the mount with the longest mount point containing path.
func mountFor(path string, mounts []Mount) (Mount, bool) {
	dest := filepath.ToSlash(filepath.Clean(path))
	if dest == "." || dest == "" {
		return Mount{}, false
	}
	best, found := Mount{}, false
	for _, m := range mounts {
		point := filepath.ToSlash(filepath.Clean(m.Point))
		if point == "." || point == "" || !pathHasPrefix(dest, point) {
			continue
		}
		if !found || len(point) > len(filepath.ToSlash(filepath.Clean(best.Point))) {
			best, found = m, true
		}
	}
	return best, found
}

func pathHasPrefix(path, prefix string) bool {
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func mountHazards(m Mount) []Hazard {
	var out []Hazard
	if m.Has("ro") {
		out = append(out, HazardReadOnly)
	}
	if m.Has("noexec") {
		out = append(out, HazardNoExec)
	}
	return out
}
