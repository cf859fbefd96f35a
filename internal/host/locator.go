package host

import (
	"fmt"
	"strings"

	"github.com/3leaps/sfeed/internal/model"
)

// Locator identifies a release source as "<service-host>/<path>", for example
// "github.com/owner/repo". The empty locator denotes a cache-only release.
type Locator string

// Service returns the service host part of the locator.
func (l Locator) Service() string {
	s := strings.TrimSpace(string(l))
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		return strings.ToLower(s[:idx])
	}
	return strings.ToLower(s)
}

// Path returns the locator without its service host.
func (l Locator) Path() string {
	s := strings.TrimSpace(string(l))
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		return strings.Trim(s[idx+1:], "/")
	}
	return ""
}

// IsCacheOnly reports whether the locator is empty.
func (l Locator) IsCacheOnly() bool {
	return strings.TrimSpace(string(l)) == ""
}

func (l Locator) String() string { return string(l) }

// ParseLocator validates a locator string. The empty string is valid.
func ParseLocator(s string) (Locator, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimSuffix(s, "/")
	l := Locator(s)
	if l.Service() == "" || l.Path() == "" {
		return "", model.Errorf(model.ErrParse, "parse locator", "locator %q must look like <service-host>/<path>", s)
	}
	if strings.Contains(l.Path(), "..") {
		return "", model.Errorf(model.ErrParse, "parse locator", "locator %q contains '..'", s)
	}
	return l, nil
}

// Sanitize maps a string onto a single safe directory name: every byte outside
// [A-Za-z0-9._-] becomes '_'.
func Sanitize(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '_', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "." || out == ".." {
		return fmt.Sprintf("_%s", out[1:])
	}
	return out
}
