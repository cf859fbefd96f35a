package update

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidVersion is returned when a version string is not comparable.
var ErrInvalidVersion = errors.New("invalid version")

// FormatVersionDisplay formats a version string for display, adding "v" prefix if needed.
func FormatVersionDisplay(v string) string {
	if v == "" || v == "dev" || v == "0.0.0-dev" {
		return v
	}
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// NormalizeVersion strips the leading "v" prefix and validates that the version
// is dotted-numeric (at least MAJOR.MINOR, any number of further numeric components),
// optionally followed by prerelease and/or build metadata.
// Returns the normalized version string and a boolean indicating whether comparison is possible.
// "dev", empty strings, and non-numeric formats return ("", false).
func NormalizeVersion(v string) (string, bool) {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" || trimmed == "dev" || trimmed == "0.0.0-dev" {
		return "", false
	}

	normalized := strings.TrimPrefix(trimmed, "v")
	if _, err := parseVersion(normalized); err != nil {
		return "", false
	}
	return normalized, true
}

// Validate reports whether v can take part in a comparison.
func Validate(v string) error {
	if _, ok := NormalizeVersion(v); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, v)
	}
	return nil
}

// Compare validates and compares two version strings, with or without a "v" prefix.
// Returns -1 if a < b, 0 if a == b, 1 if a > b. Invalid input is never compared.
func Compare(a, b string) (int, error) {
	an, ok := NormalizeVersion(a)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVersion, a)
	}
	bn, ok := NormalizeVersion(b)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVersion, b)
	}
	return CompareSemver(an, bn)
}

type versionParts struct {
	numbers    []int
	prerelease []string
}

func parseVersion(normalized string) (versionParts, error) {
	var out versionParts

	base := normalized
	if idx := strings.IndexByte(base, '+'); idx >= 0 {
		base = base[:idx]
	}

	var prerelease string
	if idx := strings.IndexByte(base, '-'); idx >= 0 {
		prerelease = base[idx+1:]
		base = base[:idx]
		if prerelease == "" {
			return versionParts{}, fmt.Errorf("empty prerelease in %q", normalized)
		}
	}

	parts := strings.Split(base, ".")
	if len(parts) < 2 {
		return versionParts{}, fmt.Errorf("invalid version format %q", normalized)
	}

	out.numbers = make([]int, len(parts))
	for i, p := range parts {
		if p == "" {
			return versionParts{}, fmt.Errorf("empty component in %q", normalized)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return versionParts{}, fmt.Errorf("parse component %q: not a number", p)
		}
		out.numbers[i] = n
	}

	if prerelease != "" {
		out.prerelease = strings.Split(prerelease, ".")
	}

	return out, nil
}

func comparePrerelease(a, b []string) int {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	if len(a) == 0 {
		return 1
	}
	if len(b) == 0 {
		return -1
	}

	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai, bi := a[i], b[i]
		aNum, aErr := strconv.Atoi(ai)
		bNum, bErr := strconv.Atoi(bi)
		aIsNum := aErr == nil
		bIsNum := bErr == nil

		switch {
		case aIsNum && bIsNum:
			if aNum < bNum {
				return -1
			}
			if aNum > bNum {
				return 1
			}
		case aIsNum && !bIsNum:
			return -1
		case !aIsNum && bIsNum:
			return 1
		default:
			if ai < bi {
				return -1
			}
			if ai > bi {
				return 1
			}
		}
	}

	if len(a) < len(b) {
		return -1
	}
	if len(a) > len(b) {
		return 1
	}
	return 0
}

// CompareSemver compares two normalized version strings.
// Returns -1 if a < b, 0 if a == b, 1 if a > b.
// Numeric components are compared one by one, a missing component counts as 0,
// so "1.0" == "1.0.0". Build metadata is ignored.
// Returns an error if either version cannot be parsed.
func CompareSemver(a, b string) (int, error) {
	av, err := parseVersion(a)
	if err != nil {
		return 0, err
	}
	bv, err := parseVersion(b)
	if err != nil {
		return 0, err
	}

	n := len(av.numbers)
	if len(bv.numbers) > n {
		n = len(bv.numbers)
	}
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(av.numbers) {
			x = av.numbers[i]
		}
		if i < len(bv.numbers) {
			y = bv.numbers[i]
		}
		if x < y {
			return -1, nil
		}
		if x > y {
			return 1, nil
		}
	}

	return comparePrerelease(av.prerelease, bv.prerelease), nil
}

func majorVersionFromNormalized(normalized string) (int, error) {
	t := strings.TrimSpace(normalized)
	if t == "" {
		return 0, fmt.Errorf("empty version")
	}
	parts := strings.Split(t, ".")
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("parse major: %w", err)
	}
	return major, nil
}
