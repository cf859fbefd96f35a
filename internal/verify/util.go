package verify

import (
	"fmt"
	"strings"
)

var perAssetSuffixes = []string{".sha256", ".sha512", ".sha256.txt", ".sha512.txt"}

func isPerAssetDigest(lower string) bool {
	for _, s := range perAssetSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// DetectChecksumAlgorithm infers the digest algorithm from a SUMS or per-asset
// file name, falling back to defaultAlgo.
func DetectChecksumAlgorithm(filename, defaultAlgo string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.Contains(lower, "512"):
		return "sha512"
	case strings.Contains(lower, "256"):
		return "sha256"
	default:
		return defaultAlgo
	}
}

// IsChecksumFile reports whether name looks like a SUMS or per-asset digest file.
func IsChecksumFile(name string) bool {
	lower := strings.ToLower(name)
	for _, c := range sumsCandidates {
		if lower == strings.ToLower(c) {
			return true
		}
	}
	return isPerAssetDigest(lower)
}

// FormatSize renders a byte count for logs.
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
