package verify

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ExtractChecksum finds the digest for assetName in a SUMS file, or returns the
// whole file when it holds a single bare digest. GNU ("digest  name", with an
// optional '*' binary marker) and BSD ("SHA256 (name) = digest") lines are
// understood; names match by base name.
func ExtractChecksum(data []byte, algo, assetName string) (string, error) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("checksum file is empty")
	}
	digestLen := expectedDigestLength(algo)
	if isHexDigest(text, digestLen) {
		return strings.ToLower(text), nil
	}

	for _, line := range strings.Split(text, "\n") {
		digest, name, ok := parseSumsLine(strings.TrimSpace(line))
		if !ok || !isHexDigest(digest, digestLen) {
			continue
		}
		if filepath.Base(name) == assetName {
			return strings.ToLower(digest), nil
		}
	}
	return "", fmt.Errorf("checksum for %s not found", assetName)
}

func parseSumsLine(line string) (digest, name string, ok bool) {
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	if open := strings.Index(line, " ("); open > 0 {
		if eq := strings.LastIndex(line, ") = "); eq > open {
			return strings.TrimSpace(line[eq+4:]), line[open+2 : eq], true
		}
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", "", false
	}
	return fields[0], strings.TrimPrefix(fields[len(fields)-1], "*"), true
}

// NormalizeHexKey validates a raw ed25519 public key given as hex.
func NormalizeHexKey(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", fmt.Errorf("an ed25519 key is required to verify .sig files")
	}
	upper := strings.ToUpper(trimmed)
	if strings.Contains(upper, "BEGIN") || strings.Contains(upper, "PRIVATE") {
		return "", fmt.Errorf("ed25519 keys must be provided as 64-character hex strings, not PEM/PGP blobs")
	}
	expectedLen := ed25519.PublicKeySize * 2
	if len(trimmed) != expectedLen {
		return "", fmt.Errorf("ed25519 key must be %d hex characters", expectedLen)
	}
	if !isHexDigest(trimmed, expectedLen) {
		return "", fmt.Errorf("ed25519 key must contain only hexadecimal characters")
	}
	return strings.ToLower(trimmed), nil
}

func isHexDigest(value string, expectedLen int) bool {
	if expectedLen > 0 && len(value) != expectedLen {
		return false
	}
	if len(value)%2 != 0 {
		return false
	}
	for _, ch := range value {
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') && (ch < 'A' || ch > 'F') {
			return false
		}
	}
	return true
}

func expectedDigestLength(algo string) int {
	switch strings.ToLower(algo) {
	case "sha256":
		return 64
	case "sha512":
		return 128
	default:
		return 0
	}
}

// FileDigest returns the lowercase hex digest of the file at path.
func FileDigest(path, algo string) (string, error) {
	var h hash.Hash
	switch strings.ToLower(algo) {
	case "sha256":
		h = sha256.New()
	case "sha512":
		h = sha512.New()
	default:
		return "", fmt.Errorf("unsupported checksum algorithm %q", algo)
	}
	// #nosec G304 -- path is a downloaded asset inside the release directory
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
