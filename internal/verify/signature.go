package verify

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jedisct1/go-minisign"
)

const (
	FormatBinary   = "binary"
	FormatPGP      = "pgp"
	FormatMinisign = "minisign"

	maxCommandError = 512
)

type SignatureData struct {
	Format string
	Bytes  []byte
}

// ParseSignature detects the format of a detached signature.
func ParseSignature(data []byte) (SignatureData, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "-----BEGIN PGP SIGNATURE-----") {
		return SignatureData{Format: FormatPGP, Bytes: data}, nil
	}
	if strings.HasPrefix(trimmed, "untrusted comment:") {
		return SignatureData{Format: FormatMinisign, Bytes: data}, nil
	}
	if len(data) == ed25519.SignatureSize {
		return SignatureData{Format: FormatBinary, Bytes: data}, nil
	}
	decoded, err := hex.DecodeString(trimmed)
	if err == nil && len(decoded) == ed25519.SignatureSize {
		return SignatureData{Format: FormatBinary, Bytes: decoded}, nil
	}
	return SignatureData{}, fmt.Errorf("unsupported signature format")
}

// LoadMinisignKey accepts a public key file path, the contents of such a file,
// or the bare base64 key line.
func LoadMinisignKey(key string) (minisign.PublicKey, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return minisign.PublicKey{}, fmt.Errorf("minisign key is empty")
	}
	if _, err := os.Stat(key); err == nil {
		return minisign.NewPublicKeyFromFile(key)
	}
	if strings.Contains(key, "\n") {
		return minisign.DecodePublicKey(key)
	}
	return minisign.NewPublicKey(key)
}

func VerifyMinisignSignature(contentToVerify, sigData []byte, key string) error {
	pubKey, err := LoadMinisignKey(key)
	if err != nil {
		return fmt.Errorf("read minisign pubkey: %w", err)
	}

	sig, err := minisign.DecodeSignature(strings.TrimSpace(string(sigData)))
	if err != nil {
		return fmt.Errorf("read minisign signature: %w", err)
	}

	valid, err := pubKey.Verify(contentToVerify, sig)
	if err != nil {
		return fmt.Errorf("minisign: verification error: %w", err)
	}
	if !valid {
		return fmt.Errorf("minisign: signature verification failed")
	}

	return nil
}

func VerifyEd25519Signature(content, sig []byte, hexKey string) error {
	normalized, err := NormalizeHexKey(hexKey)
	if err != nil {
		return err
	}
	pub, err := hex.DecodeString(normalized)
	if err != nil {
		return fmt.Errorf("decode ed25519 key: %w", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), content, sig) {
		return fmt.Errorf("ed25519: signature verification failed")
	}
	return nil
}

// VerifyPGPSignature checks a detached signature with gpg in a throwaway home.
func VerifyPGPSignature(content, sig []byte, pubKeyPath, gpgBin string) error {
	home, err := os.MkdirTemp("", "sfeed-gpg-")
	if err != nil {
		return fmt.Errorf("create gpg home: %w", err)
	}
	defer os.RemoveAll(home)

	contentPath := filepath.Join(home, "content")
	sigPath := filepath.Join(home, "content.asc")
	if err := os.WriteFile(contentPath, content, 0o600); err != nil {
		return fmt.Errorf("stage pgp content: %w", err)
	}
	if err := os.WriteFile(sigPath, sig, 0o600); err != nil {
		return fmt.Errorf("stage pgp signature: %w", err)
	}
	if gpgBin == "" {
		gpgBin = "gpg"
	}

	importArgs := []string{"--batch", "--no-tty", "--homedir", home, "--import", pubKeyPath}
	if _, err := runCommand(gpgBin, importArgs...); err != nil {
		return fmt.Errorf("import pgp key: %w", err)
	}

	verifyArgs := []string{"--batch", "--no-tty", "--homedir", home, "--trust-model", "always", "--verify", sigPath, contentPath}
	if _, err := runCommand(gpgBin, verifyArgs...); err != nil {
		return fmt.Errorf("verify pgp signature: %w", err)
	}

	return nil
}

func runCommand(bin string, args ...string) (string, error) {
	cmd := exec.Command(bin, args...)
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s: %s", bin, strings.Join(args, " "), trimCommandOutput(combined.String()))
	}
	return combined.String(), nil
}

func trimCommandOutput(out string) string {
	clean := strings.TrimSpace(out)
	if clean == "" {
		return "command failed"
	}
	if len(clean) > maxCommandError {
		return clean[:maxCommandError] + "..."
	}
	return clean
}
