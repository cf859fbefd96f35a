package verify

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractChecksum(t *testing.T) {
	t.Parallel()

	d256 := strings.Repeat("a", 64)
	d512 := strings.Repeat("b", 128)

	tests := []struct {
		name    string
		data    string
		algo    string
		asset   string
		want    string
		wantErr string
	}{
		{name: "empty file", data: "\n\n", algo: "sha256", wantErr: "empty"},
		{name: "bare digest", data: strings.ToUpper(d256), algo: "sha256", want: d256},
		{name: "gnu line matched by base name", data: d256 + "  ./dist/App.zip\n" + strings.Repeat("c", 64) + "  other\n", algo: "sha256", asset: "App.zip", want: d256},
		{name: "binary mode marker", data: d256 + " *App.zip\n", algo: "sha256", asset: "App.zip", want: d256},
		{name: "bsd line", data: "SHA512 (App.zip) = " + d512 + "\n", algo: "sha512", asset: "App.zip", want: d512},
		{name: "comments and blanks", data: "# release 2.0.0\n\n" + d256 + " App.zip\n", algo: "sha256", asset: "App.zip", want: d256},
		{name: "wrong digest length skipped", data: d256 + " App.zip\n", algo: "sha512", asset: "App.zip", wantErr: "not found"},
		{name: "asset not listed", data: d256 + " App.zip\n", algo: "sha256", asset: "Other.zip", wantErr: "not found"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ExtractChecksum([]byte(tc.data), tc.algo, tc.asset)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeHexKey(t *testing.T) {
	t.Parallel()

	valid := strings.Repeat("ab", ed25519.PublicKeySize)
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr string
	}{
		{name: "empty", input: " ", wantErr: "required"},
		{name: "pem blob", input: "-----BEGIN PUBLIC KEY-----", wantErr: "not PEM"},
		{name: "short", input: "abcd", wantErr: "hex characters"},
		{name: "not hex", input: strings.Repeat("z", ed25519.PublicKeySize*2), wantErr: "hexadecimal"},
		{name: "upper case is lowered", input: " " + strings.ToUpper(valid) + "\n", want: valid},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeHexKey(tc.input)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSignatureFormatFromExtension(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"SHA256SUMS.sig":      FormatPGP,
		"checksums.sig":       FormatPGP,
		"App.zip.sig":         FormatBinary,
		"App.zip.sig.ed25519": FormatBinary,
		"SHA256SUMS.minisig":  FormatMinisign,
		"SHA256SUMS.asc":      FormatPGP,
		"release.json":        "",
	}
	for name, want := range cases {
		assert.Equal(t, want, SignatureFormatFromExtension(name), name)
	}
}

func TestChecksumFileNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "sha512", DetectChecksumAlgorithm("SHA2-512SUMS", "sha256"))
	assert.Equal(t, "sha512", DetectChecksumAlgorithm("App.zip.sha512.txt", "sha256"))
	assert.Equal(t, "sha256", DetectChecksumAlgorithm("SHA256SUMS", "sha512"))
	assert.Equal(t, "sha256", DetectChecksumAlgorithm("CHECKSUMS", "sha256"))

	for _, name := range []string{"SHA256SUMS", "sha2-512sums", "App.zip.sha256", "App.zip.SHA512.txt"} {
		assert.True(t, IsChecksumFile(name), name)
	}
	for _, name := range []string{"App.zip", "SHA256SUMS.minisig", "release.json"} {
		assert.False(t, IsChecksumFile(name), name)
	}
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.5 KB", FormatSize(1536))
	assert.Equal(t, "3.0 MB", FormatSize(3<<20))
}

func TestFileDigest(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "App.zip")
	require.NoError(t, os.WriteFile(p, []byte("bundle"), 0o644))

	s256 := sha256.Sum256([]byte("bundle"))
	got, err := FileDigest(p, "SHA256")
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(s256[:]), got)

	s512 := sha512.Sum512([]byte("bundle"))
	got, err = FileDigest(p, "sha512")
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(s512[:]), got)

	_, err = FileDigest(p, "md5")
	assert.ErrorContains(t, err, "unsupported")
	_, err = FileDigest(filepath.Join(t.TempDir(), "missing"), "sha256")
	assert.Error(t, err)
}
