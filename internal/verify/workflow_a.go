package verify

import (
	"strings"

	"github.com/3leaps/sfeed/internal/model"
)

// sumsCandidates are the consolidated checksum files looked for in a release,
// most preferred first.
var sumsCandidates = []string{
	"SHA256SUMS",
	"SHA2-256SUMS",
	"SHA512SUMS",
	"SHA2-512SUMS",
	"checksums.txt",
	"sha256sums.txt",
}

var sigSuffixes = []string{".minisig", ".asc", ".sig"}

// FindChecksumFile returns the consolidated SUMS asset of a release, or nil.
func FindChecksumFile(assets []model.Asset) *model.Asset {
	for _, candidate := range sumsCandidates {
		for i := range assets {
			if strings.EqualFold(assets[i].FileName(), candidate) {
				return &assets[i]
			}
		}
	}
	return nil
}

// FindChecksumSignature looks for a detached signature over the named SUMS file.
func FindChecksumSignature(assets []model.Asset, sumsName string) *model.Asset {
	for _, suffix := range sigSuffixes {
		want := sumsName + suffix
		for i := range assets {
			if assets[i].FileName() == want {
				return &assets[i]
			}
		}
	}
	return nil
}

// SignatureFormatFromExtension determines the signature verification method from
// file extension. Returns one of FormatMinisign, FormatPGP, FormatBinary, or ""
// if unknown.
func SignatureFormatFromExtension(filename string) string {
	lower := strings.ToLower(filename)

	switch {
	case strings.HasSuffix(lower, ".minisig"):
		return FormatMinisign
	case strings.HasSuffix(lower, ".asc"):
		return FormatPGP
	case strings.HasSuffix(lower, ".sig.ed25519"):
		return FormatBinary
	case strings.HasSuffix(lower, ".sig"):
		if looksLikeChecksumSig(lower) {
			return FormatPGP
		}
		return FormatBinary
	}
	return ""
}

func looksLikeChecksumSig(name string) bool {
	return strings.Contains(name, "sums.sig") || strings.Contains(name, "checksums.sig")
}
