package verify

import (
	"strings"

	"github.com/3leaps/sfeed/internal/model"
)

// Keys holds the trust roots used for SUMS signatures. Empty fields disable the
// matching format.
type Keys struct {
	Minisign string
	Ed25519  string
	PGP      string
	GPGBin   string
}

func (k Keys) Empty() bool {
	return k.Minisign == "" && k.Ed25519 == "" && k.PGP == ""
}

// CheckSumsSignature verifies sig (named sigName) over the SUMS file contents.
// A signature whose format has no configured key fails.
func CheckSumsSignature(sums, sig []byte, sigName string, keys Keys) error {
	format := SignatureFormatFromExtension(sigName)
	if parsed, err := ParseSignature(sig); err == nil {
		format = parsed.Format
		sig = parsed.Bytes
	}
	var err error
	switch format {
	case FormatMinisign:
		if keys.Minisign == "" {
			return model.Errorf(model.ErrSignatureMismatch, "verify "+sigName, "no minisign key configured")
		}
		err = VerifyMinisignSignature(sums, sig, keys.Minisign)
	case FormatBinary:
		if keys.Ed25519 == "" {
			return model.Errorf(model.ErrSignatureMismatch, "verify "+sigName, "no ed25519 key configured")
		}
		err = VerifyEd25519Signature(sums, sig, keys.Ed25519)
	case FormatPGP:
		if keys.PGP == "" {
			return model.Errorf(model.ErrSignatureMismatch, "verify "+sigName, "no pgp key configured")
		}
		err = VerifyPGPSignature(sums, sig, keys.PGP, keys.GPGBin)
	default:
		return model.Errorf(model.ErrParse, "verify "+sigName, "unknown signature format")
	}
	return model.Wrap(model.ErrSignatureMismatch, "verify "+sigName, err)
}

// CheckFileDigest compares the digest of path against the entry for name in a
// SUMS file named sumsName.
func CheckFileDigest(path, name string, sums []byte, sumsName string) error {
	algo := DetectChecksumAlgorithm(sumsName, "sha256")
	want, err := ExtractChecksum(sums, algo, name)
	if err != nil {
		return model.Wrap(model.ErrSignatureMismatch, "checksum "+name, err)
	}
	got, err := FileDigest(path, algo)
	if err != nil {
		return model.Wrap(model.ErrFilesystem, "checksum "+name, err)
	}
	if got != want {
		return model.Errorf(model.ErrSignatureMismatch, "checksum "+name, "%s mismatch: expected %s, got %s", algo, want, got)
	}
	return nil
}

// DescribeKeys lists configured key formats for logs.
func DescribeKeys(k Keys) string {
	if k.Empty() {
		return "none"
	}
	var out []string
	for _, pair := range [][2]string{{"minisign", k.Minisign}, {"ed25519", k.Ed25519}, {"pgp", k.PGP}} {
		if pair[1] != "" {
			out = append(out, pair[0])
		}
	}
	return strings.Join(out, ",")
}
