package download

import (
	"runtime"
	"sort"
	"strings"

	"github.com/3leaps/sfeed/internal/model"
	"github.com/3leaps/sfeed/internal/verify"
)

var goosAliasTable = map[string][]string{
	"darwin":  {"macos", "macosx", "osx"},
	"windows": {"win", "win32", "win64", "mingw"},
	"linux":   {"linux"},
}

var archAliasTable = map[string][]string{
	"amd64": {"x86_64", "x64"},
	"arm64": {"aarch64"},
	"386":   {"x86", "i386", "i686"},
}

// Plan splits the assets of a release into payload and integrity files.
type Plan struct {
	Payload []model.Asset
	Sums    *model.Asset
	SumsSig *model.Asset
	Skipped []model.Asset
}

// NewPlan selects the assets to download for the running platform.
func NewPlan(assets []model.Asset) Plan {
	return NewPlanFor(assets, runtime.GOOS, runtime.GOARCH)
}

// NewPlanFor selects the assets to download for goos/goarch. Supplemental
// files other than the SUMS file and its signature are skipped, as are payloads
// that name only another platform.
func NewPlanFor(assets []model.Asset, goos, goarch string) Plan {
	var p Plan
	p.Sums = verify.FindChecksumFile(assets)
	if p.Sums != nil {
		p.SumsSig = verify.FindChecksumSignature(assets, p.Sums.FileName())
	}
	for _, a := range assets {
		name := a.FileName()
		switch {
		case p.Sums != nil && a.URL == p.Sums.URL,
			p.SumsSig != nil && a.URL == p.SumsSig.URL:
			continue
		case looksLikeSupplemental(name):
			p.Skipped = append(p.Skipped, a)
		case !matchesPlatform(name, goos, goosAliasTable) || !matchesPlatform(name, goarch, archAliasTable):
			p.Skipped = append(p.Skipped, a)
		default:
			p.Payload = append(p.Payload, a)
		}
	}
	return p
}

// Assets lists everything the plan downloads, payload first.
func (p Plan) Assets() []model.Asset {
	out := append([]model.Asset(nil), p.Payload...)
	if p.Sums != nil {
		out = append(out, *p.Sums)
	}
	if p.SumsSig != nil {
		out = append(out, *p.SumsSig)
	}
	return out
}

func looksLikeSupplemental(name string) bool {
	lower := strings.ToLower(name)
	if verify.IsChecksumFile(lower) || verify.SignatureFormatFromExtension(lower) != "" {
		return true
	}
	if strings.HasSuffix(lower, ".sbom.json") || strings.HasSuffix(lower, ".intoto.jsonl") {
		return true
	}
	return strings.Contains(lower, "sha256") || strings.Contains(lower, "checksum") || strings.Contains(lower, "signature")
}

// matchesPlatform rejects names that mention another key of table without also
// mentioning value or one of its aliases. Names without platform tokens match.
func matchesPlatform(name, value string, table map[string][]string) bool {
	lower := strings.ToLower(name)
	if containsToken(lower, aliasList(value, table)) {
		return true
	}
	for other := range table {
		if other == value {
			continue
		}
		if containsToken(lower, aliasList(other, table)) {
			return false
		}
	}
	return true
}

func aliasList(value string, table map[string][]string) []string {
	base := strings.ToLower(value)
	seen := map[string]struct{}{base: {}}
	if extras, ok := table[base]; ok {
		for _, alias := range extras {
			seen[strings.ToLower(alias)] = struct{}{}
		}
	}
	arr := make([]string, 0, len(seen))
	for k := range seen {
		arr = append(arr, k)
	}
	sort.Strings(arr)
	return arr
}

// containsToken reports whether any needle occurs in haystack delimited by
// non-alphanumeric bytes, so "win" does not match "darwin".
func containsToken(haystack string, needles []string) bool {
	for _, needle := range needles {
		if needle == "" {
			continue
		}
		for i := 0; ; {
			idx := strings.Index(haystack[i:], needle)
			if idx < 0 {
				break
			}
			start := i + idx
			end := start + len(needle)
			if (start == 0 || !isAlnum(haystack[start-1])) && (end == len(haystack) || !isAlnum(haystack[end])) {
				return true
			}
			i = start + 1
		}
	}
	return false
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
