// Package index fetches releases from a hosted release index: a JSON document
// at "<base>/<path>/release.json" describing the latest release.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/3leaps/sfeed/internal/host"
	"github.com/3leaps/sfeed/internal/model"
	"github.com/3leaps/sfeed/internal/schemas"
	"github.com/3leaps/sfeed/pkg/update"
)

const FileName = "release.json"

// Document is the wire form of a release index.
type Document struct {
	Version    string        `json:"version"`
	Prerelease bool          `json:"prerelease,omitempty"`
	Assets     []model.Asset `json:"assets"`
}

// Fetcher reads release indexes. BaseURL replaces "https://<service-host>" when
// set, which lets a test server stand in for any host.
type Fetcher struct {
	Client          *host.Client
	BaseURL         string
	AllowPrerelease bool
}

func (f *Fetcher) indexURL(loc host.Locator) string {
	base := "https://" + loc.Service()
	if f.BaseURL != "" {
		base = strings.TrimRight(f.BaseURL, "/")
	}
	return fmt.Sprintf("%s/%s/%s", base, loc.Path(), FileName)
}

func (f *Fetcher) FetchRelease(ctx context.Context, loc host.Locator) (model.ReleaseInfo, error) {
	src := f.indexURL(loc)
	data, err := f.Client.GetBytes(ctx, src)
	if err != nil {
		return model.ReleaseInfo{}, err
	}
	if err := schemas.Validate(schemas.ReleaseIndex, data); err != nil {
		return model.ReleaseInfo{}, model.Wrap(model.ErrParse, "index fetch", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.ReleaseInfo{}, model.Wrap(model.ErrParse, "index fetch", err)
	}
	version, ok := update.NormalizeVersion(doc.Version)
	if !ok {
		return model.ReleaseInfo{}, model.Errorf(model.ErrParse, "index fetch", "version %q is not comparable", doc.Version)
	}
	if doc.Prerelease && !f.AllowPrerelease {
		return model.ReleaseInfo{}, model.Errorf(model.ErrParse, "index fetch", "latest release %s is a prerelease", version)
	}

	info := model.ReleaseInfo{Version: version, Prerelease: doc.Prerelease}
	for _, a := range doc.Assets {
		resolved, err := resolve(src, a.URL)
		if err != nil {
			return model.ReleaseInfo{}, model.Wrap(model.ErrParse, "index fetch", err)
		}
		a.URL = resolved
		info.Assets = append(info.Assets, a)
	}
	return info, nil
}

// resolve makes asset URLs relative to the index document absolute.
func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("asset url %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}
