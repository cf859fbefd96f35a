package github

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/3leaps/sfeed/internal/host"
	"github.com/3leaps/sfeed/internal/model"
	"github.com/3leaps/sfeed/pkg/update"
)

const (
	Service        = "github.com"
	DefaultAPIBase = "https://api.github.com"
	pageSize       = 20
)

func TokenFromEnv() string {
	if tok := strings.TrimSpace(os.Getenv("SFEED_GITHUB_TOKEN")); tok != "" {
		return tok
	}
	return strings.TrimSpace(os.Getenv("GITHUB_TOKEN"))
}

// AuthForURL returns the env token for GitHub URLs only.
func AuthForURL(url string) string {
	if !strings.Contains(url, "github.com") && !strings.Contains(url, "githubusercontent.com") {
		return ""
	}
	return TokenFromEnv()
}

func APIBaseFromEnv() string {
	base := strings.TrimSpace(os.Getenv("SFEED_API_BASE"))
	if base == "" {
		return DefaultAPIBase
	}
	return strings.TrimRight(base, "/")
}

type ghRelease struct {
	TagName    string    `json:"tag_name"`
	Draft      bool      `json:"draft"`
	Prerelease bool      `json:"prerelease"`
	Assets     []ghAsset `json:"assets"`
}

type ghAsset struct {
	Name               string `json:"name"`
	BrowserDownloadUrl string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

// Fetcher reads releases from the GitHub releases API.
type Fetcher struct {
	Client          *host.Client
	APIBase         string
	AllowPrerelease bool
}

func (f *Fetcher) apiBase() string {
	if f.APIBase != "" {
		return strings.TrimRight(f.APIBase, "/")
	}
	return APIBaseFromEnv()
}

// FetchRelease returns the newest non-draft release of the repository named by
// loc ("github.com/owner/repo"). Prereleases are skipped unless allowed.
func (f *Fetcher) FetchRelease(ctx context.Context, loc host.Locator) (model.ReleaseInfo, error) {
	parts := strings.Split(loc.Path(), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return model.ReleaseInfo{}, model.Errorf(model.ErrParse, "github fetch", "locator %q must be github.com/<owner>/<repo>", loc)
	}

	url := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=%d", f.apiBase(), parts[0], parts[1], pageSize)
	var releases []ghRelease
	if err := f.Client.GetJSON(ctx, url, &releases); err != nil {
		return model.ReleaseInfo{}, err
	}

	for _, rel := range releases {
		if rel.Draft {
			continue
		}
		if rel.Prerelease && !f.AllowPrerelease {
			continue
		}
		version, ok := update.NormalizeVersion(rel.TagName)
		if !ok {
			return model.ReleaseInfo{}, model.Errorf(model.ErrParse, "github fetch", "release tag %q is not a version", rel.TagName)
		}
		info := model.ReleaseInfo{Version: version, Prerelease: rel.Prerelease}
		for _, a := range rel.Assets {
			info.Assets = append(info.Assets, model.Asset{Name: a.Name, URL: a.BrowserDownloadUrl, Size: a.Size})
		}
		return info, nil
	}

	return model.ReleaseInfo{}, model.Errorf(model.ErrParse, "github fetch", "no published release for %s", loc)
}
