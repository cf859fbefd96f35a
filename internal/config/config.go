// Package config loads feed configuration from YAML with SFEED_* environment
// overrides. An embedded default configures updates of sfeed itself.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/3leaps/sfeed/internal/host"
	"github.com/3leaps/sfeed/internal/model"
	"github.com/3leaps/sfeed/internal/verify"
)

const (
	DefaultCheckPeriod = 24 * time.Hour
	MinCheckPeriod     = time.Minute

	// FileName is looked up next to the running executable by LoadMain.
	FileName = "sfeed.yaml"
	// EnvConfig names a config file that LoadMain prefers over everything else.
	EnvConfig = "SFEED_CONFIG"
)

//go:embed default.yaml
var embeddedDefault []byte

// Signature configures both integrity layers: SUMS signature keys and the
// bundle identity check.
type Signature struct {
	// Skip disables the bundle identity check. Discouraged.
	Skip        bool   `yaml:"skip"`
	Inspector   string `yaml:"inspector"`
	CodesignBin string `yaml:"codesign_bin"`
	Minisign    string `yaml:"minisign_key"`
	Ed25519     string `yaml:"ed25519_key"`
	PGP         string `yaml:"pgp_key"`
	GPGBin      string `yaml:"gpg_bin"`
}

type Config struct {
	Repository       string        `yaml:"repository"`
	Targets          []string      `yaml:"targets"`
	CheckPeriod      time.Duration `yaml:"check_period"`
	CacheDir         string        `yaml:"cache_dir"`
	InstallPolicy    string        `yaml:"install_policy"`
	AllowPrerelease  bool          `yaml:"allow_prerelease"`
	Concurrency      int           `yaml:"concurrency"`
	InstalledVersion string        `yaml:"installed_version"`
	// IndexBase replaces "https://<service-host>" for release index services.
	IndexBase string    `yaml:"index_base"`
	Signature Signature `yaml:"signature"`
}

// Parse decodes and validates a YAML document. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, model.Wrap(model.ErrParse, "parse config", err)
	}
	return &cfg, nil
}

// Load reads path, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	// #nosec G304 -- path is chosen by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.Wrap(model.ErrFilesystem, "read config", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

var (
	defaultOnce sync.Once
	defaultCfg  *Config
	defaultErr  error
)

// Default returns a copy of the embedded configuration.
func Default() (*Config, error) {
	defaultOnce.Do(func() {
		if len(embeddedDefault) == 0 {
			defaultErr = errors.New("embedded default config is empty")
			return
		}
		cfg, err := Parse(embeddedDefault)
		if err != nil {
			defaultErr = fmt.Errorf("embedded default config: %w", err)
			return
		}
		if err := cfg.Validate(); err != nil {
			defaultErr = fmt.Errorf("embedded default config: %w", err)
			return
		}
		defaultCfg = cfg
	})
	if defaultErr != nil {
		return nil, defaultErr
	}
	return defaultCfg.Clone(), nil
}

// LoadMain resolves the configuration of the process-wide feed: the file named
// by SFEED_CONFIG, else sfeed.yaml next to the executable, else the embedded
// default with environment overrides.
func LoadMain() (*Config, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfig)); p != "" {
		return Load(p)
	}
	if exe, err := os.Executable(); err == nil {
		p := filepath.Join(filepath.Dir(exe), FileName)
		if _, err := os.Stat(p); err == nil {
			return Load(p)
		}
	}
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Targets = append([]string(nil), c.Targets...)
	return &out
}

// ApplyEnv overrides fields from SFEED_* variables read through getenv.
// SFEED_TARGETS is a list separated by the OS path list separator.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	get := func(k string) (string, bool) {
		v := strings.TrimSpace(getenv(k))
		return v, v != ""
	}
	if v, ok := get("SFEED_REPOSITORY"); ok {
		c.Repository = v
	}
	if v, ok := get("SFEED_TARGETS"); ok {
		c.Targets = filepath.SplitList(v)
	}
	if v, ok := get("SFEED_CACHE_DIR"); ok {
		c.CacheDir = v
	}
	if v, ok := get("SFEED_INSTALL_POLICY"); ok {
		c.InstallPolicy = v
	}
	if v, ok := get("SFEED_INSTALLED_VERSION"); ok {
		c.InstalledVersion = v
	}
	if v, ok := get("SFEED_INDEX_BASE"); ok {
		c.IndexBase = v
	}
	if v, ok := get("SFEED_MINISIGN_KEY"); ok {
		c.Signature.Minisign = v
	}
	if v, ok := get("SFEED_CHECK_PERIOD"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return model.Wrap(model.ErrParse, "SFEED_CHECK_PERIOD", err)
		}
		c.CheckPeriod = d
	}
	for key, dst := range map[string]*bool{
		"SFEED_ALLOW_PRERELEASE": &c.AllowPrerelease,
		"SFEED_SKIP_SIG":         &c.Signature.Skip,
	} {
		if v, ok := get(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return model.Wrap(model.ErrParse, key, err)
			}
			*dst = b
		}
	}
	return nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var problems []string

	if _, err := host.ParseLocator(c.Repository); err != nil {
		problems = append(problems, fmt.Sprintf("repository: %v", err))
	}
	if c.CheckPeriod < 0 {
		problems = append(problems, fmt.Sprintf("check_period: must not be negative (got %s)", c.CheckPeriod))
	}
	if _, err := model.ParseInstallPolicy(c.InstallPolicy); err != nil {
		problems = append(problems, fmt.Sprintf("install_policy: %v", err))
	}
	if c.Concurrency < 0 {
		problems = append(problems, fmt.Sprintf("concurrency: must be >= 0 (got %d)", c.Concurrency))
	}
	switch c.Signature.Inspector {
	case "", "manifest", "codesign":
	default:
		problems = append(problems, fmt.Sprintf("signature.inspector: unsupported %q (supported: manifest, codesign)", c.Signature.Inspector))
	}
	if c.Signature.Ed25519 != "" {
		if _, err := verify.NormalizeHexKey(c.Signature.Ed25519); err != nil {
			problems = append(problems, fmt.Sprintf("signature.ed25519_key: %v", err))
		}
	}
	for i, t := range c.Targets {
		if strings.TrimSpace(t) == "" {
			problems = append(problems, fmt.Sprintf("targets[%d]: empty", i))
		}
	}

	if len(problems) > 0 {
		return model.Errorf(model.ErrParse, "validate config", "invalid config:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// Locator returns the parsed repository locator. Call after Validate.
func (c *Config) Locator() host.Locator {
	l, _ := host.ParseLocator(c.Repository)
	return l
}

// Period is the check period with the default applied and the floor enforced.
func (c *Config) Period() time.Duration {
	switch {
	case c.CheckPeriod == 0:
		return DefaultCheckPeriod
	case c.CheckPeriod < MinCheckPeriod:
		return MinCheckPeriod
	default:
		return c.CheckPeriod
	}
}

func (c *Config) Policy() model.InstallPolicy {
	p, _ := model.ParseInstallPolicy(c.InstallPolicy)
	return p
}

func (c *Config) Keys() verify.Keys {
	return verify.Keys{
		Minisign: c.Signature.Minisign,
		Ed25519:  c.Signature.Ed25519,
		PGP:      c.Signature.PGP,
		GPGBin:   c.Signature.GPGBin,
	}
}

// Inspector returns the bundle inspector named by signature.inspector.
func (c *Config) Inspector() verify.BundleInspector {
	if c.Signature.Inspector == "codesign" {
		return verify.CodesignInspector{Bin: c.Signature.CodesignBin}
	}
	return verify.ManifestInspector{}
}
