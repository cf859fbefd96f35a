package verify

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/3leaps/sfeed/internal/model"
)

// ManifestName is the bundle manifest read by ManifestInspector.
const ManifestName = "bundle.yaml"

// ErrNoVersion is returned by inspectors that cannot report a bundle version.
var ErrNoVersion = errors.New("bundle version not available")

// BundleInspector reads the signing identity and version of an installed or
// downloaded bundle.
type BundleInspector interface {
	Identity(bundle string) (string, error)
	Version(bundle string) (string, error)
}

// CodesignInspector uses the designated requirement reported by codesign.
type CodesignInspector struct {
	Bin string
}

func (c CodesignInspector) Identity(bundle string) (string, error) {
	bin := c.Bin
	if bin == "" {
		bin = "codesign"
	}
	out, err := runCommand(bin, "-d", "-r-", bundle)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "designated =>"); ok {
			return strings.TrimSpace(rest), nil
		}
	}
	return "", fmt.Errorf("%s has no designated requirement", bundle)
}

func (CodesignInspector) Version(string) (string, error) {
	return "", ErrNoVersion
}

// Manifest is the bundle.yaml document shipped inside a bundle directory, or
// next to a single executable as "<name>.bundle.yaml".
type Manifest struct {
	Version  string `yaml:"version"`
	Identity string `yaml:"identity"`
}

// ManifestInspector reads bundle manifests.
type ManifestInspector struct{}

func manifestPath(bundle string) (string, error) {
	info, err := os.Stat(bundle)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return filepath.Join(bundle, ManifestName), nil
	}
	return bundle + "." + ManifestName, nil
}

// ReadManifest loads the manifest describing bundle.
func ReadManifest(bundle string) (Manifest, error) {
	p, err := manifestPath(bundle)
	if err != nil {
		return Manifest{}, err
	}
	// #nosec G304 -- manifest path derived from a configured bundle
	f, err := os.Open(p)
	if err != nil {
		return Manifest{}, err
	}
	defer f.Close()
	var m Manifest
	if err := yaml.NewDecoder(f).Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return Manifest{}, fmt.Errorf("parse %s: %w", p, err)
	}
	return m, nil
}

func (ManifestInspector) Identity(bundle string) (string, error) {
	m, err := ReadManifest(bundle)
	if err != nil {
		return "", err
	}
	if m.Identity == "" {
		return "", fmt.Errorf("%s is unsigned", bundle)
	}
	return m.Identity, nil
}

func (ManifestInspector) Version(bundle string) (string, error) {
	m, err := ReadManifest(bundle)
	if err != nil {
		return "", err
	}
	if m.Version == "" {
		return "", ErrNoVersion
	}
	return m.Version, nil
}

// Verifier checks that a replacement bundle carries the same signing identity
// as the bundle it replaces.
type Verifier struct {
	inspector BundleInspector
	disabled  bool
	logger    *slog.Logger
}

type VerifierOption func(*Verifier)

// WithoutCodeSignature turns Verify into a logged no-op.
func WithoutCodeSignature() VerifierOption {
	return func(v *Verifier) { v.disabled = true }
}

func WithVerifierLogger(l *slog.Logger) VerifierOption {
	return func(v *Verifier) { v.logger = l }
}

func NewVerifier(inspector BundleInspector, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		inspector: inspector,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Verifier) Inspector() BundleInspector { return v.inspector }

func (v *Verifier) Disabled() bool { return v.disabled }

// Verify fails with model.ErrSignatureMismatch unless source and target report
// the same identity. A target that does not exist yet only needs a readable
// source identity.
func (v *Verifier) Verify(source, target string) error {
	if v.disabled {
		v.logger.Warn("code signature check disabled", "source", source, "target", target)
		return nil
	}
	if v.inspector == nil {
		return model.Errorf(model.ErrSignatureMismatch, "verify "+source, "no bundle inspector configured")
	}
	got, err := v.inspector.Identity(source)
	if err != nil {
		return model.Wrap(model.ErrSignatureMismatch, "verify "+source, err)
	}
	if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
		v.logger.Debug("target missing, accepting source identity", "target", target, "identity", got)
		return nil
	}
	want, err := v.inspector.Identity(target)
	if err != nil {
		return model.Wrap(model.ErrSignatureMismatch, "verify "+target, err)
	}
	if got != want {
		return model.Errorf(model.ErrSignatureMismatch, "verify "+source, "identity %q does not match installed %q", got, want)
	}
	return nil
}
