package model

import (
	"fmt"
	"path"
	"strings"
)

// ReleaseInfo is what a release service reports about a single release.
type ReleaseInfo struct {
	Version    string  `json:"version"`
	Prerelease bool    `json:"prerelease"`
	Assets     []Asset `json:"assets"`
}

// Asset is a downloadable file attached to a release.
type Asset struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size,omitempty"`
}

// FileName returns the asset name, falling back to the last URL path element.
func (a Asset) FileName() string {
	if a.Name != "" {
		return path.Base(a.Name)
	}
	u := a.URL
	if idx := strings.IndexAny(u, "?#"); idx >= 0 {
		u = u[:idx]
	}
	return path.Base(u)
}

// State is the lifecycle state of a release.
type State int

const (
	StateEmpty State = iota
	StateFetched
	StateReadyToInstall
	StateInstalled
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateFetched:
		return "fetched"
	case StateReadyToInstall:
		return "ready"
	case StateInstalled:
		return "installed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, error) {
	switch s {
	case "empty", "":
		return StateEmpty, nil
	case "fetched":
		return StateFetched, nil
	case "ready":
		return StateReadyToInstall, nil
	case "installed":
		return StateInstalled, nil
	default:
		return StateEmpty, fmt.Errorf("unknown release state %q", s)
	}
}

// InstallPolicy determines when a feed may install a prepared release on its own.
type InstallPolicy int

const (
	// InstallNone checks and prepares releases but never installs them.
	InstallNone InstallPolicy = iota
	// InstallAtActivation installs a ready release when the host activates.
	InstallAtActivation
	// InstallAtQuit installs a ready release when the host quits.
	InstallAtQuit
	// InstallWhenReady only notifies; the host decides when to install.
	InstallWhenReady
)

func (p InstallPolicy) String() string {
	switch p {
	case InstallNone:
		return "none"
	case InstallAtActivation:
		return "activation"
	case InstallAtQuit:
		return "quit"
	case InstallWhenReady:
		return "ready"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseInstallPolicy accepts the String forms of InstallPolicy.
func ParseInstallPolicy(s string) (InstallPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return InstallNone, nil
	case "activation", "at-activation":
		return InstallAtActivation, nil
	case "quit", "at-quit":
		return InstallAtQuit, nil
	case "ready", "when-ready":
		return InstallWhenReady, nil
	default:
		return InstallNone, fmt.Errorf("unknown install policy %q (supported: none, activation, quit, ready)", s)
	}
}
