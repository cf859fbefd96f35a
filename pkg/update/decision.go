package update

import "fmt"

type Decision string

const (
	DecisionProceed    Decision = "proceed"    // Proceed with update
	DecisionSkip       Decision = "skip"       // Skip, already at target version
	DecisionRefuse     Decision = "refuse"     // Refuse (e.g., cross-major without force)
	DecisionReinstall  Decision = "reinstall"  // Force reinstall same version
	DecisionDowngrade  Decision = "downgrade"  // Explicit downgrade
	DecisionDevInstall Decision = "devinstall" // Installing release over a dev build
)

// Options tune DecideUpdate.
type Options struct {
	// Name is used in messages ("Updating <name>: ...").
	Name string
	// AllowDowngrade permits moving to an older target.
	AllowDowngrade bool
	// Force permits reinstalling the same version and crossing major versions.
	Force bool
	// RefuseCrossMajor refuses major version changes unless Force is set.
	RefuseCrossMajor bool
}

func (o Options) name() string {
	if o.Name == "" {
		return "bundle"
	}
	return o.Name
}

// ShouldProceed reports whether a decision results in an install.
func (d Decision) ShouldProceed() bool {
	switch d {
	case DecisionProceed, DecisionReinstall, DecisionDowngrade, DecisionDevInstall:
		return true
	default:
		return false
	}
}

// DecideUpdate determines whether an update from current to target should proceed.
//
// current: installed version (e.g. "0.2.5" or "dev")
// target:  candidate release version (e.g. "v0.2.6")
//
// Returns a Decision, a human message, and an exit code suggestion (0=success/skip, 1=refuse).
func DecideUpdate(current, target string, opts Options) (Decision, string, int) {
	name := opts.name()
	currentNorm, currentOK := NormalizeVersion(current)
	targetNorm, targetOK := NormalizeVersion(target)

	if !targetOK {
		msg := fmt.Sprintf("Release version %q is not comparable; refusing to install it.", target)
		return DecisionRefuse, msg, 1
	}

	if !currentOK {
		if current == "dev" || current == "0.0.0-dev" || current == "" {
			msg := fmt.Sprintf("Installing %s %s (replacing dev build)", name, FormatVersionDisplay(targetNorm))
			return DecisionDevInstall, msg, 0
		}
		msg := fmt.Sprintf("Version comparison skipped (current=%q, target=%s). Proceeding with verified install.", current, FormatVersionDisplay(targetNorm))
		return DecisionProceed, msg, 0
	}

	cmp, err := CompareSemver(currentNorm, targetNorm)
	if err != nil {
		msg := fmt.Sprintf("Version comparison failed: %v.", err)
		return DecisionRefuse, msg, 1
	}

	currentMajor, _ := majorVersionFromNormalized(currentNorm)
	targetMajor, _ := majorVersionFromNormalized(targetNorm)
	crossMajor := currentMajor != targetMajor && opts.RefuseCrossMajor && !opts.Force

	switch cmp {
	case 0:
		if opts.Force {
			msg := fmt.Sprintf("Reinstalling %s %s...", name, FormatVersionDisplay(targetNorm))
			return DecisionReinstall, msg, 0
		}
		msg := fmt.Sprintf("Already at latest version (%s).", FormatVersionDisplay(targetNorm))
		return DecisionSkip, msg, 0

	case -1:
		if crossMajor {
			msg := fmt.Sprintf("Refusing update across major versions (%s → %s).",
				FormatVersionDisplay(currentNorm), FormatVersionDisplay(targetNorm))
			return DecisionRefuse, msg, 1
		}
		msg := fmt.Sprintf("Updating %s: %s → %s", name, FormatVersionDisplay(currentNorm), FormatVersionDisplay(targetNorm))
		return DecisionProceed, msg, 0

	default:
		if !opts.AllowDowngrade {
			msg := fmt.Sprintf("Already at version %s (release %s is older).",
				FormatVersionDisplay(currentNorm), FormatVersionDisplay(targetNorm))
			return DecisionSkip, msg, 0
		}
		if crossMajor {
			msg := fmt.Sprintf("Refusing downgrade across major versions (%s → %s).",
				FormatVersionDisplay(currentNorm), FormatVersionDisplay(targetNorm))
			return DecisionRefuse, msg, 1
		}
		msg := fmt.Sprintf("Downgrading %s: %s → %s", name, FormatVersionDisplay(currentNorm), FormatVersionDisplay(targetNorm))
		return DecisionDowngrade, msg, 0
	}
}

// DescribeDecision returns a human-readable dry-run status.
func DescribeDecision(d Decision) string {
	switch d {
	case DecisionSkip:
		return "Already at latest version (no update needed)"
	case DecisionRefuse:
		return "Update refused"
	case DecisionProceed:
		return "Update available"
	case DecisionReinstall:
		return "Force reinstall requested"
	case DecisionDowngrade:
		return "Downgrade available"
	case DecisionDevInstall:
		return "Installing release (replacing dev build)"
	default:
		return string(d)
	}
}
