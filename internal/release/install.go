package release

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/3leaps/sfeed/internal/hostenv"
	"github.com/3leaps/sfeed/internal/model"
)

const (
	newSuffix = ".sfeed-new"
	oldSuffix = ".sfeed-old"
)

// InstallResult reports which targets were swapped.
type InstallResult struct {
	Installed []string
	// Skipped lists targets already swapped by an earlier partial install.
	Skipped []string
	Failed  map[string]error
}

// InstallAssets replaces every target bundle with its prepared replacement. It
// blocks until done. The release moves to Installed only when every target was
// swapped; a partial install stays ReadyToInstall and remembers the swapped
// targets, so a retry only swaps the remaining ones.
func (r *Release) InstallAssets() (InstallResult, error) {
	result := InstallResult{Failed: make(map[string]error)}

	r.mu.Lock()
	if r.busy {
		r.mu.Unlock()
		return result, model.Errorf(model.ErrInvalidState, "install", "another operation is in progress")
	}
	if r.state != model.StateReadyToInstall {
		state := r.state
		r.mu.Unlock()
		return result, model.Errorf(model.ErrInvalidState, "install", "not allowed in state %s", state)
	}
	r.busy = true
	gen := r.generation
	swapped := slices.Clone(r.swapped)
	replacements := make(map[string]string, len(r.replacements))
	for k, v := range r.replacements {
		replacements[k] = v
	}
	version := r.info.Version
	r.mu.Unlock()

	defer r.end(nil)

	for _, target := range r.targets {
		if slices.Contains(swapped, target) {
			result.Skipped = append(result.Skipped, target)
			continue
		}
		src, ok := replacements[target]
		if !ok {
			result.Failed[target] = model.Errorf(model.ErrInvalidState, "install", "no prepared replacement for %s", target)
			continue
		}
		hazards := hostenv.Hazards(target)
		if slices.Contains(hazards, hostenv.HazardReadOnly) {
			result.Failed[target] = model.Errorf(model.ErrFilesystem, "install", "%s is on a read-only mount", target)
			continue
		}
		if slices.Contains(hazards, hostenv.HazardNoExec) {
			r.logger.Warn("target is on a noexec mount; the installed bundle may not run", "target", target)
		}
		if err := swapBundle(src, target); err != nil {
			r.logger.Error("install failed", "target", target, "error", err)
			result.Failed[target] = err
			continue
		}
		r.logger.Info("installed bundle", "target", target, "version", version)
		result.Installed = append(result.Installed, target)
	}

	if len(result.Installed) > 0 {
		r.mu.Lock()
		if !r.staleLocked(gen) {
			r.swapped = append(r.swapped, result.Installed...)
		}
		r.mu.Unlock()
	}

	if len(result.Failed) > 0 {
		if len(result.Installed) > 0 {
			if err := r.Commit(); err != nil {
				r.logger.Warn("could not persist partially installed release", "error", err)
			}
			r.metrics.ObserveInstall("partial")
		} else {
			r.metrics.ObserveInstall("error")
		}
		var errs []error
		for _, k := range sortedKeys(result.Failed) {
			errs = append(errs, result.Failed[k])
		}
		return result, fmt.Errorf("install %s: %w", version, errors.Join(errs...))
	}

	r.mu.Lock()
	if r.staleLocked(gen) {
		r.mu.Unlock()
		return result, cancelled("install")
	}
	r.setStateLocked(model.StateInstalled)
	r.mu.Unlock()
	r.metrics.ObserveInstall("ok")
	if err := r.commit(model.StateInstalled); err != nil {
		r.logger.Warn("could not persist installed release", "error", err)
	}
	r.flush()
	return result, nil
}

// swapBundle copies src to <target>.sfeed-new, moves target aside to
// <target>.sfeed-old, moves the new bundle into place and removes the old one.
// The original target is restored if the final rename fails.
func swapBundle(src, target string) error {
	newPath := target + newSuffix
	oldPath := target + oldSuffix

	if err := os.RemoveAll(newPath); err != nil {
		return model.Wrap(model.ErrFilesystem, "install "+target, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return model.Wrap(model.ErrFilesystem, "install "+target, err)
	}
	if err := copyTree(src, newPath); err != nil {
		os.RemoveAll(newPath)
		return model.Wrap(model.ErrFilesystem, "install "+target, err)
	}

	_, statErr := os.Lstat(target)
	hadOld := statErr == nil
	if hadOld {
		if err := os.RemoveAll(oldPath); err != nil {
			os.RemoveAll(newPath)
			return model.Wrap(model.ErrFilesystem, "install "+target, err)
		}
		if err := os.Rename(target, oldPath); err != nil {
			os.RemoveAll(newPath)
			return model.Wrap(model.ErrFilesystem, "install "+target, err)
		}
	}
	if err := os.Rename(newPath, target); err != nil {
		if hadOld {
			if rerr := os.Rename(oldPath, target); rerr != nil {
				err = errors.Join(err, fmt.Errorf("restore %s: %w", target, rerr))
			}
		}
		os.RemoveAll(newPath)
		return model.Wrap(model.ErrFilesystem, "install "+target, err)
	}
	if hadOld {
		// leftovers are removed on the next install
		_ = os.RemoveAll(oldPath)
	}
	return nil
}

// copyTree copies a file, symlink or directory tree preserving permissions.
func copyTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		link, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(link, dst)
	case info.IsDir():
		if err := os.MkdirAll(dst, info.Mode().Perm()|0o700); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := copyTree(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
				return err
			}
		}
		return nil
	default:
		return copyFile(src, dst, info.Mode().Perm())
	}
}

func copyFile(src, dst string, perm os.FileMode) error {
	// #nosec G304 -- src is a prepared asset inside the release directory
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	// #nosec G304 -- dst is the staging path next to a configured target
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
