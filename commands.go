package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/sfeed/internal/feed"
	"github.com/3leaps/sfeed/internal/hostenv"
	"github.com/3leaps/sfeed/internal/model"
	"github.com/3leaps/sfeed/internal/release"
	"github.com/3leaps/sfeed/internal/selfupdate"
	"github.com/3leaps/sfeed/internal/telemetry"
	"github.com/3leaps/sfeed/pkg/update"
)

type releaseReport struct {
	Repository string `json:"repository"`
	Installed  string `json:"installed,omitempty"`
	Version    string `json:"version,omitempty"`
	State      string `json:"state"`
	Dir        string `json:"dir,omitempty"`
}

func reportFor(f *feed.Feed, r *release.Release) releaseReport {
	rep := releaseReport{
		Repository: f.Locator().String(),
		Installed:  f.InstalledVersion(),
		State:      model.StateEmpty.String(),
	}
	if r != nil {
		rep.Version = r.Version()
		rep.State = r.State().String()
		rep.Dir = r.Dir()
	}
	return rep
}

func (o *globalOptions) printRelease(rep releaseReport) error {
	if o.jsonOut {
		return o.printJSON(rep)
	}
	installed := rep.Installed
	if installed == "" {
		installed = "unknown"
	}
	switch rep.State {
	case model.StateEmpty.String():
		fmt.Fprintf(o.stdout, "%s is up to date (installed %s)\n", rep.Repository, update.FormatVersionDisplay(installed))
	case model.StateReadyToInstall.String():
		fmt.Fprintf(o.stdout, "%s %s is ready to install (installed %s)\n", rep.Repository, update.FormatVersionDisplay(rep.Version), update.FormatVersionDisplay(installed))
	default:
		fmt.Fprintf(o.stdout, "%s %s: %s\n", rep.Repository, update.FormatVersionDisplay(rep.Version), rep.State)
	}
	return nil
}

func newCheckCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check for a newer release and prepare it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, _, err := opts.newFeed(cmd)
			if err != nil {
				return err
			}
			defer f.Close()

			f.Restore()
			r, err := f.Check(cmd.Context())
			if err != nil && r == nil {
				return err
			}
			if perr := opts.printRelease(reportFor(f, r)); perr != nil {
				return perr
			}
			return err
		},
	}
}

type targetStatus struct {
	Path    string   `json:"path"`
	Version string   `json:"version,omitempty"`
	Hazards []string `json:"hazards,omitempty"`
}

type cachedStatus struct {
	Version string `json:"version"`
	State   string `json:"state,omitempty"`
	Dir     string `json:"dir"`
}

type statusReport struct {
	Repository string         `json:"repository"`
	Installed  string         `json:"installed,omitempty"`
	Policy     string         `json:"policy"`
	Period     string         `json:"period"`
	CacheDir   string         `json:"cacheDir"`
	LastCheck  *time.Time     `json:"lastCheck,omitempty"`
	Targets    []targetStatus `json:"targets"`
	Releases   []cachedStatus `json:"releases"`
}

func newStatusCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show targets, installed versions and cached releases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, cfg, err := opts.newFeed(cmd)
			if err != nil {
				return err
			}
			defer f.Close()

			store, loc := f.Store(), f.Locator()
			rep := statusReport{
				Repository: loc.String(),
				Installed:  f.InstalledVersion(),
				Policy:     cfg.Policy().String(),
				Period:     f.Period().String(),
				CacheDir:   store.RepoDir(loc),
				Targets:    []targetStatus{},
				Releases:   []cachedStatus{},
			}
			if last := store.LastCheck(loc); !last.IsZero() {
				rep.LastCheck = &last
			}
			inspector := cfg.Inspector()
			for _, t := range f.Targets() {
				ts := targetStatus{Path: t}
				if v, err := inspector.Version(t); err == nil {
					ts.Version = v
				}
				for _, h := range hostenv.Hazards(t) {
					ts.Hazards = append(ts.Hazards, string(h))
				}
				rep.Targets = append(rep.Targets, ts)
			}
			cached, err := store.Releases(loc)
			if err != nil {
				return err
			}
			for _, cr := range cached {
				cs := cachedStatus{Version: cr.Version, Dir: cr.Dir}
				if cr.Snapshot != nil {
					cs.State = cr.Snapshot.State
				}
				rep.Releases = append(rep.Releases, cs)
			}

			if opts.jsonOut {
				return opts.printJSON(rep)
			}
			w := opts.stdout
			fmt.Fprintf(w, "repository: %s\n", rep.Repository)
			fmt.Fprintf(w, "policy:     %s (every %s)\n", rep.Policy, rep.Period)
			fmt.Fprintf(w, "cache:      %s\n", rep.CacheDir)
			if rep.LastCheck != nil {
				fmt.Fprintf(w, "last check: %s\n", rep.LastCheck.Local().Format(time.RFC3339))
			} else {
				fmt.Fprintln(w, "last check: never")
			}
			for _, t := range rep.Targets {
				line := fmt.Sprintf("target:     %s", t.Path)
				if t.Version != "" {
					line += " " + update.FormatVersionDisplay(t.Version)
				}
				if len(t.Hazards) > 0 {
					line += " [" + strings.Join(t.Hazards, ",") + "]"
				}
				fmt.Fprintln(w, line)
			}
			for _, cr := range rep.Releases {
				fmt.Fprintf(w, "cached:     %s %s\n", update.FormatVersionDisplay(cr.Version), cr.State)
			}
			return nil
		},
	}
}

func newInstallCommand(opts *globalOptions) *cobra.Command {
	var relaunch bool
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install a prepared release, checking first if none is ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, cfg, err := opts.newFeed(cmd)
			if err != nil {
				return err
			}
			defer f.Close()

			if r := f.Restore(); r == nil || r.State() != model.StateReadyToInstall {
				if _, err := f.Check(cmd.Context()); err != nil {
					return err
				}
			}
			cur := f.CurrentRelease()
			res, err := f.InstallReady()
			if errors.Is(err, model.ErrInvalidState) && (cur == nil || cur.State() != model.StateReadyToInstall) {
				return opts.printRelease(reportFor(f, nil))
			}
			for _, t := range res.Installed {
				opts.logger.Info("installed", "target", t, "version", cur.Version())
			}
			if err != nil {
				return err
			}
			if opts.jsonOut {
				if err := opts.printJSON(map[string]any{"version": cur.Version(), "installed": res.Installed}); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(opts.stdout, "installed %s into %s\n", update.FormatVersionDisplay(cur.Version()), strings.Join(res.Installed, ", "))
			}
			if relaunch && len(cfg.Targets) > 0 {
				return selfupdate.Relaunch(cfg.Targets[0], []string{"version"})
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&relaunch, "relaunch", false, "replace this process with the installed executable")
	return cmd
}

func newClearCommand(opts *globalOptions) *cobra.Command {
	var through string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove cached releases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, _, err := opts.newFeed(cmd)
			if err != nil {
				return err
			}
			defer f.Close()

			store, loc := f.Store(), f.Locator()
			if through == "" {
				if err := store.Remove(store.RepoDir(loc)); err != nil {
					return err
				}
				fmt.Fprintf(opts.stdout, "cleared cache of %s\n", loc)
				return nil
			}
			if err := update.Validate(through); err != nil {
				return usageError{err}
			}
			removed, err := store.ClearThrough(loc, through)
			fmt.Fprintf(opts.stdout, "removed %d cached release(s) up to %s\n", len(removed), update.FormatVersionDisplay(through))
			return err
		},
	}
	cmd.Flags().StringVar(&through, "through", "", "only remove releases up to and including this version")
	return cmd
}

func newWatchCommand(opts *globalOptions) *cobra.Command {
	var (
		policyFlag  string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Check periodically and install according to the install policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			metrics := telemetry.New()
			hooks := feed.NewHookSet()
			f, cfg, err := opts.newFeed(cmd, feed.WithMetrics(metrics), feed.WithHooks(hooks))
			if err != nil {
				return err
			}
			defer f.Close()

			policy := cfg.Policy()
			if cmd.Flags().Changed("policy") {
				if policy, err = model.ParseInstallPolicy(policyFlag); err != nil {
					return usageError{err}
				}
			}

			unsubscribe := f.Subscribe(func(e feed.Event) { opts.printEvent(e) })
			defer unsubscribe()

			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						opts.logger.Error("metrics server stopped", "error", err)
					}
				}()
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(ctx)
				}()
			}

			if err := f.Activate(policy); err != nil {
				return err
			}
			hooks.Activate()
			<-cmd.Context().Done()
			hooks.Quit()
			f.Deactivate()
			return nil
		},
	}
	cmd.Flags().StringVar(&policyFlag, "policy", "", "install policy: none, activation, quit, ready")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

func (o *globalOptions) printEvent(e feed.Event) {
	if e.Kind == feed.EventProgress && !o.verbose {
		return
	}
	if o.jsonOut {
		_ = o.printJSON(map[string]any{
			"kind":     e.Kind.String(),
			"release":  e.ID,
			"version":  e.Version,
			"state":    e.State.String(),
			"progress": e.Progress,
		})
		return
	}
	if e.Kind == feed.EventProgress {
		fmt.Fprintf(o.stdout, "%s %s: %3.0f%%\n", time.Now().Format(time.TimeOnly), update.FormatVersionDisplay(e.Version), e.Progress*100)
		return
	}
	fmt.Fprintf(o.stdout, "%s %s: %s\n", time.Now().Format(time.TimeOnly), update.FormatVersionDisplay(e.Version), e.State)
}
