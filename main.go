package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/3leaps/sfeed/internal/config"
	"github.com/3leaps/sfeed/internal/feed"
	"github.com/3leaps/sfeed/internal/host"
	"github.com/3leaps/sfeed/internal/host/github"
	"github.com/3leaps/sfeed/internal/model"
	"github.com/3leaps/sfeed/internal/selfupdate"
)

var version = "dev"

// Exit codes. Failures of the release pipeline map to their error kind.
const (
	exitOK        = 0
	exitError     = 1
	exitUsage     = 2
	exitNetwork   = 3
	exitIntegrity = 4
)

type globalOptions struct {
	configPath      string
	repo            string
	targets         []string
	cacheDir        string
	skipSig         bool
	minisignKey     string
	allowPrerelease bool
	jsonOut         bool
	verbose         bool

	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

func run(args []string, stdout, stderr io.Writer) int {
	opts := &globalOptions{stdout: stdout, stderr: stderr}
	root := newRootCommand(opts)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return exitCode(err)
}

func exitCode(err error) int {
	var usage usageError
	switch {
	case errors.As(err, &usage):
		return exitUsage
	case errors.Is(err, model.ErrNetwork):
		return exitNetwork
	case errors.Is(err, model.ErrSignatureMismatch):
		return exitIntegrity
	default:
		return exitError
	}
}

type usageError struct{ err error }

func (u usageError) Error() string { return u.err.Error() }

func (u usageError) Unwrap() error { return u.err }

func newRootCommand(opts *globalOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "sfeed",
		Short:         "Keep installed bundles up to date with their release feed",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.logger = newLogger(opts.stderr, opts.jsonOut, opts.verbose)
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default: $SFEED_CONFIG, sfeed.yaml next to the binary, or built-in)")
	pf.StringVar(&opts.repo, "repo", "", "repository locator, e.g. github.com/owner/repo")
	pf.StringSliceVar(&opts.targets, "target", nil, "installed bundle to keep up to date (repeatable)")
	pf.StringVar(&opts.cacheDir, "cache-dir", "", "cache directory")
	pf.BoolVar(&opts.skipSig, "skip-sig", false, "skip bundle signing identity verification (testing only)")
	pf.StringVar(&opts.minisignKey, "minisign-key", "", "minisign public key (file or base64) for SUMS signatures")
	pf.BoolVar(&opts.allowPrerelease, "allow-prerelease", false, "consider prereleases")
	pf.BoolVar(&opts.jsonOut, "json", false, "JSON output")
	pf.BoolVar(&opts.verbose, "verbose", false, "debug logging")

	root.AddCommand(
		newCheckCommand(opts),
		newStatusCommand(opts),
		newInstallCommand(opts),
		newClearCommand(opts),
		newWatchCommand(opts),
		newVersionCommand(opts),
	)
	return root
}

func newLogger(w io.Writer, jsonOut, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if jsonOut {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// loadConfig resolves the config file and applies command line overrides.
func (o *globalOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.Load(o.configPath)
	} else {
		cfg, err = config.LoadMain()
	}
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("repo") {
		loc, err := host.ParseLocator(o.repo)
		if err != nil {
			return nil, usageError{err}
		}
		cfg.Repository = loc.String()
		if !flags.Changed("target") {
			cfg.Targets = nil
		}
	}
	if flags.Changed("target") {
		cfg.Targets = o.targets
	}
	if flags.Changed("cache-dir") {
		cfg.CacheDir = o.cacheDir
	}
	if flags.Changed("skip-sig") {
		cfg.Signature.Skip = o.skipSig
	}
	if flags.Changed("minisign-key") {
		cfg.Signature.Minisign = o.minisignKey
	}
	if flags.Changed("allow-prerelease") {
		cfg.AllowPrerelease = o.allowPrerelease
	}
	// without targets a configured repository updates the running executable;
	// a --repo without --target only downloads and prepares
	if len(cfg.Targets) == 0 && !flags.Changed("repo") {
		exe, err := selfupdate.ComputeTargetPath("")
		if err != nil {
			return nil, err
		}
		cfg.Targets = []string{exe}
	}
	if err := cfg.Validate(); err != nil {
		return nil, usageError{err}
	}
	return cfg, nil
}

func (o *globalOptions) newFeed(cmd *cobra.Command, extra ...feed.Option) (*feed.Feed, *config.Config, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	client := host.NewClient(host.WithUserAgent(host.UserAgent(version)), host.WithAuth(github.AuthForURL))
	fopts := append([]feed.Option{feed.WithLogger(o.logger), feed.WithClient(client)}, extra...)
	f, err := feed.New(cfg, fopts...)
	if err != nil {
		return nil, nil, err
	}
	return f, cfg, nil
}

func (o *globalOptions) printJSON(v any) error {
	enc := json.NewEncoder(o.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newVersionCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sfeed version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.jsonOut {
				return opts.printJSON(map[string]string{"version": version})
			}
			fmt.Fprintln(opts.stdout, "sfeed", version)
			return nil
		},
	}
}
