package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/tikinang/ppa-submit/internal/command"
	"github.com/tikinang/ppa-submit/ppa"
	"github.com/tikinang/ppa-submit/resolve"
)

// errTargetsFailed makes the process exit non-zero after the summary has been
// printed.
var errTargetsFailed = errors.New("one or more releases failed")

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, errTargetsFailed) {
			slog.Error("ppa-submit failed", "error", err)
			for _, hint := range errors.GetAllHints(err) {
				slog.Error("hint: " + hint)
			}
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ppa-submit [flags] <source> [<release>...]",
		Short: "Build a Debian source package from a tree and upload it to a Launchpad PPA",
		Long: `ppa-submit fetches a source tree (local directory, git, hg or svn URL, or a
.dsc URL), builds a source package per Ubuntu release and uploads it to a PPA.
Releases whose latest published upload already carries the tree's content
hash are skipped.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	registerFlags(cmd.Flags())
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	v, err := newViper(cmd.Flags())
	if err != nil {
		return err
	}
	cfg, err := LoadConfig(v, args)
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runner := command.Exec{}

	treeDir, cleanup, err := prepareTree(ctx, cfg, runner)
	defer cleanup()
	if err != nil {
		return err
	}

	submitter, err := newSubmitter(cfg, runner)
	if err != nil {
		return err
	}
	summary, err := submitter.Submit(ctx, ppa.Request{
		TreeDir:  treeDir,
		Releases: cfg.Release,
		Options: ppa.Options{
			Force:           cfg.Force,
			VersionOverride: cfg.VersionOverride,
			AppendHash:      cfg.AppendHash,
			DryRun:          cfg.DryRun,
			UpdatePatches:   cfg.UpdatePatches,
		},
	})
	if summary != nil {
		printSummary(os.Stdout, summary)
		if cfg.SummaryFile != "" {
			if werr := writeSummaryFile(cfg.SummaryFile, summary); werr != nil {
				slog.Error("Writing summary failed", "file", cfg.SummaryFile, "error", werr)
			}
		}
	}
	if err != nil {
		return err
	}
	if summary.Failed() {
		return errTargetsFailed
	}
	return nil
}

func setupLogging(cfg *Config) {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// prepareTree resolves the source (and separate debian source, if any) and
// stages them into <work-dir>/orig. The returned cleanup is always non-nil.
func prepareTree(ctx context.Context, cfg *Config, runner command.Runner) (string, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		dir, err := resolve.DefaultCacheDir()
		if err != nil {
			return "", cleanup, err
		}
		cacheDir = dir
	}
	cache, err := resolve.NewCache(cacheDir)
	if err != nil {
		return "", cleanup, err
	}
	resolver := resolve.New(cache, resolve.DefaultBackends(runner)...)

	src, err := resolver.Resolve(ctx, cfg.Source)
	if err != nil {
		return "", cleanup, err
	}
	// Cache keys stay locked until staging is done.
	defer src.Cleanup()

	var deb *resolve.Tree
	switch {
	case cfg.Debian == "":
	case cache.Dir(cfg.Debian) == cache.Dir(cfg.Source):
		deb = src
	default:
		deb, err = resolver.Resolve(ctx, cfg.Debian)
		if err != nil {
			return "", cleanup, errors.Wrap(err, "resolving debian source")
		}
		defer deb.Cleanup()
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir, err = os.MkdirTemp("", "ppa-submit-*")
		if err != nil {
			return "", cleanup, errors.Wrap(err, "creating work directory")
		}
		if cfg.DryRun {
			slog.Info("Dry run, keeping work directory", "dir", workDir)
		} else {
			cleanups = append(cleanups, func() { _ = os.RemoveAll(workDir) })
		}
	}

	treeDir := filepath.Join(workDir, "orig")
	if err := os.RemoveAll(treeDir); err != nil {
		return "", cleanup, errors.Wrap(err, "clearing staging directory")
	}

	var exclude []string
	if deb != nil {
		exclude = []string{ppa.PackagingDir}
	}
	slog.Info("Staging source", "from", src.Path, "to", treeDir)
	if err := ppa.StageTree(src.Path, treeDir, exclude); err != nil {
		return "", cleanup, err
	}
	if deb != nil {
		from := deb.Path
		if info, err := os.Stat(filepath.Join(from, ppa.PackagingDir)); err == nil && info.IsDir() {
			from = filepath.Join(from, ppa.PackagingDir)
		}
		slog.Info("Staging debian directory", "from", from)
		if err := ppa.StageTree(from, filepath.Join(treeDir, ppa.PackagingDir), nil); err != nil {
			return "", cleanup, err
		}
	}

	if _, err := os.Stat(filepath.Join(treeDir, ppa.PackagingDir, "changelog")); err != nil {
		return "", cleanup, errors.WithHint(
			errors.Newf("%s has no debian/changelog", cfg.Source),
			"pass the packaging with --debian",
		)
	}
	return treeDir, cleanup, nil
}

func newSubmitter(cfg *Config, runner command.Runner) (*ppa.Submitter, error) {
	ref, err := ppa.ParseArchiveRef(cfg.PPA)
	if err != nil {
		return nil, err
	}

	var signer *ppa.GPGSigner
	if cfg.GPGPrivateKey != "" {
		signer, err = ppa.NewGPGSigner(cfg.GPGPrivateKey)
		if err != nil {
			return nil, errors.Wrap(err, "loading signing key")
		}
	}

	transports := ppa.LaunchpadTransports(runner, ref, cfg.LaunchpadLogin)
	if cfg.S3Enabled() {
		transports = append(transports, ppa.NewS3Transport(ppa.NewS3Client(cfg.S3), cfg.S3Prefix))
	}

	return ppa.New(ppa.Config{
		Archive:    ppa.NewLaunchpadArchive(cfg.LaunchpadAPI, ref),
		Builder:    ppa.NewDebuild(runner, cfg.DebuildParams),
		Transports: transports,
		Signer:     signer,
		Runner:     runner,
		Maintainer: cfg.Maintainer,
	}), nil
}
