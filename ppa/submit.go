package ppa

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/tikinang/ppa-submit/internal/command"
)

// PackagingDir is the packaging metadata subdirectory of a source tree.
const PackagingDir = "debian"

// Options tune a submission run.
type Options struct {
	// Force uploads to every release without checking what is published.
	Force bool
	// VersionOverride replaces the upstream version from the changelog.
	VersionOverride string
	// AppendHash embeds the short content hash in the upstream version.
	AppendHash bool
	// DryRun regenerates changelogs but neither builds nor uploads.
	DryRun bool
	// UpdatePatches refreshes the quilt series before building.
	UpdatePatches bool
}

// Request is one submission run.
type Request struct {
	// TreeDir holds upstream source plus debian/. Its changelog is rewritten
	// in place per release and build artifacts land in its parent directory.
	TreeDir  string
	Releases []string
	Options
}

type Config struct {
	// Archive may be nil, in which case every release is submitted.
	Archive    ArchiveQuery
	Builder    Builder
	Transports []Transport
	// Signer, when set, signs uploads in-process and the builder is told
	// not to sign.
	Signer     *GPGSigner
	Runner     command.Runner
	Maintainer string
	Now        func() time.Time
}

// Submitter builds and uploads a source tree to a set of releases.
type Submitter struct {
	cfg Config
}

func New(cfg Config) *Submitter {
	if cfg.Runner == nil {
		cfg.Runner = command.Exec{}
	}
	if cfg.Builder == nil {
		cfg.Builder = NewDebuild(cfg.Runner, nil)
	}
	if cfg.Maintainer == "" {
		cfg.Maintainer = DefaultMaintainer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Submitter{cfg: cfg}
}

// Submit runs all phases for req. The returned error is set only for
// failures that abort the whole run (malformed changelog, unreadable tree,
// tarball failure, patch refresh failure); per-release failures are recorded
// in the summary and every release is reported.
func (s *Submitter) Submit(ctx context.Context, req Request) (*Summary, error) {
	changelog := filepath.Join(req.TreeDir, PackagingDir, "changelog")
	name, declared, err := ReadChangelogHeader(changelog)
	if err != nil {
		return nil, err
	}
	version, err := ParseVersion(declared)
	if err != nil {
		return nil, errors.Wrapf(err, "changelog of %s", name)
	}

	slog.Info("Computing tree hash", "dir", req.TreeDir)
	start := time.Now()
	hash, err := Fingerprint(req.TreeDir, nil)
	if err != nil {
		return nil, err
	}
	short := hash.Short()
	slog.Info("Tree hash computed", "hash", short, "took", time.Since(start).Round(time.Millisecond))

	summary := &Summary{Package: name, ShortHash: short}
	for _, release := range req.Releases {
		summary.Targets = append(summary.Targets, newTargetResult(release))
	}

	pending := s.decideTargets(ctx, name, short, summary.Targets, req.Force)
	if len(pending) == 0 {
		slog.Info("Everything up-to-date, no submissions necessary", "package", name)
		return summary, nil
	}
	slog.Info("Submitting", "package", name, "releases", strings.Join(releaseNames(pending), ", "))

	if req.UpdatePatches {
		if err := RefreshPatches(ctx, s.cfg.Runner, req.TreeDir); err != nil {
			return summary, err
		}
	}

	if req.VersionOverride != "" {
		version = version.WithUpstreamOverride(req.VersionOverride)
	}
	if req.AppendHash {
		version = version.WithContentHash(short)
	}
	summary.Upstream = version.Upstream

	workDir := filepath.Dir(req.TreeDir)
	orig := filepath.Join(workDir, fmt.Sprintf("%s_%s.orig.tar.gz", name, version.Upstream))
	slog.Info("Creating tarball", "file", filepath.Base(orig))
	start = time.Now()
	if err := BuildTarball(req.TreeDir, orig, name+"-"+version.Upstream, []string{PackagingDir}); err != nil {
		return summary, err
	}
	slog.Info("Tarball created", "file", filepath.Base(orig), "size", fileSize(orig), "took", time.Since(start).Round(time.Millisecond))

	for i, t := range pending {
		if err := ctx.Err(); err != nil {
			for _, rest := range pending[i:] {
				rest.fail(errors.Wrap(err, "not attempted"))
			}
			break
		}
		s.submitRelease(ctx, req, name, short, version, t)
	}

	slog.Info("Submission finished",
		"package", name,
		"uploaded", summary.Count(StateUploaded),
		"skipped", summary.Count(StateSkipped),
		"failed", summary.Count(StateFailed),
	)
	return summary, nil
}

// decideTargets marks releases whose latest published upload carries the
// same content hash as skipped and returns the rest.
func (s *Submitter) decideTargets(ctx context.Context, name, short string, targets []*TargetResult, force bool) []*TargetResult {
	if force || s.cfg.Archive == nil {
		return targets
	}

	var pending []*TargetResult
	for _, t := range targets {
		published, found, err := s.cfg.Archive.LatestPublished(ctx, name, t.Release)
		if err != nil {
			slog.Error("Checking published versions failed", "release", t.Release, "error", err)
			t.fail(errors.Wrap(err, "checking published versions"))
			continue
		}
		if found {
			if h, ok := EmbeddedHash(published, t.Release); ok && h == short {
				slog.Info("Up-to-date", "release", t.Release, "published", published)
				t.Version = published
				t.Detail = "published " + published + " has content hash " + short
				t.advance(StateSkipped)
				continue
			}
		}
		pending = append(pending, t)
	}
	return pending
}

func (s *Submitter) submitRelease(ctx context.Context, req Request, name, short string, version PackageVersion, t *TargetResult) {
	rv := version.ForRelease(t.Release)
	t.Version = rv.String()
	t.advance(StateBuilding)
	log := slog.With("release", t.Release, "version", t.Version)

	entry := ChangelogEntry{
		Package:      name,
		Version:      rv.String(),
		Distribution: t.Release,
		Changes:      []string{"Automated upload of tree " + short + "."},
		Maintainer:   s.cfg.Maintainer,
		Date:         s.cfg.Now(),
	}
	if err := ReplaceChangelog(filepath.Join(req.TreeDir, PackagingDir, "changelog"), entry); err != nil {
		t.fail(err)
		return
	}

	if req.DryRun {
		log.Info("Dry run, skipping build and upload")
		t.Detail = "build and upload skipped"
		t.advance(StateDryRun)
		return
	}

	log.Info("Building source package")
	if err := s.cfg.Builder.BuildSource(ctx, req.TreeDir, s.cfg.Signer != nil); err != nil {
		log.Error("Build failed", "error", err)
		t.fail(err)
		return
	}

	changes := filepath.Join(filepath.Dir(req.TreeDir), fmt.Sprintf("%s_%s_source.changes", name, rv.Version))
	if s.cfg.Signer != nil {
		log.Info("Signing upload", "key", s.cfg.Signer.KeyID())
		if err := s.cfg.Signer.SignUpload(changes); err != nil {
			t.fail(errors.Wrap(err, "signing"))
			return
		}
	}

	set, err := CollectUploadSet(changes)
	if err != nil {
		t.fail(err)
		return
	}
	for _, f := range set.Files {
		log.Info("Upload file", "file", f, "size", fileSize(filepath.Join(set.Dir, f)))
	}

	t.advance(StateUploading)
	used, err := UploadWithFallback(ctx, s.cfg.Transports, set)
	if err != nil {
		log.Error("Upload failed", "error", err)
		t.fail(err)
		return
	}
	t.Transport = used
	t.advance(StateUploaded)
	log.Info("Uploaded", "transport", used)
}

func releaseNames(targets []*TargetResult) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		out = append(out, t.Release)
	}
	return out
}
