package resolve

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-getter"
	"github.com/klauspost/compress/gzip"

	"github.com/tikinang/ppa-submit/internal/command"
	"github.com/tikinang/ppa-submit/ppa"
)

// SourceBundle fetches a Debian source package from its .dsc descriptor and
// the archives listed in it, verifying each against the descriptor's
// checksums, then unpacks it into a temporary tree.
type SourceBundle struct {
	runner command.Runner
}

func NewSourceBundle(runner command.Runner) *SourceBundle {
	return &SourceBundle{runner: runner}
}

func (b *SourceBundle) Name() string {
	return "dsc"
}

func isDescriptor(spec string) bool {
	spec, _, _ = strings.Cut(spec, "#")
	spec, _, _ = strings.Cut(spec, "?")
	return strings.HasSuffix(strings.ToLower(spec), ".dsc")
}

func (b *SourceBundle) Resolve(ctx context.Context, spec string, _ *Cache) (*Tree, error) {
	if !isDescriptor(spec) {
		return nil, decline(errors.Newf("%q does not name a .dsc file", spec))
	}

	pwd, err := os.Getwd()
	if err != nil {
		pwd = "."
	}
	detected, err := getter.Detect(spec, pwd, getter.Detectors)
	if err != nil {
		return nil, decline(errors.Wrap(err, "detecting source type"))
	}
	base, err := url.Parse(detected)
	if err != nil {
		return nil, decline(errors.Wrap(err, "parsing source URL"))
	}

	tmp, err := os.MkdirTemp("", "ppa-submit-dsc-*")
	if err != nil {
		return nil, errors.Wrap(err, "creating temp directory")
	}
	tree := &Tree{
		Spec:      spec,
		Path:      filepath.Join(tmp, "tree"),
		Backend:   "dsc",
		Ephemeral: true,
		cleanup:   func() { _ = os.RemoveAll(tmp) },
	}
	if err := b.unpack(ctx, base, tmp, tree.Path); err != nil {
		tree.Cleanup()
		return nil, err
	}
	return tree, nil
}

func (b *SourceBundle) unpack(ctx context.Context, base *url.URL, tmp, treeDir string) error {
	download := filepath.Join(tmp, "download")
	dscName := path.Base(base.Path)
	dscPath := filepath.Join(download, dscName)

	slog.Info("Fetching source descriptor", "url", base.Redacted())
	if err := fetchFile(ctx, sibling(base, dscName, ""), dscPath); err != nil {
		return errors.Wrapf(err, "fetching %s", dscName)
	}

	f, err := os.Open(dscPath)
	if err != nil {
		return err
	}
	ctrl, err := ppa.ParseControl(f)
	f.Close()
	if err != nil {
		return errors.Wrapf(err, "parsing %s", dscName)
	}

	files, algo := ctrl.FileList("Checksums-Sha256"), "sha256"
	if len(files) == 0 {
		files, algo = ctrl.FileList("Files"), "md5"
	}
	if len(files) == 0 {
		return errors.Newf("%s lists no files", dscName)
	}

	var orig, packaging, diff string
	for _, cf := range files {
		local := filepath.Join(download, cf.Name)
		slog.Info("Fetching source file", "file", cf.Name, "size", cf.Size)
		if err := fetchFile(ctx, sibling(base, cf.Name, algo+":"+cf.Hash), local); err != nil {
			return errors.Wrapf(err, "fetching %s", cf.Name)
		}
		switch {
		case strings.Contains(cf.Name, ".debian.tar."):
			packaging = local
		case strings.HasSuffix(cf.Name, ".diff.gz"):
			diff = local
		case strings.Contains(cf.Name, ".tar."):
			if orig == "" || strings.Contains(cf.Name, ".orig.tar.") {
				orig = local
			}
		}
	}
	if orig == "" {
		return errors.Newf("%s lists no source archive", dscName)
	}

	if err := os.MkdirAll(treeDir, 0755); err != nil {
		return err
	}
	if err := extractArchive(orig, treeDir, 1); err != nil {
		return err
	}
	if packaging != "" {
		if err := extractArchive(packaging, treeDir, 0); err != nil {
			return err
		}
	}
	if diff != "" {
		if err := b.applyDiff(ctx, diff, treeDir); err != nil {
			return err
		}
	}
	return nil
}

// applyDiff applies a format 1.0 packaging diff to the unpacked tree.
func (b *SourceBundle) applyDiff(ctx context.Context, diffGz, treeDir string) error {
	in, err := os.Open(diffGz)
	if err != nil {
		return err
	}
	defer in.Close()
	gr, err := gzip.NewReader(in)
	if err != nil {
		return errors.Wrapf(err, "opening %s", filepath.Base(diffGz))
	}
	defer gr.Close()

	plain := strings.TrimSuffix(diffGz, ".gz")
	out, err := os.Create(plain)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, gr); err != nil {
		out.Close()
		return errors.Wrapf(err, "decompressing %s", filepath.Base(diffGz))
	}
	if err := out.Close(); err != nil {
		return err
	}

	slog.Info("Applying packaging diff", "file", filepath.Base(diffGz))
	if _, err := b.runner.Run(ctx, command.Cmd{
		Dir:  treeDir,
		Name: "patch",
		Args: []string{"-p1", "--quiet", "--forward", "-i", plain},
	}); err != nil {
		return errors.Wrapf(err, "applying %s", filepath.Base(diffGz))
	}

	// patch(1) cannot carry modes.
	rules := filepath.Join(treeDir, ppa.PackagingDir, "rules")
	if _, err := os.Stat(rules); err == nil {
		return os.Chmod(rules, 0755)
	}
	return nil
}

// sibling returns the go-getter source for name in the same location as the
// descriptor, optionally pinned to a checksum.
func sibling(base *url.URL, name, checksum string) string {
	u := *base
	u.Path = path.Join(path.Dir(base.Path), name)
	u.RawPath = ""
	q := base.Query()
	q.Set("archive", "false")
	if checksum != "" {
		q.Set("checksum", checksum)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func fetchFile(ctx context.Context, src, dst string) error {
	client := &getter.Client{
		Ctx:     ctx,
		Src:     src,
		Dst:     dst,
		Mode:    getter.ClientModeFile,
		Getters: getter.Getters,
	}
	return client.Get()
}
