package resolve

import (
	"archive/tar"
	"compress/bzip2"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// openArchive returns a tar stream for a possibly compressed archive,
// choosing the decompressor by file extension.
func openArchive(name string, r io.Reader) (io.Reader, func(), error) {
	noop := func() {}
	switch {
	case strings.HasSuffix(name, ".gz"), strings.HasSuffix(name, ".tgz"):
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening gzip")
		}
		return gr, func() { gr.Close() }, nil
	case strings.HasSuffix(name, ".xz"):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening xz")
		}
		return xr, noop, nil
	case strings.HasSuffix(name, ".bz2"):
		return bzip2.NewReader(r), noop, nil
	case strings.HasSuffix(name, ".zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening zstd")
		}
		return zr, zr.Close, nil
	case strings.HasSuffix(name, ".tar"):
		return r, noop, nil
	}
	return nil, nil, errors.Newf("unsupported archive %s", name)
}

// extractArchive unpacks the tar archive at src into dst, dropping the first
// strip path components of every entry. Entries escaping dst are rejected.
func extractArchive(src, dst string, strip int) error {
	f, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "opening %s", filepath.Base(src))
	}
	defer f.Close()

	r, closeFn, err := openArchive(filepath.Base(src), f)
	if err != nil {
		return err
	}
	defer closeFn()

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "reading %s", filepath.Base(src))
		}

		if escapes(hdr.Name) {
			return errors.Newf("%s: entry %q escapes the extraction directory", filepath.Base(src), hdr.Name)
		}
		name, ok := stripComponents(hdr.Name, strip)
		if !ok {
			continue
		}
		target := filepath.Join(dst, filepath.FromSlash(name))
		mode := hdr.FileInfo().Mode().Perm()

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := writeFile(target, tr, mode); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeLink:
			linked, ok := stripComponents(hdr.Linkname, strip)
			if !ok || escapes(hdr.Linkname) {
				return errors.Newf("%s: hard link %q has no target inside the archive", filepath.Base(src), hdr.Name)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Link(filepath.Join(dst, filepath.FromSlash(linked)), target); err != nil {
				return err
			}
		}
	}
}

func escapes(name string) bool {
	if path.IsAbs(name) {
		return true
	}
	clean := path.Clean(name)
	return clean == ".." || strings.HasPrefix(clean, "../")
}

// stripComponents removes the first n elements of a cleaned archive path.
// ok is false when nothing remains.
func stripComponents(name string, n int) (string, bool) {
	name = path.Clean(strings.TrimPrefix(name, "./"))
	parts := strings.Split(name, "/")
	if len(parts) <= n {
		return "", false
	}
	rest := path.Join(parts[n:]...)
	if rest == "." || rest == "" {
		return "", false
	}
	return rest, true
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
