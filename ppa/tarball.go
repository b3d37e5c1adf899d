package ppa

import (
	"archive/tar"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"
)

// tarEpoch is stamped on every entry so archives do not depend on mtimes.
var tarEpoch = time.Unix(0, 0).UTC()

// BuildTarball writes a gzip-compressed tar of tree to output. Every entry is
// placed under prefix/, owners are zeroed, times are fixed and the gzip header
// carries no name or timestamp, so an unchanged tree always produces the same
// bytes. exclude holds slash-separated paths relative to tree; VCS metadata
// directories are always left out.
func BuildTarball(tree, output, prefix string, exclude []string) error {
	if err := buildTarball(tree, output, prefix, newPathSet(exclude)); err != nil {
		return errors.Mark(errors.Wrapf(err, "building %s", filepath.Base(output)), ErrTarballBuildFailed)
	}
	return nil
}

func buildTarball(tree, output, prefix string, skip pathSet) error {
	if err := os.Remove(output); err != nil && !os.IsNotExist(err) {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(output), ".orig-*.tar.gz")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	gw, err := gzip.NewWriterLevel(tmp, gzip.BestCompression)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(gw)

	err = filepath.WalkDir(tree, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(tree, abs)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel != "." {
			if VCSMetadataDirs[d.Name()] || skip.has(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		return writeTarEntry(tw, abs, path.Join(prefix, rel))
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), output)
}

func writeTarEntry(tw *tar.Writer, abs, name string) error {
	info, err := os.Lstat(abs)
	if err != nil {
		return err
	}

	hdr := &tar.Header{
		Name:    name,
		ModTime: tarEpoch,
		Format:  tar.FormatGNU,
	}
	mode := info.Mode()
	switch {
	case mode.IsDir():
		hdr.Typeflag = tar.TypeDir
		hdr.Name += "/"
		hdr.Mode = 0755
	case mode&fs.ModeSymlink != 0:
		target, err := os.Readlink(abs)
		if err != nil {
			return err
		}
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = target
		hdr.Mode = 0777
	case mode.IsRegular():
		hdr.Typeflag = tar.TypeReg
		hdr.Size = info.Size()
		hdr.Mode = 0644
		if mode.Perm()&0111 != 0 {
			hdr.Mode = 0755
		}
	default:
		return nil
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if hdr.Typeflag != tar.TypeReg {
		return nil
	}

	f, err := os.Open(abs)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}
