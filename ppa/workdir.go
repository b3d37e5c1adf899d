package ppa

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// StageTree copies src to dst, leaving out VCS metadata directories and the
// slash-separated relative paths in exclude. dst is created if missing;
// existing files are overwritten. Regular files keep their permission bits
// and symlinks are recreated as-is.
func StageTree(src, dst string, exclude []string) error {
	skip := newPathSet(exclude)
	err := filepath.WalkDir(src, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, abs)
		if err != nil {
			return err
		}
		if rel != "." && (VCSMetadataDirs[d.Name()] || skip.has(filepath.ToSlash(rel))) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)

		info, err := os.Lstat(abs)
		if err != nil {
			return err
		}
		switch mode := info.Mode(); {
		case mode.IsDir():
			return os.MkdirAll(target, 0755)
		case mode&fs.ModeSymlink != 0:
			link, err := os.Readlink(abs)
			if err != nil {
				return err
			}
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return err
			}
			return os.Symlink(link, target)
		case mode.IsRegular():
			return copyFile(abs, target, mode.Perm())
		default:
			return nil
		}
	})
	if err != nil {
		return errors.Wrapf(err, "staging %s into %s", src, dst)
	}
	return nil
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
