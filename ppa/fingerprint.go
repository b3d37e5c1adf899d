package ppa

import (
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// VCSMetadataDirs are never part of a tree's content.
var VCSMetadataDirs = map[string]bool{
	".git": true,
	".hg":  true,
	".svn": true,
	".bzr": true,
}

// ContentHash is the hex digest of a directory tree.
type ContentHash string

// Short returns the first ShortHashLen hex digits.
func (h ContentHash) Short() string {
	if len(h) < ShortHashLen {
		return string(h)
	}
	return string(h[:ShortHashLen])
}

// Fingerprint computes the git tree hash of root without writing any
// repository state: blobs and trees are hashed as in-memory objects. Only
// names, relative layout, content, the executable bit and symlink targets
// contribute. Empty directories are ignored as git ignores them.
//
// exclude holds slash-separated paths relative to root; VCS metadata
// directories are always excluded.
func Fingerprint(root string, exclude []string) (ContentHash, error) {
	h, _, err := hashTree(root, "", newPathSet(exclude))
	if err != nil {
		return "", errors.Mark(err, ErrHashComputationFailed)
	}
	return ContentHash(h.String()), nil
}

func hashTree(dir, rel string, skip pathSet) (plumbing.Hash, bool, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return plumbing.ZeroHash, false, errors.Wrapf(err, "reading directory %s", dir)
	}

	var entries []object.TreeEntry
	for _, d := range dirents {
		name := d.Name()
		if VCSMetadataDirs[name] {
			continue
		}
		childRel := path.Join(rel, name)
		if skip.has(childRel) {
			continue
		}
		abs := filepath.Join(dir, name)

		info, err := os.Lstat(abs)
		if err != nil {
			return plumbing.ZeroHash, false, errors.Wrapf(err, "stat %s", abs)
		}

		var entry object.TreeEntry
		switch mode := info.Mode(); {
		case mode&fs.ModeSymlink != 0:
			target, err := os.Readlink(abs)
			if err != nil {
				return plumbing.ZeroHash, false, errors.Wrapf(err, "reading link %s", abs)
			}
			entry = object.TreeEntry{Name: name, Mode: filemode.Symlink, Hash: plumbing.ComputeHash(plumbing.BlobObject, []byte(target))}
		case mode.IsDir():
			h, nonEmpty, err := hashTree(abs, childRel, skip)
			if err != nil {
				return plumbing.ZeroHash, false, err
			}
			if !nonEmpty {
				continue
			}
			entry = object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: h}
		case mode.IsRegular():
			h, err := hashBlob(abs, info.Size())
			if err != nil {
				return plumbing.ZeroHash, false, err
			}
			fm := filemode.Regular
			if mode.Perm()&0111 != 0 {
				fm = filemode.Executable
			}
			entry = object.TreeEntry{Name: name, Mode: fm, Hash: h}
		default:
			continue
		}
		entries = append(entries, entry)
	}

	// git orders tree entries by name, comparing directories as "name/".
	sort.Slice(entries, func(i, j int) bool {
		return treeSortKey(entries[i]) < treeSortKey(entries[j])
	})

	tree := &object.Tree{Entries: entries}
	obj := &plumbing.MemoryObject{}
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, false, errors.Wrapf(err, "encoding tree %s", dir)
	}
	return obj.Hash(), len(entries) > 0, nil
}

func treeSortKey(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

func hashBlob(file string, size int64) (plumbing.Hash, error) {
	f, err := os.Open(file)
	if err != nil {
		return plumbing.ZeroHash, errors.Wrapf(err, "opening %s", file)
	}
	defer f.Close()

	h := plumbing.NewHasher(plumbing.BlobObject, size)
	n, err := io.Copy(h, f)
	if err != nil {
		return plumbing.ZeroHash, errors.Wrapf(err, "reading %s", file)
	}
	if n != size {
		return plumbing.ZeroHash, errors.Newf("%s changed size while hashing", file)
	}
	return h.Sum(), nil
}

// pathSet matches slash-separated relative paths and everything below them.
type pathSet map[string]bool

func newPathSet(paths []string) pathSet {
	s := pathSet{}
	for _, p := range paths {
		p = strings.Trim(path.Clean(filepath.ToSlash(p)), "/")
		if p == "" || p == "." {
			continue
		}
		s[p] = true
	}
	return s
}

func (s pathSet) has(rel string) bool {
	for p := rel; p != "." && p != ""; p = path.Dir(p) {
		if s[p] {
			return true
		}
	}
	return false
}
