package ppa

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
)

// FileHash carries the digests used by Files and Checksums-* fields.
type FileHash struct {
	Path   string
	Size   int64
	MD5    string
	SHA1   string
	SHA256 string
}

// HashFile streams the file at path through all three digests.
func HashFile(path string) (FileHash, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileHash{}, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	m, s1, s256 := md5.New(), sha1.New(), sha256.New()
	n, err := io.Copy(io.MultiWriter(m, s1, s256), f)
	if err != nil {
		return FileHash{}, errors.Wrapf(err, "reading %s", path)
	}
	return FileHash{
		Path:   path,
		Size:   n,
		MD5:    fmt.Sprintf("%x", m.Sum(nil)),
		SHA1:   fmt.Sprintf("%x", s1.Sum(nil)),
		SHA256: fmt.Sprintf("%x", s256.Sum(nil)),
	}, nil
}

// fileSize renders the size of path for logs, or "?" when it cannot be read.
func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "?"
	}
	return humanize.IBytes(uint64(info.Size()))
}
