package resolve

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Cache is the on-disk home of VCS working copies, one directory per source
// specifier. It is the only state shared between runs; access to a key is
// serialized in-process and, through flock, across processes.
type Cache struct {
	root string

	mu   sync.Mutex
	keys map[string]chan struct{}
}

// DefaultCacheDir returns the per-user cache location.
func DefaultCacheDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", errors.Wrap(err, "locating user cache directory")
	}
	return filepath.Join(dir, "ppa-submit"), nil
}

func NewCache(root string) (*Cache, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrap(err, "creating cache directory")
	}
	return &Cache{root: root, keys: map[string]chan struct{}{}}, nil
}

func (c *Cache) Root() string {
	return c.root
}

// Dir returns the working copy location for spec.
func (c *Cache) Dir(spec string) string {
	return filepath.Join(c.root, SanitizeName(spec))
}

var nameReplacer = strings.NewReplacer(
	"\n", "-",
	" ", "-",
	":", "-",
	"/", "-",
	"\\", "-",
)

// SanitizeName turns a source specifier into a single path element.
func SanitizeName(spec string) string {
	name := nameReplacer.Replace(strings.TrimSpace(spec))
	if name == "" || strings.HasPrefix(name, ".") {
		name = "_" + name
	}
	return name
}

var lockPollInterval = 100 * time.Millisecond

// Lock acquires exclusive use of spec's cache entry. The returned function
// releases it.
func (c *Cache) Lock(ctx context.Context, spec string) (func(), error) {
	key := SanitizeName(spec)

	c.mu.Lock()
	sem, ok := c.keys[key]
	if !ok {
		sem = make(chan struct{}, 1)
		c.keys[key] = sem
	}
	c.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	release := func() { <-sem }

	f, err := os.OpenFile(filepath.Join(c.root, "."+key+".lock"), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		release()
		return nil, errors.Wrap(err, "opening cache lock")
	}
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			f.Close()
			release()
			return nil, errors.Wrap(err, "locking cache entry")
		}
		select {
		case <-ctx.Done():
			f.Close()
			release()
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
			f.Close()
			release()
		})
	}, nil
}
