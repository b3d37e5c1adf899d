// Package resolve turns a source specifier (local directory, VCS URL or .dsc
// bundle URL) into a local directory tree.
package resolve

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/tikinang/ppa-submit/internal/command"
)

var (
	// ErrNotApplicable is returned by a Backend that does not recognize a
	// specifier. The resolver moves on to the next backend.
	ErrNotApplicable = errors.New("backend not applicable")
	// ErrUnresolvableSource means no backend recognized the specifier.
	ErrUnresolvableSource = errors.New("unresolvable source")
)

func decline(err error) error {
	return errors.Mark(err, ErrNotApplicable)
}

// Tree is a resolved source directory.
type Tree struct {
	Spec    string
	Path    string
	Backend string
	// Ephemeral trees live outside the cache and are removed by Cleanup.
	Ephemeral bool

	cleanup func()
	release func()
}

// Cleanup removes an ephemeral tree and releases the cache lock held on its
// key since Resolve returned. Cached trees must not be read after Cleanup.
func (t *Tree) Cleanup() {
	if t.cleanup != nil {
		t.cleanup()
		t.cleanup = nil
	}
	if t.release != nil {
		t.release()
		t.release = nil
	}
}

// Backend fetches or updates one kind of source. A backend that does not
// recognize spec returns an error marked with ErrNotApplicable; any other
// error aborts resolution.
type Backend interface {
	Name() string
	Resolve(ctx context.Context, spec string, cache *Cache) (*Tree, error)
}

// DefaultBackends returns git, mercurial, subversion and .dsc bundles, in the
// order they are tried.
func DefaultBackends(runner command.Runner) []Backend {
	return []Backend{
		Git{},
		NewMercurial(runner),
		NewSubversion(runner),
		NewSourceBundle(runner),
	}
}

type Resolver struct {
	cache    *Cache
	backends []Backend
}

func New(cache *Cache, backends ...Backend) *Resolver {
	if len(backends) == 0 {
		backends = DefaultBackends(command.Exec{})
	}
	return &Resolver{cache: cache, backends: backends}
}

// Resolve returns a local tree for spec. An existing directory is used as-is;
// otherwise each backend is tried in order until one accepts spec.
func (r *Resolver) Resolve(ctx context.Context, spec string) (*Tree, error) {
	info, err := os.Stat(spec)
	switch {
	case err == nil && info.IsDir():
		abs, err := filepath.Abs(spec)
		if err != nil {
			return nil, errors.Wrap(err, "resolving local path")
		}
		slog.Debug("Using local directory", "path", abs)
		return &Tree{Spec: spec, Path: abs, Backend: "local"}, nil
	case errors.Is(err, fs.ErrPermission):
		return nil, errors.Wrapf(err, "inspecting %s", spec)
	}

	// The key stays locked until the caller is done reading the tree.
	unlock, err := r.cache.Lock(ctx, spec)
	if err != nil {
		return nil, err
	}

	var declined []string
	for _, b := range r.backends {
		tree, err := b.Resolve(ctx, spec, r.cache)
		switch {
		case err == nil:
			slog.Info("Resolved source", "spec", spec, "backend", b.Name(), "path", tree.Path)
			tree.release = unlock
			return tree, nil
		case errors.Is(err, ErrNotApplicable):
			slog.Debug("Backend declined", "backend", b.Name(), "spec", spec, "reason", err)
			declined = append(declined, b.Name()+": "+err.Error())
		default:
			unlock()
			return nil, errors.Wrapf(err, "%s backend", b.Name())
		}
	}
	unlock()

	err = errors.Newf("no backend could fetch %q", spec)
	for _, d := range declined {
		err = errors.WithDetail(err, d)
	}
	return nil, errors.Mark(err, ErrUnresolvableSource)
}

func dirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
