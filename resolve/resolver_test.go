package resolve

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	name  string
	err   error
	calls []string
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Resolve(_ context.Context, spec string, cache *Cache) (*Tree, error) {
	f.calls = append(f.calls, spec)
	if f.err != nil {
		return nil, f.err
	}
	return &Tree{Spec: spec, Path: cache.Dir(spec), Backend: f.name}, nil
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)
	return cache
}

func TestResolveLocalDirectory(t *testing.T) {
	dir := t.TempDir()
	backend := &fakeBackend{name: "git"}

	tree, err := New(newTestCache(t), backend).Resolve(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "local", tree.Backend)
	assert.Equal(t, dir, tree.Path)
	assert.False(t, tree.Ephemeral)
	assert.Empty(t, backend.calls)
	tree.Cleanup()
	assert.DirExists(t, dir, "local trees are never removed")
}

func TestResolveTriesBackendsInOrder(t *testing.T) {
	git := &fakeBackend{name: "git", err: decline(errors.New("repository not found"))}
	hg := &fakeBackend{name: "hg"}
	svn := &fakeBackend{name: "svn"}

	tree, err := New(newTestCache(t), git, hg, svn).Resolve(context.Background(), "https://hg.example.org/foo")
	require.NoError(t, err)
	assert.Equal(t, "hg", tree.Backend)
	assert.Len(t, git.calls, 1)
	assert.Len(t, hg.calls, 1)
	assert.Empty(t, svn.calls)
}

func TestResolveFatalErrorStops(t *testing.T) {
	git := &fakeBackend{name: "git", err: &os.PathError{Op: "mkdir", Path: "/cache/x", Err: os.ErrPermission}}
	hg := &fakeBackend{name: "hg"}

	_, err := New(newTestCache(t), git, hg).Resolve(context.Background(), "https://example.org/foo")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnresolvableSource))
	assert.Contains(t, err.Error(), "git backend")
	assert.Empty(t, hg.calls)
}

func TestResolveUnresolvable(t *testing.T) {
	git := &fakeBackend{name: "git", err: decline(errors.New("not a git repository"))}
	svn := &fakeBackend{name: "svn", err: decline(errors.New("svn: E170013"))}

	_, err := New(newTestCache(t), git, svn).Resolve(context.Background(), "https://example.org/nothing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolvableSource))
	details := errors.GetAllDetails(err)
	assert.Contains(t, details, "git: not a git repository")
	assert.Contains(t, details, "svn: svn: E170013")
}

func TestResolveRegularFileIsNotLocal(t *testing.T) {
	file := filepath.Join(t.TempDir(), "foo.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	backend := &fakeBackend{name: "git"}

	tree, err := New(newTestCache(t), backend).Resolve(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, "git", tree.Backend)
	assert.Len(t, backend.calls, 1)
}

func TestTreeCleanup(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "tree")
	require.NoError(t, os.Mkdir(target, 0755))
	calls := 0
	tree := &Tree{Path: target, Ephemeral: true, cleanup: func() {
		calls++
		_ = os.RemoveAll(target)
	}}

	tree.Cleanup()
	tree.Cleanup()
	assert.Equal(t, 1, calls)
	assert.NoDirExists(t, target)
}

func TestResolveHoldsCacheLockUntilCleanup(t *testing.T) {
	cache := newTestCache(t)
	spec := "https://example.com/repo"

	tree, err := New(cache, &fakeBackend{name: "git"}).Resolve(context.Background(), spec)
	require.NoError(t, err)

	other, err := NewCache(cache.Root())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = other.Lock(ctx, spec)
	require.Error(t, err, "key of %s must stay locked while the tree is in use", tree.Path)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	tree.Cleanup()

	unlock, err := other.Lock(context.Background(), spec)
	require.NoError(t, err)
	unlock()
}

func TestResolveReleasesLockOnFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"declined", decline(errors.New("not a repository"))},
		{"fatal", errors.New("disk full")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newTestCache(t)
			spec := "https://example.com/repo"

			_, err := New(cache, &fakeBackend{name: "git", err: tt.err}).Resolve(context.Background(), spec)
			require.Error(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			unlock, err := cache.Lock(ctx, spec)
			require.NoError(t, err)
			unlock()
		})
	}
}
