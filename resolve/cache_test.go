package resolve

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		spec string
		want string
	}{
		{"https://github.com/jane/foo.git", "https---github.com-jane-foo.git"},
		{"svn://svn.example.org/repo/trunk", "svn---svn.example.org-repo-trunk"},
		{"git@github.com:jane/foo.git", "git@github.com-jane-foo.git"},
		{" my source\n", "my-source"},
		{"..", "_.."},
		{"", "_"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeName(tt.spec), tt.spec)
	}
}

func TestCacheDir(t *testing.T) {
	root := t.TempDir()
	cache, err := NewCache(filepath.Join(root, "nested", "cache"))
	require.NoError(t, err)
	assert.DirExists(t, cache.Root())
	assert.Equal(t, filepath.Join(cache.Root(), "https---example.org-foo"), cache.Dir("https://example.org/foo"))
	assert.Equal(t, cache.Dir("https://example.org/foo"), cache.Dir("https://example.org/foo"), "stable across calls")
}

func TestCacheLock(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)

	unlock, err := cache.Lock(context.Background(), "https://example.org/foo")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = cache.Lock(ctx, "https://example.org/foo")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := cache.Lock(context.Background(), "https://example.org/bar")
	require.NoError(t, err, "other keys are independent")
	other()

	unlock()
	unlock()

	again, err := cache.Lock(context.Background(), "https://example.org/foo")
	require.NoError(t, err)
	again()
}

func TestCacheLockAcrossInstances(t *testing.T) {
	root := t.TempDir()
	first, err := NewCache(root)
	require.NoError(t, err)
	second, err := NewCache(root)
	require.NoError(t, err)

	unlock, err := first.Lock(context.Background(), "spec")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	_, err = second.Lock(ctx, "spec")
	assert.ErrorIs(t, err, context.DeadlineExceeded, "flock excludes a separate cache instance")

	unlock()
	unlock2, err := second.Lock(context.Background(), "spec")
	require.NoError(t, err)
	unlock2()
}
