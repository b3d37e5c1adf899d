package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tikinang/ppa-submit/internal/command/commandtest"
	"github.com/tikinang/ppa-submit/ppa"
	"github.com/tikinang/ppa-submit/resolve"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func TestPrepareTreeWithSeparateDebianSource(t *testing.T) {
	upstream := t.TempDir()
	writeFiles(t, upstream, map[string]string{
		"src/foo.c":        "int foo;\n",
		"debian/changelog": "foo (0.1-1) trusty; urgency=low\n",
		".git/HEAD":        "ref: refs/heads/main\n",
	})
	packaging := t.TempDir()
	writeFiles(t, packaging, map[string]string{
		"debian/changelog": "foo (1.0-1) xenial; urgency=low\n",
		"debian/control":   "Source: foo\n",
		"README":           "packaging repo readme\n",
	})

	work := t.TempDir()
	cfg := &Config{Source: upstream, Debian: packaging, WorkDir: work, CacheDir: t.TempDir()}
	treeDir, cleanup, err := prepareTree(context.Background(), cfg, commandtest.New())
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, filepath.Join(work, "orig"), treeDir)
	assert.FileExists(t, filepath.Join(treeDir, "src/foo.c"))
	assert.FileExists(t, filepath.Join(treeDir, "debian/control"))
	assert.NoFileExists(t, filepath.Join(treeDir, "debian/README"))
	assert.NoDirExists(t, filepath.Join(treeDir, ".git"))

	_, version, err := ppa.ReadChangelogHeader(filepath.Join(treeDir, "debian/changelog"))
	require.NoError(t, err)
	assert.Equal(t, "1.0-1", version)
}

func TestPrepareTreeReplacesStaleStaging(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, map[string]string{"debian/changelog": "foo (1.0-1) trusty; urgency=low\n"})
	work := t.TempDir()
	writeFiles(t, work, map[string]string{"orig/stale.txt": "left over\n"})

	cfg := &Config{Source: src, WorkDir: work, CacheDir: t.TempDir()}
	treeDir, cleanup, err := prepareTree(context.Background(), cfg, commandtest.New())
	require.NoError(t, err)
	defer cleanup()
	assert.NoFileExists(t, filepath.Join(treeDir, "stale.txt"))
}

func TestPrepareTreeRequiresChangelog(t *testing.T) {
	cfg := &Config{Source: t.TempDir(), WorkDir: t.TempDir(), CacheDir: t.TempDir()}
	_, cleanup, err := prepareTree(context.Background(), cfg, commandtest.New())
	defer cleanup()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "debian/changelog")
}

func TestPrepareTreeTemporaryWorkDirIsRemoved(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, map[string]string{"debian/changelog": "foo (1.0-1) trusty; urgency=low\n"})

	cfg := &Config{Source: src, CacheDir: t.TempDir()}
	treeDir, cleanup, err := prepareTree(context.Background(), cfg, commandtest.New())
	require.NoError(t, err)
	assert.DirExists(t, treeDir)
	cleanup()
	assert.NoDirExists(t, filepath.Dir(treeDir))
}

func TestPrepareTreeReleasesCacheKeysAfterStaging(t *testing.T) {
	cacheDir := t.TempDir()
	cache, err := resolve.NewCache(cacheDir)
	require.NoError(t, err)
	spec := "https://hg.example.org/foo"
	writeFiles(t, cache.Dir(spec), map[string]string{
		".hg/requires":     "store\n",
		"foo.c":            "int foo;\n",
		"debian/changelog": "foo (1.0-1) trusty; urgency=low\n",
	})

	// Same specifier for upstream and packaging shares one cache key.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cfg := &Config{Source: spec, Debian: spec, WorkDir: t.TempDir(), CacheDir: cacheDir}
	treeDir, cleanup, err := prepareTree(ctx, cfg, commandtest.New())
	require.NoError(t, err)
	defer cleanup()

	assert.FileExists(t, filepath.Join(treeDir, "foo.c"))
	assert.FileExists(t, filepath.Join(treeDir, "debian/changelog"))
	assert.NoDirExists(t, filepath.Join(treeDir, ".hg"))

	lockCtx, lockCancel := context.WithTimeout(context.Background(), time.Second)
	defer lockCancel()
	unlock, err := cache.Lock(lockCtx, spec)
	require.NoError(t, err)
	unlock()
}
