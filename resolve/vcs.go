package resolve

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/tikinang/ppa-submit/internal/command"
)

// vcsTool describes a version control system driven through its CLI.
type vcsTool struct {
	name string
	// marker is the metadata directory a working copy carries.
	marker   string
	checkout func(spec, dir string) [][]string
	update   [][]string
}

// Mercurial resolves specifiers with the hg client.
type Mercurial struct {
	runner command.Runner
	tool   vcsTool
}

func NewMercurial(runner command.Runner) *Mercurial {
	return &Mercurial{runner: runner, tool: vcsTool{
		name:   "hg",
		marker: ".hg",
		checkout: func(spec, dir string) [][]string {
			return [][]string{{"clone", "--noninteractive", "--", spec, dir}}
		},
		update: [][]string{{"pull", "--update", "--noninteractive"}},
	}}
}

func (m *Mercurial) Name() string {
	return "hg"
}

func (m *Mercurial) Resolve(ctx context.Context, spec string, cache *Cache) (*Tree, error) {
	return resolveWithTool(ctx, m.runner, m.tool, spec, cache)
}

// Subversion resolves specifiers with the svn client.
type Subversion struct {
	runner command.Runner
	tool   vcsTool
}

func NewSubversion(runner command.Runner) *Subversion {
	return &Subversion{runner: runner, tool: vcsTool{
		name:   "svn",
		marker: ".svn",
		checkout: func(spec, dir string) [][]string {
			return [][]string{
				{"info", "--non-interactive", spec},
				{"checkout", "--non-interactive", spec, dir},
			}
		},
		// svn update exits 0 outside a working copy, so info checks first.
		update: [][]string{
			{"info", "--non-interactive"},
			{"update", "--non-interactive"},
		},
	}}
}

func (s *Subversion) Name() string {
	return "svn"
}

func (s *Subversion) Resolve(ctx context.Context, spec string, cache *Cache) (*Tree, error) {
	return resolveWithTool(ctx, s.runner, s.tool, spec, cache)
}

func resolveWithTool(ctx context.Context, runner command.Runner, tool vcsTool, spec string, cache *Cache) (*Tree, error) {
	dir := cache.Dir(spec)
	exists, err := dirExists(dir)
	if err != nil {
		return nil, errors.Wrap(err, "inspecting cache")
	}

	if exists {
		owned, err := dirExists(filepath.Join(dir, tool.marker))
		if err != nil {
			return nil, errors.Wrap(err, "inspecting cache")
		}
		if !owned {
			return nil, decline(errors.Newf("%s is not a %s working copy", dir, tool.name))
		}
		slog.Info("Updating checkout", "vcs", tool.name, "spec", spec, "dir", dir)
		for _, args := range tool.update {
			if _, err := runner.Run(ctx, command.Cmd{Dir: dir, Name: tool.name, Args: args}); err != nil {
				return nil, errors.WithHint(errors.Wrapf(err, "updating %s", spec), "remove "+dir+" to check out afresh")
			}
		}
		return &Tree{Spec: spec, Path: dir, Backend: tool.name}, nil
	}

	slog.Debug("Trying checkout", "vcs", tool.name, "spec", spec)
	for _, args := range tool.checkout(spec, dir) {
		if _, err := runner.Run(ctx, command.Cmd{Name: tool.name, Args: args}); err != nil {
			_ = os.RemoveAll(dir)
			if command.IsExit(err) || command.IsNotFound(err) {
				return nil, decline(err)
			}
			return nil, err
		}
	}
	slog.Info("Checked out", "vcs", tool.name, "spec", spec, "dir", dir)
	return &Tree{Spec: spec, Path: dir, Backend: tool.name}, nil
}
