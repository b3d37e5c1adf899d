package resolve

import (
	"context"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/go-git/go-git/v5"
)

// Git clones into the cache and pulls on later runs. Submodules are followed.
type Git struct{}

func (Git) Name() string {
	return "git"
}

func (Git) Resolve(ctx context.Context, spec string, cache *Cache) (*Tree, error) {
	dir := cache.Dir(spec)
	exists, err := dirExists(dir)
	if err != nil {
		return nil, errors.Wrap(err, "inspecting cache")
	}

	if exists {
		repo, err := git.PlainOpen(dir)
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, decline(errors.Newf("%s is not a git working copy", dir))
		}
		if err != nil {
			return nil, errors.Wrapf(err, "opening %s", dir)
		}
		wt, err := repo.Worktree()
		if err != nil {
			return nil, errors.Wrap(err, "opening worktree")
		}
		slog.Info("Updating git checkout", "spec", spec, "dir", dir)
		err = wt.PullContext(ctx, &git.PullOptions{
			RemoteName:        git.DefaultRemoteName,
			RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil, errors.WithHint(errors.Wrapf(err, "pulling %s", spec), "remove "+dir+" to clone afresh")
		}
		return &Tree{Spec: spec, Path: dir, Backend: "git"}, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "creating cache entry")
	}
	slog.Info("Cloning git repository", "spec", spec, "dir", dir)
	_, err = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:               spec,
		RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		if isContextErr(err) {
			return nil, err
		}
		return nil, decline(errors.Wrap(err, "git clone"))
	}
	return &Tree{Spec: spec, Path: dir, Backend: "git"}, nil
}
