package ppa

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/tikinang/ppa-submit/internal/command"
)

// Builder turns an unpacked source tree into a source upload set in the
// tree's parent directory (<name>_<version>.dsc, _source.changes, ...).
type Builder interface {
	BuildSource(ctx context.Context, dir string, unsigned bool) error
}

// Debuild builds source packages with debuild -S.
type Debuild struct {
	runner command.Runner
	params []string
}

// NewDebuild returns a builder that passes params to debuild ahead of its own
// arguments.
func NewDebuild(runner command.Runner, params []string) *Debuild {
	return &Debuild{runner: runner, params: params}
}

func (d *Debuild) BuildSource(ctx context.Context, dir string, unsigned bool) error {
	args := append([]string{}, d.params...)
	args = append(args,
		"-S", // source package only
		"--no-check-builddeps",
	)
	if unsigned {
		args = append(args, "-us", "-uc")
	}
	// lintian options consume the rest of the command line.
	args = append(args, "--lintian-opts", "-EvIL", "+pedantic")

	if _, err := d.runner.Run(ctx, command.Cmd{Dir: dir, Name: "debuild", Args: args}); err != nil {
		return errors.Wrap(err, "debuild")
	}
	return nil
}
