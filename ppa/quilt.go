package ppa

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/tikinang/ppa-submit/internal/command"
)

var quiltEnv = []string{"QUILT_PATCHES=debian/patches"}

// RefreshPatches re-applies the quilt series of dir one patch at a time and
// refreshes each, so patches that only apply with fuzz are rewritten. A patch
// that does not apply at all is deleted from the series. Afterwards all
// patches are popped again, leaving only the changes under debian/patches.
func RefreshPatches(ctx context.Context, runner command.Runner, dir string) error {
	slog.Info("Updating patches", "dir", dir)

	quilt := func(args ...string) ([]byte, error) {
		return runner.Run(ctx, command.Cmd{Dir: dir, Env: quiltEnv, Name: "quilt", Args: args})
	}

	series, err := quiltSeries(quilt)
	if err != nil {
		return err
	}
	for _, patch := range series {
		if _, err := quilt("push"); err == nil {
			if _, err = quilt("refresh"); err == nil {
				continue
			}
		} else if !command.IsExit(err) {
			return errors.Wrapf(err, "applying %s", patch)
		}
		slog.Warn("Deleting patch that no longer applies", "patch", patch)
		if _, err := quilt("delete", "-nr"); err != nil {
			return errors.Wrapf(err, "deleting %s", patch)
		}
	}

	remaining, err := quiltSeries(quilt)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		if _, err := quilt("pop", "-a"); err != nil {
			return errors.Wrap(err, "popping patches")
		}
	}

	// quilt does not manage it.
	ubuntuSeries := filepath.Join(dir, "debian", "patches", "ubuntu.series")
	if err := os.Remove(ubuntuSeries); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing ubuntu.series")
	}
	return nil
}

func quiltSeries(quilt func(args ...string) ([]byte, error)) ([]string, error) {
	out, err := quilt("series")
	if err != nil {
		return nil, errors.Wrap(err, "listing quilt series")
	}
	var patches []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			patches = append(patches, line)
		}
	}
	return patches, nil
}
