package ppa

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/tikinang/ppa-submit/internal/command"
)

// LaunchpadUploadHost accepts PPA uploads over sftp and ftp.
const LaunchpadUploadHost = "ppa.launchpad.net"

// UploadSet is the files of one source upload, all inside Dir.
type UploadSet struct {
	Dir     string
	Changes string
	Files   []string
}

// CollectUploadSet reads a .changes file and returns it together with every
// file it lists.
func CollectUploadSet(changesPath string) (UploadSet, error) {
	data, err := os.ReadFile(changesPath)
	if err != nil {
		return UploadSet{}, errors.Wrap(err, "reading changes")
	}
	ctrl, err := ParseControl(bytes.NewReader(data))
	if err != nil {
		return UploadSet{}, errors.Wrapf(err, "parsing %s", filepath.Base(changesPath))
	}

	set := UploadSet{
		Dir:     filepath.Dir(changesPath),
		Changes: filepath.Base(changesPath),
		Files:   []string{filepath.Base(changesPath)},
	}
	for _, f := range ctrl.FileList("Files") {
		if _, err := os.Stat(filepath.Join(set.Dir, f.Name)); err != nil {
			return UploadSet{}, errors.Wrapf(err, "%s lists %s", set.Changes, f.Name)
		}
		set.Files = append(set.Files, f.Name)
	}
	return set, nil
}

// Transport pushes an upload set to an archive.
type Transport interface {
	Name() string
	Upload(ctx context.Context, set UploadSet) error
}

// UploadWithFallback tries each transport in order and stops at the first
// success. When all fail the last error is returned, marked with
// ErrUploadTransportExhausted.
func UploadWithFallback(ctx context.Context, transports []Transport, set UploadSet) (string, error) {
	if len(transports) == 0 {
		return "", errors.Mark(errors.New("no upload transports configured"), ErrUploadTransportExhausted)
	}
	var lastErr error
	for _, t := range transports {
		if err := ctx.Err(); err != nil {
			return "", errors.Wrap(err, "upload interrupted")
		}
		slog.Info("Uploading", "transport", t.Name(), "changes", set.Changes)
		err := t.Upload(ctx, set)
		if err == nil {
			return t.Name(), nil
		}
		slog.Warn("Upload transport failed", "transport", t.Name(), "error", err)
		lastErr = errors.Wrapf(err, "transport %s", t.Name())
	}
	return "", errors.Mark(lastErr, ErrUploadTransportExhausted)
}

// TransportConfig is one dput upload target.
type TransportConfig struct {
	Method   string // sftp, ftp, ...
	Host     string
	Login    string
	Incoming string
}

// DputTransport uploads with dput using a throwaway config file.
type DputTransport struct {
	runner command.Runner
	cfg    TransportConfig
}

func NewDputTransport(runner command.Runner, cfg TransportConfig) *DputTransport {
	return &DputTransport{runner: runner, cfg: cfg}
}

// LaunchpadTransports returns sftp with the given Launchpad login, followed
// by anonymous ftp. sftp is skipped without a login.
func LaunchpadTransports(runner command.Runner, ref ArchiveRef, login string) []Transport {
	incoming := fmt.Sprintf("~%s/ubuntu/", ref)
	var out []Transport
	if login != "" {
		out = append(out, NewDputTransport(runner, TransportConfig{Method: "sftp", Host: LaunchpadUploadHost, Login: login, Incoming: incoming}))
	}
	out = append(out, NewDputTransport(runner, TransportConfig{Method: "ftp", Host: LaunchpadUploadHost, Login: "anonymous", Incoming: incoming}))
	return out
}

const dputProfile = "ppa-submit"

func (d *DputTransport) Name() string {
	return "dput-" + d.cfg.Method
}

func (d *DputTransport) config() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "[%s]\n", dputProfile)
	fmt.Fprintf(&buf, "fqdn = %s\n", d.cfg.Host)
	fmt.Fprintf(&buf, "method = %s\n", d.cfg.Method)
	fmt.Fprintf(&buf, "incoming = %s\n", d.cfg.Incoming)
	fmt.Fprintf(&buf, "login = %s\n", d.cfg.Login)
	fmt.Fprintf(&buf, "allow_unsigned_uploads = 0\n")
	return buf.Bytes()
}

func (d *DputTransport) Upload(ctx context.Context, set UploadSet) error {
	cf, err := os.CreateTemp(set.Dir, "dput-*.cf")
	if err != nil {
		return errors.Wrap(err, "creating dput config")
	}
	defer os.Remove(cf.Name())
	if _, err := cf.Write(d.config()); err != nil {
		cf.Close()
		return errors.Wrap(err, "writing dput config")
	}
	if err := cf.Close(); err != nil {
		return errors.Wrap(err, "writing dput config")
	}

	_, err = d.runner.Run(ctx, command.Cmd{
		Dir:  set.Dir,
		Name: "dput",
		Args: []string{"-c", cf.Name(), dputProfile, set.Changes},
	})
	return err
}
