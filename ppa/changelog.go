package ppa

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// DefaultMaintainer signs regenerated changelog entries when none is configured.
const DefaultMaintainer = "ppa-submit <ppa-submit@localhost>"

var changelogHeader = regexp.MustCompile(`^\s*([^\s(]+)\s*\(([^)]+)\)`)

// ReadChangelogHeader returns the package name and declared version from the
// first line of a debian/changelog file.
func ReadChangelogHeader(path string) (name, version string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", errors.Wrap(err, "opening changelog")
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && line == "" {
		return "", "", errors.Mark(errors.Wrapf(err, "reading first line of %s", path), ErrMalformedVersion)
	}
	return ParseChangelogHeader(line)
}

// ParseChangelogHeader parses "<name> (<version>) <rest>".
func ParseChangelogHeader(line string) (name, version string, err error) {
	m := changelogHeader.FindStringSubmatch(line)
	if m == nil {
		return "", "", errors.Mark(errors.Newf("changelog header %q does not match \"<name> (<version>) ...\"", strings.TrimSpace(line)), ErrMalformedVersion)
	}
	version = strings.TrimSpace(m[2])
	if version == "" {
		return "", "", errors.Mark(errors.Newf("changelog header %q has an empty version", strings.TrimSpace(line)), ErrMalformedVersion)
	}
	return m[1], version, nil
}

// ChangelogEntry is a single debian/changelog stanza.
type ChangelogEntry struct {
	Package      string
	Version      string
	Distribution string
	Urgency      string
	Changes      []string
	Maintainer   string
	Date         time.Time
}

// Render formats the entry the way dch writes it.
func (e ChangelogEntry) Render() []byte {
	urgency := e.Urgency
	if urgency == "" {
		urgency = "low"
	}
	maintainer := e.Maintainer
	if maintainer == "" {
		maintainer = DefaultMaintainer
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s (%s) %s; urgency=%s\n\n", e.Package, e.Version, e.Distribution, urgency)
	for _, c := range e.Changes {
		fmt.Fprintf(&buf, "  * %s\n", c)
	}
	fmt.Fprintf(&buf, "\n -- %s  %s\n", maintainer, e.Date.Format(time.RFC1123Z))
	return buf.Bytes()
}

// ReplaceChangelog deletes the changelog at path and writes entry as its only
// stanza. The build tool includes the orig tarball in an upload only when the
// upstream version differs from the previous changelog entry, so the old
// history must not survive.
func ReplaceChangelog(path string, entry ChangelogEntry) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing old changelog")
	}
	if err := os.WriteFile(path, entry.Render(), 0644); err != nil {
		return errors.Wrap(err, "writing changelog")
	}
	return nil
}
