package ppa

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// DefaultDistroLabel is written between the packaging and distro revisions
// when a parsed version is formatted again. The label read from the input is
// not kept.
const DefaultDistroLabel = "ubuntu"

// InitialRevision is the packaging and distro revision of a fresh version
// lineage.
const InitialRevision = "1"

// PackageVersion is a decomposed package version string
//
//	[<epoch>:]<upstream>[-<packaging><distro label><distro>]
//
// Empty Epoch, PackagingRevision and DistroRevision mean "not present".
type PackageVersion struct {
	Epoch             string
	Upstream          string
	PackagingRevision string
	DistroRevision    string
}

// ParseVersion decomposes a version string.
//
// Grammar, applied left to right:
//
//  1. An optional run of digits followed by ':' is the epoch.
//  2. The rest is split on its last '-'. Earlier hyphens stay in upstream.
//  3. The part after that '-' is scanned as <digits> <filler> <digits>, where
//     digits also admit '.', and filler is anything else. The leading run is
//     the packaging revision, the trailing run the distro revision.
//  4. With no '-', or when both runs of step 3 are empty, there is no
//     revision at all and the whole rest is upstream.
//
// Only an empty input (or an empty upstream) is an error.
func ParseVersion(s string) (PackageVersion, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PackageVersion{}, errors.Mark(errors.New("empty version string"), ErrMalformedVersion)
	}

	var v PackageVersion
	rest := s
	if epoch, after, ok := splitEpoch(s); ok {
		v.Epoch = epoch
		rest = after
	}
	if rest == "" {
		return PackageVersion{}, errors.Mark(errors.Newf("version %q has no upstream part", s), ErrMalformedVersion)
	}

	i := strings.LastIndexByte(rest, '-')
	if i < 0 {
		v.Upstream = rest
		return v, nil
	}
	packaging, distro, ok := scanRevision(rest[i+1:])
	if !ok || i == 0 {
		v.Upstream = rest
		return v, nil
	}
	v.Upstream = rest[:i]
	v.PackagingRevision = packaging
	v.DistroRevision = distro
	return v, nil
}

func splitEpoch(s string) (epoch, rest string, ok bool) {
	n := 0
	for n < len(s) && isDigit(s[n]) {
		n++
	}
	if n == 0 || n >= len(s) || s[n] != ':' {
		return "", s, false
	}
	return s[:n], s[n+1:], true
}

type revisionState int

const (
	inLeading revisionState = iota
	inFiller
	inTrailing
)

// scanRevision splits a revision suffix into its leading and trailing
// numeric runs. ok is false when neither run is present.
func scanRevision(rev string) (leading, trailing string, ok bool) {
	state := inLeading
	leadEnd, trailStart := 0, -1
	for i := 0; i < len(rev); i++ {
		numeric := isDigit(rev[i]) || rev[i] == '.'
		switch state {
		case inLeading:
			if numeric {
				leadEnd = i + 1
				continue
			}
			state = inFiller
		case inFiller:
			if numeric {
				state = inTrailing
				trailStart = i
			}
		case inTrailing:
			if !numeric {
				state = inFiller
				trailStart = -1
			}
		}
	}
	leading = rev[:leadEnd]
	if state == inTrailing && trailStart >= 0 {
		trailing = rev[trailStart:]
	}
	return leading, trailing, leading != "" || trailing != ""
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// String joins the components back into a version string.
func (v PackageVersion) String() string {
	var b strings.Builder
	if v.Epoch != "" {
		b.WriteString(v.Epoch)
		b.WriteByte(':')
	}
	b.WriteString(v.Upstream)
	if v.PackagingRevision == "" && v.DistroRevision == "" {
		return b.String()
	}
	b.WriteByte('-')
	b.WriteString(v.PackagingRevision)
	if v.DistroRevision != "" {
		b.WriteString(DefaultDistroLabel)
		b.WriteString(v.DistroRevision)
	}
	return b.String()
}

// WithUpstreamOverride starts an unrelated version lineage: the upstream part
// is replaced and both revisions restart at InitialRevision.
func (v PackageVersion) WithUpstreamOverride(upstream string) PackageVersion {
	v.Upstream = upstream
	v.PackagingRevision = InitialRevision
	v.DistroRevision = InitialRevision
	return v
}

// WithContentHash appends the short content hash to upstream. The hash is
// joined with '-' rather than '~' so the release name and resubmission
// counter appended later stay outside the hash-bearing segment, and a higher
// counter compares as a newer version.
func (v PackageVersion) WithContentHash(short string) PackageVersion {
	v.Upstream += "-" + short
	return v
}

// ReleaseVersion is the version written into a release-specific changelog.
type ReleaseVersion struct {
	// Slot is the epoch label, written as "<slot>:" in the changelog only.
	Slot string
	// Version excludes the slot and is what build artifacts are named after.
	Version string
}

// String returns the changelog form, including the slot.
func (r ReleaseVersion) String() string {
	if r.Slot == "" {
		return r.Version
	}
	return r.Slot + ":" + r.Version
}

// ForRelease builds
//
//	[<slot>:]<upstream>-<packaging><release><counter>
//
// The packaging revision and the resubmission counter default to
// InitialRevision. The result always carries a revision, so the build tool
// splits the upstream part off at the last hyphen and pairs it with the
// <name>_<upstream>.orig.tar.gz tarball, even for a changelog version with no
// packaging metadata.
func (v PackageVersion) ForRelease(release string) ReleaseVersion {
	counter := v.DistroRevision
	if counter == "" {
		counter = InitialRevision
	}
	packaging := v.PackagingRevision
	if packaging == "" {
		packaging = InitialRevision
	}

	version := v.Upstream + "-" + packaging + release + counter
	return ReleaseVersion{Slot: v.Epoch, Version: version}
}

// ShortHashLen is the number of hex digits of a content hash embedded in
// version strings.
const ShortHashLen = 8

// EmbeddedHash extracts the short content hash from a published version.
//
// Convention: after dropping any "<slot>:" prefix and a trailing
// "<release><digits>" suffix, the version is split on '-' and the right-most
// segment other than the first that is exactly ShortHashLen lowercase hex
// digits is the hash. Scanning from the right keeps hyphens inside slot
// labels or upstream versions from shifting the position. These all yield
// "abcdef01" for release "trusty":
//
//	1.2.0-abcdef01trusty1
//	1.2.0-abcdef01-1trusty3
//	2:4.3.1-dev~20161001-abcdef01-1trusty1
func EmbeddedHash(version, release string) (string, bool) {
	if i := strings.IndexByte(version, ':'); i >= 0 {
		version = version[i+1:]
	}
	if release != "" {
		if j := strings.LastIndex(version, release); j >= 0 && isAllDigits(version[j+len(release):]) {
			version = version[:j]
		}
	}

	segments := strings.Split(version, "-")
	for i := len(segments) - 1; i >= 1; i-- {
		if isShortHash(segments[i]) {
			return segments[i], true
		}
	}
	return "", false
}

func isAllDigits(s string) bool {
	if s == "" {
		return true
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}

func isShortHash(s string) bool {
	if len(s) != ShortHashLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isDigit(c) && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
