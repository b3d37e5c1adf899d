package ppa

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected PackageVersion
	}{
		{
			name:     "upstream with packaging and distro revision",
			input:    "1.2.0-1ubuntu3",
			expected: PackageVersion{Upstream: "1.2.0", PackagingRevision: "1", DistroRevision: "3"},
		},
		{
			name:     "epoch and hyphenated upstream",
			input:    "2:4.3.1-dev~20161001-0ubuntu1",
			expected: PackageVersion{Epoch: "2", Upstream: "4.3.1-dev~20161001", PackagingRevision: "0", DistroRevision: "1"},
		},
		{
			name:     "upstream only",
			input:    "1.2.0",
			expected: PackageVersion{Upstream: "1.2.0"},
		},
		{
			name:     "packaging revision only",
			input:    "0.9-3",
			expected: PackageVersion{Upstream: "0.9", PackagingRevision: "3"},
		},
		{
			name:     "dotted packaging revision",
			input:    "5.1-0.2ppa4",
			expected: PackageVersion{Upstream: "5.1", PackagingRevision: "0.2", DistroRevision: "4"},
		},
		{
			name:     "non numeric suffix stays in upstream",
			input:    "1.2.0-beta",
			expected: PackageVersion{Upstream: "1.2.0-beta"},
		},
		{
			name:     "surrounding whitespace",
			input:    "  1.0-1 \n",
			expected: PackageVersion{Upstream: "1.0", PackagingRevision: "1"},
		},
		{
			name:     "colon without digits is not an epoch",
			input:    "a:1.0",
			expected: PackageVersion{Upstream: "a:1.0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseVersion(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
		})
	}
}

func TestParseVersionMalformed(t *testing.T) {
	for _, input := range []string{"", "   ", "7:"} {
		_, err := ParseVersion(input)
		require.Error(t, err, "input %q", input)
		assert.True(t, errors.Is(err, ErrMalformedVersion), "input %q", input)
	}
}

func TestVersionStringRoundTrip(t *testing.T) {
	for _, s := range []string{
		"1.2.0",
		"1.2.0-1",
		"1.2.0-1ubuntu3",
		"2:4.3.1-dev~20161001-0ubuntu1",
	} {
		v, err := ParseVersion(s)
		require.NoError(t, err)
		assert.Equal(t, s, v.String())
	}
}

func TestVersionStringUsesDefaultDistroLabel(t *testing.T) {
	v, err := ParseVersion("1.0-2ppa5")
	require.NoError(t, err)
	assert.Equal(t, "1.0-2ubuntu5", v.String())
}

func TestWithUpstreamOverride(t *testing.T) {
	v := PackageVersion{Epoch: "1", Upstream: "1.2.0", PackagingRevision: "4", DistroRevision: "7"}
	got := v.WithUpstreamOverride("2.0~rc1")
	assert.Equal(t, PackageVersion{Epoch: "1", Upstream: "2.0~rc1", PackagingRevision: "1", DistroRevision: "1"}, got)
	assert.Equal(t, "1.2.0", v.Upstream, "receiver is not modified")
}

func TestForRelease(t *testing.T) {
	tests := []struct {
		name      string
		version   PackageVersion
		release   string
		changelog string
		artifact  string
	}{
		{
			name:      "full version",
			version:   PackageVersion{Upstream: "1.2.0", PackagingRevision: "1", DistroRevision: "3"},
			release:   "trusty",
			changelog: "1.2.0-1trusty3",
			artifact:  "1.2.0-1trusty3",
		},
		{
			name:      "epoch is kept as slot",
			version:   PackageVersion{Epoch: "2", Upstream: "4.3.1", PackagingRevision: "0", DistroRevision: "1"},
			release:   "xenial",
			changelog: "2:4.3.1-0xenial1",
			artifact:  "4.3.1-0xenial1",
		},
		{
			name:      "missing distro revision starts at one",
			version:   PackageVersion{Upstream: "0.9", PackagingRevision: "3"},
			release:   "bionic",
			changelog: "0.9-3bionic1",
			artifact:  "0.9-3bionic1",
		},
		{
			name:      "bare upstream gets a packaging revision",
			version:   PackageVersion{Upstream: "0.9"},
			release:   "bionic",
			changelog: "0.9-1bionic1",
			artifact:  "0.9-1bionic1",
		},
		{
			name:      "bare upstream with epoch",
			version:   PackageVersion{Epoch: "1", Upstream: "20160101"},
			release:   "xenial",
			changelog: "1:20160101-1xenial1",
			artifact:  "20160101-1xenial1",
		},
		{
			name:      "hash in upstream",
			version:   PackageVersion{Upstream: "1.2.0-abcdef01"},
			release:   "trusty",
			changelog: "1.2.0-abcdef01-1trusty1",
			artifact:  "1.2.0-abcdef01-1trusty1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rv := tt.version.ForRelease(tt.release)
			assert.Equal(t, tt.changelog, rv.String())
			assert.Equal(t, tt.artifact, rv.Version)
		})
	}
}

func TestEmbeddedHash(t *testing.T) {
	tests := []struct {
		version string
		release string
		hash    string
		found   bool
	}{
		{"1.2.0-abcdef01trusty1", "trusty", "abcdef01", true},
		{"1.2.0-abcdef01-1trusty3", "trusty", "abcdef01", true},
		{"2:4.3.1-dev~20161001-abcdef01-1trusty1", "trusty", "abcdef01", true},
		{"1:0.1-0123abcd-2xenial12", "xenial", "0123abcd", true},
		{"1.2.0-1trusty1", "trusty", "", false},
		{"1.2.0", "trusty", "", false},
		{"abcdef01-1trusty1", "trusty", "", false},
		{"1.2.0-ABCDEF01-1trusty1", "trusty", "", false},
		{"1.2.0-abcdef012-1trusty1", "trusty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			hash, found := EmbeddedHash(tt.version, tt.release)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.hash, hash)
		})
	}
}

func TestEmbeddedHashMatchesForRelease(t *testing.T) {
	v, err := ParseVersion("3:1.4-2ubuntu1")
	require.NoError(t, err)
	v = v.WithContentHash("deadbeef")

	for _, release := range []string{"trusty", "xenial", "bionic"} {
		published := v.ForRelease(release).String()
		hash, ok := EmbeddedHash(published, release)
		require.True(t, ok, published)
		assert.Equal(t, "deadbeef", hash)
	}
}

func TestForReleaseKeepsUpstreamOfChangelogVersion(t *testing.T) {
	for _, declared := range []string{"1.0.0", "1.0.0-3", "2:1.0.0-1ubuntu4"} {
		t.Run(declared, func(t *testing.T) {
			v, err := ParseVersion(declared)
			require.NoError(t, err)

			for _, release := range []string{"trusty", "xenial"} {
				reparsed, err := ParseVersion(v.ForRelease(release).Version)
				require.NoError(t, err)
				assert.Equal(t, v.Upstream, reparsed.Upstream, "release %s", release)
			}
		})
	}
}

func TestEmbeddedHashOfBareUpstream(t *testing.T) {
	v, err := ParseVersion("1.0.0")
	require.NoError(t, err)

	published := v.WithContentHash("0badf00d").ForRelease("trusty").String()
	assert.Equal(t, "1.0.0-0badf00d-1trusty1", published)
	hash, ok := EmbeddedHash(published, "trusty")
	require.True(t, ok)
	assert.Equal(t, "0badf00d", hash)

	_, ok = EmbeddedHash(v.ForRelease("trusty").String(), "trusty")
	assert.False(t, ok)
}
