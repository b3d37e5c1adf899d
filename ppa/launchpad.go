package ppa

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
)

// DefaultLaunchpadAPI is the production Launchpad web service root.
const DefaultLaunchpadAPI = "https://api.launchpad.net/1.0"

// ArchiveQuery looks up what an archive has already published.
type ArchiveQuery interface {
	// LatestPublished returns the version of the most recent published
	// upload of pkg to release. found is false when nothing is published.
	LatestPublished(ctx context.Context, pkg, release string) (version string, found bool, err error)
}

// ArchiveRef names a personal package archive as "<owner>/<name>".
type ArchiveRef struct {
	Owner string
	Name  string
}

func ParseArchiveRef(s string) (ArchiveRef, error) {
	s = strings.TrimPrefix(s, "ppa:")
	owner, name, ok := strings.Cut(s, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return ArchiveRef{}, errors.WithHint(errors.Newf("invalid archive %q", s), "use the form <owner>/<name>")
	}
	return ArchiveRef{Owner: owner, Name: name}, nil
}

func (r ArchiveRef) String() string {
	return r.Owner + "/" + r.Name
}

// LaunchpadArchive queries a PPA through the Launchpad REST API anonymously.
type LaunchpadArchive struct {
	api string
	ref ArchiveRef
}

func NewLaunchpadArchive(api string, ref ArchiveRef) *LaunchpadArchive {
	if api == "" {
		api = DefaultLaunchpadAPI
	}
	return &LaunchpadArchive{api: strings.TrimSuffix(api, "/"), ref: ref}
}

type publishedSources struct {
	TotalSize int `json:"total_size"`
	Entries   []struct {
		SourcePackageVersion string `json:"source_package_version"`
		Status               string `json:"status"`
	} `json:"entries"`
}

func (l *LaunchpadArchive) LatestPublished(ctx context.Context, pkg, release string) (string, bool, error) {
	q := url.Values{}
	q.Set("ws.op", "getPublishedSources")
	q.Set("source_name", pkg)
	q.Set("exact_match", "true")
	q.Set("status", "Published")
	q.Set("order_by_date", "true")
	q.Set("distro_series", l.api+"/ubuntu/"+release)
	u := l.api + "/~" + url.PathEscape(l.ref.Owner) + "/+archive/ubuntu/" + url.PathEscape(l.ref.Name) + "?" + q.Encode()

	resp, err := HTTPWithRetry(ctx, u, http.MethodGet)
	if err != nil {
		return "", false, errors.Wrapf(err, "querying %s for %s in %s", l.ref, pkg, release)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", false, errors.Newf("querying %s for %s in %s: status %d: %s", l.ref, pkg, release, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out publishedSources
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false, errors.Wrap(err, "decoding published sources")
	}
	if len(out.Entries) == 0 {
		return "", false, nil
	}
	return out.Entries[0].SourcePackageVersion, true, nil
}
