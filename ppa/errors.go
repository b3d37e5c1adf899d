package ppa

import "github.com/cockroachdb/errors"

// Run-level failures. Any of these aborts the whole submission.
var (
	ErrMalformedVersion      = errors.New("malformed version")
	ErrHashComputationFailed = errors.New("hash computation failed")
	ErrTarballBuildFailed    = errors.New("tarball build failed")
)

// Target-level failures. These are folded into the run summary and never
// stop sibling release targets.
var (
	ErrReleaseSubmissionFailed  = errors.New("release submission failed")
	ErrUploadTransportExhausted = errors.New("upload transports exhausted")
)
