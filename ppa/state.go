package ppa

import (
	"log/slog"

	"github.com/cockroachdb/errors"
)

// State is the progress of one release target through a submission.
type State string

const (
	StatePending   State = "pending"
	StateBuilding  State = "building"
	StateUploading State = "uploading"

	StateSkipped  State = "skipped-up-to-date"
	StateUploaded State = "uploaded"
	StateFailed   State = "failed"
	StateDryRun   State = "dry-run"
)

var transitions = map[State][]State{
	StatePending:   {StateSkipped, StateBuilding, StateFailed},
	StateBuilding:  {StateUploading, StateDryRun, StateFailed},
	StateUploading: {StateUploaded, StateFailed},
}

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// TargetResult is the outcome of one release target.
type TargetResult struct {
	Release   string `yaml:"release"`
	State     State  `yaml:"outcome"`
	Version   string `yaml:"version,omitempty"`
	Transport string `yaml:"transport,omitempty"`
	Detail    string `yaml:"detail,omitempty"`
	Err       error  `yaml:"-"`
}

func newTargetResult(release string) *TargetResult {
	return &TargetResult{Release: release, State: StatePending}
}

func (r *TargetResult) advance(to State) {
	for _, allowed := range transitions[r.State] {
		if allowed == to {
			slog.Debug("Target state", "release", r.Release, "from", r.State, "to", to)
			r.State = to
			return
		}
	}
	panic(errors.AssertionFailedf("release %s: invalid transition %s -> %s", r.Release, r.State, to))
}

func (r *TargetResult) fail(err error) {
	r.Err = errors.Mark(err, ErrReleaseSubmissionFailed)
	r.Detail = err.Error()
	r.advance(StateFailed)
}

// Summary collects the outcome of every requested release target, in the
// order they were requested.
type Summary struct {
	Package   string          `yaml:"package"`
	Upstream  string          `yaml:"upstream_version,omitempty"`
	ShortHash string          `yaml:"content_hash"`
	Targets   []*TargetResult `yaml:"targets"`
}

// Failed reports whether any target ended in StateFailed.
func (s *Summary) Failed() bool {
	return s.Count(StateFailed) > 0
}

func (s *Summary) Count(state State) int {
	n := 0
	for _, t := range s.Targets {
		if t.State == state {
			n++
		}
	}
	return n
}

// Outcomes maps each release to its final state.
func (s *Summary) Outcomes() map[string]State {
	out := make(map[string]State, len(s.Targets))
	for _, t := range s.Targets {
		out[t.Release] = t.State
	}
	return out
}
