// Package ancestry checks that reported working copy entries share history
// with the paths they are about to be updated to.
package ancestry

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/danieljhkim/deltaserve/internal/repo"
	"github.com/danieljhkim/deltaserve/internal/report"
)

// ErrRejected indicates a reported entry is unrelated to its target.
var ErrRejected = errors.New("ancestry rejected")

// RejectedError names the first entry whose history is unrelated.
type RejectedError struct {
	// Path is the entry path relative to the request target
	Path string

	// Source is the repository path the client has, at SourceRev
	Source    string
	SourceRev int64

	// Target is the repository path the entry would be updated to
	Target string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %q (%s@%d is not related to %s)", ErrRejected, e.Path, e.Source, e.SourceRev, e.Target)
}

func (e *RejectedError) Unwrap() error {
	return ErrRejected
}

// Validator checks reported entries against the target revision.
type Validator struct {
	repo repo.Repository
}

// NewValidator creates a Validator over r.
func NewValidator(r repo.Repository) *Validator {
	return &Validator{repo: r}
}

// Request identifies what a report is validated against.
type Request struct {
	// SourceBase is the repository path the report is relative to
	SourceBase string

	// TargetBase is the repository path the client is brought to
	TargetBase string

	TargetRev      int64
	IgnoreAncestry bool
}

// Validate checks, in path order, that every entry present on both sides
// descends from the same line of history as its target. The whole request
// is rejected on the first mismatch.
func (v *Validator) Validate(ctx context.Context, state *report.State, req Request) error {
	if req.IgnoreAncestry {
		return nil
	}

	for _, e := range state.Entries() {
		if e.Deleted || (e.StartEmpty && e.Revision == 0) {
			continue
		}

		source := state.SourcePath(req.SourceBase, e.Path)
		target := repo.JoinPath(req.TargetBase, e.Path)

		have, err := v.repo.AncestryOf(ctx, source, e.Revision)
		if errors.Is(err, repo.ErrNotFound) || errors.Is(err, repo.ErrNoSuchRevision) {
			continue
		}
		if err != nil {
			return err
		}

		want, err := v.repo.AncestryOf(ctx, target, req.TargetRev)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		if !want.DescendsFrom(have) {
			glog.V(1).Infof("ancestry: %s@%d unrelated to %s@%d", source, e.Revision, target, req.TargetRev)
			return &RejectedError{Path: e.Path, Source: source, SourceRev: e.Revision, Target: target}
		}
	}
	return nil
}
