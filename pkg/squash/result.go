package squash

import (
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/holon-run/squish/pkg/backend"
)

// Outcome is how a run ended.
type Outcome string

const (
	// OutcomeSquashed means the branch now points at a new squashed commit.
	OutcomeSquashed Outcome = "squashed"
	// OutcomeNothingToSquash means the branch has no commits past its upstream.
	OutcomeNothingToSquash Outcome = "nothing-to-squash"
	// OutcomeAlreadySquashed means the branch is a single commit on its base
	// and rewriting it would change nothing.
	OutcomeAlreadySquashed Outcome = "already-squashed"
	// OutcomeDryRun means a plan was built and nothing was written.
	OutcomeDryRun Outcome = "dry-run"
	// OutcomeEmpty means the squash had no net changes and skipping empty
	// squashes was requested.
	OutcomeEmpty Outcome = "empty"
)

// Rewrites reports whether the outcome moved the branch.
func (o Outcome) Rewrites() bool {
	return o == OutcomeSquashed
}

// Result describes a finished run.
type Result struct {
	Outcome  Outcome
	Branch   plumbing.ReferenceName
	OldTip   plumbing.Hash
	NewTip   plumbing.Hash
	Base     plumbing.Hash
	Parent   plumbing.Hash
	Upstream plumbing.Hash
	// Squashed is the number of commits collapsed (or that would be).
	Squashed  int
	Rewritten bool
	Message   string
	Signed    bool
	// Author is the author the squashed commit has (or would have).
	Author backend.Signature
	// Warnings are problems that did not fail the run, e.g. a working tree
	// that could not be synced after a rebased squash.
	Warnings []string
}

// RecoveryHint returns the undo command for a rewritten branch, or "".
func (r *Result) RecoveryHint() string {
	if !r.Rewritten {
		return ""
	}
	return RecoveryHint(r.Branch, r.OldTip, r.NewTip)
}
