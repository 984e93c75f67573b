package squash

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/holon-run/squish/pkg/backend"
)

// Updater repoints branches with a single compare-and-swap. It never
// retries: a moved branch means the user has to look at it again.
type Updater struct {
	backend backend.Backend
}

// NewUpdater creates an Updater.
func NewUpdater(b backend.Backend) *Updater {
	return &Updater{backend: b}
}

// Update points ref at newTip only if it still points at expectedOldTip.
func (u *Updater) Update(ctx context.Context, ref plumbing.ReferenceName, newTip, expectedOldTip plumbing.Hash, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if newTip == expectedOldTip {
		return nil
	}
	if err := u.backend.CompareAndSwapRef(ctx, ref, newTip, expectedOldTip, reason); err != nil {
		return fmt.Errorf("update %s: %w", ref.Short(), err)
	}
	return nil
}

// Reason builds the reflog message for a squash.
func Reason(plan *Plan) string {
	return fmt.Sprintf("squish: squashed %d commits onto %s", len(plan.Commits), backend.ShortHash(plan.Parent))
}

// RecoveryHint returns the command that undoes a rewrite of ref.
func RecoveryHint(ref plumbing.ReferenceName, oldTip, newTip plumbing.Hash) string {
	return fmt.Sprintf("git update-ref %s %s %s", ref, oldTip, newTip)
}

