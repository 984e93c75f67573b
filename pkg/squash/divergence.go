package squash

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/holon-run/squish/pkg/backend"
	"github.com/holon-run/squish/pkg/errors"
)

// Divergence is where a branch left its upstream.
type Divergence struct {
	// Base is the merge base of SourceTip and UpstreamTip.
	Base        plumbing.Hash
	SourceTip   plumbing.Hash
	UpstreamTip plumbing.Hash
	// Ahead is the number of commits reachable from SourceTip but not Base.
	Ahead int
}

// Identical reports whether the branch and its upstream point at the same commit.
func (d Divergence) Identical() bool {
	return d.SourceTip == d.UpstreamTip
}

// NothingToSquash reports whether the branch has no commits of its own.
func (d Divergence) NothingToSquash() bool {
	return d.Identical() || d.Base == d.SourceTip
}

// Resolver locates divergence points. The merge-base algorithm itself
// belongs to the backend.
type Resolver struct {
	backend backend.Backend
}

// NewResolver creates a Resolver.
func NewResolver(b backend.Backend) *Resolver {
	return &Resolver{backend: b}
}

// Resolve computes the divergence of sourceTip from upstreamTip. Unrelated
// histories fail with ErrUnrelatedHistories.
func (r *Resolver) Resolve(ctx context.Context, sourceTip, upstreamTip plumbing.Hash) (Divergence, error) {
	d := Divergence{SourceTip: sourceTip, UpstreamTip: upstreamTip}
	if d.Identical() {
		d.Base = sourceTip
		return d, nil
	}

	base, ok, err := r.backend.MergeBase(ctx, sourceTip, upstreamTip)
	if err != nil {
		return d, fmt.Errorf("failed to compute merge base: %w", err)
	}
	if !ok {
		return d, errors.ErrUnrelatedHistories
	}
	d.Base = base

	if base != sourceTip {
		commits, err := r.backend.Range(ctx, base, sourceTip)
		if err != nil {
			return d, fmt.Errorf("failed to list commits: %w", err)
		}
		d.Ahead = len(commits)
	}
	return d, nil
}

// ValidateBase checks a caller-selected base: it must lie on the branch
// between the divergence point (inclusive) and the tip (exclusive).
func (r *Resolver) ValidateBase(ctx context.Context, d Divergence, base plumbing.Hash) error {
	if base == d.SourceTip {
		return fmt.Errorf("%w: base %s is the branch tip", errors.ErrInvalidBase, backend.ShortHash(base))
	}
	onBranch, err := r.backend.IsAncestor(ctx, base, d.SourceTip)
	if err != nil {
		return err
	}
	if !onBranch {
		return fmt.Errorf("%w: %s is not an ancestor of %s", errors.ErrInvalidBase,
			backend.ShortHash(base), backend.ShortHash(d.SourceTip))
	}
	afterFork, err := r.backend.IsAncestor(ctx, d.Base, base)
	if err != nil {
		return err
	}
	if !afterFork {
		return fmt.Errorf("%w: %s is older than the divergence point %s", errors.ErrInvalidBase,
			backend.ShortHash(base), backend.ShortHash(d.Base))
	}
	return nil
}
