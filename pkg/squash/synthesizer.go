package squash

import (
	"context"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/holon-run/squish/pkg/backend"
	"github.com/holon-run/squish/pkg/errors"
)

// Synthesizer writes the squashed commit object. It never moves a reference
// and never rewrites an existing object.
type Synthesizer struct {
	backend backend.Backend
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(b backend.Backend) *Synthesizer {
	return &Synthesizer{backend: b}
}

// Synthesize creates the commit described by plan and returns its id.
func (s *Synthesizer) Synthesize(ctx context.Context, plan *Plan) (plumbing.Hash, error) {
	hash, err := s.backend.CreateCommit(ctx, plan.Request())
	if err != nil {
		return plumbing.ZeroHash, errors.Wrapf(err, "create squashed commit on %s", backend.ShortHash(plan.Parent))
	}
	return hash, nil
}

// IsEmpty reports whether the plan's tree equals its parent's tree, i.e.
// the squash has no net changes.
func (s *Synthesizer) IsEmpty(ctx context.Context, plan *Plan) (bool, error) {
	parent, err := s.backend.Commit(ctx, plan.Parent)
	if err != nil {
		return false, err
	}
	return parent.Tree == plan.Tree, nil
}
