package squash

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/holon-run/squish/pkg/backend"
)

// Plan is everything needed to write the squashed commit and move the
// branch. Plans are only built by NewPlan.
type Plan struct {
	Branch      plumbing.ReferenceName
	OriginalTip plumbing.Hash
	Upstream    plumbing.Hash
	// Base is the point the squashed range starts from: the divergence
	// point or a caller-selected base.
	Base plumbing.Hash
	// Parent is the parent of the new commit: Base, or the upstream tip
	// when rebasing.
	Parent    plumbing.Hash
	Tree      plumbing.Hash
	Message   string
	Commits   []*backend.Commit
	Author    backend.Signature
	Committer backend.Signature
	Sign      backend.Signing
	Rebase    bool
}

// PlanInput carries the values a Plan is built from.
type PlanInput struct {
	Branch      plumbing.ReferenceName
	OriginalTip plumbing.Hash
	Upstream    plumbing.Hash
	Base        plumbing.Hash
	Parent      plumbing.Hash
	Tree        plumbing.Hash
	Message     string
	Commits     []*backend.Commit
	Author      backend.Signature
	Committer   backend.Signature
	Sign        backend.Signing
	Rebase      bool

	// WorktreeVerified records that the working tree was checked clean.
	WorktreeVerified bool
}

// NewPlan validates in and returns a Plan. Base must be strictly ancestral
// to the original tip, the commits must be the range Base..OriginalTip
// oldest first, and the working tree must have been verified clean.
func NewPlan(in PlanInput) (*Plan, error) {
	switch {
	case !in.Branch.IsBranch():
		return nil, fmt.Errorf("plan: %q is not a local branch", in.Branch)
	case in.OriginalTip.IsZero() || in.Base.IsZero() || in.Parent.IsZero():
		return nil, fmt.Errorf("plan: tip, base and parent are required")
	case in.Base == in.OriginalTip:
		return nil, fmt.Errorf("plan: base %s is the branch tip", backend.ShortHash(in.Base))
	case len(in.Commits) == 0:
		return nil, fmt.Errorf("plan: no commits between %s and %s",
			backend.ShortHash(in.Base), backend.ShortHash(in.OriginalTip))
	case in.Commits[len(in.Commits)-1].Hash != in.OriginalTip:
		return nil, fmt.Errorf("plan: newest commit %s is not the branch tip %s",
			backend.ShortHash(in.Commits[len(in.Commits)-1].Hash), backend.ShortHash(in.OriginalTip))
	case in.Tree.IsZero():
		return nil, fmt.Errorf("plan: tree is required")
	case in.Message == "":
		return nil, fmt.Errorf("plan: message is required")
	case !in.WorktreeVerified:
		return nil, fmt.Errorf("plan: working tree was not verified clean")
	}

	commits := make([]*backend.Commit, len(in.Commits))
	copy(commits, in.Commits)
	return &Plan{
		Branch:      in.Branch,
		OriginalTip: in.OriginalTip,
		Upstream:    in.Upstream,
		Base:        in.Base,
		Parent:      in.Parent,
		Tree:        in.Tree,
		Message:     in.Message,
		Commits:     commits,
		Author:      in.Author,
		Committer:   in.Committer,
		Sign:        in.Sign,
		Rebase:      in.Rebase,
	}, nil
}

// Request turns the plan into a backend commit request.
func (p *Plan) Request() backend.CommitRequest {
	return backend.CommitRequest{
		Tree:      p.Tree,
		Parents:   []plumbing.Hash{p.Parent},
		Author:    p.Author,
		Committer: p.Committer,
		Message:   p.Message,
		Signing:   p.Sign,
	}
}
