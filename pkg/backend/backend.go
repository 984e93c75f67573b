// Package backend defines the contract between the squash core and the
// version-control system that owns objects, references and the working tree.
//
// Two implementations exist: gogit (in-process, github.com/go-git/go-git/v5)
// and gitcli (the system git binary). The core never touches repository state
// except through this interface, so every object it produces is written by a
// battle-tested object store and every reference move is a single
// compare-and-swap performed by the backend.
package backend

import (
	"context"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
)

// Signature identifies an author or committer at a point in time.
type Signature struct {
	Name  string    `json:"name" yaml:"name"`
	Email string    `json:"email" yaml:"email"`
	When  time.Time `json:"when" yaml:"when"`
}

// Commit is the read-only metadata of one commit object.
type Commit struct {
	Hash      plumbing.Hash
	Tree      plumbing.Hash
	Parents   []plumbing.Hash
	Author    Signature
	Committer Signature
	Message   string
	Signed    bool
}

// Subject returns the first line of the commit message.
func (c *Commit) Subject() string {
	subject, _, _ := strings.Cut(strings.TrimLeft(c.Message, "\n"), "\n")
	return strings.TrimSpace(subject)
}

// CommitRequest describes a commit the backend should create.
type CommitRequest struct {
	Tree      plumbing.Hash
	Parents   []plumbing.Hash
	Author    Signature
	Committer Signature
	Message   string
	Signing   Signing
}

// Signing is the signing decision forwarded to the backend. The core decides
// whether to sign from ambient configuration; the backend owns the machinery.
type Signing struct {
	Enabled bool
	// Key selects the signing key (git user.signingkey). Empty means the
	// backend default for the committer identity.
	Key string
	// Format is the git gpg.format value ("openpgp", "ssh", "x509").
	Format string
}

// Settings is the ambient configuration the backend exposes to the core.
type Settings struct {
	// UserName and UserEmail come from git user.name and user.email.
	UserName  string
	UserEmail string
	// Sign mirrors git commit.gpgsign.
	Sign bool
	// SigningKey mirrors git user.signingkey.
	SigningKey string
	// SigningFormat mirrors git gpg.format.
	SigningFormat string
}

// Backend is the repository accessor used by the squash core.
type Backend interface {
	// Name returns the backend identifier ("gogit" or "git").
	Name() string

	// ResolveRevision resolves a branch, tag, remote-tracking ref or commit
	// id to a commit. Tags are peeled. Failures wrap ErrUnresolvedReference.
	ResolveRevision(ctx context.Context, spec string) (plumbing.Hash, error)

	// ResolveBranch resolves a short or fully-qualified local branch name.
	ResolveBranch(ctx context.Context, name string) (plumbing.ReferenceName, plumbing.Hash, error)

	// CurrentBranch returns the branch HEAD is on. When HEAD is detached and
	// exactly one local branch points at its commit, that branch is returned.
	// Otherwise the error wraps ErrDetachedHead.
	CurrentBranch(ctx context.Context) (plumbing.ReferenceName, error)

	// WorktreeClean reports whether tracked files match HEAD. Untracked files
	// are ignored. Bare repositories are always clean.
	WorktreeClean(ctx context.Context) (bool, error)

	// InProgressOperation returns the name of an interrupted operation
	// (MERGE_HEAD, REBASE_HEAD, ...) or of unmerged index paths, or "".
	InProgressOperation(ctx context.Context) (string, error)

	// Commit reads commit metadata.
	Commit(ctx context.Context, hash plumbing.Hash) (*Commit, error)

	// MergeBase returns the merge base of a and b. ok is false when the
	// histories are unrelated.
	MergeBase(ctx context.Context, a, b plumbing.Hash) (base plumbing.Hash, ok bool, err error)

	// IsAncestor reports whether ancestor is reachable from descendant.
	// A commit is its own ancestor.
	IsAncestor(ctx context.Context, ancestor, descendant plumbing.Hash) (bool, error)

	// Range returns the commits reachable from tip but not from base, oldest first.
	Range(ctx context.Context, base, tip plumbing.Hash) ([]*Commit, error)

	// CreateCommit writes a new commit object and returns its id. It never
	// moves a reference. Signing failures wrap ErrSigningFailed.
	CreateCommit(ctx context.Context, req CommitRequest) (plumbing.Hash, error)

	// CompareAndSwapRef points name at newHash only if it currently points at
	// oldHash, as one atomic conditional write. Failures wrap
	// ErrConcurrentModification or ErrPermissionDenied.
	CompareAndSwapRef(ctx context.Context, name plumbing.ReferenceName, newHash, oldHash plumbing.Hash, reason string) error

	// Settings returns the ambient identity and signing configuration.
	Settings(ctx context.Context) (Settings, error)
}

// Merger is implemented by backends that can compute three-way merges.
type Merger interface {
	// MergeTree merges theirs into ours using base as the merge base and
	// returns the resulting tree. Conflicts wrap ErrConflict.
	MergeTree(ctx context.Context, base, ours, theirs plumbing.Hash) (plumbing.Hash, error)

	// SyncWorktree moves the index and working tree of a checked-out branch
	// from the tree of oldTip to the tree of newTip.
	SyncWorktree(ctx context.Context, branch plumbing.ReferenceName, oldTip, newTip plumbing.Hash) error
}

// ShortHash returns the abbreviated form of h used in messages.
func ShortHash(h plumbing.Hash) string {
	s := h.String()
	if len(s) > 7 {
		return s[:7]
	}
	return s
}

// BranchRef turns a short or fully-qualified branch name into a reference name.
func BranchRef(name string) plumbing.ReferenceName {
	if strings.HasPrefix(name, "refs/") {
		return plumbing.ReferenceName(name)
	}
	return plumbing.NewBranchReferenceName(name)
}
