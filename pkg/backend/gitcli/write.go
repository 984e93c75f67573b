package gitcli

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/holon-run/squish/pkg/backend"
	"github.com/holon-run/squish/pkg/errors"
	"github.com/holon-run/squish/pkg/git"
	holonlog "github.com/holon-run/squish/pkg/log"
)

// CreateCommit writes a commit with git commit-tree. No reference moves.
func (b *Backend) CreateCommit(ctx context.Context, req backend.CommitRequest) (plumbing.Hash, error) {
	if !b.client.TreeExists(ctx, req.Tree.String()) {
		return plumbing.ZeroHash, fmt.Errorf("tree %s does not exist", req.Tree)
	}

	parents := make([]string, len(req.Parents))
	for i, p := range req.Parents {
		parents[i] = p.String()
	}

	opts := git.CommitTreeOptions{
		Tree:           req.Tree.String(),
		Parents:        parents,
		Message:        req.Message,
		Sign:           req.Signing.Enabled,
		SigningKey:     req.Signing.Key,
		AuthorName:     req.Author.Name,
		AuthorEmail:    req.Author.Email,
		CommitterName:  req.Committer.Name,
		CommitterEmail: req.Committer.Email,
	}
	if !req.Author.When.IsZero() {
		opts.AuthorDate = git.FormatDate(req.Author.When)
	}
	if !req.Committer.When.IsZero() {
		opts.CommitterDate = git.FormatDate(req.Committer.When)
	}

	out, err := b.client.CommitTree(ctx, opts)
	if err != nil {
		if ctx.Err() != nil {
			return plumbing.ZeroHash, err
		}
		if req.Signing.Enabled {
			return plumbing.ZeroHash, fmt.Errorf("%w: %v", errors.ErrSigningFailed, err)
		}
		if isPermissionError(err) {
			return plumbing.ZeroHash, fmt.Errorf("%w: %v", errors.ErrPermissionDenied, err)
		}
		return plumbing.ZeroHash, fmt.Errorf("failed to create commit: %w", err)
	}

	hash, err := parseHash(out)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	holonlog.Debug("created commit", "hash", hash.String(), "tree", req.Tree.String(), "signed", req.Signing.Enabled)
	return hash, nil
}

// CompareAndSwapRef runs git update-ref with an expected old value, which
// git applies under its ref lock as one transaction.
func (b *Backend) CompareAndSwapRef(ctx context.Context, name plumbing.ReferenceName, newHash, oldHash plumbing.Hash, reason string) error {
	err := b.client.UpdateRef(ctx, name.String(), newHash.String(), oldHash.String(), reason)
	if err == nil {
		holonlog.Debug("reference updated", "ref", name.String(), "old", oldHash.String(), "new", newHash.String(), "reason", reason)
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	switch {
	case isStaleRefError(err):
		return fmt.Errorf("%w: %v", errors.ErrConcurrentModification, err)
	case isPermissionError(err):
		return fmt.Errorf("%w: %v", errors.ErrPermissionDenied, err)
	case isHookRejection(err):
		return fmt.Errorf("%w: %v", errors.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("failed to update %s: %w", name, err)
	}
}

// MergeTree merges theirs into ours with git merge-tree --write-tree.
func (b *Backend) MergeTree(ctx context.Context, base, ours, theirs plumbing.Hash) (plumbing.Hash, error) {
	version, err := b.client.Version(ctx)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if !git.SupportsMergeTree(version) {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s cannot merge without a worktree (need git 2.40+)", errors.ErrUnsupported, version)
	}

	tree, conflicted, err := b.client.MergeTree(ctx, base.String(), ours.String(), theirs.String())
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to merge: %w", err)
	}
	if conflicted {
		return plumbing.ZeroHash, errors.ErrConflict
	}
	return parseHash(tree)
}

// SyncWorktree updates the index and working tree when branch is checked
// out. Other branches and bare repositories need nothing.
func (b *Backend) SyncWorktree(ctx context.Context, branch plumbing.ReferenceName, oldTip, newTip plumbing.Hash) error {
	bare, err := b.client.IsBare(ctx)
	if err != nil || bare {
		return err
	}
	head, err := b.client.SymbolicRef(ctx, "HEAD")
	if err != nil {
		return err
	}
	if head != branch.String() {
		return nil
	}
	if err := b.client.ReadTree(ctx, oldTip.String(), newTip.String()); err != nil {
		return fmt.Errorf("failed to update working tree: %w", err)
	}
	return nil
}

func stderrOf(err error) string {
	var cmdErr *git.CommandError
	if errors.As(err, &cmdErr) {
		return strings.ToLower(cmdErr.Stderr)
	}
	return strings.ToLower(err.Error())
}

func isStaleRefError(err error) bool {
	msg := stderrOf(err)
	return strings.Contains(msg, "but expected") ||
		strings.Contains(msg, "file exists") ||
		strings.Contains(msg, "reference already exists") ||
		strings.Contains(msg, "unable to resolve reference")
}

func isPermissionError(err error) bool {
	return strings.Contains(stderrOf(err), "permission denied")
}

func isHookRejection(err error) bool {
	return strings.Contains(stderrOf(err), "hook")
}
