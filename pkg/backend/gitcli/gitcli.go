// Package gitcli implements backend.Backend by shelling out to the system git
// binary. Unlike the go-git backend it supports every signing format git
// supports (gpg-agent, ssh, x509), hooks on ref updates, and three-way merges.
package gitcli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/holon-run/squish/pkg/backend"
	"github.com/holon-run/squish/pkg/errors"
	"github.com/holon-run/squish/pkg/git"
	holonlog "github.com/holon-run/squish/pkg/log"
)

// Name is the backend identifier.
const Name = "git"

var inProgressMarkers = []string{
	"MERGE_HEAD",
	"REBASE_HEAD",
	"CHERRY_PICK_HEAD",
	"REVERT_HEAD",
	"BISECT_LOG",
	"rebase-merge",
	"rebase-apply",
}

// Options configures the git backend.
type Options struct {
	// Binary is the git executable; empty means "git" from PATH.
	Binary string
}

// Backend is a backend.Backend backed by the git binary.
type Backend struct {
	client *git.Client
}

var (
	_ backend.Backend = (*Backend)(nil)
	_ backend.Merger  = (*Backend)(nil)
)

// Open returns a backend for the repository containing dir.
func Open(ctx context.Context, dir string, opts Options) (*Backend, error) {
	client := git.NewClient(dir)
	client.Binary = opts.Binary
	if !client.IsRepo(ctx) {
		return nil, fmt.Errorf("%s is not a git repository", dir)
	}
	return &Backend{client: client}, nil
}

// Name returns "git".
func (b *Backend) Name() string {
	return Name
}

// Client exposes the underlying git client.
func (b *Backend) Client() *git.Client {
	return b.client
}

// ResolveRevision resolves spec to a commit, peeling tags.
func (b *Backend) ResolveRevision(ctx context.Context, spec string) (plumbing.Hash, error) {
	if strings.TrimSpace(spec) == "" {
		return plumbing.ZeroHash, errors.NewRefError("resolve", spec, errors.ErrUnresolvedReference)
	}
	out, ok, err := b.client.RevParse(ctx, spec)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if !ok {
		return plumbing.ZeroHash, errors.NewRefError("resolve", spec, errors.ErrUnresolvedReference)
	}
	return parseHash(out)
}

// ResolveBranch resolves a local branch by short or full name.
func (b *Backend) ResolveBranch(ctx context.Context, name string) (plumbing.ReferenceName, plumbing.Hash, error) {
	refName := backend.BranchRef(name)
	if !refName.IsBranch() {
		return "", plumbing.ZeroHash, errors.NewRefError("resolve branch", name, errors.ErrUnresolvedReference)
	}
	exists, err := b.client.RefExists(ctx, refName.String())
	if err != nil {
		return "", plumbing.ZeroHash, err
	}
	if !exists {
		return "", plumbing.ZeroHash, errors.NewRefError("resolve branch", name, errors.ErrUnresolvedReference)
	}
	hash, err := b.ResolveRevision(ctx, refName.String())
	if err != nil {
		return "", plumbing.ZeroHash, errors.NewRefError("resolve branch", name, errors.ErrUnresolvedReference)
	}
	return refName, hash, nil
}

// CurrentBranch returns the branch HEAD points at, falling back to the single
// local branch at a detached HEAD.
func (b *Backend) CurrentBranch(ctx context.Context) (plumbing.ReferenceName, error) {
	target, err := b.client.SymbolicRef(ctx, "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	if target != "" {
		ref := plumbing.ReferenceName(target)
		if !ref.IsBranch() {
			return "", errors.ErrDetachedHead
		}
		return ref, nil
	}

	head, ok, err := b.client.RevParse(ctx, "HEAD")
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.ErrDetachedHead
	}
	branches, err := b.client.BranchesAt(ctx, head)
	if err != nil {
		return "", fmt.Errorf("failed to list branches: %w", err)
	}
	if len(branches) != 1 {
		return "", errors.ErrDetachedHead
	}
	holonlog.Debug("HEAD is detached, using branch at HEAD", "branch", branches[0])
	return plumbing.ReferenceName(branches[0]), nil
}

// WorktreeClean reports whether tracked files match HEAD.
func (b *Backend) WorktreeClean(ctx context.Context) (bool, error) {
	bare, err := b.client.IsBare(ctx)
	if err != nil {
		return false, err
	}
	if bare {
		return true, nil
	}
	lines, err := b.client.Status(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get status: %w", err)
	}
	if len(lines) > 0 {
		holonlog.Debug("worktree modification", "status", lines[0], "count", len(lines))
		return false, nil
	}
	return true, nil
}

// InProgressOperation looks for operation markers and unmerged paths.
func (b *Backend) InProgressOperation(ctx context.Context) (string, error) {
	gitDir, err := b.client.GitDir(ctx)
	if err != nil {
		return "", err
	}
	for _, marker := range inProgressMarkers {
		if _, err := os.Stat(filepath.Join(gitDir, marker)); err == nil {
			return marker, nil
		}
	}

	bare, err := b.client.IsBare(ctx)
	if err != nil || bare {
		return "", err
	}
	unmerged, err := b.client.UnmergedPaths(ctx)
	if err != nil {
		return "", err
	}
	if len(unmerged) > 0 {
		return "unmerged path " + unmerged[0], nil
	}
	return "", nil
}

// Commit reads commit metadata.
func (b *Backend) Commit(ctx context.Context, hash plumbing.Hash) (*backend.Commit, error) {
	raw, err := b.client.CatCommit(ctx, hash.String())
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", hash, err)
	}
	return toCommit(raw)
}

// MergeBase returns git's merge base of a and b.
func (b *Backend) MergeBase(ctx context.Context, a, bb plumbing.Hash) (plumbing.Hash, bool, error) {
	out, ok, err := b.client.MergeBase(ctx, a.String(), bb.String())
	if err != nil || !ok {
		return plumbing.ZeroHash, false, err
	}
	base, err := parseHash(out)
	return base, err == nil, err
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (b *Backend) IsAncestor(ctx context.Context, ancestor, descendant plumbing.Hash) (bool, error) {
	return b.client.IsAncestor(ctx, ancestor.String(), descendant.String())
}

// Range lists commits reachable from tip and not from base, oldest first.
func (b *Backend) Range(ctx context.Context, base, tip plumbing.Hash) ([]*backend.Commit, error) {
	from := ""
	if !base.IsZero() {
		from = base.String()
	}
	hashes, err := b.client.RevList(ctx, from, tip.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list commits: %w", err)
	}
	commits := make([]*backend.Commit, 0, len(hashes))
	for _, h := range hashes {
		hash, err := parseHash(h)
		if err != nil {
			return nil, err
		}
		c, err := b.Commit(ctx, hash)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	return commits, nil
}

// Settings reads identity and signing configuration through git config.
func (b *Backend) Settings(ctx context.Context) (backend.Settings, error) {
	var s backend.Settings
	var err error
	if s.UserName, err = b.client.ConfigGet(ctx, "user.name"); err != nil {
		return s, err
	}
	if s.UserEmail, err = b.client.ConfigGet(ctx, "user.email"); err != nil {
		return s, err
	}
	if s.Sign, err = b.client.ConfigGetBool(ctx, "commit.gpgsign"); err != nil {
		return s, err
	}
	if s.SigningKey, err = b.client.ConfigGet(ctx, "user.signingkey"); err != nil {
		return s, err
	}
	if s.SigningFormat, err = b.client.ConfigGet(ctx, "gpg.format"); err != nil {
		return s, err
	}
	return s, nil
}

func toCommit(raw *git.RawCommit) (*backend.Commit, error) {
	hash, err := parseHash(raw.Hash)
	if err != nil {
		return nil, err
	}
	tree, err := parseHash(raw.Tree)
	if err != nil {
		return nil, err
	}
	parents := make([]plumbing.Hash, 0, len(raw.Parents))
	for _, p := range raw.Parents {
		ph, err := parseHash(p)
		if err != nil {
			return nil, err
		}
		parents = append(parents, ph)
	}
	return &backend.Commit{
		Hash:      hash,
		Tree:      tree,
		Parents:   parents,
		Author:    backend.Signature{Name: raw.Author.Name, Email: raw.Author.Email, When: raw.Author.When},
		Committer: backend.Signature{Name: raw.Committer.Name, Email: raw.Committer.Email, When: raw.Committer.When},
		Message:   raw.Message,
		Signed:    raw.Signed,
	}, nil
}

// parseHash accepts only SHA-1 object ids.
func parseHash(s string) (plumbing.Hash, error) {
	s = strings.TrimSpace(s)
	if len(s) != 40 || !plumbing.IsHash(s) {
		return plumbing.ZeroHash, fmt.Errorf("%w: object id %q is not SHA-1", errors.ErrUnsupported, s)
	}
	return plumbing.NewHash(s), nil
}
