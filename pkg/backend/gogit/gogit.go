// Package gogit implements backend.Backend in-process on top of go-git.
package gogit

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/holon-run/squish/pkg/backend"
	"github.com/holon-run/squish/pkg/errors"
	holonlog "github.com/holon-run/squish/pkg/log"
)

// Name is the backend identifier.
const Name = "gogit"

// inProgressMarkers are the files and directories git leaves behind while an
// operation is stopped half-way.
var inProgressMarkers = []string{
	"MERGE_HEAD",
	"REBASE_HEAD",
	"CHERRY_PICK_HEAD",
	"REVERT_HEAD",
	"BISECT_LOG",
	"rebase-merge",
	"rebase-apply",
}

// Options configures the go-git backend.
type Options struct {
	// SigningKeyring is an OpenPGP keyring file (armored or binary) holding
	// the private signing key. go-git cannot talk to gpg-agent.
	SigningKeyring string

	// Passphrase decrypts an encrypted signing key.
	Passphrase string
}

// Backend is a backend.Backend backed by a go-git repository.
type Backend struct {
	repo *git.Repository
	opts Options
}

var _ backend.Backend = (*Backend)(nil)

// Open opens the repository containing dir.
func Open(dir string, opts Options) (*Backend, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		if err == git.ErrRepositoryNotExists {
			return nil, fmt.Errorf("%s is not a git repository", dir)
		}
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	return New(repo, opts), nil
}

// New wraps an already opened repository.
func New(repo *git.Repository, opts Options) *Backend {
	return &Backend{repo: repo, opts: opts}
}

// Name returns "gogit".
func (b *Backend) Name() string {
	return Name
}

// Repository exposes the underlying go-git repository.
func (b *Backend) Repository() *git.Repository {
	return b.repo
}

// ResolveRevision resolves spec to a commit, peeling tags.
func (b *Backend) ResolveRevision(ctx context.Context, spec string) (plumbing.Hash, error) {
	if err := ctx.Err(); err != nil {
		return plumbing.ZeroHash, err
	}
	if strings.TrimSpace(spec) == "" {
		return plumbing.ZeroHash, errors.NewRefError("resolve", spec, errors.ErrUnresolvedReference)
	}

	hash, err := b.repo.ResolveRevision(plumbing.Revision(spec))
	if err != nil {
		holonlog.Debug("revision did not resolve", "spec", spec, "error", err)
		return plumbing.ZeroHash, errors.NewRefError("resolve", spec, errors.ErrUnresolvedReference)
	}
	return *hash, nil
}

// ResolveBranch resolves a local branch by short or full name.
func (b *Backend) ResolveBranch(ctx context.Context, name string) (plumbing.ReferenceName, plumbing.Hash, error) {
	if err := ctx.Err(); err != nil {
		return "", plumbing.ZeroHash, err
	}
	refName := backend.BranchRef(name)
	if !refName.IsBranch() {
		return "", plumbing.ZeroHash, errors.NewRefError("resolve branch", name, errors.ErrUnresolvedReference)
	}

	ref, err := b.repo.Reference(refName, true)
	if err != nil {
		return "", plumbing.ZeroHash, errors.NewRefError("resolve branch", name, errors.ErrUnresolvedReference)
	}
	return refName, ref.Hash(), nil
}

// CurrentBranch returns the branch HEAD points at.
func (b *Backend) CurrentBranch(ctx context.Context) (plumbing.ReferenceName, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	head, err := b.repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	if head.Type() == plumbing.SymbolicReference {
		if head.Target().IsBranch() {
			return head.Target(), nil
		}
		return "", errors.ErrDetachedHead
	}

	// Detached: fall back to the single local branch at HEAD's commit
	var matches []plumbing.ReferenceName
	iter, err := b.repo.Branches()
	if err != nil {
		return "", fmt.Errorf("failed to list branches: %w", err)
	}
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Hash() == head.Hash() {
			matches = append(matches, ref.Name())
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to list branches: %w", err)
	}
	if len(matches) != 1 {
		return "", errors.ErrDetachedHead
	}
	holonlog.Debug("HEAD is detached, using branch at HEAD", "branch", matches[0].String())
	return matches[0], nil
}

// WorktreeClean reports whether tracked files match HEAD.
func (b *Backend) WorktreeClean(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	wt, err := b.repo.Worktree()
	if err == git.ErrIsBareRepository {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get worktree: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("failed to get status: %w", err)
	}
	for path, fs := range status {
		if fs.Staging == git.Untracked && fs.Worktree == git.Untracked {
			continue
		}
		if fs.Staging != git.Unmodified || fs.Worktree != git.Unmodified {
			holonlog.Debug("worktree modification", "path", path,
				"staging", string(fs.Staging), "worktree", string(fs.Worktree))
			return false, nil
		}
	}
	return true, nil
}

// InProgressOperation looks for operation markers and unmerged index entries.
func (b *Backend) InProgressOperation(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if fs := b.dotGit(); fs != nil {
		for _, marker := range inProgressMarkers {
			if _, err := fs.Stat(marker); err == nil {
				return marker, nil
			}
		}
	}

	idx, err := b.repo.Storer.Index()
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read index: %w", err)
	}
	for _, entry := range idx.Entries {
		// Resolved entries are stage 0; go-git's index.Merged constant is 1.
		if entry.Stage >= index.AncestorMode {
			return "unmerged path " + entry.Name, nil
		}
	}
	return "", nil
}

// Commit reads commit metadata.
func (b *Backend) Commit(ctx context.Context, hash plumbing.Hash) (*backend.Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := b.repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", hash, err)
	}
	return toCommit(c), nil
}

// MergeBase returns the best common ancestor of a and b. When go-git reports
// several (criss-cross merges), the one with the newest committer time wins
// and equal times fall back to the lowest hash.
func (b *Backend) MergeBase(ctx context.Context, a, bb plumbing.Hash) (plumbing.Hash, bool, error) {
	if err := ctx.Err(); err != nil {
		return plumbing.ZeroHash, false, err
	}
	ca, err := b.repo.CommitObject(a)
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("failed to read commit %s: %w", a, err)
	}
	cb, err := b.repo.CommitObject(bb)
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("failed to read commit %s: %w", bb, err)
	}

	bases, err := ca.MergeBase(cb)
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("failed to compute merge base: %w", err)
	}
	if len(bases) == 0 {
		return plumbing.ZeroHash, false, nil
	}

	sort.Slice(bases, func(i, j int) bool {
		ti, tj := bases[i].Committer.When, bases[j].Committer.When
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return bases[i].Hash.String() < bases[j].Hash.String()
	})
	if len(bases) > 1 {
		holonlog.Debug("multiple merge bases", "count", len(bases), "chosen", bases[0].Hash.String())
	}
	return bases[0].Hash, true, nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (b *Backend) IsAncestor(ctx context.Context, ancestor, descendant plumbing.Hash) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if ancestor == descendant {
		return true, nil
	}
	ca, err := b.repo.CommitObject(ancestor)
	if err != nil {
		return false, fmt.Errorf("failed to read commit %s: %w", ancestor, err)
	}
	cd, err := b.repo.CommitObject(descendant)
	if err != nil {
		return false, fmt.Errorf("failed to read commit %s: %w", descendant, err)
	}
	return ca.IsAncestor(cd)
}

// Range lists commits reachable from tip and not from base, oldest first.
func (b *Backend) Range(ctx context.Context, base, tip plumbing.Hash) ([]*backend.Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hidden := make(map[plumbing.Hash]bool)
	if !base.IsZero() {
		baseCommit, err := b.repo.CommitObject(base)
		if err != nil {
			return nil, fmt.Errorf("failed to read commit %s: %w", base, err)
		}
		err = object.NewCommitPreorderIter(baseCommit, nil, nil).ForEach(func(c *object.Commit) error {
			hidden[c.Hash] = true
			return ctx.Err()
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk history of %s: %w", base, err)
		}
	}

	tipCommit, err := b.repo.CommitObject(tip)
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", tip, err)
	}

	var newestFirst []*backend.Commit
	err = object.NewCommitIterCTime(tipCommit, hidden, nil).ForEach(func(c *object.Commit) error {
		newestFirst = append(newestFirst, toCommit(c))
		return ctx.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk history of %s: %w", tip, err)
	}

	commits := make([]*backend.Commit, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		commits = append(commits, newestFirst[i])
	}
	return commits, nil
}

// Settings reads identity and signing configuration from the merged
// system, global and repository git config.
func (b *Backend) Settings(ctx context.Context) (backend.Settings, error) {
	if err := ctx.Err(); err != nil {
		return backend.Settings{}, err
	}
	cfg, err := b.repo.ConfigScoped(config.SystemScope)
	if err != nil {
		return backend.Settings{}, fmt.Errorf("failed to read git config: %w", err)
	}

	settings := backend.Settings{
		UserName:  cfg.User.Name,
		UserEmail: cfg.User.Email,
	}
	if cfg.Raw != nil {
		settings.Sign = parseBool(cfg.Raw.Section("commit").Option("gpgsign"))
		settings.SigningKey = cfg.Raw.Section("user").Option("signingkey")
		settings.SigningFormat = cfg.Raw.Section("gpg").Option("format")
	}
	return settings, nil
}

// dotGit returns the filesystem of the .git directory, or nil for
// non-filesystem storage.
func (b *Backend) dotGit() billy.Filesystem {
	if fs, ok := b.repo.Storer.(*filesystem.Storage); ok {
		return fs.Filesystem()
	}
	return nil
}

func toCommit(c *object.Commit) *backend.Commit {
	parents := make([]plumbing.Hash, len(c.ParentHashes))
	copy(parents, c.ParentHashes)
	return &backend.Commit{
		Hash:      c.Hash,
		Tree:      c.TreeHash,
		Parents:   parents,
		Author:    fromSignature(c.Author),
		Committer: fromSignature(c.Committer),
		Message:   c.Message,
		Signed:    c.PGPSignature != "",
	}
}

func fromSignature(s object.Signature) backend.Signature {
	return backend.Signature{Name: s.Name, Email: s.Email, When: s.When}
}

func toSignature(s backend.Signature) object.Signature {
	return object.Signature{Name: s.Name, Email: s.Email, When: s.When}
}

// parseBool follows git's boolean config syntax.
func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "on", "1":
		return true
	default:
		return false
	}
}
