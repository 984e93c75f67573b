// Package testutil builds throwaway git repositories for tests. Repositories
// are created in-process with go-git, so tests do not need a git binary, and
// every commit gets a distinct, increasing timestamp so history order is
// deterministic.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Epoch is the timestamp of the first commit made by a Repo.
var Epoch = time.Date(2025, 8, 14, 15, 10, 43, 0, time.UTC)

// Repo is a non-bare repository in a temporary directory.
type Repo struct {
	t     testing.TB
	Dir   string
	Git   *git.Repository
	clock time.Time
}

// NewRepo initializes an empty repository whose default branch is main and
// isolates the test from the host's global git configuration.
func NewRepo(t testing.TB) *Repo {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")

	dir := t.TempDir()
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		t.Fatalf("git init failed: %v", err)
	}

	cfg, err := repo.Config()
	if err != nil {
		t.Fatalf("read config failed: %v", err)
	}
	cfg.User.Name = "Test User"
	cfg.User.Email = "test@example.com"
	if err := repo.SetConfig(cfg); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	return &Repo{t: t, Dir: dir, Git: repo, clock: Epoch}
}

// SetConfigOption sets section.key in the repository config.
func (r *Repo) SetConfigOption(section, key, value string) {
	r.t.Helper()
	cfg, err := r.Git.Config()
	if err != nil {
		r.t.Fatalf("read config failed: %v", err)
	}
	cfg.Raw.Section(section).SetOption(key, value)
	// Marshal writes the typed identity fields back over the raw section.
	if ident := identityField(cfg, section, key); ident != nil {
		*ident = value
	}
	if err := r.Git.SetConfig(cfg); err != nil {
		r.t.Fatalf("write config failed: %v", err)
	}
}

// identityField returns the typed field go-git keeps for section.key, if any.
func identityField(cfg *config.Config, section, key string) *string {
	var name, email *string
	switch section {
	case "user":
		name, email = &cfg.User.Name, &cfg.User.Email
	case "author":
		name, email = &cfg.Author.Name, &cfg.Author.Email
	case "committer":
		name, email = &cfg.Committer.Name, &cfg.Committer.Email
	default:
		return nil
	}
	switch key {
	case "name":
		return name
	case "email":
		return email
	}
	return nil
}

// WriteFile writes content to path relative to the worktree.
func (r *Repo) WriteFile(path, content string) {
	r.t.Helper()
	full := filepath.Join(r.Dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		r.t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		r.t.Fatalf("write %s failed: %v", path, err)
	}
}

// ReadFile reads path relative to the worktree.
func (r *Repo) ReadFile(path string) string {
	r.t.Helper()
	data, err := os.ReadFile(filepath.Join(r.Dir, path))
	if err != nil {
		r.t.Fatalf("read %s failed: %v", path, err)
	}
	return string(data)
}

// Commit stages everything and commits it on the current branch.
func (r *Repo) Commit(message string) plumbing.Hash {
	r.t.Helper()
	wt := r.worktree()
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		r.t.Fatalf("git add failed: %v", err)
	}

	r.clock = r.clock.Add(time.Minute)
	sig := &object.Signature{Name: "Test User", Email: "test@example.com", When: r.clock}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author:            sig,
		Committer:         sig,
		AllowEmptyCommits: true,
	})
	if err != nil {
		r.t.Fatalf("git commit failed: %v", err)
	}
	return hash
}

// CommitFile writes one file and commits it.
func (r *Repo) CommitFile(path, content, message string) plumbing.Hash {
	r.t.Helper()
	r.WriteFile(path, content)
	return r.Commit(message)
}

// Branch creates a branch at the current HEAD without switching to it.
func (r *Repo) Branch(name string) {
	r.t.Helper()
	r.SetRef(plumbing.NewBranchReferenceName(name), r.Head())
}

// Checkout switches to an existing branch.
func (r *Repo) Checkout(name string) {
	r.t.Helper()
	if err := r.worktree().Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
	}); err != nil {
		r.t.Fatalf("git checkout %s failed: %v", name, err)
	}
}

// CheckoutNew creates a branch at HEAD and switches to it.
func (r *Repo) CheckoutNew(name string) {
	r.t.Helper()
	if err := r.worktree().Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Create: true,
	}); err != nil {
		r.t.Fatalf("git checkout -b %s failed: %v", name, err)
	}
}

// Detach points HEAD directly at hash.
func (r *Repo) Detach(hash plumbing.Hash) {
	r.t.Helper()
	if err := r.Git.Storer.SetReference(plumbing.NewHashReference(plumbing.HEAD, hash)); err != nil {
		r.t.Fatalf("detach HEAD failed: %v", err)
	}
}

// Head returns the commit HEAD resolves to.
func (r *Repo) Head() plumbing.Hash {
	r.t.Helper()
	ref, err := r.Git.Head()
	if err != nil {
		r.t.Fatalf("resolve HEAD failed: %v", err)
	}
	return ref.Hash()
}

// Ref returns the value of a reference.
func (r *Repo) Ref(name plumbing.ReferenceName) plumbing.Hash {
	r.t.Helper()
	ref, err := r.Git.Reference(name, true)
	if err != nil {
		r.t.Fatalf("resolve %s failed: %v", name, err)
	}
	return ref.Hash()
}

// BranchHash returns the tip of a local branch.
func (r *Repo) BranchHash(name string) plumbing.Hash {
	r.t.Helper()
	return r.Ref(plumbing.NewBranchReferenceName(name))
}

// SetRef points a reference at hash without any checks.
func (r *Repo) SetRef(name plumbing.ReferenceName, hash plumbing.Hash) {
	r.t.Helper()
	if err := r.Git.Storer.SetReference(plumbing.NewHashReference(name, hash)); err != nil {
		r.t.Fatalf("set %s failed: %v", name, err)
	}
}

// Tag creates a lightweight tag at hash.
func (r *Repo) Tag(name string, hash plumbing.Hash) {
	r.t.Helper()
	if _, err := r.Git.CreateTag(name, hash, nil); err != nil {
		r.t.Fatalf("tag %s failed: %v", name, err)
	}
}

// AnnotatedTag creates an annotated tag at hash.
func (r *Repo) AnnotatedTag(name string, hash plumbing.Hash) {
	r.t.Helper()
	r.clock = r.clock.Add(time.Minute)
	if _, err := r.Git.CreateTag(name, hash, &git.CreateTagOptions{
		Tagger:  &object.Signature{Name: "Test User", Email: "test@example.com", When: r.clock},
		Message: "release " + name,
	}); err != nil {
		r.t.Fatalf("tag %s failed: %v", name, err)
	}
}

// RemoteBranch creates refs/remotes/<remote>/<name> at hash.
func (r *Repo) RemoteBranch(remote, name string, hash plumbing.Hash) {
	r.t.Helper()
	if _, err := r.Git.CreateRemote(&config.RemoteConfig{Name: remote, URLs: []string{"https://example.com/" + remote + ".git"}}); err != nil && err != git.ErrRemoteExists {
		r.t.Fatalf("create remote failed: %v", err)
	}
	r.SetRef(plumbing.NewRemoteReferenceName(remote, name), hash)
}

// CommitObject reads a commit.
func (r *Repo) CommitObject(hash plumbing.Hash) *object.Commit {
	r.t.Helper()
	c, err := r.Git.CommitObject(hash)
	if err != nil {
		r.t.Fatalf("read commit %s failed: %v", hash, err)
	}
	return c
}

// Tree returns the tree id of a commit.
func (r *Repo) Tree(hash plumbing.Hash) plumbing.Hash {
	r.t.Helper()
	return r.CommitObject(hash).TreeHash
}

// Orphan creates a parentless commit with one file on a new branch and
// returns to the previous HEAD.
func (r *Repo) Orphan(branch, path, content, message string) plumbing.Hash {
	r.t.Helper()
	r.WriteFile(path, content)
	wt := r.worktree()
	if _, err := wt.Add(path); err != nil {
		r.t.Fatalf("git add failed: %v", err)
	}
	idx, err := r.Git.Storer.Index()
	if err != nil {
		r.t.Fatalf("read index failed: %v", err)
	}

	// Build a tree holding only the new file from its index entry
	var entry object.TreeEntry
	for _, e := range idx.Entries {
		if e.Name == path {
			entry = object.TreeEntry{Name: path, Mode: e.Mode, Hash: e.Hash}
		}
	}
	tree := &object.Tree{Entries: []object.TreeEntry{entry}}
	treeObj := r.Git.Storer.NewEncodedObject()
	if err := tree.Encode(treeObj); err != nil {
		r.t.Fatalf("encode tree failed: %v", err)
	}
	treeHash, err := r.Git.Storer.SetEncodedObject(treeObj)
	if err != nil {
		r.t.Fatalf("store tree failed: %v", err)
	}

	r.clock = r.clock.Add(time.Minute)
	sig := object.Signature{Name: "Test User", Email: "test@example.com", When: r.clock}
	commit := &object.Commit{Author: sig, Committer: sig, Message: message, TreeHash: treeHash}
	obj := r.Git.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		r.t.Fatalf("encode commit failed: %v", err)
	}
	hash, err := r.Git.Storer.SetEncodedObject(obj)
	if err != nil {
		r.t.Fatalf("store commit failed: %v", err)
	}
	r.SetRef(plumbing.NewBranchReferenceName(branch), hash)

	// Restore the index and worktree to HEAD
	if err := wt.Reset(&git.ResetOptions{Commit: r.Head(), Mode: git.HardReset}); err != nil {
		r.t.Fatalf("reset failed: %v", err)
	}
	_ = os.Remove(filepath.Join(r.Dir, path))
	return hash
}

// WriteMarker creates a file inside .git, e.g. MERGE_HEAD.
func (r *Repo) WriteMarker(name, content string) {
	r.t.Helper()
	if err := os.WriteFile(filepath.Join(r.Dir, ".git", name), []byte(content), 0o644); err != nil {
		r.t.Fatalf("write marker failed: %v", err)
	}
}

func (r *Repo) worktree() *git.Worktree {
	r.t.Helper()
	wt, err := r.Git.Worktree()
	if err != nil {
		r.t.Fatalf("get worktree failed: %v", err)
	}
	return wt
}
