// Package git wraps the system git binary. It provides the plumbing commands
// the git backend needs (rev-parse, merge-base, commit-tree, update-ref,
// merge-tree, read-tree, ...) behind a small typed API, plus identity
// resolution helpers shared by both backends.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Client runs git commands in a working directory.
type Client struct {
	// Dir is the directory git runs in.
	Dir string

	// Env is appended to the process environment of every command.
	Env []string

	// Binary is the git executable; empty means "git" from PATH.
	Binary string
}

// NewClient creates a client for dir.
func NewClient(dir string) *Client {
	return &Client{Dir: dir}
}

// CommandError is returned when git exits non-zero.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), msg)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// exitCode returns the exit status of a failed git command, or -1.
func exitCode(err error) int {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitCode
	}
	return -1
}

// run executes git with args and returns stdout without trailing newlines.
func (c *Client) run(ctx context.Context, stdin io.Reader, env []string, args ...string) (string, error) {
	out, err := c.output(ctx, stdin, env, args...)
	return strings.TrimRight(out, "\n"), err
}

// output executes git with args and returns stdout verbatim.
func (c *Client) output(ctx context.Context, stdin io.Reader, env []string, args ...string) (string, error) {
	binary := c.Binary
	if binary == "" {
		binary = "git"
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = c.Dir
	cmd.Stdin = stdin
	if len(c.Env) > 0 || len(env) > 0 {
		cmd.Env = append(append(os.Environ(), c.Env...), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return "", &CommandError{Args: args, ExitCode: code, Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}

// Version returns the output of git --version.
func (c *Client) Version(ctx context.Context) (string, error) {
	return c.run(ctx, nil, nil, "--version")
}

// IsRepo reports whether Dir is inside a git repository.
func (c *Client) IsRepo(ctx context.Context) bool {
	_, err := c.run(ctx, nil, nil, "rev-parse", "--git-dir")
	return err == nil
}

// GitDir returns the absolute path of the repository's git directory.
func (c *Client) GitDir(ctx context.Context) (string, error) {
	return c.run(ctx, nil, nil, "rev-parse", "--absolute-git-dir")
}

// IsBare reports whether the repository has no working tree.
func (c *Client) IsBare(ctx context.Context) (bool, error) {
	out, err := c.run(ctx, nil, nil, "rev-parse", "--is-bare-repository")
	if err != nil {
		return false, err
	}
	return out == "true", nil
}

// RevParse resolves spec to a full commit id, peeling tags. ok is false when
// spec does not name a commit.
func (c *Client) RevParse(ctx context.Context, spec string) (hash string, ok bool, err error) {
	out, err := c.run(ctx, nil, nil, "rev-parse", "--verify", "--quiet", "--end-of-options", spec+"^{commit}")
	if err != nil {
		if exitCode(err) == 1 || exitCode(err) == 128 {
			return "", false, nil
		}
		return "", false, err
	}
	return out, true, nil
}

// RefExists reports whether the fully-qualified ref exists.
func (c *Client) RefExists(ctx context.Context, ref string) (bool, error) {
	_, err := c.run(ctx, nil, nil, "show-ref", "--verify", "--quiet", ref)
	if err != nil {
		if exitCode(err) == 1 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SymbolicRef returns the target of a symbolic ref such as HEAD, or "" when
// the ref is detached.
func (c *Client) SymbolicRef(ctx context.Context, name string) (string, error) {
	out, err := c.run(ctx, nil, nil, "symbolic-ref", "-q", name)
	if err != nil {
		if exitCode(err) == 1 {
			return "", nil
		}
		return "", err
	}
	return out, nil
}

// BranchesAt lists the local branches pointing at hash.
func (c *Client) BranchesAt(ctx context.Context, hash string) ([]string, error) {
	out, err := c.run(ctx, nil, nil, "for-each-ref", "--points-at", hash, "--format=%(refname)", "refs/heads/")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// ConfigGet reads a git config value. Unset keys return "".
func (c *Client) ConfigGet(ctx context.Context, key string) (string, error) {
	out, err := c.run(ctx, nil, nil, "config", "--get", key)
	if err != nil {
		if exitCode(err) == 1 {
			return "", nil
		}
		return "", err
	}
	return out, nil
}

// ConfigGetBool reads a boolean git config value. Unset keys return false.
func (c *Client) ConfigGetBool(ctx context.Context, key string) (bool, error) {
	out, err := c.run(ctx, nil, nil, "config", "--type=bool", "--get", key)
	if err != nil {
		if exitCode(err) == 1 {
			return false, nil
		}
		return false, err
	}
	return out == "true", nil
}

// Status returns porcelain status lines for tracked files.
func (c *Client) Status(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, nil, nil, "status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// UnmergedPaths lists index paths with conflict stages.
func (c *Client) UnmergedPaths(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, nil, nil, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// MergeBase returns the best common ancestor of a and b. ok is false when
// the histories are unrelated.
func (c *Client) MergeBase(ctx context.Context, a, b string) (base string, ok bool, err error) {
	out, err := c.run(ctx, nil, nil, "merge-base", a, b)
	if err != nil {
		if exitCode(err) == 1 {
			return "", false, nil
		}
		return "", false, err
	}
	return out, true, nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (c *Client) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	_, err := c.run(ctx, nil, nil, "merge-base", "--is-ancestor", ancestor, descendant)
	if err != nil {
		if exitCode(err) == 1 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RevList returns the commits reachable from tip and not from base, oldest
// first. An empty base lists the whole history of tip.
func (c *Client) RevList(ctx context.Context, base, tip string) ([]string, error) {
	args := []string{"rev-list", "--reverse", tip}
	if base != "" {
		args = append(args, "^"+base)
	}
	out, err := c.run(ctx, nil, nil, args...)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// CatCommit returns the raw commit object for hash.
func (c *Client) CatCommit(ctx context.Context, hash string) (*RawCommit, error) {
	out, err := c.output(ctx, nil, nil, "cat-file", "commit", hash)
	if err != nil {
		return nil, err
	}
	raw, err := ParseCommit(out)
	if err != nil {
		return nil, fmt.Errorf("failed to parse commit %s: %w", hash, err)
	}
	raw.Hash = hash
	return raw, nil
}

// TreeExists reports whether hash names a tree object.
func (c *Client) TreeExists(ctx context.Context, hash string) bool {
	out, err := c.run(ctx, nil, nil, "cat-file", "-t", hash)
	return err == nil && out == "tree"
}

// CommitTreeOptions configures git commit-tree.
type CommitTreeOptions struct {
	Tree    string
	Parents []string
	Message string

	// Sign passes -S (with SigningKey when set); otherwise --no-gpg-sign
	// overrides commit.gpgsign.
	Sign       bool
	SigningKey string

	AuthorName     string
	AuthorEmail    string
	AuthorDate     string
	CommitterName  string
	CommitterEmail string
	CommitterDate  string
}

// CommitTree creates a commit object without touching any ref.
func (c *Client) CommitTree(ctx context.Context, opts CommitTreeOptions) (string, error) {
	args := []string{"commit-tree"}
	for _, p := range opts.Parents {
		args = append(args, "-p", p)
	}
	if opts.Sign {
		if opts.SigningKey != "" {
			args = append(args, "-S"+opts.SigningKey)
		} else {
			args = append(args, "-S")
		}
	} else {
		args = append(args, "--no-gpg-sign")
	}
	args = append(args, "-F", "-", opts.Tree)

	env := identityEnv(opts)
	return c.run(ctx, strings.NewReader(opts.Message), env, args...)
}

func identityEnv(opts CommitTreeOptions) []string {
	var env []string
	add := func(key, value string) {
		if value != "" {
			env = append(env, key+"="+value)
		}
	}
	add("GIT_AUTHOR_NAME", opts.AuthorName)
	add("GIT_AUTHOR_EMAIL", opts.AuthorEmail)
	add("GIT_AUTHOR_DATE", opts.AuthorDate)
	add("GIT_COMMITTER_NAME", opts.CommitterName)
	add("GIT_COMMITTER_EMAIL", opts.CommitterEmail)
	add("GIT_COMMITTER_DATE", opts.CommitterDate)
	return env
}

// UpdateRef moves ref to newHash only if it currently points at oldHash.
func (c *Client) UpdateRef(ctx context.Context, ref, newHash, oldHash, reason string) error {
	args := []string{"update-ref"}
	if reason != "" {
		args = append(args, "-m", reason)
	}
	args = append(args, ref, newHash, oldHash)
	_, err := c.run(ctx, nil, nil, args...)
	return err
}

// MergeTree performs a three-way merge of ours and theirs against base
// without touching the index or working tree. It returns the resulting tree
// and whether the merge had conflicts. Requires git 2.40 or newer.
func (c *Client) MergeTree(ctx context.Context, base, ours, theirs string) (tree string, conflicted bool, err error) {
	out, err := c.run(ctx, nil, nil, "merge-tree", "--write-tree", "--no-messages", "--merge-base="+base, ours, theirs)
	if err != nil {
		if exitCode(err) == 1 {
			return "", true, nil
		}
		return "", false, err
	}
	lines := splitLines(out)
	if len(lines) == 0 {
		return "", false, fmt.Errorf("git merge-tree produced no tree")
	}
	return lines[0], false, nil
}

// ReadTree moves the index and working tree from oldTree to newTree,
// keeping local changes that do not conflict (git read-tree -m -u).
func (c *Client) ReadTree(ctx context.Context, oldTree, newTree string) error {
	_, err := c.run(ctx, nil, nil, "read-tree", "-m", "-u", oldTree, newTree)
	return err
}

func splitLines(out string) []string {
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}
