package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setupTestRepo creates a temporary git repository with one commit on main.
func setupTestRepo(t *testing.T) string {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")

	tmpDir := t.TempDir()
	gitRun(t, tmpDir, "init", "-b", "main")
	gitRun(t, tmpDir, "config", "user.name", "Test User")
	gitRun(t, tmpDir, "config", "user.email", "test@example.com")
	gitRun(t, tmpDir, "config", "commit.gpgsign", "false")

	writeFile(t, tmpDir, "README.md", "test readme\n")
	gitRun(t, tmpDir, "add", "README.md")
	gitRun(t, tmpDir, "commit", "-m", "initial commit")

	return tmpDir
}

// gitRun runs git in dir and fails the test on error.
func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v, output: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func commitFile(t *testing.T, dir, name, content, message string) string {
	t.Helper()
	writeFile(t, dir, name, content)
	gitRun(t, dir, "add", name)
	gitRun(t, dir, "commit", "-m", message)
	return gitRun(t, dir, "rev-parse", "HEAD")
}

func TestClient_IsRepo(t *testing.T) {
	ctx := context.Background()

	t.Run("valid git repository", func(t *testing.T) {
		repoDir := setupTestRepo(t)
		client := NewClient(repoDir)

		if !client.IsRepo(ctx) {
			t.Error("expected directory to be a git repository")
		}
	})

	t.Run("non-git directory", func(t *testing.T) {
		setupTestRepo(t)
		client := NewClient(t.TempDir())

		if client.IsRepo(ctx) {
			t.Error("expected directory to not be a git repository")
		}
	})
}

func TestClient_RevParse(t *testing.T) {
	ctx := context.Background()
	repoDir := setupTestRepo(t)
	client := NewClient(repoDir)
	head := gitRun(t, repoDir, "rev-parse", "HEAD")
	gitRun(t, repoDir, "tag", "-a", "v1", "-m", "release")

	for _, spec := range []string{"HEAD", "main", "refs/heads/main", "v1", head, head[:8]} {
		got, ok, err := client.RevParse(ctx, spec)
		if err != nil || !ok {
			t.Fatalf("RevParse(%q) = %q, %v, %v", spec, got, ok, err)
		}
		if got != head {
			t.Errorf("RevParse(%q) = %s, want %s", spec, got, head)
		}
	}

	_, ok, err := client.RevParse(ctx, "mian")
	if err != nil {
		t.Fatalf("RevParse(mian) error = %v", err)
	}
	if ok {
		t.Error("RevParse(mian) resolved a typo")
	}
}

func TestClient_SymbolicRef(t *testing.T) {
	ctx := context.Background()
	repoDir := setupTestRepo(t)
	client := NewClient(repoDir)

	ref, err := client.SymbolicRef(ctx, "HEAD")
	if err != nil {
		t.Fatalf("SymbolicRef() error = %v", err)
	}
	if ref != "refs/heads/main" {
		t.Errorf("SymbolicRef() = %q", ref)
	}

	gitRun(t, repoDir, "checkout", "--detach")
	ref, err = client.SymbolicRef(ctx, "HEAD")
	if err != nil {
		t.Fatalf("SymbolicRef() error = %v", err)
	}
	if ref != "" {
		t.Errorf("SymbolicRef() on detached HEAD = %q", ref)
	}

	branches, err := client.BranchesAt(ctx, gitRun(t, repoDir, "rev-parse", "HEAD"))
	if err != nil {
		t.Fatalf("BranchesAt() error = %v", err)
	}
	if len(branches) != 1 || branches[0] != "refs/heads/main" {
		t.Errorf("BranchesAt() = %v", branches)
	}
}

func TestClient_ConfigGet(t *testing.T) {
	ctx := context.Background()
	repoDir := setupTestRepo(t)
	client := NewClient(repoDir)

	name, err := client.ConfigGet(ctx, "user.name")
	if err != nil || name != "Test User" {
		t.Errorf("ConfigGet(user.name) = %q, %v", name, err)
	}

	missing, err := client.ConfigGet(ctx, "user.signingkey")
	if err != nil || missing != "" {
		t.Errorf("ConfigGet(unset) = %q, %v", missing, err)
	}

	gitRun(t, repoDir, "config", "commit.gpgsign", "yes")
	sign, err := client.ConfigGetBool(ctx, "commit.gpgsign")
	if err != nil || !sign {
		t.Errorf("ConfigGetBool(commit.gpgsign) = %v, %v", sign, err)
	}
}

func TestClient_Status(t *testing.T) {
	ctx := context.Background()
	repoDir := setupTestRepo(t)
	client := NewClient(repoDir)

	writeFile(t, repoDir, "untracked.txt", "x\n")
	lines, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("Status() with only untracked files = %v", lines)
	}

	writeFile(t, repoDir, "README.md", "changed\n")
	lines, err = client.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(lines) != 1 || !strings.HasSuffix(lines[0], "README.md") {
		t.Errorf("Status() = %v", lines)
	}
}

func TestClient_MergeBaseAndRevList(t *testing.T) {
	ctx := context.Background()
	repoDir := setupTestRepo(t)
	client := NewClient(repoDir)
	initial := gitRun(t, repoDir, "rev-parse", "HEAD")

	gitRun(t, repoDir, "checkout", "-b", "topic")
	a := commitFile(t, repoDir, "a.txt", "a\n", "Add a")
	b := commitFile(t, repoDir, "b.txt", "b\n", "Add b")
	gitRun(t, repoDir, "checkout", "main")
	mainTip := commitFile(t, repoDir, "main.txt", "m\n", "Main work")

	base, ok, err := client.MergeBase(ctx, b, mainTip)
	if err != nil || !ok {
		t.Fatalf("MergeBase() = %q, %v, %v", base, ok, err)
	}
	if base != initial {
		t.Errorf("MergeBase() = %s, want %s", base, initial)
	}

	isAnc, err := client.IsAncestor(ctx, initial, b)
	if err != nil || !isAnc {
		t.Errorf("IsAncestor(initial, b) = %v, %v", isAnc, err)
	}
	isAnc, err = client.IsAncestor(ctx, mainTip, b)
	if err != nil || isAnc {
		t.Errorf("IsAncestor(main, b) = %v, %v", isAnc, err)
	}

	commits, err := client.RevList(ctx, base, b)
	if err != nil {
		t.Fatalf("RevList() error = %v", err)
	}
	if len(commits) != 2 || commits[0] != a || commits[1] != b {
		t.Errorf("RevList() = %v, want [%s %s]", commits, a, b)
	}
}

func TestClient_MergeBaseUnrelated(t *testing.T) {
	ctx := context.Background()
	repoDir := setupTestRepo(t)
	client := NewClient(repoDir)
	head := gitRun(t, repoDir, "rev-parse", "HEAD")

	gitRun(t, repoDir, "checkout", "--orphan", "island")
	gitRun(t, repoDir, "rm", "-rf", "--cached", ".")
	island := commitFile(t, repoDir, "island.txt", "alone\n", "Unrelated root")

	_, ok, err := client.MergeBase(ctx, head, island)
	if err != nil {
		t.Fatalf("MergeBase() error = %v", err)
	}
	if ok {
		t.Error("MergeBase() found a base for unrelated histories")
	}
}

func TestClient_CommitTreeAndUpdateRef(t *testing.T) {
	ctx := context.Background()
	repoDir := setupTestRepo(t)
	client := NewClient(repoDir)
	parent := gitRun(t, repoDir, "rev-parse", "HEAD")
	tip := commitFile(t, repoDir, "a.txt", "a\n", "Add a")
	tree := gitRun(t, repoDir, "rev-parse", "HEAD^{tree}")

	when := time.Date(2025, 9, 1, 12, 0, 0, 0, time.FixedZone("", 2*3600))
	hash, err := client.CommitTree(ctx, CommitTreeOptions{
		Tree:           tree,
		Parents:        []string{parent},
		Message:        "Squashed\n\nbody line\n",
		AuthorName:     "Original Author",
		AuthorEmail:    "orig@example.com",
		AuthorDate:     FormatDate(when),
		CommitterName:  "Squasher",
		CommitterEmail: "squash@example.com",
		CommitterDate:  FormatDate(when),
	})
	if err != nil {
		t.Fatalf("CommitTree() error = %v", err)
	}
	if got := gitRun(t, repoDir, "rev-parse", "HEAD"); got != tip {
		t.Fatalf("CommitTree moved HEAD to %s", got)
	}

	raw, err := client.CatCommit(ctx, hash)
	if err != nil {
		t.Fatalf("CatCommit() error = %v", err)
	}
	if raw.Tree != tree || len(raw.Parents) != 1 || raw.Parents[0] != parent {
		t.Errorf("commit = %+v", raw)
	}
	if raw.Message != "Squashed\n\nbody line\n" {
		t.Errorf("message = %q", raw.Message)
	}
	if raw.Author.Name != "Original Author" || !raw.Author.When.Equal(when) {
		t.Errorf("author = %+v", raw.Author)
	}
	if raw.Committer.Email != "squash@example.com" {
		t.Errorf("committer = %+v", raw.Committer)
	}
	if !client.TreeExists(ctx, tree) || client.TreeExists(ctx, hash) {
		t.Error("TreeExists() misclassified objects")
	}

	// Stale expected value is refused
	if err := client.UpdateRef(ctx, "refs/heads/main", hash, parent, "test"); err == nil {
		t.Fatal("UpdateRef() with a stale old value succeeded")
	}
	if err := client.UpdateRef(ctx, "refs/heads/main", hash, tip, "test"); err != nil {
		t.Fatalf("UpdateRef() error = %v", err)
	}
	if got := gitRun(t, repoDir, "rev-parse", "main"); got != hash {
		t.Errorf("main = %s, want %s", got, hash)
	}
}

func TestClient_MergeTree(t *testing.T) {
	ctx := context.Background()
	repoDir := setupTestRepo(t)
	client := NewClient(repoDir)

	version := gitRun(t, repoDir, "--version")
	if !SupportsMergeTree(version) {
		t.Skipf("%s has no merge-tree --write-tree --merge-base", version)
	}

	base := gitRun(t, repoDir, "rev-parse", "HEAD")
	gitRun(t, repoDir, "checkout", "-b", "topic")
	topic := commitFile(t, repoDir, "a.txt", "a\n", "Add a")
	gitRun(t, repoDir, "checkout", "main")
	mainTip := commitFile(t, repoDir, "b.txt", "b\n", "Add b")

	tree, conflicted, err := client.MergeTree(ctx, base, mainTip, topic)
	if err != nil || conflicted {
		t.Fatalf("MergeTree() = %q, %v, %v", tree, conflicted, err)
	}
	listing := gitRun(t, repoDir, "ls-tree", "--name-only", tree)
	if !strings.Contains(listing, "a.txt") || !strings.Contains(listing, "b.txt") {
		t.Errorf("merged tree lists %q", listing)
	}

	clash := commitFile(t, repoDir, "a.txt", "other\n", "Clash on a")
	_, conflicted, err = client.MergeTree(ctx, base, clash, topic)
	if err != nil {
		t.Fatalf("MergeTree() error = %v", err)
	}
	if !conflicted {
		t.Error("MergeTree() missed a conflict")
	}
}

func TestCommandError(t *testing.T) {
	repoDir := setupTestRepo(t)
	client := NewClient(repoDir)

	_, err := client.run(context.Background(), nil, nil, "rev-parse", "--verify", "does-not-exist")
	if err == nil {
		t.Fatal("expected error")
	}
	if exitCode(err) != 128 {
		t.Errorf("exitCode() = %d, want 128", exitCode(err))
	}
	if !strings.HasPrefix(err.Error(), "git rev-parse --verify does-not-exist: ") {
		t.Errorf("Error() = %q", err.Error())
	}
}
