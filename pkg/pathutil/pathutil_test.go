package pathutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindRepoRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	for _, dir := range []string{root, nested} {
		got, err := FindRepoRoot(dir)
		if err != nil {
			t.Fatalf("FindRepoRoot(%s) error = %v", dir, err)
		}
		if got != root {
			t.Errorf("FindRepoRoot(%s) = %s, want %s", dir, got, root)
		}
	}
}

func TestFindRepoRootGitFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ".git"), []byte("gitdir: /elsewhere\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := FindRepoRoot(root)
	if err != nil || got != root {
		t.Errorf("FindRepoRoot() = %s, %v", got, err)
	}
}

func TestFindRepoRootMissing(t *testing.T) {
	if _, err := FindRepoRoot(t.TempDir()); err == nil {
		t.Error("expected an error outside a repository")
	}
}

func TestIsFilesystemRoot(t *testing.T) {
	if !IsFilesystemRoot(string(filepath.Separator)) {
		t.Error("separator should be the root")
	}
	if IsFilesystemRoot(t.TempDir()) {
		t.Error("temp dir is not the root")
	}
}
