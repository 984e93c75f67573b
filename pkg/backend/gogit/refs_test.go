package gogit

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/holon-run/squish/pkg/errors"
)

const topicRef = plumbing.ReferenceName("refs/heads/topic")

func TestCompareAndSwapRef(t *testing.T) {
	r, b := forkedRepo(t)
	ctx := context.Background()
	old := r.BranchHash("topic")
	target := r.BranchHash("main")

	if err := b.CompareAndSwapRef(ctx, topicRef, target, old, "squish: test"); err != nil {
		t.Fatalf("CompareAndSwapRef() error = %v", err)
	}
	if got := r.BranchHash("topic"); got != target {
		t.Errorf("topic = %s, want %s", got, target)
	}
	if _, err := os.Stat(filepath.Join(r.Dir, ".git", "refs", "heads", "topic.lock")); !os.IsNotExist(err) {
		t.Errorf("lock file left behind: %v", err)
	}
}

func TestCompareAndSwapRefStale(t *testing.T) {
	r, b := forkedRepo(t)
	ctx := context.Background()
	old := r.BranchHash("topic")
	moved := r.CommitFile("late.txt", "late\n", "Concurrent commit")

	err := b.CompareAndSwapRef(ctx, topicRef, r.BranchHash("main"), old, "squish: test")
	if !errors.Is(err, errors.ErrConcurrentModification) {
		t.Fatalf("CompareAndSwapRef() error = %v, want ErrConcurrentModification", err)
	}
	if got := r.BranchHash("topic"); got != moved {
		t.Errorf("topic = %s, want it left at %s", got, moved)
	}
}

func TestCompareAndSwapRefLocked(t *testing.T) {
	r, b := forkedRepo(t)
	old := r.BranchHash("topic")
	lock := filepath.Join(r.Dir, ".git", "refs", "heads", "topic.lock")
	if err := os.WriteFile(lock, nil, 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}

	err := b.CompareAndSwapRef(context.Background(), topicRef, r.BranchHash("main"), old, "squish: test")
	if !errors.Is(err, errors.ErrConcurrentModification) {
		t.Fatalf("CompareAndSwapRef() error = %v, want ErrConcurrentModification", err)
	}
	if got := r.BranchHash("topic"); got != old {
		t.Errorf("topic moved to %s while locked", got)
	}
	if _, err := os.Stat(lock); err != nil {
		t.Errorf("foreign lock file was removed: %v", err)
	}
}

func TestCompareAndSwapRefPacked(t *testing.T) {
	r, b := forkedRepo(t)
	old := r.BranchHash("topic")
	r.Checkout("main")

	dotGit := filepath.Join(r.Dir, ".git")
	packed := "# pack-refs with: peeled fully-peeled sorted \n" + old.String() + " refs/heads/topic\n"
	if err := os.WriteFile(filepath.Join(dotGit, "packed-refs"), []byte(packed), 0o644); err != nil {
		t.Fatalf("write packed-refs: %v", err)
	}
	if err := os.Remove(filepath.Join(dotGit, "refs", "heads", "topic")); err != nil {
		t.Fatalf("remove loose ref: %v", err)
	}
	if got, err := packedHash(b.dotGit(), topicRef); err != nil || got != old {
		t.Fatalf("packedHash() = %s, %v; want %s", got, err, old)
	}

	target := r.BranchHash("main")
	if err := b.CompareAndSwapRef(context.Background(), topicRef, target, old, "squish: test"); err != nil {
		t.Fatalf("CompareAndSwapRef() error = %v", err)
	}
	if got := r.BranchHash("topic"); got != target {
		t.Errorf("topic = %s, want %s", got, target)
	}
}

func TestCompareAndSwapRefDeleted(t *testing.T) {
	r, b := forkedRepo(t)
	old := r.BranchHash("topic")
	r.Checkout("main")
	if err := os.Remove(filepath.Join(r.Dir, ".git", "refs", "heads", "topic")); err != nil {
		t.Fatalf("remove ref: %v", err)
	}

	err := b.CompareAndSwapRef(context.Background(), topicRef, r.BranchHash("main"), old, "squish: test")
	if !errors.Is(err, errors.ErrConcurrentModification) {
		t.Fatalf("CompareAndSwapRef() error = %v, want ErrConcurrentModification", err)
	}
	if _, err := os.Stat(filepath.Join(r.Dir, ".git", "refs", "heads", "topic")); !os.IsNotExist(err) {
		t.Errorf("deleted branch was recreated: %v", err)
	}
}

func TestCompareAndSwapRefPackedStale(t *testing.T) {
	r, b := forkedRepo(t)
	old := r.BranchHash("topic")
	r.Checkout("main")

	dotGit := filepath.Join(r.Dir, ".git")
	stale := r.BranchHash("main")
	packed := stale.String() + " refs/heads/topic\n"
	if err := os.WriteFile(filepath.Join(dotGit, "packed-refs"), []byte(packed), 0o644); err != nil {
		t.Fatalf("write packed-refs: %v", err)
	}
	if err := os.Remove(filepath.Join(dotGit, "refs", "heads", "topic")); err != nil {
		t.Fatalf("remove loose ref: %v", err)
	}

	err := b.CompareAndSwapRef(context.Background(), topicRef, old, old, "squish: test")
	if !errors.Is(err, errors.ErrConcurrentModification) {
		t.Fatalf("CompareAndSwapRef() error = %v, want ErrConcurrentModification", err)
	}
	if _, err := os.Stat(filepath.Join(dotGit, "refs", "heads", "topic")); !os.IsNotExist(err) {
		t.Errorf("loose ref was written for a failed swap: %v", err)
	}
}

func TestCompareAndSwapRefReadersSeeWholeValue(t *testing.T) {
	r, b := forkedRepo(t)
	ctx := context.Background()
	a := r.BranchHash("topic")
	bb := r.BranchHash("main")
	refPath := filepath.Join(r.Dir, ".git", "refs", "heads", "topic")

	done := make(chan struct{})
	var wg sync.WaitGroup
	var torn []string
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			data, err := os.ReadFile(refPath)
			if err != nil {
				// Windows may refuse to open a file while it is being replaced.
				continue
			}
			if v := strings.TrimSpace(string(data)); v != a.String() && v != bb.String() {
				torn = append(torn, v)
				return
			}
		}
	}()

	from, to := a, bb
	for i := 0; i < 500; i++ {
		if err := b.CompareAndSwapRef(ctx, topicRef, to, from, "squish: test"); err != nil {
			close(done)
			wg.Wait()
			t.Fatalf("swap %d: CompareAndSwapRef() error = %v", i, err)
		}
		from, to = to, from
	}
	close(done)
	wg.Wait()

	if len(torn) > 0 {
		t.Errorf("reader observed a partial ref value %q", torn[0])
	}
}

func TestCompareAndSwapRefPermissionDenied(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("directory permissions are not enforced on windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	r, b := forkedRepo(t)
	old := r.BranchHash("topic")
	heads := filepath.Join(r.Dir, ".git", "refs", "heads")
	if err := os.Chmod(heads, 0o555); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(heads, 0o755) })

	err := b.CompareAndSwapRef(context.Background(), topicRef, r.BranchHash("main"), old, "squish: test")
	if !errors.Is(err, errors.ErrPermissionDenied) {
		t.Fatalf("CompareAndSwapRef() error = %v, want ErrPermissionDenied", err)
	}
	if code := errors.ExitCode(err); code != 2 {
		t.Errorf("ExitCode() = %d, want 2", code)
	}
	if got := r.BranchHash("topic"); got != old {
		t.Errorf("topic moved to %s", got)
	}
}
