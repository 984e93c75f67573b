package preflight

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/holon-run/squish/pkg/backend"
	"github.com/holon-run/squish/pkg/errors"
)

// fakeRepo answers only the state queries the checks make.
type fakeRepo struct {
	backend.Backend
	op    string
	clean bool
	err   error
}

func (f *fakeRepo) InProgressOperation(context.Context) (string, error) {
	return f.op, f.err
}

func (f *fakeRepo) WorktreeClean(context.Context) (bool, error) {
	return f.clean, f.err
}

func TestGitCheck(t *testing.T) {
	check := &GitCheck{}
	ctx := context.Background()

	result := check.Run(ctx)

	if result.Name != "git" {
		t.Errorf("expected name 'git', got '%s'", result.Name)
	}

	// Git may or may not be installed where the tests run
	if result.Level != LevelError && result.Level != LevelInfo {
		t.Errorf("expected LevelError or LevelInfo, got %v", result.Level)
	}

	t.Logf("GitCheck result: level=%s, message=%s", result.Level, result.Message)
}

func TestGitCheck_MissingBinary(t *testing.T) {
	check := &GitCheck{Binary: filepath.Join(t.TempDir(), "no-such-git")}

	result := check.Run(context.Background())
	if result.Level != LevelError {
		t.Fatalf("expected LevelError, got %v", result.Level)
	}
	if !errors.Is(result.Error, errors.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", result.Error)
	}
}

func TestInProgressCheck(t *testing.T) {
	tests := []struct {
		name      string
		repo      *fakeRepo
		wantLevel CheckLevel
		wantErr   error
	}{
		{"idle", &fakeRepo{clean: true}, LevelInfo, nil},
		{"merge in progress", &fakeRepo{op: "MERGE_HEAD"}, LevelError, errors.ErrConflict},
		{"unmerged paths", &fakeRepo{op: "unmerged path a.txt"}, LevelError, errors.ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := (&InProgressCheck{Repo: tt.repo}).Run(context.Background())
			if result.Level != tt.wantLevel {
				t.Errorf("level = %v, want %v", result.Level, tt.wantLevel)
			}
			if tt.wantErr != nil && !errors.Is(result.Error, tt.wantErr) {
				t.Errorf("error = %v, want %v", result.Error, tt.wantErr)
			}
		})
	}
}

func TestWorktreeCheck(t *testing.T) {
	result := (&WorktreeCheck{Repo: &fakeRepo{clean: true}}).Run(context.Background())
	if result.Level != LevelInfo {
		t.Errorf("clean tree level = %v", result.Level)
	}

	result = (&WorktreeCheck{Repo: &fakeRepo{clean: false}}).Run(context.Background())
	if result.Level != LevelError || !errors.Is(result.Error, errors.ErrDirtyWorkingTree) {
		t.Errorf("dirty tree result = %+v", result)
	}

	boom := errors.New("index is corrupt")
	result = (&WorktreeCheck{Repo: &fakeRepo{err: boom}}).Run(context.Background())
	if !errors.Is(result.Error, boom) {
		t.Errorf("backend error = %v, want %v", result.Error, boom)
	}
}

func TestChecker_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("all pass", func(t *testing.T) {
		c := NewChecker(Config{Repo: &fakeRepo{clean: true}})
		if len(c.Checks()) != 2 {
			t.Fatalf("expected 2 checks, got %d", len(c.Checks()))
		}
		if err := c.Run(ctx); err != nil {
			t.Errorf("Run() error = %v", err)
		}
	})

	t.Run("failures are joined", func(t *testing.T) {
		c := NewChecker(Config{Repo: &fakeRepo{op: "REBASE_HEAD", clean: false}})
		err := c.Run(ctx)
		if !errors.Is(err, errors.ErrConflict) {
			t.Errorf("expected ErrConflict in %v", err)
		}
		if !errors.Is(err, errors.ErrDirtyWorkingTree) {
			t.Errorf("expected ErrDirtyWorkingTree in %v", err)
		}
		if errors.ExitCode(err) != 1 {
			t.Errorf("ExitCode() = %d, want 1", errors.ExitCode(err))
		}
	})

	t.Run("skip", func(t *testing.T) {
		c := NewChecker(Config{Skip: true, Repo: &fakeRepo{op: "MERGE_HEAD"}})
		if err := c.Run(ctx); err != nil {
			t.Errorf("Run() with Skip = %v", err)
		}
	})

	t.Run("git check registered", func(t *testing.T) {
		c := NewChecker(Config{RequireMergeTree: true})
		if len(c.Checks()) != 1 || c.Checks()[0].Name() != "git" {
			t.Errorf("checks = %v", c.Checks())
		}
	})

	t.Run("canceled", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		c := NewChecker(Config{Repo: &fakeRepo{clean: true}})
		if err := c.Run(canceled); !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	})
}

func TestCheckLevelString(t *testing.T) {
	if LevelError.String() != "error" || LevelWarn.String() != "warn" || LevelInfo.String() != "info" {
		t.Error("unexpected CheckLevel names")
	}
}
