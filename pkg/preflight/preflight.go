// Package preflight validates the repository state before any object or
// reference is written.
package preflight

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/holon-run/squish/pkg/backend"
	"github.com/holon-run/squish/pkg/errors"
	"github.com/holon-run/squish/pkg/git"
	holonlog "github.com/holon-run/squish/pkg/log"
)

// CheckLevel represents the severity level of a preflight check
type CheckLevel int

const (
	// LevelError indicates a critical failure that prevents execution
	LevelError CheckLevel = iota
	// LevelWarn indicates a warning that should be addressed but doesn't block execution
	LevelWarn
	// LevelInfo indicates informational output
	LevelInfo
)

func (l CheckLevel) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	default:
		return "info"
	}
}

// CheckResult represents the result of a single preflight check
type CheckResult struct {
	Name    string     // Check name
	Level   CheckLevel // Severity level
	Message string     // Human-readable message
	Error   error      // Underlying error (if any)
}

// Check represents a single preflight check
type Check interface {
	// Name returns the check name
	Name() string
	// Run executes the check and returns a CheckResult
	Run(ctx context.Context) CheckResult
}

// Checker runs a collection of preflight checks
type Checker struct {
	checks  []Check
	skipped bool
	quiet   bool
}

// Config configures the preflight checker
type Config struct {
	// Skip skips all preflight checks
	Skip bool
	// Quiet suppresses info-level messages
	Quiet bool
	// RequireGit checks that the git binary is available
	RequireGit bool
	// RequireMergeTree additionally requires git merge-tree --write-tree
	RequireMergeTree bool
	// GitBinary overrides the git executable looked up on PATH
	GitBinary string
	// Repo enables the repository state checks (in-progress operations and
	// a clean working tree)
	Repo backend.Backend
}

// NewChecker creates a new preflight checker with the given configuration
func NewChecker(cfg Config) *Checker {
	c := &Checker{
		skipped: cfg.Skip,
		quiet:   cfg.Quiet,
	}

	if cfg.RequireGit || cfg.RequireMergeTree {
		c.checks = append(c.checks, &GitCheck{Binary: cfg.GitBinary, RequireMergeTree: cfg.RequireMergeTree})
	}
	if cfg.Repo != nil {
		c.checks = append(c.checks,
			&InProgressCheck{Repo: cfg.Repo},
			&WorktreeCheck{Repo: cfg.Repo},
		)
	}

	return c
}

// Add registers an extra check.
func (c *Checker) Add(check Check) {
	c.checks = append(c.checks, check)
}

// Checks returns the registered checks in run order.
func (c *Checker) Checks() []Check {
	return c.checks
}

// Run executes all registered checks. Failures are joined so that callers
// can still match each one with errors.Is.
func (c *Checker) Run(ctx context.Context) error {
	if c.skipped {
		holonlog.Debug("preflight checks skipped")
		return nil
	}

	var errs []error
	for _, check := range c.checks {
		if err := ctx.Err(); err != nil {
			return err
		}
		result := check.Run(ctx)

		switch result.Level {
		case LevelError:
			holonlog.Debug("preflight check failed", "check", result.Name, "message", result.Message)
			if result.Error != nil {
				errs = append(errs, result.Error)
			} else {
				errs = append(errs, fmt.Errorf("%s: %s", result.Name, result.Message))
			}
		case LevelWarn:
			holonlog.Warn("preflight check warning", "check", result.Name, "message", result.Message)
		case LevelInfo:
			if !c.quiet {
				holonlog.Debug("preflight check", "check", result.Name, "message", result.Message)
			}
		}
	}

	return errors.Join(errs...)
}

// GitCheck checks if git is installed
type GitCheck struct {
	Binary           string
	RequireMergeTree bool
}

func (c *GitCheck) Name() string {
	return "git"
}

func (c *GitCheck) Run(ctx context.Context) CheckResult {
	binary := c.Binary
	if binary == "" {
		binary = "git"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: "git command not found. Please install Git from https://git-scm.com/downloads",
			Error:   fmt.Errorf("%w: git command not found: %v", errors.ErrUnsupported, err),
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &git.Client{Binary: binary}
	version, err := client.Version(checkCtx)
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelWarn,
			Message: "git is installed but may not be working correctly",
			Error:   err,
		}
	}

	if c.RequireMergeTree && !git.SupportsMergeTree(version) {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: fmt.Sprintf("%s is too old for --rebase (need 2.40+)", version),
			Error:   fmt.Errorf("%w: %s is too old for --rebase (need 2.40+)", errors.ErrUnsupported, version),
		}
	}

	return CheckResult{
		Name:    c.Name(),
		Level:   LevelInfo,
		Message: fmt.Sprintf("git is available (%s)", version),
	}
}

// InProgressCheck fails while a merge, rebase, cherry-pick, revert or bisect
// is stopped, or the index has unmerged paths.
type InProgressCheck struct {
	Repo backend.Backend
}

func (c *InProgressCheck) Name() string {
	return "in-progress"
}

func (c *InProgressCheck) Run(ctx context.Context) CheckResult {
	op, err := c.Repo.InProgressOperation(ctx)
	if err != nil {
		return CheckResult{Name: c.Name(), Level: LevelError, Message: err.Error(), Error: err}
	}
	if op != "" {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: op + " in progress",
			Error:   fmt.Errorf("%s in progress: %w", op, errors.ErrConflict),
		}
	}
	return CheckResult{Name: c.Name(), Level: LevelInfo, Message: "no operation in progress"}
}

// WorktreeCheck fails when tracked files differ from HEAD.
type WorktreeCheck struct {
	Repo backend.Backend
}

func (c *WorktreeCheck) Name() string {
	return "worktree"
}

func (c *WorktreeCheck) Run(ctx context.Context) CheckResult {
	clean, err := c.Repo.WorktreeClean(ctx)
	if err != nil {
		return CheckResult{Name: c.Name(), Level: LevelError, Message: err.Error(), Error: err}
	}
	if !clean {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: "working tree has uncommitted changes; commit or stash them first",
			Error:   errors.ErrDirtyWorkingTree,
		}
	}
	return CheckResult{Name: c.Name(), Level: LevelInfo, Message: "working tree is clean"}
}
