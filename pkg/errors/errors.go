// Package errors provides the error taxonomy shared by the squash core and the
// version-control backends.
//
// Failures are expressed as sentinel errors wrapped with context, so callers
// can test them with errors.Is regardless of which backend produced them:
//
//	if errors.Is(err, errors.ErrConcurrentModification) {
//	    // the branch moved under us; the user has to re-run
//	}
//
// RefError attaches the literal reference spec that failed, which is what gets
// reported to the user for UnresolvedReference.
//
// Every error maps to a Kind, and each Kind to a process exit code:
//   - KindValidation (exit 1): the repository is not in a state we can squash
//   - KindBackend (exit 2): the backend refused or failed a read or write
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions so callers only import this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Precondition failures.
var (
	// ErrUnresolvedReference indicates a spec matched no branch, tag, remote-tracking ref or commit.
	ErrUnresolvedReference = New("unresolved reference")
	// ErrDetachedHead indicates no branch was given and HEAD is not on a branch.
	ErrDetachedHead = New("HEAD is detached and no branch was given")
	// ErrDirtyWorkingTree indicates uncommitted modifications that a squash would mask.
	ErrDirtyWorkingTree = New("working tree has uncommitted changes")
	// ErrUnrelatedHistories indicates the branch and upstream share no common ancestor.
	ErrUnrelatedHistories = New("branch and upstream have unrelated histories")
	// ErrNothingToSquash indicates the branch tip already equals the divergence point.
	// It is reported as a successful no-op, never as a failure.
	ErrNothingToSquash = New("nothing to squash")
	// ErrConflict indicates an operation in progress, unmerged paths, or a merge conflict.
	ErrConflict = New("There was a conflict during this squish, please retry using git rebase -i and resolve the conflicts")
	// ErrInvalidBase indicates a caller-selected base that does not lie on the branch.
	ErrInvalidBase = New("base is not an ancestor of the branch tip")
	// ErrInvalidConfig indicates invalid flags or configuration values.
	ErrInvalidConfig = New("invalid configuration")
	// ErrUnsupported indicates the selected backend cannot perform the request.
	ErrUnsupported = New("not supported by backend")
)

// Backend failures.
var (
	// ErrSigningFailed indicates the backend could not sign the new commit.
	ErrSigningFailed = New("signing failed")
	// ErrConcurrentModification indicates the branch moved between resolution and update.
	ErrConcurrentModification = New("reference was modified concurrently")
	// ErrPermissionDenied indicates the backend refused the reference write.
	ErrPermissionDenied = New("permission denied")
)

// RefError records the operation and the literal reference spec that failed.
type RefError struct {
	Op  string
	Ref string
	Err error
}

// NewRefError creates a RefError.
func NewRefError(op, ref string, err error) *RefError {
	return &RefError{Op: op, Ref: ref, Err: err}
}

func (e *RefError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%q: %v", e.Ref, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Ref, e.Err)
}

func (e *RefError) Unwrap() error {
	return e.Err
}

// Kind classifies an error for reporting.
type Kind int

const (
	// KindNone is the kind of a nil error.
	KindNone Kind = iota
	// KindValidation covers precondition and usage failures.
	KindValidation
	// KindBackend covers failures reported by the version-control backend.
	KindBackend
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidation:
		return "validation"
	case KindBackend:
		return "backend"
	default:
		return "unknown"
	}
}

var validationErrors = []error{
	ErrUnresolvedReference,
	ErrDetachedHead,
	ErrDirtyWorkingTree,
	ErrUnrelatedHistories,
	ErrConflict,
	ErrInvalidBase,
	ErrInvalidConfig,
	ErrUnsupported,
}

// Classify returns the Kind of err. Anything that is not a known precondition
// failure is treated as a backend failure.
func Classify(err error) Kind {
	if err == nil || Is(err, ErrNothingToSquash) {
		return KindNone
	}
	for _, target := range validationErrors {
		if Is(err, target) {
			return KindValidation
		}
	}
	return KindBackend
}

// ExitCode maps err to the process exit code: 0 success, 1 validation, 2 backend.
func ExitCode(err error) int {
	switch Classify(err) {
	case KindNone:
		return 0
	case KindValidation:
		return 1
	default:
		return 2
	}
}

// IsUserFacing reports whether err belongs to the squash taxonomy and its
// message can be shown without a debug trace.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	if Classify(err) == KindValidation {
		return true
	}
	return Is(err, ErrSigningFailed) || Is(err, ErrConcurrentModification) || Is(err, ErrPermissionDenied)
}

// Wrap wraps an error with a context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
