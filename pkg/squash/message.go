package squash

import (
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/holon-run/squish/pkg/backend"
	"github.com/holon-run/squish/pkg/errors"
)

// MessageStyle selects how the default message is composed.
type MessageStyle string

const (
	// StyleSummary writes a header for the range followed by every subject.
	StyleSummary MessageStyle = "summary"
	// StyleFirst reuses the oldest squashed commit's full message.
	StyleFirst MessageStyle = "first"
)

// MessageStyles lists the accepted styles.
func MessageStyles() []MessageStyle {
	return []MessageStyle{StyleSummary, StyleFirst}
}

// ComposeMessage builds the default message for squashing commits (oldest
// first) of branch onto base. A single commit keeps its message verbatim.
func ComposeMessage(branch plumbing.ReferenceName, base plumbing.Hash, commits []*backend.Commit, style MessageStyle) string {
	switch {
	case len(commits) == 0:
		return ""
	case len(commits) == 1:
		return commits[0].Message
	case style == StyleFirst:
		return commits[0].Message
	}

	var b strings.Builder
	tip := commits[len(commits)-1].Hash
	fmt.Fprintf(&b, "Squash %d commits from %s (%s..%s)\n", len(commits), branch.Short(),
		backend.ShortHash(base), backend.ShortHash(tip))
	for _, c := range commits {
		subject := c.Subject()
		if subject == "" {
			subject = "(no subject) " + backend.ShortHash(c.Hash)
		}
		b.WriteString("\n")
		b.WriteString(subject)
		b.WriteString("\n")
	}
	return b.String()
}

// NormalizeMessage trims trailing whitespace from a caller-supplied message
// and terminates it with a newline, as git commit does.
func NormalizeMessage(message string) (string, error) {
	trimmed := strings.TrimRight(message, " \t\r\n")
	if strings.TrimSpace(trimmed) == "" {
		return "", fmt.Errorf("%w: commit message is empty", errors.ErrInvalidConfig)
	}
	return trimmed + "\n", nil
}
