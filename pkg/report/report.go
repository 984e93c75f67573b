// Package report renders squash results for people (text) and for tools
// (json, yaml).
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"gopkg.in/yaml.v3"

	"github.com/holon-run/squish/pkg/backend"
	"github.com/holon-run/squish/pkg/errors"
	"github.com/holon-run/squish/pkg/git"
	"github.com/holon-run/squish/pkg/squash"
)

// Formats lists the accepted output formats.
var Formats = []string{"text", "json", "yaml"}

// Report is the serialized form of a squash.Result. Hashes are full hex
// strings and empty for values a no-op run never computed.
type Report struct {
	Outcome      string   `json:"outcome" yaml:"outcome"`
	Branch       string   `json:"branch" yaml:"branch"`
	OldTip       string   `json:"old_tip" yaml:"old_tip"`
	NewTip       string   `json:"new_tip" yaml:"new_tip"`
	Base         string   `json:"base,omitempty" yaml:"base,omitempty"`
	Parent       string   `json:"parent,omitempty" yaml:"parent,omitempty"`
	Upstream     string   `json:"upstream" yaml:"upstream"`
	Squashed     int      `json:"squashed" yaml:"squashed"`
	Rewritten    bool     `json:"rewritten" yaml:"rewritten"`
	Signed       bool     `json:"signed" yaml:"signed"`
	Author       string   `json:"author,omitempty" yaml:"author,omitempty"`
	Message      string   `json:"message,omitempty" yaml:"message,omitempty"`
	RecoveryHint string   `json:"recovery_hint,omitempty" yaml:"recovery_hint,omitempty"`
	Warnings     []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// FromResult converts r.
func FromResult(r *squash.Result) Report {
	return Report{
		Outcome:      string(r.Outcome),
		Branch:       r.Branch.Short(),
		OldTip:       hashString(r.OldTip),
		NewTip:       hashString(r.NewTip),
		Base:         hashString(r.Base),
		Parent:       hashString(r.Parent),
		Upstream:     hashString(r.Upstream),
		Squashed:     r.Squashed,
		Rewritten:    r.Rewritten,
		Signed:       r.Signed,
		Author:       author(r),
		Message:      r.Message,
		RecoveryHint: r.RecoveryHint(),
		Warnings:     r.Warnings,
	}
}

// Render writes r to w in format.
func Render(w io.Writer, format string, r *squash.Result) error {
	switch format {
	case "", "text":
		_, err := io.WriteString(w, Text(r))
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(FromResult(r))
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(FromResult(r)); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: unknown output format %q (want %s)", errors.ErrInvalidConfig, format, strings.Join(Formats, ", "))
	}
}

// Text renders r for a terminal.
func Text(r *squash.Result) string {
	var b strings.Builder
	branch := r.Branch.Short()

	switch r.Outcome {
	case squash.OutcomeSquashed:
		fmt.Fprintf(&b, "Squashed %s on %s into %s (parent %s)\n",
			plural(r.Squashed, "commit"), branch, backend.ShortHash(r.NewTip), backend.ShortHash(r.Parent))
		fmt.Fprintf(&b, "Previous tip: %s\n", r.OldTip)
		fmt.Fprintf(&b, "To undo: %s\n", r.RecoveryHint())
	case squash.OutcomeNothingToSquash:
		fmt.Fprintf(&b, "Nothing to squash: %s has no commits beyond its upstream\n", branch)
	case squash.OutcomeAlreadySquashed:
		fmt.Fprintf(&b, "%s is already a single commit on %s, nothing to do\n", branch, backend.ShortHash(r.Base))
	case squash.OutcomeEmpty:
		fmt.Fprintf(&b, "Squashing %s would leave no changes on %s; branch left at %s\n",
			branch, backend.ShortHash(r.Parent), backend.ShortHash(r.OldTip))
	case squash.OutcomeDryRun:
		fmt.Fprintf(&b, "Would squash %s on %s onto %s", plural(r.Squashed, "commit"), branch, backend.ShortHash(r.Parent))
		if r.Signed {
			b.WriteString(" (signed)")
		}
		b.WriteString("\n")
		if a := author(r); a != "" {
			fmt.Fprintf(&b, "Author: %s\n", a)
		}
		b.WriteString("\n")
		for _, line := range strings.Split(strings.TrimRight(r.Message, "\n"), "\n") {
			if line == "" {
				b.WriteString("\n")
				continue
			}
			b.WriteString("    ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	default:
		fmt.Fprintf(&b, "%s: %s\n", r.Outcome, branch)
	}

	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	return b.String()
}

func author(r *squash.Result) string {
	return git.FormatGitAuthor(r.Author.Name, r.Author.Email)
}

func hashString(h plumbing.Hash) string {
	if h.IsZero() {
		return ""
	}
	return h.String()
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
