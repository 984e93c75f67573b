package backend

import (
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
)

func TestCommitSubject(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"Add parser\n\nLonger body.\n", "Add parser"},
		{"\n\nLeading blank lines\nbody", "Leading blank lines"},
		{"single line", "single line"},
		{"", ""},
		{"  padded subject  \n", "padded subject"},
	}

	for _, tt := range tests {
		c := &Commit{Message: tt.message}
		if got := c.Subject(); got != tt.want {
			t.Errorf("Subject(%q) = %q, want %q", tt.message, got, tt.want)
		}
	}
}

func TestBranchRef(t *testing.T) {
	if got := BranchRef("topic"); got != "refs/heads/topic" {
		t.Errorf("BranchRef(topic) = %q", got)
	}
	if got := BranchRef("refs/heads/feature/x"); got != "refs/heads/feature/x" {
		t.Errorf("BranchRef(full) = %q", got)
	}
}

func TestShortHash(t *testing.T) {
	h := plumbing.NewHash("0123456789abcdef0123456789abcdef01234567")
	if got := ShortHash(h); got != "0123456" {
		t.Errorf("ShortHash() = %q", got)
	}
}
