package git

import (
	"fmt"
	"os"
	"strings"
)

// DefaultAuthorName is the identity name used when no other config is available.
const DefaultAuthorName = "squish"

// DefaultAuthorEmail is the identity email used when no other config is available.
const DefaultAuthorEmail = "squish@localhost"

// Config holds the resolved author and committer identities.
type Config struct {
	AuthorName  string
	AuthorEmail string

	CommitterName  string
	CommitterEmail string
}

// ConfigOptions holds the identity sources ResolveConfig chooses from.
type ConfigOptions struct {
	// ExplicitAuthorName and ExplicitAuthorEmail override every other source
	// for the author. The committer is never overridden explicitly.
	ExplicitAuthorName  string
	ExplicitAuthorEmail string

	// RepoName and RepoEmail are user.name and user.email as merged by the
	// backend (repository over global over system).
	RepoName  string
	RepoEmail string

	// Env* mirror GIT_AUTHOR_* and GIT_COMMITTER_*.
	EnvAuthorName     string
	EnvAuthorEmail    string
	EnvCommitterName  string
	EnvCommitterEmail string
}

// ResolveConfig resolves identities with the following priority:
// 1. Explicit overrides (author only)
// 2. Environment variables (GIT_AUTHOR_*, GIT_COMMITTER_*)
// 3. Git config user.name / user.email
// 4. Defaults ("squish <squish@localhost>")
//
// This is the order git itself applies when writing commits.
func ResolveConfig(opts ConfigOptions) Config {
	name := first(opts.RepoName, DefaultAuthorName)
	email := first(opts.RepoEmail, DefaultAuthorEmail)

	return Config{
		AuthorName:     first(opts.ExplicitAuthorName, opts.EnvAuthorName, name),
		AuthorEmail:    first(opts.ExplicitAuthorEmail, opts.EnvAuthorEmail, email),
		CommitterName:  first(opts.EnvCommitterName, name),
		CommitterEmail: first(opts.EnvCommitterEmail, email),
	}
}

// OptionsFromEnv fills the environment fields of opts from the process
// environment.
func OptionsFromEnv(opts ConfigOptions) ConfigOptions {
	opts.EnvAuthorName = os.Getenv("GIT_AUTHOR_NAME")
	opts.EnvAuthorEmail = os.Getenv("GIT_AUTHOR_EMAIL")
	opts.EnvCommitterName = os.Getenv("GIT_COMMITTER_NAME")
	opts.EnvCommitterEmail = os.Getenv("GIT_COMMITTER_EMAIL")
	return opts
}

func first(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// FormatGitAuthor formats a git author string in the format "Name <email>".
func FormatGitAuthor(name, email string) string {
	if name == "" && email == "" {
		return ""
	}
	if name == "" {
		return email
	}
	if email == "" {
		return name
	}
	return fmt.Sprintf("%s <%s>", name, email)
}

// ParseGitAuthor parses a git author string in the format "Name <email>".
// Returns the name and email separately.
func ParseGitAuthor(author string) (name, email string) {
	author = strings.TrimSpace(author)

	// Find the last < and matching >
	leftAngle := strings.LastIndex(author, "<")
	rightAngle := strings.LastIndex(author, ">")

	if leftAngle != -1 && rightAngle != -1 && rightAngle > leftAngle {
		name = strings.TrimSpace(author[:leftAngle])
		email = strings.TrimSpace(author[leftAngle+1 : rightAngle])
	} else {
		name = author
	}

	return name, email
}
