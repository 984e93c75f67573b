package git

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RawCommit is a commit object as printed by git cat-file commit.
type RawCommit struct {
	Hash      string
	Tree      string
	Parents   []string
	Author    Person
	Committer Person
	Message   string
	Signed    bool
}

// Person is an author or committer line.
type Person struct {
	Name  string
	Email string
	When  time.Time
}

// ParseCommit parses a raw commit object. Unknown headers (encoding,
// mergetag, ...) are skipped; gpgsig and its continuation lines mark the
// commit as signed.
func ParseCommit(raw string) (*RawCommit, error) {
	headers, message, found := strings.Cut(raw, "\n\n")
	if !found {
		// A commit with an empty message ends after the headers
		headers = strings.TrimSuffix(raw, "\n")
	}

	c := &RawCommit{Message: message}
	for _, line := range strings.Split(headers, "\n") {
		if strings.HasPrefix(line, " ") {
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "tree":
			c.Tree = value
		case "parent":
			c.Parents = append(c.Parents, value)
		case "author":
			p, err := ParsePerson(value)
			if err != nil {
				return nil, fmt.Errorf("author: %w", err)
			}
			c.Author = p
		case "committer":
			p, err := ParsePerson(value)
			if err != nil {
				return nil, fmt.Errorf("committer: %w", err)
			}
			c.Committer = p
		case "gpgsig", "gpgsig-sha256":
			c.Signed = true
		}
	}
	if c.Tree == "" {
		return nil, fmt.Errorf("missing tree header")
	}
	return c, nil
}

// ParsePerson parses "Name <email> <unix-seconds> <+hhmm>".
func ParsePerson(value string) (Person, error) {
	end := strings.LastIndex(value, ">")
	if end == -1 {
		return Person{}, fmt.Errorf("malformed identity %q", value)
	}
	name, email := ParseGitAuthor(value[:end+1])
	p := Person{Name: name, Email: email}

	fields := strings.Fields(value[end+1:])
	if len(fields) != 2 {
		return p, nil
	}
	secs, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Person{}, fmt.Errorf("malformed timestamp %q", fields[0])
	}
	p.When = time.Unix(secs, 0).In(parseZone(fields[1]))
	return p, nil
}

// FormatDate renders t in git's internal date format.
func FormatDate(t time.Time) string {
	return fmt.Sprintf("%d %s", t.Unix(), t.Format("-0700"))
}

func parseZone(tz string) *time.Location {
	if len(tz) != 5 {
		return time.UTC
	}
	hours, err1 := strconv.Atoi(tz[1:3])
	minutes, err2 := strconv.Atoi(tz[3:5])
	if err1 != nil || err2 != nil {
		return time.UTC
	}
	offset := hours*3600 + minutes*60
	if tz[0] == '-' {
		offset = -offset
	}
	return time.FixedZone("", offset)
}
