package git

import (
	"strconv"
	"strings"
)

// ParseVersion extracts major and minor from "git version 2.43.0" style output.
func ParseVersion(out string) (major, minor int, ok bool) {
	fields := strings.Fields(out)
	if len(fields) < 3 || fields[0] != "git" || fields[1] != "version" {
		return 0, 0, false
	}
	parts := strings.SplitN(fields[2], ".", 3)
	if len(parts) < 2 {
		return 0, 0, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}

// SupportsMergeTree reports whether the git version has
// "merge-tree --write-tree --merge-base" (2.40 and newer).
func SupportsMergeTree(version string) bool {
	major, minor, ok := ParseVersion(version)
	if !ok {
		return false
	}
	return major > 2 || (major == 2 && minor >= 40)
}
