package util

import (
	"regexp"
	"strings"
)

const (
	// MaxIdentifierLength bounds sanitized identifiers so derived table names
	// stay well under SQLite's limits even with a uniqueness suffix appended.
	MaxIdentifierLength = 64
)

var (
	invalidIdentChars = regexp.MustCompile(`[^a-z0-9_]+`)
	underscoreRuns    = regexp.MustCompile(`_+`)
	leadingDigit      = regexp.MustCompile(`^[0-9]`)
)

// SanitizeIdentifier converts an arbitrary string into a safe SQL identifier:
// lowercase, [a-z0-9_] only, no runs of underscores, never starting with a
// digit. An input that sanitizes to nothing yields "t".
func SanitizeIdentifier(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.TrimSuffix(s, ".csv")
	s = invalidIdentChars.ReplaceAllString(s, "_")
	s = underscoreRuns.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "t"
	}
	if leadingDigit.MatchString(s) {
		s = "t_" + s
	}
	// SQLite reserves the sqlite_ prefix for its own tables; suffixing cannot
	// rescue such a name, so rewrite it up front.
	if strings.HasPrefix(s, "sqlite_") {
		s = "t_" + s
	}
	if len(s) > MaxIdentifierLength {
		s = strings.Trim(s[:MaxIdentifierLength], "_")
	}
	return s
}

var validIdent = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// IsSafeIdentifier reports whether a string is already a safe identifier.
// Table and column names are validated with this before they are
// interpolated into DDL; nothing user-controlled reaches SQL unchecked.
func IsSafeIdentifier(name string) bool {
	return name != "" && len(name) <= MaxIdentifierLength+8 && validIdent.MatchString(name)
}
