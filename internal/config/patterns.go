package config

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MatchAny reports whether path matches one of the patterns. Patterns
// without a slash match the base name; the rest match the whole slash path.
func MatchAny(patterns []string, path string) bool {
	slashed := filepath.ToSlash(path)
	base := filepath.Base(path)
	for _, pattern := range patterns {
		subject := slashed
		if !strings.Contains(pattern, "/") {
			subject = base
		}
		if ok, err := doublestar.Match(pattern, subject); err == nil && ok {
			return true
		}
	}
	return false
}

// ValidPattern reports whether pattern is a well formed glob
func ValidPattern(pattern string) bool {
	return doublestar.ValidatePattern(pattern)
}
