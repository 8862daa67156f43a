package id

import (
	"strings"

	"github.com/google/uuid"
)

// UUID generates a random (version 4) UUID string.
func UUID() string {
	return uuid.NewString()
}

// Short generates a 16-character hex ID.
func Short() string {
	u := uuid.New()
	return strings.ReplaceAll(u.String(), "-", "")[:16]
}

// Prefixed returns prefix + "-" + the first 8 hex characters of a UUID.
// An empty prefix returns just the random part.
func Prefixed(prefix string) string {
	suffix := Short()[:8]
	if prefix == "" {
		return suffix
	}
	return prefix + "-" + suffix
}

// Valid reports whether s is safe to use as a server or endpoint id:
// non-empty, at most 128 bytes, made of letters, digits, '-', '_' and '.'.
func Valid(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}
