package matching

import (
	"strings"

	"github.com/google/uuid"
)

// FamilyKey builds a parameterized-path key where variable-looking segments
// (numbers, UUIDs, long hex strings) collapse to a placeholder, so
// "/cars/1" and "/cars/2" share one family. This is an opt-in policy layered
// over exact matching, never the default.
func FamilyKey(method, path string) string {
	p := NormalizePath(path)
	if p == "/" {
		return strings.ToUpper(method) + " /"
	}
	segments := strings.Split(p[1:], "/")
	for i, seg := range segments {
		if isVariableSegment(seg) {
			segments[i] = "{}"
		}
	}
	return strings.ToUpper(method) + " /" + strings.Join(segments, "/")
}

func isVariableSegment(seg string) bool {
	if seg == "" {
		return false
	}
	if isDigits(seg) {
		return true
	}
	if _, err := uuid.Parse(seg); err == nil {
		return true
	}
	return len(seg) >= 16 && isHex(seg)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
