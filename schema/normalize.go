package schema

import "strings"

// NormalizeTitle derives a session title from the first prompt.
// Whitespace runs collapse to single spaces; anything longer than max
// runes is cut at max and suffixed with "...".
func NormalizeTitle(prompt string, max int) string {
	title := strings.Join(strings.Fields(prompt), " ")
	if max <= 0 {
		max = DefaultTitleMax
	}
	runes := []rune(title)
	if len(runes) <= max {
		return title
	}
	return string(runes[:max]) + "..."
}

// ValidateSessionID ensures a session id is safe to use as a filename
// component. Ids are opaque but must not traverse directories.
func ValidateSessionID(id SessionID) error {
	raw := string(id)
	if raw == "" || raw == "." || raw == ".." {
		return ErrInvalidSession
	}
	if strings.TrimSpace(raw) != raw {
		return ErrInvalidSession
	}
	if strings.ContainsAny(raw, "/\\") {
		return ErrInvalidSession
	}
	return nil
}

// IsWarmupSession reports whether a session was created by a warmup
// prompt. Warmup sessions are filtered from listings by default.
func IsWarmupSession(s Session) bool {
	return strings.HasPrefix(strings.ToLower(s.Title), "warmup")
}
