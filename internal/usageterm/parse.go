package usageterm

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/stomrex77/claude-web/schema"
)

var (
	ansiPattern   = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	percentUsedRe = regexp.MustCompile(`(?i)(\d{1,3})%\s*used`)
	resetsRe      = regexp.MustCompile(`(?i)^resets\s+(.+?)(?:\s*\(([^)]+)\))?$`)
)

func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// stripBoxChars trims the box-drawing frame the CLI renders around the
// usage modal. The caller strips escape sequences first.
func stripBoxChars(line string) string {
	return strings.Trim(line, " \t│╭╰╮╯─")
}

func isLineBreak(r rune) bool { return r == '\n' || r == '\r' }

// usageComplete reports whether the modal has rendered far enough to
// parse: at least one percentage and one reset line are visible.
func usageComplete(buffer string) bool {
	text := strings.ToLower(stripANSI(buffer))
	return percentUsedRe.MatchString(text) && strings.Contains(text, "resets")
}

// ParseUsageOutput scrapes rate-limit windows from raw /usage modal
// output. The layout belongs to the claude CLI and shifts between
// releases; unknown lines are ignored rather than rejected.
func ParseUsageOutput(raw string) schema.RateLimits {
	var limits schema.RateLimits
	var current *schema.RateLimitWindow
	// Carriage returns count as line breaks so mid-line redraws do not
	// glue fragments together.
	for _, line := range strings.FieldsFunc(stripANSI(raw), isLineBreak) {
		trimmed := stripBoxChars(line)
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(trimmed)
		switch {
		case strings.HasPrefix(lower, "current session"):
			current = &schema.RateLimitWindow{Name: "Current Session"}
			limits.Session = current
			continue
		case strings.HasPrefix(lower, "current week (all models)"):
			current = &schema.RateLimitWindow{Name: "Current Week (all models)"}
			limits.WeekAllModels = current
			continue
		case strings.HasPrefix(lower, "current week (sonnet"):
			current = &schema.RateLimitWindow{Name: "Current Week (Sonnet)"}
			limits.WeekSonnet = current
			continue
		case strings.HasPrefix(lower, "current week (opus"):
			// Opus-only weeks show up on some plans; folded into the
			// all-models bucket when that one is absent.
			if limits.WeekAllModels == nil {
				current = &schema.RateLimitWindow{Name: "Current Week (Opus)"}
				limits.WeekAllModels = current
			} else {
				current = nil
			}
			continue
		}
		if current == nil {
			continue
		}
		if m := percentUsedRe.FindStringSubmatch(trimmed); m != nil {
			if pct, err := strconv.Atoi(m[1]); err == nil {
				current.PercentUsed = pct
			}
			continue
		}
		if m := resetsRe.FindStringSubmatch(trimmed); m != nil {
			current.ResetTime = strings.TrimSpace(m[1])
			current.ResetTimezone = m[2]
		}
	}
	return limits
}
