// Package recovery coerces raw model output into a parsed project
// manifest. It layers a normalizer, an ordered cascade of parse-repair
// strategies, and a truncation balancer. Every strategy is pure and
// self-validating: "success" always means a real parse, never a guess.
package recovery

import (
	"encoding/json"
	"strings"
)

// Normalize strips markdown fences and narrative text surrounding the
// JSON payload. It never fails: the result may still be malformed, the
// recovery engine deals with that.
func Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	// Prefer the content of the first fenced block when one exists.
	if strings.HasPrefix(trimmed, "```") {
		start := strings.Index(trimmed, "```")
		end := strings.Index(trimmed[start+3:], "```")
		if end != -1 {
			content := trimmed[start+3 : start+3+end]
			// Drop the language tag on the opening fence line.
			if idx := strings.Index(content, "\n"); idx != -1 {
				content = content[idx+1:]
			}
			trimmed = strings.TrimSpace(content)
		} else {
			// Unterminated fence: keep everything after the opening line.
			rest := trimmed[start+3:]
			if idx := strings.Index(rest, "\n"); idx != -1 {
				rest = rest[idx+1:]
			}
			trimmed = strings.TrimSpace(rest)
		}
	}

	// Cut leading prose before the first structural brace and trailing
	// prose after the last one. Quoted braces inside the payload are a
	// non-issue here: the first '{' of a manifest response is the object
	// opener, and anything after the final '}' is commentary.
	first := strings.IndexAny(trimmed, "{[")
	if first == -1 {
		return trimmed
	}
	last := strings.LastIndexAny(trimmed, "}]")
	if last > first {
		// Keep the tail when the last closing token is not the final
		// character: output truncated mid-string may carry payload after
		// its last brace, and the truncation recoverer needs it. A tail
		// with quotes or backslashes can also be plain commentary about
		// the code; when the bounded slice already parses on its own the
		// tail is prose, not payload, and must go.
		tail := strings.TrimSpace(trimmed[last+1:])
		if tail == "" || !strings.ContainsAny(tail, "\"\\") {
			return trimmed[first : last+1]
		}
		if json.Valid([]byte(trimmed[first : last+1])) {
			return trimmed[first : last+1]
		}
	}
	return trimmed[first:]
}
