package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"appforge/internal/logging"
	"appforge/internal/manifest"
)

// ErrParseExhausted signals that every recovery strategy failed.
var ErrParseExhausted = errors.New("all JSON recovery strategies exhausted")

// ParseError carries diagnostic context for an unrecoverable response.
type ParseError struct {
	Length    int
	Head      string
	Tail      string
	Attempted int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v: %d strategies failed on %d bytes (head=%q tail=%q)",
		ErrParseExhausted, e.Attempted, e.Length, e.Head, e.Tail)
}

func (e *ParseError) Unwrap() error { return ErrParseExhausted }

// Strategy is one pure parse-repair attempt. It returns the parsed
// manifest and true only when its repaired text survives a real parse.
type Strategy struct {
	Name  string
	Apply func(text string) (*manifest.Manifest, bool)
}

// Engine evaluates an ordered strategy list, stopping at first success.
type Engine struct {
	strategies []Strategy
}

// NewEngine builds the default cascade. Order matters: cheap and
// non-destructive strategies run first, lossy ones last.
func NewEngine() *Engine {
	return &Engine{strategies: []Strategy{
		{Name: "direct", Apply: parseDirect},
		{Name: "unwrap-double-encoded", Apply: parseUnwrapped},
		{Name: "strip-trailing-commas", Apply: parseWithoutTrailingCommas},
		{Name: "escape-control-chars", Apply: parseWithEscapedControls},
		{Name: "normalize-bad-escapes", Apply: parseWithNormalizedEscapes},
		{Name: "truncate-at-boundary", Apply: parseTruncatedAtBoundary},
		{Name: "balance-nesting", Apply: parseBalanced},
	}}
}

// Decode normalizes the raw response and runs the cascade over it.
func (e *Engine) Decode(raw string) (*manifest.Manifest, error) {
	text := Normalize(raw)

	for _, s := range e.strategies {
		if m, ok := s.Apply(text); ok {
			logging.Recovery("decode: strategy %q succeeded (%d files)", s.Name, len(m.Files))
			return m, nil
		}
		logging.RecoveryDebug("decode: strategy %q failed", s.Name)
	}

	logging.RecoveryWarn("decode: exhausted %d strategies on %d bytes", len(e.strategies), len(text))
	return nil, &ParseError{
		Length:    len(text),
		Head:      snippet(text, 0, 120),
		Tail:      snippet(text, len(text)-120, 120),
		Attempted: len(e.strategies),
	}
}

// parseManifest is the shared success criterion: a real parse producing
// at least a files array.
func parseManifest(text string) (*manifest.Manifest, bool) {
	var m manifest.Manifest
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return nil, false
	}
	if m.Files == nil {
		return nil, false
	}
	if m.Dependencies == nil {
		m.Dependencies = map[string]string{}
	}
	return &m, true
}

// parseDirect is strategy (a): the text already parses.
func parseDirect(text string) (*manifest.Manifest, bool) {
	return parseManifest(text)
}

// parseUnwrapped is strategy (b): the whole payload is a JSON string
// literal whose value is the manifest (double encoding).
func parseUnwrapped(text string) (*manifest.Manifest, bool) {
	candidate := strings.TrimSpace(text)
	if !strings.HasPrefix(candidate, `"`) {
		// Double-encoded payloads sometimes arrive without the outer
		// quotes but with every inner quote escaped.
		if !strings.HasPrefix(candidate, `{\"`) {
			return nil, false
		}
		candidate = `"` + strings.TrimSuffix(candidate, `"`) + `"`
	}
	var inner string
	if err := json.Unmarshal([]byte(candidate), &inner); err != nil {
		return nil, false
	}
	return parseManifest(inner)
}

// parseWithoutTrailingCommas is strategy (c): remove commas that
// directly precede a closing brace or bracket, outside string literals.
func parseWithoutTrailingCommas(text string) (*manifest.Manifest, bool) {
	return parseManifest(stripTrailingCommas(text))
}

func stripTrailingCommas(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inString {
			sb.WriteByte(ch)
			if escaped {
				escaped = false
			} else if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
			continue
		}
		if ch == '"' {
			inString = true
			sb.WriteByte(ch)
			continue
		}
		if ch == ',' {
			// Look ahead past whitespace for a closing token.
			j := i + 1
			for j < len(text) && (text[j] == ' ' || text[j] == '\t' || text[j] == '\n' || text[j] == '\r') {
				j++
			}
			if j < len(text) && (text[j] == '}' || text[j] == ']') {
				continue // drop the comma
			}
		}
		sb.WriteByte(ch)
	}
	return sb.String()
}

// parseWithEscapedControls is strategy (d): raw control characters
// inside string literals become their escape sequences.
func parseWithEscapedControls(text string) (*manifest.Manifest, bool) {
	return parseManifest(escapeControlChars(text))
}

func escapeControlChars(text string) string {
	var sb strings.Builder
	sb.Grow(len(text) + 16)
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		ch := text[i]
		if !inString {
			if ch == '"' {
				inString = true
			}
			sb.WriteByte(ch)
			continue
		}
		if escaped {
			escaped = false
			sb.WriteByte(ch)
			continue
		}
		switch {
		case ch == '\\':
			escaped = true
			sb.WriteByte(ch)
		case ch == '"':
			inString = false
			sb.WriteByte(ch)
		case ch == '\n':
			sb.WriteString(`\n`)
		case ch == '\r':
			sb.WriteString(`\r`)
		case ch == '\t':
			sb.WriteString(`\t`)
		case ch < 0x20:
			fmt.Fprintf(&sb, `\u%04x`, ch)
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String()
}

// parseWithNormalizedEscapes is strategy (e): backslashes that do not
// begin a valid JSON escape get doubled, and stray backslashes outside
// any string are dropped.
func parseWithNormalizedEscapes(text string) (*manifest.Manifest, bool) {
	return parseManifest(normalizeEscapes(text))
}

func normalizeEscapes(text string) string {
	var sb strings.Builder
	sb.Grow(len(text) + 16)
	inString := false

	for i := 0; i < len(text); i++ {
		ch := text[i]
		if !inString {
			if ch == '\\' {
				continue // stray backslash outside a string
			}
			if ch == '"' {
				inString = true
			}
			sb.WriteByte(ch)
			continue
		}
		if ch == '"' {
			inString = false
			sb.WriteByte(ch)
			continue
		}
		if ch != '\\' {
			sb.WriteByte(ch)
			continue
		}
		if i+1 >= len(text) {
			sb.WriteString(`\\`)
			continue
		}
		next := text[i+1]
		switch next {
		case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
			sb.WriteByte(ch)
			sb.WriteByte(next)
			i++
		default:
			// Invalid escape such as \_ or \*: escape the backslash and
			// keep the following character literal.
			sb.WriteString(`\\`)
		}
	}
	return sb.String()
}

// maxBoundaryCandidates bounds the backward search of strategy (f).
const maxBoundaryCandidates = 64

// boundaryClosers are the synthesized manifest tails tried per cut.
var boundaryClosers = []string{"]}", "}", "}}", "]}}"}

// parseTruncatedAtBoundary is strategy (f): cut the text at the last
// structurally valid file boundary and synthesize a close. A candidate
// is accepted only when the truncated text itself parses, which rejects
// boundaries that fall inside a content string (those cuts leave an
// unterminated literal and cannot parse). Surviving files are therefore
// always exact contiguous slices of the original.
func parseTruncatedAtBoundary(text string) (*manifest.Manifest, bool) {
	cut := len(text)
	for attempt := 0; attempt < maxBoundaryCandidates; attempt++ {
		idx := strings.LastIndex(text[:cut], "},")
		if idx < 0 {
			return nil, false
		}
		cut = idx
		candidate := text[:idx+1]
		for _, closer := range boundaryClosers {
			if m, ok := parseManifest(candidate + closer); ok && len(m.Files) > 0 {
				return m, true
			}
		}
	}
	return nil, false
}

// parseBalanced is strategy (g): close open strings and unwind the
// nesting stack, dropping a dangling separator first.
func parseBalanced(text string) (*manifest.Manifest, bool) {
	trimmed := strings.TrimRight(text, " \t\r\n")
	// A trailing comma or colon balances into invalid JSON; trim it when
	// it sits outside any string literal.
	if IsBalancedOutsideString(trimmed) {
		trimmed = strings.TrimRight(trimmed, ",: \t\r\n")
	}
	return parseManifest(Balance(trimmed))
}

// IsBalancedOutsideString reports whether the text ends outside a string
// literal (every quote closed, no dangling escape).
func IsBalancedOutsideString(text string) bool {
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
			continue
		}
		if ch == '"' {
			inString = true
		}
	}
	return !inString && !escaped
}

func snippet(text string, start, length int) string {
	if start < 0 {
		start = 0
	}
	if start >= len(text) {
		return ""
	}
	end := start + length
	if end > len(text) {
		end = len(text)
	}
	return text[start:end]
}
