package recovery

import "strings"

// Balance appends the minimal closing tokens needed to make truncated
// JSON structurally complete: it closes an open string literal, then
// unwinds the bracket/brace stack in order. Already balanced text is
// returned unchanged, so the function is idempotent.
func Balance(text string) string {
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		ch := text[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, ch)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if !inString && !escaped && len(stack) == 0 {
		return text
	}

	var sb strings.Builder
	sb.WriteString(text)

	// A trailing backslash is half an escape sequence; completing it as
	// an escaped backslash keeps the string valid.
	if escaped {
		sb.WriteByte('\\')
	}
	if inString || escaped {
		sb.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			sb.WriteByte('}')
		} else {
			sb.WriteByte(']')
		}
	}
	return sb.String()
}

// IsBalanced reports whether the text has no unclosed strings, braces,
// or brackets.
func IsBalanced(text string) bool {
	return Balance(text) == text
}
