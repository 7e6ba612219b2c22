// Package validate holds the per-file syntax checker and the heuristic
// quality auditor that gate generated manifests.
package validate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"appforge/internal/logging"
	"appforge/internal/manifest"
)

// parserFunc parses one file standalone and returns the first diagnostic,
// or nil when the file is clean.
type parserFunc func(ctx context.Context, path string, content []byte) *manifest.Issue

// SyntaxChecker parses every source file standalone to catch parse
// errors before lint ever runs.
type SyntaxChecker struct {
	parsers map[string]parserFunc
}

// NewSyntaxChecker creates a syntax checker with built-in parsers.
func NewSyntaxChecker() *SyntaxChecker {
	c := &SyntaxChecker{parsers: make(map[string]parserFunc)}

	c.parsers[".js"] = parseTreeSitter(javascript.GetLanguage())
	c.parsers[".jsx"] = parseTreeSitter(javascript.GetLanguage())
	c.parsers[".mjs"] = parseTreeSitter(javascript.GetLanguage())
	c.parsers[".cjs"] = parseTreeSitter(javascript.GetLanguage())
	c.parsers[".ts"] = parseTreeSitter(typescript.GetLanguage())
	c.parsers[".tsx"] = parseTreeSitter(tsx.GetLanguage())
	c.parsers[".json"] = parseJSON
	c.parsers[".css"] = parseCSS
	c.parsers[".html"] = parseHTML

	return c
}

// RegisterParser adds a custom parser for a file extension.
func (c *SyntaxChecker) RegisterParser(ext string, fn parserFunc) {
	c.parsers[ext] = fn
}

// Check parses every file it has a parser for, recording the first
// diagnostic per file. Files without a registered parser are skipped.
func (c *SyntaxChecker) Check(ctx context.Context, m *manifest.Manifest) []manifest.Issue {
	var issues []manifest.Issue
	for _, f := range m.Files {
		ext := extOf(f.Path)
		fn, ok := c.parsers[ext]
		if !ok {
			continue
		}
		if issue := fn(ctx, f.Path, []byte(f.Content)); issue != nil {
			issues = append(issues, *issue)
		}
	}
	logging.Validate("syntax: %d files checked, %d issues", len(m.Files), len(issues))
	return issues
}

// parseTreeSitter builds a parser backed by the given grammar. The first
// ERROR or MISSING node supplies the diagnostic position.
func parseTreeSitter(lang *sitter.Language) parserFunc {
	return func(ctx context.Context, path string, content []byte) *manifest.Issue {
		parser := sitter.NewParser()
		defer parser.Close()
		parser.SetLanguage(lang)

		tree, err := parser.ParseCtx(ctx, nil, content)
		if err != nil {
			return &manifest.Issue{
				Path:     path,
				Category: manifest.CategorySyntax,
				Severity: manifest.SeverityError,
				Message:  fmt.Sprintf("parse failed: %v", err),
			}
		}
		defer tree.Close()

		root := tree.RootNode()
		if !root.HasError() {
			return nil
		}

		node := firstErrorNode(root)
		line, col := 1, 1
		msg := "syntax error"
		if node != nil {
			point := node.StartPoint()
			line = int(point.Row) + 1
			col = int(point.Column) + 1
			if node.IsMissing() {
				msg = fmt.Sprintf("missing %s", node.Type())
			} else {
				msg = fmt.Sprintf("unexpected input near %q", truncateText(node.Content(content), 40))
			}
		}
		return &manifest.Issue{
			Path:     path,
			Line:     line,
			Column:   col,
			Category: manifest.CategorySyntax,
			Severity: manifest.SeverityError,
			Message:  msg,
		}
	}
}

// firstErrorNode walks the tree for the earliest ERROR or MISSING node.
func firstErrorNode(n *sitter.Node) *sitter.Node {
	if n.IsError() || n.IsMissing() {
		return n
	}
	if !n.HasError() {
		return nil
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if found := firstErrorNode(n.Child(i)); found != nil {
			return found
		}
	}
	return n
}

// parseJSON validates JSON files, converting the decoder offset into a
// line/column position.
func parseJSON(_ context.Context, path string, content []byte) *manifest.Issue {
	var v interface{}
	err := json.Unmarshal(content, &v)
	if err == nil {
		return nil
	}

	line, col := 1, 1
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col = offsetToPosition(content, int(syntaxErr.Offset))
	}
	return &manifest.Issue{
		Path:     path,
		Line:     line,
		Column:   col,
		Category: manifest.CategorySyntax,
		Severity: manifest.SeverityError,
		Message:  err.Error(),
	}
}

func offsetToPosition(content []byte, offset int) (line, col int) {
	line, col = 1, 1
	for i := 0; i < offset && i < len(content); i++ {
		if content[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

// parseCSS does line-aware brace and comment balancing. CSS grammars are
// forgiving; unbalanced braces or an unterminated comment are the errors
// that actually break builds.
func parseCSS(_ context.Context, path string, content []byte) *manifest.Issue {
	depth := 0
	line := 1
	inComment := false
	text := string(content)

	for i := 0; i < len(text); i++ {
		ch := text[i]
		if ch == '\n' {
			line++
			continue
		}
		if inComment {
			if ch == '*' && i+1 < len(text) && text[i+1] == '/' {
				inComment = false
				i++
			}
			continue
		}
		switch ch {
		case '/':
			if i+1 < len(text) && text[i+1] == '*' {
				inComment = true
				i++
			}
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return &manifest.Issue{
					Path: path, Line: line, Column: 1,
					Category: manifest.CategorySyntax,
					Severity: manifest.SeverityError,
					Message:  "unmatched closing brace",
				}
			}
		}
	}

	if inComment {
		return &manifest.Issue{
			Path: path, Line: line, Column: 1,
			Category: manifest.CategorySyntax,
			Severity: manifest.SeverityError,
			Message:  "unterminated comment",
		}
	}
	if depth != 0 {
		return &manifest.Issue{
			Path: path, Line: line, Column: 1,
			Category: manifest.CategorySyntax,
			Severity: manifest.SeverityError,
			Message:  fmt.Sprintf("%d unclosed block(s)", depth),
		}
	}
	return nil
}

// pairedHTMLTags are the structural tags whose imbalance indicates
// truncated or mangled markup. Void and optional-close tags are
// deliberately not checked.
var pairedHTMLTags = []string{"html", "head", "body", "div", "script", "style", "nav", "main", "section"}

var htmlTagPatterns = buildTagPatterns()

type tagPattern struct {
	tag   string
	open  *regexp.Regexp
	close *regexp.Regexp
}

func buildTagPatterns() []tagPattern {
	out := make([]tagPattern, 0, len(pairedHTMLTags))
	for _, tag := range pairedHTMLTags {
		out = append(out, tagPattern{
			tag:   tag,
			open:  regexp.MustCompile(`(?i)<` + tag + `(\s[^>]*)?>`),
			close: regexp.MustCompile(`(?i)</` + tag + `\s*>`),
		})
	}
	return out
}

// parseHTML performs a light structural check: paired structural tag
// counts must match. Full HTML validation is the linter's job.
func parseHTML(_ context.Context, path string, content []byte) *manifest.Issue {
	text := string(content)
	for _, p := range htmlTagPatterns {
		open := 0
		for _, m := range p.open.FindAllString(text, -1) {
			if !strings.HasSuffix(m, "/>") {
				open++
			}
		}
		closed := len(p.close.FindAllString(text, -1))
		tag := p.tag
		if open != closed {
			return &manifest.Issue{
				Path:     path,
				Line:     1,
				Column:   1,
				Category: manifest.CategorySyntax,
				Severity: manifest.SeverityError,
				Message:  fmt.Sprintf("unbalanced <%s> tags (%d open, %d closed)", tag, open, closed),
			}
		}
	}
	return nil
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func extOf(p string) string {
	if idx := strings.LastIndex(p, "."); idx >= 0 {
		return strings.ToLower(p[idx:])
	}
	return ""
}
