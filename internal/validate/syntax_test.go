package validate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appforge/internal/manifest"
)

func checkOne(t *testing.T, path, content string) []manifest.Issue {
	t.Helper()
	c := NewSyntaxChecker()
	m := &manifest.Manifest{Files: []manifest.File{{Path: path, Content: content}}}
	return c.Check(context.Background(), m)
}

func TestSyntaxCleanJSX(t *testing.T) {
	src := `import React from "react";

export default function App() {
  return (
    <div className="p-4">
      <h1>Hello</h1>
    </div>
  );
}
`
	issues := checkOne(t, "src/App.jsx", src)
	assert.Empty(t, issues)
}

func TestSyntaxBrokenJSX(t *testing.T) {
	src := `export default function App() {
  return (
    <div>
`
	issues := checkOne(t, "src/App.jsx", src)
	require.Len(t, issues, 1)
	assert.Equal(t, "src/App.jsx", issues[0].Path)
	assert.Equal(t, manifest.CategorySyntax, issues[0].Category)
	assert.GreaterOrEqual(t, issues[0].Line, 1)
}

func TestSyntaxTypeScript(t *testing.T) {
	clean := `const x: number = 1;
export function add(a: number, b: number): number { return a + b; }
`
	assert.Empty(t, checkOne(t, "src/util.ts", clean))

	broken := `const x: = ;`
	assert.Len(t, checkOne(t, "src/util.ts", broken), 1)
}

func TestSyntaxJSONPosition(t *testing.T) {
	issues := checkOne(t, "package.json", "{\n  \"name\": \"demo\",\n  \"broken\"\n}\n")
	require.Len(t, issues, 1)
	assert.GreaterOrEqual(t, issues[0].Line, 3)
}

func TestSyntaxJSONClean(t *testing.T) {
	assert.Empty(t, checkOne(t, "package.json", `{"name":"demo","private":true}`))
}

func TestSyntaxCSS(t *testing.T) {
	assert.Empty(t, checkOne(t, "src/index.css", "body { margin: 0; }\n/* note */\n.a { color: red; }\n"))

	issues := checkOne(t, "src/index.css", "body { margin: 0;\n.a { color: red; }\n")
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Message, "unclosed")
}

func TestSyntaxCSSBracesInComment(t *testing.T) {
	assert.Empty(t, checkOne(t, "src/index.css", "/* { { { */\nbody { margin: 0; }\n"))
}

func TestSyntaxHTML(t *testing.T) {
	clean := `<!doctype html>
<html>
  <head><title>x</title></head>
  <body>
    <div id="root"></div>
    <script type="module" src="/src/main.jsx"></script>
  </body>
</html>
`
	assert.Empty(t, checkOne(t, "index.html", clean))

	truncated := `<html><body><div id="root">`
	issues := checkOne(t, "index.html", truncated)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Message, "unbalanced")
}

func TestSyntaxHTMLTagWhitespaceAndSelfClosing(t *testing.T) {
	// An open tag with only trailing whitespace still counts as open;
	// self-closing forms count as neither open nor close.
	balanced := `<html><body><div ></div><div class="x" /></body></html>`
	assert.Empty(t, checkOne(t, "index.html", balanced))
}

func TestSyntaxUnknownExtensionSkipped(t *testing.T) {
	assert.Empty(t, checkOne(t, "public/robots.txt", "not code at all {{{"))
}

func TestSyntaxFirstIssuePerFile(t *testing.T) {
	c := NewSyntaxChecker()
	m := &manifest.Manifest{Files: []manifest.File{
		{Path: "a.json", Content: "{"},
		{Path: "b.json", Content: "{"},
	}}
	issues := c.Check(context.Background(), m)
	assert.Len(t, issues, 2)
}
