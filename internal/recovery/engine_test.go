package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appforge/internal/manifest"
)

func sampleManifest() *manifest.Manifest {
	return &manifest.Manifest{
		Files: []manifest.File{
			{Path: "index.html", Content: "<!doctype html>\n<html><body><div id=\"root\"></div></body></html>\n"},
			{Path: "src/main.jsx", Content: "import React from \"react\";\nconsole.log(\"boot\");\n"},
			{Path: "src/App.jsx", Content: "export default function App() { return null; }\n"},
		},
		Dependencies: map[string]string{"react": "^18.3.1"},
	}
}

func encode(t *testing.T, m *manifest.Manifest) string {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	return string(data)
}

func TestDecodeWellFormed(t *testing.T) {
	want := sampleManifest()
	got, err := NewEngine().Decode(encode(t, want))
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(want, got))
}

func TestDecodeCompleteManifestWithQuotedProse(t *testing.T) {
	// Trailing narration containing quotes must not push a complete
	// manifest into the lossy truncation strategies: every file and the
	// dependency map survive intact.
	want := sampleManifest()
	raw := encode(t, want) + "\nDone! The app greets users with \"hello\" on load."
	got, err := NewEngine().Decode(raw)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(want, got))
}

func TestDecodeFencedWithProse(t *testing.T) {
	want := sampleManifest()
	raw := "Here is your project:\n\n```json\n" + encode(t, want) + "\n```\n\nLet me know if you need changes!"
	got, err := NewEngine().Decode(raw)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(want, got))
}

func TestDecodeDoubleEncoded(t *testing.T) {
	want := sampleManifest()
	wrapped, err := json.Marshal(encode(t, want))
	require.NoError(t, err)

	got, err := NewEngine().Decode(string(wrapped))
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(want, got))
}

func TestDecodeTrailingCommas(t *testing.T) {
	raw := `{"files":[{"path":"a.js","content":"x",},],"dependencies":{},}`
	got, err := NewEngine().Decode(raw)
	require.NoError(t, err)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "x", got.Files[0].Content)
}

func TestDecodeTrailingCommaInsideStringKept(t *testing.T) {
	raw := `{"files":[{"path":"a.js","content":"x,}"}],"dependencies":{}}`
	got, err := NewEngine().Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "x,}", got.Files[0].Content)
}

func TestDecodeRawControlChars(t *testing.T) {
	raw := "{\"files\":[{\"path\":\"a.js\",\"content\":\"line1\nline2\tend\"}],\"dependencies\":{}}"
	got, err := NewEngine().Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2\tend", got.Files[0].Content)
}

func TestDecodeBadEscapes(t *testing.T) {
	raw := `{"files":[{"path":"a.js","content":"glob \* pattern"}],"dependencies":{}}`
	got, err := NewEngine().Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, `glob \* pattern`, got.Files[0].Content)
}

func TestDecodeTruncatedKeepsExactPrefix(t *testing.T) {
	full := encode(t, sampleManifest())

	// Cut at every offset past the first complete file entry; whenever
	// recovery succeeds the surviving files must be an exact prefix of
	// the original set.
	want := sampleManifest()
	recovered := 0
	for cut := len(full) / 3; cut < len(full); cut++ {
		got, err := NewEngine().Decode(full[:cut])
		if err != nil {
			continue
		}
		recovered++
		require.NotEmpty(t, got.Files, "cut=%d", cut)
		require.LessOrEqual(t, len(got.Files), len(want.Files), "cut=%d", cut)
		for i, f := range got.Files {
			if i == len(got.Files)-1 && cut < len(full) {
				// The final recovered file may be a truncated rendition
				// of the original produced by the balancing strategy;
				// its path must still match.
				if f.Content != want.Files[i].Content {
					assert.Equal(t, want.Files[i].Path, f.Path, "cut=%d", cut)
					continue
				}
			}
			assert.Equal(t, want.Files[i], f, "cut=%d file=%d", cut, i)
		}
	}
	assert.Greater(t, recovered, 0)
}

func TestBoundarySearchIgnoresBraceCommaInString(t *testing.T) {
	// The first file's content contains a literal "}," sequence. A
	// truncation landing after the second file must never cut inside
	// the first file's string.
	m := &manifest.Manifest{
		Files: []manifest.File{
			{Path: "a.js", Content: `const style = {color: "red"}, other = 1;`},
			{Path: "b.js", Content: "export {};"},
			{Path: "c.js", Content: "export default 1;"},
		},
		Dependencies: map[string]string{},
	}
	full := encode(t, m)

	// Truncate mid way through the third file entry.
	thirdStart := strings.Index(full, `"c.js"`)
	require.Greater(t, thirdStart, 0)
	got, err := NewEngine().Decode(full[:thirdStart+8])
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(got.Files), 2)
	assert.Equal(t, m.Files[0], got.Files[0])
	assert.Equal(t, m.Files[1], got.Files[1])
}

func TestDecodeBalancesDanglingStructure(t *testing.T) {
	raw := `{"files":[{"path":"a.js","content":"let x = 1;`
	got, err := NewEngine().Decode(raw)
	require.NoError(t, err)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "a.js", got.Files[0].Path)
	assert.Equal(t, "let x = 1;", got.Files[0].Content)
}

func TestDecodeExhausted(t *testing.T) {
	_, err := NewEngine().Decode("I cannot generate that project, sorry.")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParseExhausted))

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, len(NewEngine().strategies), pe.Attempted)
	assert.NotEmpty(t, pe.Head)
}

func TestDecodeEmptyInput(t *testing.T) {
	_, err := NewEngine().Decode("")
	assert.True(t, errors.Is(err, ErrParseExhausted))
}

func TestDecodeRejectsScalarJSON(t *testing.T) {
	// Parseable JSON without a files array is still a failure.
	_, err := NewEngine().Decode(`{"message": "ok"}`)
	assert.True(t, errors.Is(err, ErrParseExhausted))
}

func TestStrategiesArePure(t *testing.T) {
	raw := `{"files":[{"path":"a.js","content":"x",}],"dependencies":{}}`
	first, err := NewEngine().Decode(raw)
	require.NoError(t, err)
	second, err := NewEngine().Decode(raw)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(first, second))
}

func TestStripTrailingCommas(t *testing.T) {
	cases := []struct{ in, want string }{
		{`{"a":1,}`, `{"a":1}`},
		{`[1,2,]`, `[1,2]`},
		{`{"a":1, }`, `{"a":1 }`},
		{`{"a":",}"}`, `{"a":",}"}`},
		{`{"a":1}`, `{"a":1}`},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, stripTrailingCommas(tc.in), tc.in)
	}
}

func TestNormalizeEscapes(t *testing.T) {
	in := `{"a":"bad \_ escape"}`
	out := normalizeEscapes(in)
	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, `bad \_ escape`, v["a"])
}

func TestEscapeControlChars(t *testing.T) {
	in := "{\"a\":\"x\ny\"}"
	out := escapeControlChars(in)
	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, "x\ny", v["a"])
}

func TestParseErrorMessage(t *testing.T) {
	pe := &ParseError{Length: 10, Head: "abc", Tail: "xyz", Attempted: 7}
	msg := pe.Error()
	assert.Contains(t, msg, "7 strategies")
	assert.Contains(t, msg, fmt.Sprintf("%d bytes", 10))
}
