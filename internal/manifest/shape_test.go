package manifest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completeFiles() []File {
	return []File{
		{Path: "index.html", Content: "<!doctype html>"},
		{Path: "src/main.jsx", Content: "boot"},
		{Path: "src/App.jsx", Content: "app"},
	}
}

var defaultLimits = ShapeLimits{MaxFiles: 60, MaxFileBytes: 200 * 1024}

func TestValidateShapeClean(t *testing.T) {
	res := ValidateShape(&Manifest{Files: completeFiles()}, defaultLimits)
	require.NoError(t, res.Fatal)
	assert.True(t, res.Passed())
	assert.Empty(t, res.Dropped)
	assert.Len(t, res.Manifest.Files, 3)
}

func TestValidateShapeRejectsUnsafePaths(t *testing.T) {
	unsafe := []string{
		"../../etc/passwd",
		"..",
		"/etc/passwd",
		"C:/Windows/system32/evil.js",
		"c:\\temp\\x.js",
		"src/\x00hidden.js",
		"src/evil\n.js",
		"src/evil\r.js",
		"node_modules/react/index.js",
		".git/config",
		"dist/bundle.js",
		"build/out.js",
		".cache/x",
		"",
		".",
	}
	for _, p := range unsafe {
		files := append(completeFiles(), File{Path: p, Content: "x"})
		res := ValidateShape(&Manifest{Files: files}, defaultLimits)
		require.NoError(t, res.Fatal, "path %q", p)
		assert.Contains(t, res.Dropped, p, "path %q must be dropped", p)
		for _, f := range res.Manifest.Files {
			assert.NotEqual(t, NormalizePath(p), f.Path, "path %q leaked through", p)
		}
	}
}

func TestValidateShapeDropsLockfiles(t *testing.T) {
	for _, name := range []string{"package-lock.json", "yarn.lock", "pnpm-lock.yaml", "bun.lockb"} {
		files := append(completeFiles(), File{Path: name, Content: "{}"})
		res := ValidateShape(&Manifest{Files: files}, defaultLimits)
		require.NoError(t, res.Fatal)
		assert.Contains(t, res.Dropped, name)
	}
}

func TestValidateShapeNormalizesBackslashes(t *testing.T) {
	files := append(completeFiles(), File{Path: `src\components\Nav.jsx`, Content: "nav"})
	res := ValidateShape(&Manifest{Files: files}, defaultLimits)
	require.NoError(t, res.Fatal)
	_, ok := res.Manifest.Lookup("src/components/Nav.jsx")
	assert.True(t, ok)
}

func TestValidateShapeDedupeLastWriteWins(t *testing.T) {
	files := []File{
		{Path: "index.html", Content: "first"},
		{Path: "src/main.jsx", Content: "boot"},
		{Path: "src/App.jsx", Content: "app"},
		{Path: "./index.html", Content: "second"},
	}
	res := ValidateShape(&Manifest{Files: files}, defaultLimits)
	require.NoError(t, res.Fatal)
	require.Len(t, res.Manifest.Files, 3)
	// Position of the first occurrence, content of the last.
	assert.Equal(t, "index.html", res.Manifest.Files[0].Path)
	assert.Equal(t, "second", res.Manifest.Files[0].Content)
}

func TestValidateShapeFatalCases(t *testing.T) {
	res := ValidateShape(nil, defaultLimits)
	assert.ErrorIs(t, res.Fatal, ErrNoFiles)

	res = ValidateShape(&Manifest{}, defaultLimits)
	assert.ErrorIs(t, res.Fatal, ErrNoFiles)

	// Every file dropped leaves nothing usable.
	res = ValidateShape(&Manifest{Files: []File{{Path: "../x", Content: "y"}}}, defaultLimits)
	assert.ErrorIs(t, res.Fatal, ErrNoFiles)

	many := make([]File, 61)
	for i := range many {
		many[i] = File{Path: "f" + strings.Repeat("a", i+1) + ".js", Content: "x"}
	}
	res = ValidateShape(&Manifest{Files: many}, defaultLimits)
	assert.ErrorIs(t, res.Fatal, ErrTooManyFiles)

	big := append(completeFiles(), File{Path: "src/huge.js", Content: strings.Repeat("x", 200*1024+1)})
	res = ValidateShape(&Manifest{Files: big}, defaultLimits)
	assert.ErrorIs(t, res.Fatal, ErrFileTooLarge)
}

func TestValidateShapeMissingRequired(t *testing.T) {
	res := ValidateShape(&Manifest{Files: []File{{Path: "src/App.jsx", Content: "app"}}}, defaultLimits)
	require.NoError(t, res.Fatal)
	assert.False(t, res.Passed())
	require.Len(t, res.Issues, 2)
	for _, issue := range res.Issues {
		assert.Equal(t, CategoryStructure, issue.Category)
		assert.Equal(t, SeverityError, issue.Severity)
	}
}

func TestMissingRequiredAfterAugment(t *testing.T) {
	m := &Manifest{Files: []File{{Path: "src/App.jsx", Content: "app"}}, Dependencies: map[string]string{}}
	assert.Len(t, MissingRequired(m), 2)
	assert.Empty(t, MissingRequired(Augment(m)))
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "src/App.jsx", NormalizePath("./src/App.jsx"))
	assert.Equal(t, "src/App.jsx", NormalizePath(`src\App.jsx`))
	assert.Equal(t, "a/c.js", NormalizePath("a/b/../c.js"))
}
