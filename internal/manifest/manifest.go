// Package manifest defines the generated-project manifest and the
// structure gates that run over it: shape validation, boilerplate
// augmentation, and dependency reconciliation.
package manifest

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// File is one generated source file.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Manifest is the structured file set plus dependency map representing
// one generated project. It is replaced wholesale on every repair
// iteration, never patched piecemeal.
type Manifest struct {
	Files        []File            `json:"files"`
	Dependencies map[string]string `json:"dependencies"`
}

// Clone returns a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	out := &Manifest{
		Files:        make([]File, len(m.Files)),
		Dependencies: make(map[string]string, len(m.Dependencies)),
	}
	copy(out.Files, m.Files)
	for k, v := range m.Dependencies {
		out.Dependencies[k] = v
	}
	return out
}

// Lookup returns the file at the given path, if present.
func (m *Manifest) Lookup(p string) (File, bool) {
	for _, f := range m.Files {
		if f.Path == p {
			return f, true
		}
	}
	return File{}, false
}

// Replace swaps the content of the file at path, or appends a new file.
func (m *Manifest) Replace(p, content string) {
	for i := range m.Files {
		if m.Files[i].Path == p {
			m.Files[i].Content = content
			return
		}
	}
	m.Files = append(m.Files, File{Path: p, Content: content})
}

// Paths returns the sorted list of file paths.
func (m *Manifest) Paths() []string {
	out := make([]string, 0, len(m.Files))
	for _, f := range m.Files {
		out = append(out, f.Path)
	}
	sort.Strings(out)
	return out
}

// Category classifies a validation issue by the gate that produced it.
type Category string

const (
	CategoryStructure Category = "structure"
	CategorySyntax    Category = "syntax"
	CategoryQuality   Category = "quality"
	CategoryLint      Category = "lint"
)

// Severity grades a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Issues are ephemeral: recomputed on
// every iteration and fed into the next repair prompt.
type Issue struct {
	Path     string   `json:"path"`
	Line     int      `json:"line"`
	Column   int      `json:"column"`
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	loc := i.Path
	if i.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", i.Path, i.Line, i.Column)
	}
	return fmt.Sprintf("[%s/%s] %s: %s", i.Category, i.Severity, loc, i.Message)
}

// ErrorsOnly filters issues down to error severity.
func ErrorsOnly(issues []Issue) []Issue {
	var out []Issue
	for _, is := range issues {
		if is.Severity == SeverityError {
			out = append(out, is)
		}
	}
	return out
}

// NormalizePath canonicalizes a manifest path: forward slashes, no
// leading "./", cleaned segments. It does not reject anything; rejection
// is the shape validator's job.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	return path.Clean(p)
}
