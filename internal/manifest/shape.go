package manifest

import (
	"fmt"
	"strings"

	"appforge/internal/logging"
)

// Shape validation errors that are fatal for the current attempt.
// Fatal shape errors are not retried at the structure gate; the caller
// falls back to its outer generation budget.
var (
	ErrNoFiles      = fmt.Errorf("manifest has no usable files")
	ErrTooManyFiles = fmt.Errorf("manifest exceeds file count cap")
	ErrFileTooLarge = fmt.Errorf("manifest file exceeds size cap")
)

// ShapeLimits caps the manifest dimensions.
type ShapeLimits struct {
	MaxFiles     int
	MaxFileBytes int
}

// RequiredPaths is the fixed set of files every generated project must
// contain. Missing entries are recoverable structure issues.
var RequiredPaths = []string{
	"index.html",
	"src/main.jsx",
	"src/App.jsx",
}

// lockfileNames are dropped silently: the dependency map is the single
// source of truth and stale lockfiles break installs.
var lockfileNames = map[string]bool{
	"package-lock.json": true,
	"yarn.lock":         true,
	"pnpm-lock.yaml":    true,
	"bun.lockb":         true,
	"shrinkwrap.yaml":   true,
}

// excludedDirs are directory prefixes the model must never write into.
var excludedDirs = []string{
	"node_modules/",
	".git/",
	"dist/",
	"build/",
	".cache/",
}

// ShapeResult is the outcome of shape validation. Fatal is non-nil when
// the attempt cannot be repaired at this gate.
type ShapeResult struct {
	Manifest *Manifest
	Issues   []Issue
	Dropped  []string
	Fatal    error
}

// Passed reports whether the manifest cleared the structure gate.
func (r ShapeResult) Passed() bool {
	return r.Fatal == nil && len(r.Issues) == 0
}

// ValidateShape filters and verifies the manifest against the project
// shape contract. Unsafe paths are dropped non-fatally; duplicate paths
// dedupe last-write-wins; cap violations and an empty surviving set are
// fatal for this attempt. Missing required paths become recoverable
// structure issues.
func ValidateShape(m *Manifest, limits ShapeLimits) ShapeResult {
	res := ShapeResult{}

	if m == nil || len(m.Files) == 0 {
		res.Fatal = ErrNoFiles
		return res
	}

	if limits.MaxFiles > 0 && len(m.Files) > limits.MaxFiles {
		res.Fatal = fmt.Errorf("%w: %d files, cap %d", ErrTooManyFiles, len(m.Files), limits.MaxFiles)
		return res
	}

	// Dedupe by normalized path, last write wins, preserving the position
	// of the first occurrence so file order stays stable.
	order := make([]string, 0, len(m.Files))
	byPath := make(map[string]string, len(m.Files))
	for _, f := range m.Files {
		p := NormalizePath(f.Path)

		if reason := rejectPath(p, f.Path); reason != "" {
			logging.ValidateWarn("shape: dropping %q: %s", f.Path, reason)
			res.Dropped = append(res.Dropped, f.Path)
			continue
		}

		if limits.MaxFileBytes > 0 && len(f.Content) > limits.MaxFileBytes {
			res.Fatal = fmt.Errorf("%w: %s is %d bytes, cap %d", ErrFileTooLarge, p, len(f.Content), limits.MaxFileBytes)
			return res
		}

		if _, seen := byPath[p]; !seen {
			order = append(order, p)
		}
		byPath[p] = f.Content
	}

	if len(order) == 0 {
		res.Fatal = ErrNoFiles
		return res
	}

	filtered := &Manifest{
		Files:        make([]File, 0, len(order)),
		Dependencies: m.Dependencies,
	}
	if filtered.Dependencies == nil {
		filtered.Dependencies = map[string]string{}
	}
	for _, p := range order {
		filtered.Files = append(filtered.Files, File{Path: p, Content: byPath[p]})
	}
	res.Manifest = filtered

	res.Issues = MissingRequired(filtered)

	logging.Validate("shape: %d files accepted, %d dropped, %d issues",
		len(filtered.Files), len(res.Dropped), len(res.Issues))
	return res
}

// MissingRequired reports a structure issue for every required path the
// manifest lacks. The pipeline re-checks after augmentation so that
// synthesizable boilerplate never costs a repair invocation.
func MissingRequired(m *Manifest) []Issue {
	var issues []Issue
	for _, req := range RequiredPaths {
		if _, ok := m.Lookup(req); !ok {
			issues = append(issues, Issue{
				Path:     req,
				Category: CategoryStructure,
				Severity: SeverityError,
				Message:  "required project file is missing",
			})
		}
	}
	return issues
}

// rejectPath returns a non-empty reason when the path is unsafe.
// raw is the pre-normalization path, needed because Clean would hide
// embedded control characters only if they survive normalization.
func rejectPath(normalized, raw string) string {
	if normalized == "" || normalized == "." {
		return "empty path"
	}
	if strings.ContainsRune(raw, 0) {
		return "null byte in path"
	}
	if strings.ContainsAny(raw, "\r\n") {
		return "newline in path"
	}
	if strings.HasPrefix(normalized, "/") {
		return "absolute path"
	}
	if len(normalized) >= 2 && normalized[1] == ':' &&
		((normalized[0] >= 'a' && normalized[0] <= 'z') || (normalized[0] >= 'A' && normalized[0] <= 'Z')) {
		return "drive-letter path"
	}
	if normalized == ".." || strings.HasPrefix(normalized, "../") {
		return "path traversal"
	}
	if lockfileNames[baseName(normalized)] {
		return "lockfile"
	}
	for _, dir := range excludedDirs {
		if strings.HasPrefix(normalized, dir) {
			return "excluded directory"
		}
	}
	return ""
}

func baseName(p string) string {
	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		return p[idx+1:]
	}
	return p
}
