package lint

import (
	"appforge/internal/manifest"
)

// FileMessages groups one file's lint issues.
type FileMessages struct {
	Path   string
	Issues []manifest.Issue
}

// Report is the aggregated lint outcome for one manifest pass.
type Report struct {
	Passed       bool
	ErrorCount   int
	WarningCount int
	Files        []FileMessages
}

// BuildReport folds sorted runner issues into a per-file report. Passed
// means zero error-severity issues; warnings alone do not gate.
func BuildReport(issues []manifest.Issue) Report {
	r := Report{Passed: true}
	for _, issue := range issues {
		switch issue.Severity {
		case manifest.SeverityError:
			r.ErrorCount++
			r.Passed = false
		default:
			r.WarningCount++
		}
		if n := len(r.Files); n > 0 && r.Files[n-1].Path == issue.Path {
			r.Files[n-1].Issues = append(r.Files[n-1].Issues, issue)
			continue
		}
		r.Files = append(r.Files, FileMessages{Path: issue.Path, Issues: []manifest.Issue{issue}})
	}
	return r
}
