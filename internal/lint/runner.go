package lint

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"appforge/internal/logging"
	"appforge/internal/manifest"
)

// lintableExts limits the runner to files the ESLint daemon can parse.
var lintableExts = map[string]bool{
	".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".mjs": true, ".cjs": true,
}

// Runner lints a manifest's source files through a Service, at most
// batchSize files in flight at once. A service failure on one file does
// not stop the others; it becomes a synthetic error finding for that
// file so the repair loop still sees it.
type Runner struct {
	svc       Service
	batchSize int
}

// NewRunner creates a runner. batchSize values below 1 run serially.
func NewRunner(svc Service, batchSize int) *Runner {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Runner{svc: svc, batchSize: batchSize}
}

// Run lints every lintable file and returns the aggregated issues,
// sorted by path then line. The only error returned is context
// cancellation; lint findings and per-file service failures are issues,
// not errors.
func (r *Runner) Run(ctx context.Context, m *manifest.Manifest) ([]manifest.Issue, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.batchSize)

	var mu sync.Mutex
	var issues []manifest.Issue
	linted := 0

	for _, f := range m.Files {
		if !lintableExts[extOf(f.Path)] {
			continue
		}
		linted++
		f := f
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			findings, err := r.svc.Lint(ctx, f.Path, f.Content)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logging.LintWarn("runner: %s: %v", f.Path, err)
				issues = append(issues, manifest.Issue{
					Path:     f.Path,
					Category: manifest.CategoryLint,
					Severity: manifest.SeverityError,
					Message:  fmt.Sprintf("lint unavailable: %v", err),
				})
				return nil
			}
			for _, fd := range findings {
				issues = append(issues, toIssue(f.Path, fd))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Path != issues[j].Path {
			return issues[i].Path < issues[j].Path
		}
		if issues[i].Line != issues[j].Line {
			return issues[i].Line < issues[j].Line
		}
		return issues[i].Column < issues[j].Column
	})

	logging.Lint("runner: %d files linted, %d issues", linted, len(issues))
	return issues, nil
}

func toIssue(path string, fd Finding) manifest.Issue {
	sev := manifest.SeverityWarning
	if fd.Severity >= 2 {
		sev = manifest.SeverityError
	}
	msg := fd.Message
	if fd.RuleID != "" {
		msg = fd.Message + " (" + fd.RuleID + ")"
	}
	return manifest.Issue{
		Path:     path,
		Line:     fd.Line,
		Column:   fd.Column,
		Category: manifest.CategoryLint,
		Severity: sev,
		Message:  msg,
	}
}

func extOf(p string) string {
	if idx := strings.LastIndex(p, "."); idx >= 0 {
		return strings.ToLower(p[idx:])
	}
	return ""
}
