package validate

import (
	"regexp"
	"strings"

	"appforge/internal/logging"
	"appforge/internal/manifest"
)

// qualityRule is one heuristic checklist entry. Scope limits which files
// the patterns run against; a rule passes when any pattern matches any
// in-scope file.
type qualityRule struct {
	name     string
	message  string
	scope    func(path string) bool
	patterns []*regexp.Regexp
}

func markupScope(path string) bool {
	return strings.HasSuffix(path, ".jsx") || strings.HasSuffix(path, ".tsx") ||
		strings.HasSuffix(path, ".js") || strings.HasSuffix(path, ".html")
}

func styleScope(path string) bool {
	return markupScope(path) || strings.HasSuffix(path, ".css")
}

var qualityRules = []qualityRule{
	{
		name:    "navigation",
		message: "no navigation element found; add a <nav> or role=\"navigation\" landmark",
		scope:   markupScope,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`<nav[\s>]`),
			regexp.MustCompile(`role="navigation"`),
		},
	},
	{
		name:    "responsive-breakpoints",
		message: "no responsive breakpoints found; use Tailwind sm:/md:/lg: variants or @media queries",
		scope:   styleScope,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(?:sm|md|lg|xl|2xl):[a-z]`),
			regexp.MustCompile(`@media\s`),
		},
	},
	{
		name:    "mobile-menu",
		message: "no mobile menu toggle found; small viewports need a hamburger or collapsible nav",
		scope:   markupScope,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(hamburger|menuopen|mobilemenu|menu-open|mobile-menu)`),
			regexp.MustCompile(`(?:md|lg):hidden`),
		},
	},
	{
		name:    "overflow-guard",
		message: "no horizontal overflow guard found; constrain the root with overflow-x hidden",
		scope:   styleScope,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`overflow-x:\s*hidden`),
			regexp.MustCompile(`overflow-x-hidden`),
			regexp.MustCompile(`overflow:\s*hidden`),
		},
	},
}

// QualityAuditor runs the heuristic checklist against a manifest. Its
// findings are advisory: the pipeline spends at most a small repair
// budget on them and then ships anyway.
type QualityAuditor struct {
	rules []qualityRule
}

func NewQualityAuditor() *QualityAuditor {
	return &QualityAuditor{rules: qualityRules}
}

// Audit evaluates every rule against the manifest and returns one issue
// per failed rule. Rules with no in-scope files are skipped rather than
// failed.
func (a *QualityAuditor) Audit(m *manifest.Manifest) []manifest.Issue {
	var issues []manifest.Issue
	for _, rule := range a.rules {
		inScope := false
		passed := false
		for _, f := range m.Files {
			if !rule.scope(f.Path) {
				continue
			}
			inScope = true
			for _, p := range rule.patterns {
				if p.MatchString(f.Content) {
					passed = true
					break
				}
			}
			if passed {
				break
			}
		}
		if !inScope || passed {
			continue
		}
		issues = append(issues, manifest.Issue{
			Path:     "src/App.jsx",
			Category: manifest.CategoryQuality,
			Severity: manifest.SeverityWarning,
			Message:  rule.name + ": " + rule.message,
		})
	}
	logging.Validate("quality: %d/%d rules passed", len(a.rules)-len(issues), len(a.rules))
	return issues
}
