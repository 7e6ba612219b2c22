package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"appforge/internal/manifest"
)

const systemPrompt = `You are a senior frontend engineer generating complete Vite + React web applications.

Respond with a single JSON object and nothing else: no markdown fences, no commentary.

Schema:
{
  "files": [{"path": "relative/path", "content": "full file content"}],
  "dependencies": {"package-name": "semver range"}
}

Rules:
- Every project must contain index.html, src/main.jsx and src/App.jsx.
- Use React 18 with JSX and Tailwind CSS utility classes for styling.
- Emit complete files only, never diffs or placeholders.
- Relative paths only. Never write lockfiles or node_modules content.
- The layout must be responsive and include a navigation element with a
  mobile menu for small viewports.`

// buildGeneratePrompt renders the initial generation request.
func buildGeneratePrompt(userPrompt string) string {
	var sb strings.Builder
	sb.WriteString("Build a web application for the following request.\n\n")
	sb.WriteString("Request:\n")
	sb.WriteString(userPrompt)
	sb.WriteString("\n\nReturn the complete project as the JSON object described in your instructions.")
	return sb.String()
}

// buildEditPrompt renders an edit request over an existing project. The
// full current file set rides along so the model replaces the project
// wholesale instead of guessing at context.
func buildEditPrompt(existing *manifest.Manifest, userPrompt string) string {
	var sb strings.Builder
	sb.WriteString("Modify the existing web application below.\n\n")
	sb.WriteString("Change request:\n")
	sb.WriteString(userPrompt)
	sb.WriteString("\n\nCurrent project files:\n")
	for _, f := range existing.Files {
		fmt.Fprintf(&sb, "\n--- %s ---\n%s\n", f.Path, f.Content)
	}
	if len(existing.Dependencies) > 0 {
		sb.WriteString("\nCurrent dependencies:\n")
		for _, pkg := range sortedKeys(existing.Dependencies) {
			fmt.Fprintf(&sb, "  %s: %s\n", pkg, existing.Dependencies[pkg])
		}
	}
	sb.WriteString("\nReturn the complete updated project as the JSON object described in your instructions. Include every file, changed or not.")
	return sb.String()
}

// maxIssuesPerCategory caps the feedback block so one noisy gate cannot
// crowd the others out of the context window.
const maxIssuesPerCategory = 12

// buildRepairPrompt renders a repair request: the current project plus
// a bulleted issue block grouped by category.
func buildRepairPrompt(m *manifest.Manifest, issues []manifest.Issue) string {
	var sb strings.Builder
	sb.WriteString("The project you produced has problems that must be fixed.\n\n")
	sb.WriteString(formatIssueBlock(issues))
	sb.WriteString("\nCurrent project files:\n")
	for _, f := range m.Files {
		fmt.Fprintf(&sb, "\n--- %s ---\n%s\n", f.Path, f.Content)
	}
	sb.WriteString("\nReturn the complete corrected project as the JSON object described in your instructions. Include every file, changed or not.")
	return sb.String()
}

// formatIssueBlock groups issues by category into capped bullet lists.
func formatIssueBlock(issues []manifest.Issue) string {
	byCategory := map[manifest.Category][]manifest.Issue{}
	for _, issue := range issues {
		byCategory[issue.Category] = append(byCategory[issue.Category], issue)
	}

	order := []manifest.Category{
		manifest.CategoryStructure,
		manifest.CategorySyntax,
		manifest.CategoryQuality,
		manifest.CategoryLint,
	}

	var sb strings.Builder
	for _, cat := range order {
		list := byCategory[cat]
		if len(list) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "%s issues:\n", strings.ToUpper(string(cat)[:1])+string(cat)[1:])
		shown := list
		if len(shown) > maxIssuesPerCategory {
			shown = shown[:maxIssuesPerCategory]
		}
		for _, issue := range shown {
			sb.WriteString("- ")
			sb.WriteString(issue.String())
			sb.WriteByte('\n')
		}
		if len(list) > len(shown) {
			fmt.Fprintf(&sb, "- ... and %d more %s issues\n", len(list)-len(shown), cat)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
