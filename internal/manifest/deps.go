package manifest

import (
	"context"
	"regexp"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"

	"appforge/internal/logging"
)

// VersionLookup resolves a package name to a version constraint.
// Implementations are best-effort: a failed lookup never blocks the
// pipeline, the reconciler just falls back.
type VersionLookup interface {
	Version(ctx context.Context, pkg string) (string, bool)
}

// knownVersions pins the packages generated apps commonly import.
// Anything not listed resolves through the optional lookup, then "latest".
var knownVersions = map[string]string{
	"react":             "^18.3.1",
	"react-dom":         "^18.3.1",
	"react-router-dom":  "^6.26.0",
	"tailwindcss":       "^3.4.10",
	"lucide-react":      "^0.436.0",
	"framer-motion":     "^11.3.30",
	"axios":             "^1.7.5",
	"clsx":              "^2.1.1",
	"date-fns":          "^3.6.0",
	"recharts":          "^2.12.7",
	"zustand":           "^4.5.5",
	"@headlessui/react": "^2.1.3",
	"@heroicons/react":  "^2.1.5",
	"uuid":              "^10.0.0",
}

// corePackages must be present in every reconciled dependency map.
var corePackages = []string{"react", "react-dom"}

// nodeBuiltins are runtime modules, never npm dependencies.
var nodeBuiltins = map[string]bool{
	"assert": true, "buffer": true, "child_process": true, "crypto": true,
	"events": true, "fs": true, "http": true, "https": true, "net": true,
	"os": true, "path": true, "process": true, "stream": true,
	"url": true, "util": true, "zlib": true,
}

// requireRegex catches CommonJS requires tree-sitter import_statement
// nodes do not cover.
var requireRegex = regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`)

// scannableExts are the file types scanned for imports.
var scannableExts = map[string]bool{
	".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".mjs": true, ".cjs": true,
}

// ReconcileDependencies scans the files for import/require references,
// reduces each specifier to its top-level package, and merges any missing
// package into the dependency map. Existing entries are never removed or
// changed; the core framework packages are always guaranteed. Pure
// function of its inputs (plus the optional lookup); idempotent.
func ReconcileDependencies(ctx context.Context, files []File, existing map[string]string, lookup VersionLookup) map[string]string {
	out := make(map[string]string, len(existing)+len(corePackages))
	for k, v := range existing {
		out[k] = v
	}

	seen := map[string]bool{}
	for _, f := range files {
		if !scannableExts[extOf(f.Path)] {
			continue
		}
		for _, spec := range scanImports(ctx, f.Content) {
			pkg, ok := topLevelPackage(spec)
			if !ok || seen[pkg] {
				continue
			}
			seen[pkg] = true
			if _, have := out[pkg]; have {
				continue
			}
			out[pkg] = resolveVersion(ctx, pkg, lookup)
			logging.DepsDebug("reconcile: added %s@%s (imported in %s)", pkg, out[pkg], f.Path)
		}
	}

	for _, pkg := range corePackages {
		if _, have := out[pkg]; !have {
			out[pkg] = knownVersions[pkg]
		}
	}

	logging.Deps("reconcile: %d dependencies (%d pre-existing)", len(out), len(existing))
	return out
}

func resolveVersion(ctx context.Context, pkg string, lookup VersionLookup) string {
	if v, ok := knownVersions[pkg]; ok {
		return v
	}
	if lookup != nil {
		if v, ok := lookup.Version(ctx, pkg); ok && v != "" {
			return v
		}
	}
	return "latest"
}

// scanImports extracts module specifiers from a JS/TS source using the
// tree-sitter JavaScript grammar, with a regex pass for CommonJS require.
func scanImports(ctx context.Context, content string) []string {
	var specs []string

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())

	src := []byte(content)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err == nil {
		defer tree.Close()
		var walk func(n *sitter.Node)
		walk = func(n *sitter.Node) {
			switch n.Type() {
			case "import_statement", "export_statement":
				if sourceNode := n.ChildByFieldName("source"); sourceNode != nil {
					specs = append(specs, strings.Trim(sourceNode.Content(src), "\"'`"))
				}
			}
			for i := 0; i < int(n.ChildCount()); i++ {
				walk(n.Child(i))
			}
		}
		walk(tree.RootNode())
	}

	for _, m := range requireRegex.FindAllStringSubmatch(content, -1) {
		specs = append(specs, m[1])
	}

	sort.Strings(specs)
	return specs
}

// topLevelPackage reduces a module specifier to the npm package that
// provides it. Relative paths, path aliases, URLs, and node builtins
// yield ok=false.
func topLevelPackage(spec string) (string, bool) {
	if spec == "" {
		return "", false
	}
	if strings.HasPrefix(spec, ".") || strings.HasPrefix(spec, "/") {
		return "", false
	}
	// Vite-style path alias
	if strings.HasPrefix(spec, "@/") || strings.HasPrefix(spec, "~/") {
		return "", false
	}
	if strings.Contains(spec, "://") {
		return "", false
	}
	if strings.HasPrefix(spec, "node:") {
		return "", false
	}

	parts := strings.Split(spec, "/")
	if strings.HasPrefix(spec, "@") {
		// Scoped package: @scope/name[/subpath]
		if len(parts) < 2 || parts[1] == "" {
			return "", false
		}
		return parts[0] + "/" + parts[1], true
	}

	pkg := parts[0]
	if nodeBuiltins[pkg] {
		return "", false
	}
	return pkg, true
}

func extOf(p string) string {
	if idx := strings.LastIndex(p, "."); idx >= 0 {
		return p[idx:]
	}
	return ""
}
