package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"appforge/internal/gemini"
	"appforge/internal/manifest"
	"appforge/internal/pipeline"
)

// projectSkipDirs are never read back when loading a project for edit.
var projectSkipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
	".appforge":    true,
}

// projectExts are the file types considered part of the generated
// source tree.
var projectExts = map[string]bool{
	".html": true, ".css": true, ".js": true, ".jsx": true,
	".ts": true, ".tsx": true, ".json": true, ".svg": true,
	".md": true, ".txt": true,
}

// readProject loads a generated project from disk into a manifest,
// pulling the dependency map out of package.json.
func readProject(dir string) (*manifest.Manifest, error) {
	m := &manifest.Manifest{Dependencies: map[string]string{}}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if projectSkipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !projectExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if rel == "package.json" {
			m.Dependencies = dependenciesFromPackageJSON(data)
			return nil
		}
		m.Files = append(m.Files, manifest.File{Path: rel, Content: string(data)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading project %s: %w", dir, err)
	}
	if len(m.Files) == 0 {
		return nil, fmt.Errorf("no project files found in %s", dir)
	}
	return m, nil
}

func dependenciesFromPackageJSON(data []byte) map[string]string {
	var pkg struct {
		Dependencies map[string]string `json:"dependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil || pkg.Dependencies == nil {
		return map[string]string{}
	}
	return pkg.Dependencies
}

// writeProject materializes a pipeline result: every generated file
// plus a package.json assembled from the reconciled dependency map.
func writeProject(dir string, res *pipeline.Result) error {
	for _, f := range res.Files {
		dest := filepath.Join(dir, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(dest), err)
		}
		if err := os.WriteFile(dest, []byte(f.Content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", f.Path, err)
		}
	}
	pkg, err := renderPackageJSON(res.Dependencies)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "package.json"), pkg, 0o644); err != nil {
		return fmt.Errorf("writing package.json: %w", err)
	}
	return nil
}

// renderPackageJSON emits a deterministic package.json with sorted
// dependencies and the standard Vite scripts. Map keys sort on encode,
// so output is stable across runs.
func renderPackageJSON(deps map[string]string) ([]byte, error) {
	pkg := map[string]interface{}{
		"name":    "generated-app",
		"private": true,
		"type":    "module",
		"scripts": map[string]string{
			"dev":     "vite",
			"build":   "vite build",
			"preview": "vite preview",
		},
		"dependencies": deps,
	}
	data, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding package.json: %w", err)
	}
	return append(data, '\n'), nil
}

// streamingBackend streams the first invocation so the user sees bytes
// arriving; repair invocations fall back to plain completion.
type streamingBackend struct {
	client *gemini.Client

	mu       sync.Mutex
	streamed bool
	received int
}

func newStreamingBackend(client *gemini.Client) *streamingBackend {
	return &streamingBackend{client: client}
}

func (b *streamingBackend) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string, attachments []gemini.Attachment) (string, error) {
	b.mu.Lock()
	first := !b.streamed
	b.streamed = true
	b.mu.Unlock()

	if !first || len(attachments) > 0 {
		return b.client.CompleteWithSystem(ctx, systemPrompt, userPrompt, attachments)
	}

	text, err := b.client.CompleteStream(ctx, systemPrompt, userPrompt, func(chunk string) {
		b.mu.Lock()
		b.received += len(chunk)
		n := b.received
		b.mu.Unlock()
		fmt.Printf("\r%s", styleDim.Render(fmt.Sprintf("  > receiving %d bytes", n)))
	})
	fmt.Println()
	return text, err
}
