package manifest

import (
	"strings"

	"appforge/internal/logging"
)

// Boilerplate files synthesized when the model omits them. Content here
// is deliberately minimal: the model owns the application, the augmenter
// only guarantees the project boots.
const (
	defaultIndexHTML = `<!doctype html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <title>Generated App</title>
  </head>
  <body>
    <div id="root"></div>
    <script type="module" src="/src/main.jsx"></script>
  </body>
</html>
`

	defaultMainJSX = `import React from 'react';
import ReactDOM from 'react-dom/client';
import App from './App.jsx';
import './index.css';

ReactDOM.createRoot(document.getElementById('root')).render(
  <React.StrictMode>
    <App />
  </React.StrictMode>
);
`

	defaultIndexCSS = `@tailwind base;
@tailwind components;
@tailwind utilities;

html, body {
  margin: 0;
  overflow-x: hidden;
}
`

	defaultLoadingHTML = `<!doctype html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <title>Loading</title>
    <style>
      body { display: flex; align-items: center; justify-content: center; height: 100vh; margin: 0; font-family: sans-serif; }
    </style>
  </head>
  <body>
    <p>Building your app&hellip;</p>
  </body>
</html>
`
)

// tailwindDirectives must appear together: a stylesheet declaring one
// without the others produces a broken build.
var tailwindDirectives = []string{
	"@tailwind base;",
	"@tailwind components;",
	"@tailwind utilities;",
}

// boilerplate maps required supporting paths to synthesized defaults.
var boilerplate = []struct {
	path    string
	content string
}{
	{"index.html", defaultIndexHTML},
	{"src/main.jsx", defaultMainJSX},
	{"src/index.css", defaultIndexCSS},
	{"public/loading.html", defaultLoadingHTML},
}

// Augment injects missing boilerplate files and patches small invariants
// in existing ones. It is idempotent and never replaces model-supplied
// content wholesale: existing files are only appended to, and only when
// a required invariant is unmet.
func Augment(m *Manifest) *Manifest {
	out := m.Clone()

	for _, b := range boilerplate {
		if _, ok := out.Lookup(b.path); !ok {
			logging.Validate("augment: synthesizing %s", b.path)
			out.Files = append(out.Files, File{Path: b.path, Content: b.content})
		}
	}

	if css, ok := out.Lookup("src/index.css"); ok {
		if patched, changed := patchTailwindDirectives(css.Content); changed {
			logging.Validate("augment: completing tailwind directives in src/index.css")
			out.Replace("src/index.css", patched)
		}
	}

	return out
}

// patchTailwindDirectives prepends any missing directives when at least
// one is already present. A stylesheet that uses none is left alone.
func patchTailwindDirectives(css string) (string, bool) {
	present := 0
	for _, d := range tailwindDirectives {
		if strings.Contains(css, strings.TrimSuffix(d, ";")) {
			present++
		}
	}
	if present == 0 || present == len(tailwindDirectives) {
		return css, false
	}

	var missing []string
	for _, d := range tailwindDirectives {
		if !strings.Contains(css, strings.TrimSuffix(d, ";")) {
			missing = append(missing, d)
		}
	}
	return strings.Join(missing, "\n") + "\n" + css, true
}
