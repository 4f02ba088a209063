package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// DocsHandler serves the OpenAPI reference UI using Stoplight Elements.
// The OpenAPI document itself is published by huma at /openapi.json;
// this page is a themed viewer on top of it.
type DocsHandler struct {
	title    string
	specPath string
}

// NewDocsHandler creates a documentation page for the given spec URL.
func NewDocsHandler(title, specPath string) *DocsHandler {
	return &DocsHandler{title: title, specPath: specPath}
}

// RegisterRoutes mounts the documentation page.
func (h *DocsHandler) RegisterRoutes(router chi.Router) {
	router.Get("/docs", h.ServeHTTP)
}

// docsPage embeds Stoplight's web component pointed at the OpenAPI
// document. The inline script keys the palette off the system theme and
// tracks it live.
const docsPage = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8" />
<meta name="referrer" content="same-origin" />
<meta name="viewport" content="width=device-width, initial-scale=1" />
<title>%s</title>
<link rel="stylesheet" href="https://unpkg.com/@stoplight/elements@8/styles.min.css" />
<script src="https://unpkg.com/@stoplight/elements@8/web-components.min.js" crossorigin="anonymous"></script>
<style>
html[data-theme="dark"] { color-scheme: dark; }
html[data-theme="dark"] body { background-color: #18181b; }
html[data-theme="dark"] .sl-elements {
  --color-canvas: #18181b;
  --color-canvas-100: #18181b;
  --color-canvas-200: #1f1f23;
  --color-canvas-300: #27272a;
  --color-text: #e4e4e7;
  --color-text-heading: #fafafa;
  --color-text-paragraph: #d4d4d8;
  --color-text-secondary: #a1a1aa;
  --color-border: #3f3f46;
}
</style>
<script>
const applyTheme = m => document.documentElement.setAttribute('data-theme', m.matches ? 'dark' : 'light');
const media = window.matchMedia('(prefers-color-scheme: dark)');
applyTheme(media);
media.addEventListener('change', applyTheme);
</script>
</head>
<body style="height: 100vh; margin: 0;">
<elements-api
  apiDescriptionUrl="%s"
  router="hash"
  layout="sidebar"
  tryItCredentialsPolicy="same-origin"
/>
</body>
</html>`

func (h *DocsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, docsPage, h.title, h.specPath)
}
