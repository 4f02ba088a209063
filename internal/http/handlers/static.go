package handlers

import (
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/config"
	"github.com/jmylchreest/ttshub/internal/storage"
)

// StaticHandler serves generated artifacts and the optional web UI bundle.
//
// Artifacts live in the output sandbox and are exposed under /audio/* and
// /image/drawthings/*. OpenVoice reference clips sit outside the sandbox in
// a whitelisted directory of their own. Everything else falls through to the
// SPA bundle when one is configured.
type StaticHandler struct {
	layout       *storage.Layout
	referenceDir string // OpenVoice reference clips, read-only
	frontendDir  string // SPA bundle; empty or missing disables UI serving
	apiPrefix    string
	logger       *slog.Logger
}

// NewStaticHandler creates a handler for the artifact and UI namespaces.
func NewStaticHandler(layout *storage.Layout, cfg config.ServerConfig, referenceDir string, logger *slog.Logger) *StaticHandler {
	return &StaticHandler{
		layout:       layout,
		referenceDir: referenceDir,
		frontendDir:  cfg.FrontendDir,
		apiPrefix:    cfg.NormalizedAPIPrefix(),
		logger:       logger,
	}
}

// RegisterRoutes mounts the artifact namespaces and installs the SPA
// handler as the router's fallback. Static segments win over wildcards in
// chi, so /audio/openvoice/* takes precedence over /audio/*.
func (h *StaticHandler) RegisterRoutes(router chi.Router) {
	router.Get("/audio/openvoice/*", h.OpenVoiceReference)
	router.Get("/audio/*", h.Audio)
	router.Get("/image/drawthings/*", h.Image)
	router.NotFound(h.SPA)
}

// Audio serves a generated artifact from the output sandbox.
func (h *StaticHandler) Audio(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, "/audio/")
	h.serveSandboxed(w, r, rel)
}

// Image serves a persisted generated image.
func (h *StaticHandler) Image(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/image/drawthings/")
	if name == "" {
		h.notFound(w)
		return
	}
	h.serveSandboxed(w, r, h.layout.ImageRel(name))
}

// OpenVoiceReference serves a reference clip from the whitelisted OpenVoice
// directory. Paths that resolve outside the directory are treated as missing.
func (h *StaticHandler) OpenVoiceReference(w http.ResponseWriter, r *http.Request) {
	if h.referenceDir == "" {
		h.notFound(w)
		return
	}
	root, err := filepath.Abs(h.referenceDir)
	if err != nil {
		h.notFound(w)
		return
	}
	rel := strings.TrimPrefix(r.URL.Path, "/audio/openvoice/")
	candidate := filepath.Clean(filepath.Join(root, filepath.FromSlash(rel)))
	if candidate == root || !strings.HasPrefix(candidate, root+string(filepath.Separator)) {
		h.notFound(w)
		return
	}
	info, err := os.Stat(candidate)
	if err != nil || info.IsDir() {
		h.notFound(w)
		return
	}
	http.ServeFile(w, r, candidate)
}

// serveSandboxed resolves rel inside the output sandbox and serves the file.
// Escapes, directories, and missing files all read as not found.
func (h *StaticHandler) serveSandboxed(w http.ResponseWriter, r *http.Request, rel string) {
	if rel == "" {
		h.notFound(w)
		return
	}
	abs, err := h.layout.Sandbox().ResolvePath(rel)
	if err != nil {
		h.notFound(w)
		return
	}
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		h.notFound(w)
		return
	}
	http.ServeFile(w, r, abs)
}

// SPA handles every path no other route claimed. Unmatched API and artifact
// paths stay JSON 404s so clients never get index.html where they expected
// data. Real files in the bundle are served as-is; anything else gets
// index.html for client-side routing. Without a bundle the server answers
// with a plain status document.
func (h *StaticHandler) SPA(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path
	if h.isAPIPath(p) || strings.HasPrefix(p, "/audio/") || strings.HasPrefix(p, "/image/") {
		h.notFound(w)
		return
	}

	if h.frontendDir != "" {
		if root, err := filepath.Abs(h.frontendDir); err == nil {
			rel := strings.TrimPrefix(path.Clean(p), "/")
			if rel == "" || rel == "." {
				rel = "index.html"
			}
			candidate := filepath.Clean(filepath.Join(root, filepath.FromSlash(rel)))
			if !strings.HasPrefix(candidate, root+string(filepath.Separator)) {
				rel = "index.html"
				candidate = filepath.Join(root, rel)
			}
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				setCacheHeaders(w, rel)
				http.ServeFile(w, r, candidate)
				return
			}
			index := filepath.Join(root, "index.html")
			if info, err := os.Stat(index); err == nil && !info.IsDir() {
				setCacheHeaders(w, "index.html")
				http.ServeFile(w, r, index)
				return
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *StaticHandler) isAPIPath(p string) bool {
	if h.apiPrefix == "" {
		return false
	}
	return p == h.apiPrefix || strings.HasPrefix(p, h.apiPrefix+"/")
}

func (h *StaticHandler) notFound(w http.ResponseWriter) {
	writeError(w, h.logger, apperr.NotFound("Not found"))
}

// setCacheHeaders sets cache headers for bundle files by type. Hashed build
// assets are immutable; HTML must always revalidate so SPA deploys land.
func setCacheHeaders(w http.ResponseWriter, filePath string) {
	switch {
	case strings.Contains(filePath, "_next/static/") || strings.HasPrefix(filePath, "assets/") || strings.HasSuffix(filePath, ".woff2"):
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	case strings.HasSuffix(filePath, ".js") || strings.HasSuffix(filePath, ".css"):
		w.Header().Set("Cache-Control", "public, max-age=3600")
	case strings.HasSuffix(filePath, ".html"):
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	default:
		w.Header().Set("Cache-Control", "public, max-age=86400")
	}
}
