package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

type renderRequest struct {
	Markdown string `json:"markdown"`
}

type renderResponse struct {
	HTML string `json:"html"`
}

// handleRender renders a Markdown payload to HTML.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes)

	var req renderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.Markdown == "" {
		jsonError(w, "markdown field is required", http.StatusBadRequest)
		return
	}

	// Ad-hoc payloads have no directory for includes to resolve against;
	// anchor them in the docs dir.
	name := filepath.Join(s.cfg.DocsDir, "request.md")
	html, err := s.pipe.Render(r.Context(), name, []byte(req.Markdown))
	if err != nil {
		s.log.Error("render failed", "error", err)
		jsonError(w, "render failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(renderResponse{HTML: string(html)})
}

// handleRenderStats reports render latency aggregates.
func (s *Server) handleRenderStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.pipe.Stats())
}

// handleDoc renders <name>.md from the configured docs directory.
func (s *Server) handleDoc(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !validDocName(name) {
		jsonError(w, "invalid document name", http.StatusBadRequest)
		return
	}

	path := filepath.Join(s.cfg.DocsDir, name+".md")
	src, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			jsonError(w, "document not found", http.StatusNotFound)
			return
		}
		s.log.Error("doc read failed", "path", path, "error", err)
		jsonError(w, "failed to read document", http.StatusInternalServerError)
		return
	}

	html, err := s.pipe.Render(r.Context(), path, src)
	if err != nil {
		s.log.Error("render failed", "doc", name, "error", err)
		jsonError(w, "render failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(html)
}

// validDocName rejects anything that could escape the docs directory.
func validDocName(name string) bool {
	if name == "" || strings.Contains(name, "..") {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	return true
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
