// Package web embeds the practice page and serves it.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

const indexFile = "index.html"

// SPAHandler serves the embedded page. Paths naming an embedded file get that
// file; any other path gets index.html, except under /api/ where unknown
// routes stay 404.
func SPAHandler() http.Handler {
	pages, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}
	return &spa{pages: pages, files: http.FileServer(http.FS(pages))}
}

type spa struct {
	pages fs.FS
	files http.Handler
}

func (s *spa) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.HasPrefix(r.URL.Path, "/api/") {
		http.NotFound(w, r)
		return
	}

	name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	if name == "" || name == indexFile || !s.exists(name) {
		s.serveIndex(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	s.files.ServeHTTP(w, r)
}

func (s *spa) exists(name string) bool {
	info, err := fs.Stat(s.pages, name)
	return err == nil && !info.IsDir()
}

func (s *spa) serveIndex(w http.ResponseWriter, r *http.Request) {
	page, err := fs.ReadFile(s.pages, indexFile)
	if err != nil {
		http.Error(w, "page not built", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(page)
}
