package httptransport

import (
	"io/fs"
	"net/http"
	"path"
	"strings"
)

const indexFile = "index.html"

// Shell serves the built SPA bundle. Paths that are not files fall back to
// index.html so client-side routes load; missing assets are 404s.
type Shell struct {
	root fs.FS
}

func NewShell(root fs.FS) *Shell {
	return &Shell{root: root}
}

// ServeIndex answers with the application shell.
func (s *Shell) ServeIndex(w http.ResponseWriter, r *http.Request) {
	if _, err := fs.Stat(s.root, indexFile); err != nil {
		http.Error(w, "application bundle not built", http.StatusServiceUnavailable)
		return
	}
	http.ServeFileFS(w, r, s.root, indexFile)
}

func (s *Shell) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name == "" || name == indexFile {
		s.ServeIndex(w, r)
		return
	}
	if info, err := fs.Stat(s.root, name); err == nil && !info.IsDir() {
		http.ServeFileFS(w, r, s.root, name)
		return
	}
	if path.Ext(name) != "" {
		http.NotFound(w, r)
		return
	}
	s.ServeIndex(w, r)
}
