package handler

import (
	"net/http"
	"path/filepath"
	"strings"
)

// spaHandler serves files from dir and falls back to index.html for client-side routes.
func spaHandler(dir string) http.HandlerFunc {
	fs := http.Dir(dir)
	fileServer := http.FileServer(fs)
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(filepath.Clean(r.URL.Path), "/")
		if path == "" {
			path = "index.html"
		}
		f, err := fs.Open(path)
		if err != nil {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		f.Close()
		fileServer.ServeHTTP(w, r)
	}
}
