// Package web serves a built web client from disk as a single-page application (SPA).
package web

import (
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

// SPAHandler serves static files from dir and falls back to index.html for any path
// that doesn't match a file, so client-side routes survive a reload.
func SPAHandler(dir string) http.Handler {
	return spaHandler(os.DirFS(dir))
}

func spaHandler(root fs.FS) http.Handler {
	fileServer := http.FileServer(http.FS(root))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		if path == "" {
			path = "index.html"
		}

		if f, err := root.Open(path); err == nil {
			if closeErr := f.Close(); closeErr != nil {
				slog.Debug("web: failed to close file", "path", path, "error", closeErr)
			}
			fileServer.ServeHTTP(w, r)
			return
		}

		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}
