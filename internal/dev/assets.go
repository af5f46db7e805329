package dev

import (
	stderrors "errors"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/fastivite/fastivite/internal/bundler"
	"github.com/fastivite/fastivite/internal/errors"
	"github.com/fastivite/fastivite/internal/jsrt"
)

var transformExts = map[string]bool{
	".ts":  true,
	".tsx": true,
	".js":  true,
	".jsx": true,
	".mjs": true,
	".mts": true,
	".css": true,
}

// AssetServer serves the live reload endpoints, browser modules compiled on
// request, and files from the public directory. Anything else falls through.
type AssetServer struct {
	Root    string
	Public  string
	Base    string
	Bundler bundler.Bundler
	Reload  *ReloadServer
	Logger  *slog.Logger
}

// Middleware wraps next.
func (a *AssetServer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ClientPath:
			ServeClient(w, r)
			return
		case ReloadPath:
			a.Reload.ServeHTTP(w, r)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		p := path.Clean("/" + strings.TrimPrefix(r.URL.Path, a.Base))
		if transformExts[strings.ToLower(path.Ext(p))] {
			if file, ok := a.within(a.Root, p); ok && !strings.Contains(p, "/node_modules/") {
				a.transform(w, r, file)
				return
			}
		}
		if a.Public != "" {
			if file, ok := a.within(a.Public, p); ok {
				http.ServeFile(w, r, file)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// within resolves the URL path p under dir and reports whether it names a
// regular file there.
func (a *AssetServer) within(dir, p string) (string, bool) {
	file := filepath.Join(dir, filepath.FromSlash(p))
	if !isWithinDir(file, dir) {
		return "", false
	}
	info, err := os.Stat(file)
	if err != nil || info.IsDir() {
		return "", false
	}
	return file, true
}

func (a *AssetServer) transform(w http.ResponseWriter, r *http.Request, file string) {
	body, contentType, err := a.Bundler.TransformAsset(r.Context(), a.Root, file)
	if err != nil {
		log := a.Logger
		if log == nil {
			log = slog.Default()
		}
		log.Error("transform failed", "file", file, "error", err)
		msg := overlayText(err)
		if a.Reload != nil {
			a.Reload.NotifyError(msg)
		}
		http.Error(w, msg, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(body)
}

// overlayText renders err for the browser error overlay, without colors.
func overlayText(err error) string {
	var fe *errors.FastiviteError
	if stderrors.As(err, &fe) {
		text := fe.FormatCompact()
		if fe.Detail != "" {
			text += "\n" + fe.Detail
		}
		if fe.Wrapped != nil {
			text += "\n" + jsrt.Stack(fe.Wrapped)
		}
		return text
	}
	return jsrt.Stack(err)
}
