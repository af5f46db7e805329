// Package scan discovers convention-named source files and derives the
// route paths and artifact names they map to.
package scan

import (
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Glob returns the paths under cwd matching any of patterns, relative to
// cwd and slash separated. Patterns are evaluated in order; a path matched
// by several patterns is reported once, at its first position. Within a
// pattern the order is the filesystem walk order.
//
// A missing cwd yields no paths.
func Glob(cwd string, patterns []string) ([]string, error) {
	if _, err := os.Stat(cwd); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	fsys := os.DirFS(cwd)
	seen := make(map[string]bool)
	var out []string
	for _, pattern := range patterns {
		pattern = strings.TrimPrefix(pattern, "./")
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if seen[m] || skipped(m) {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	return out, nil
}

// GlobSorted is Glob with the result sorted lexicographically.
func GlobSorted(cwd string, patterns []string) ([]string, error) {
	out, err := Glob(cwd, patterns)
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Match reports whether the slash separated path rel matches any pattern.
func Match(patterns []string, rel string) bool {
	if skipped(rel) {
		return false
	}
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(strings.TrimPrefix(pattern, "./"), rel); ok {
			return true
		}
	}
	return false
}

// skipped reports paths inside node_modules, which globbing never descends into.
func skipped(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if seg == "node_modules" {
			return true
		}
	}
	return false
}

// conventional file and directory names that never contribute to a route.
var conventional = map[string]bool{
	"api.ts":   true,
	"api.js":   true,
	"api":      true,
	"index.ts": true,
	"index.js": true,
}

// DeriveRoute maps a path relative to the API root to its URL path:
// conventional segments and empty segments are dropped and the rest is
// joined under /api.
//
//	users/api.ts       -> /api/users
//	users/api/index.ts -> /api/users
//	api.ts             -> /api
func DeriveRoute(rel string) string {
	rel = strings.ReplaceAll(rel, "\\", "/")
	var kept []string
	for _, seg := range strings.Split(rel, "/") {
		if seg == "" || conventional[seg] {
			continue
		}
		kept = append(kept, seg)
	}
	if len(kept) == 0 {
		return "/api"
	}
	return "/api/" + strings.Join(kept, "/")
}

// ArtifactName returns the compiled artifact path for a source path:
// users/api.ts -> users/api.js.
func ArtifactName(rel string) string {
	return LogicalName(rel) + ".js"
}

// LogicalName strips a script extension: users/api.tsx -> users/api.
func LogicalName(rel string) string {
	rel = strings.ReplaceAll(rel, "\\", "/")
	switch ext := path.Ext(rel); ext {
	case ".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs", ".mts", ".cts":
		return strings.TrimSuffix(rel, ext)
	}
	return rel
}

// Files reads every path in rels from fsys, in order.
func Files(fsys fs.FS, rels []string) ([][]byte, error) {
	out := make([][]byte, 0, len(rels))
	for _, rel := range rels {
		data, err := fs.ReadFile(fsys, rel)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}
