package standalone

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fastivite/fastivite/internal/build"
	"github.com/fastivite/fastivite/internal/config"
	"github.com/fastivite/fastivite/internal/errors"
)

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// buildProject builds a small project and returns its output directory.
func buildProject(t *testing.T, graphql bool) string {
	t.Helper()
	root := t.TempDir()
	write(t, root, "index.html", `<html><head><!--app-head--></head><body><div id="app"><!--app-html--></div><script type="module" src="/src/entry-client.ts"></script></body></html>`)
	write(t, root, "src/entry-client.ts", "document.title = 'client'\n")
	write(t, root, "src/entry-server.ts", "export function render({ url }: { url: string }) {\n  return { head: '<title>built</title>', html: '<main>' + url + '</main>' }\n}\n")
	write(t, root, "src/db.ts", "export default { name: 'memory' }\n")
	write(t, root, "src/pages/users/api.ts", `import { createApiPlugin } from 'fastivite'

export default createApiPlugin((app, path) => {
  app.get(path, async (req) => ({ users: ['ada'], db: req.db.name }))
})
`)
	cfg, err := config.Load(filepath.Join(root, config.ConfigFileName))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Dev.EntryServer = "./src/entry-server.ts"
	cfg.Build.ExtraModules = map[string]string{"db": "./src/db.ts"}
	if graphql {
		cfg.GraphQL.Enabled = true
		write(t, root, "src/graphql/schema/schema.gql", "type Query { hello: String }\n")
		write(t, root, "src/hello.resolver.ts", "export default { Query: { hello: () => 'hi' } }\n")
	}
	if _, err := build.New(cfg, build.Options{}).Build(context.Background()); err != nil {
		t.Fatalf("build: %v", err)
	}
	return cfg.Abs(cfg.Build.OutDir)
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestServer(t *testing.T) {
	dist := buildProject(t, false)
	srv, err := New(context.Background(), Options{Cwd: dist, Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(srv.Routes()) != 1 || srv.Routes()[0].Pattern != "/api/users" {
		t.Errorf("Routes() = %+v", srv.Routes())
	}

	rec := get(t, srv.Handler(), "/api/users")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"db":"memory"`) {
		t.Errorf("GET /api/users = %d %s", rec.Code, rec.Body.String())
	}

	rec = get(t, srv.Handler(), "/about/")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /about/ = %d %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<title>built</title>") || !strings.Contains(body, "<main>/about</main>") {
		t.Errorf("page = %s", body)
	}
	if strings.Contains(body, "FASTIVITE_BASE_URL") {
		t.Error("standalone render should not inject the base URL script")
	}

	entries, err := os.ReadDir(filepath.Join(dist, "client", "assets"))
	if err != nil || len(entries) == 0 {
		t.Fatalf("no assets: %v", err)
	}
	rec = get(t, srv.Handler(), "/assets/"+entries[0].Name())
	if rec.Code != http.StatusOK || !strings.Contains(rec.Header().Get("Cache-Control"), "immutable") {
		t.Errorf("asset: %d %q", rec.Code, rec.Header().Get("Cache-Control"))
	}
	// Without schema.gql the path falls through to the page renderer.
	if rec := get(t, srv.Handler(), "/graphql"); !strings.Contains(rec.Body.String(), "<main>/graphql</main>") {
		t.Errorf("GET /graphql without schema = %d %s", rec.Code, rec.Body.String())
	}
}

func TestServer_GraphQL(t *testing.T) {
	dist := buildProject(t, true)
	srv, err := New(context.Background(), Options{Cwd: dist, Workers: 1})
	if err != nil {
		t.Fatal(err)
	}
	rec := get(t, srv.Handler(), "/graphql?query=%7Bhello%7D")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `{"data":{"hello":"hi"}}`) {
		t.Errorf("GET /graphql = %d %s", rec.Code, rec.Body.String())
	}
}

func TestNew_MissingBundle(t *testing.T) {
	_, err := New(context.Background(), Options{Cwd: t.TempDir()})
	if !errors.Is(err, "E502") {
		t.Errorf("error = %v, want E502", err)
	}
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("HOST", "")
	t.Setenv("PORT", "")
	t.Setenv("BASE", "")
	o := OptionsFromEnv("dist", "server.cjs")
	if o.Addr() != "127.0.0.1:5173" || o.Base != "" {
		t.Errorf("defaults = %+v", o)
	}

	t.Setenv("HOST", "0.0.0.0")
	t.Setenv("PORT", "8080")
	t.Setenv("BASE", "/app")
	o = OptionsFromEnv("dist", "server.cjs")
	if o.Addr() != "0.0.0.0:8080" || o.Base != "/app" {
		t.Errorf("env = %+v", o)
	}
}

func TestStatic(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "index.html", "<html></html>")
	write(t, dir, "robots.txt", "User-agent: *\n")
	write(t, dir, "assets/app-abc.js", "console.log(1)")
	h := Static(dir, "/app")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		path   string
		status int
		cache  string
	}{
		{"/app/assets/app-abc.js", 200, "public, max-age=31536000, immutable"},
		{"/app/robots.txt", 200, "no-cache"},
		{"/app/", 418, ""},
		{"/app/index.html", 418, ""},
		{"/robots.txt", 418, ""},
		{"/app/missing.js", 418, ""},
	}
	for _, tt := range tests {
		rec := get(t, h, tt.path)
		if rec.Code != tt.status {
			t.Errorf("%s: status = %d, want %d", tt.path, rec.Code, tt.status)
		}
		if got := rec.Header().Get("Cache-Control"); got != tt.cache {
			t.Errorf("%s: Cache-Control = %q, want %q", tt.path, got, tt.cache)
		}
	}
}
