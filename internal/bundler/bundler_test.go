package bundler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/fastivite/fastivite/internal/errors"
)

func write(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

const shell = `<!doctype html>
<html>
  <head>
    <title>x</title>
  </head>
  <body>
    <div id="app"><!--app-html--></div>
    <script type="module" src="/src/entry-client.ts"></script>
    <script type="module" src="https://cdn.example.com/x.js"></script>
  </body>
</html>
`

func TestShellScripts(t *testing.T) {
	got := ShellScripts(shell)
	if !reflect.DeepEqual(got, []string{"/src/entry-client.ts"}) {
		t.Errorf("ShellScripts() = %v", got)
	}
	if got := ShellScripts("<html></html>"); len(got) != 0 {
		t.Errorf("ShellScripts(empty) = %v", got)
	}
}

func TestRewriteShell(t *testing.T) {
	out := RewriteShell(shell,
		map[string]string{"/src/entry-client.ts": "/assets/entry-client-ABC.js"},
		[]string{`<link rel="stylesheet" href="/assets/entry-client-DEF.css">`},
	)
	if !strings.Contains(out, `src="/assets/entry-client-ABC.js"`) {
		t.Errorf("script not rewritten:\n%s", out)
	}
	if !strings.Contains(out, `src="https://cdn.example.com/x.js"`) {
		t.Error("external script should be untouched")
	}
	link := strings.Index(out, "entry-client-DEF.css")
	head := strings.Index(out, "</head>")
	if link < 0 || link > head {
		t.Errorf("stylesheet link should precede </head>:\n%s", out)
	}
}

func TestCompileModule(t *testing.T) {
	root := t.TempDir()
	entry := write(t, root, "users/api.ts", `
import { createApiPlugin } from 'fastivite'
import { greet } from './greet'

export default createApiPlugin(async (app) => {
  app.get('/', async () => ({ hello: greet('users') as string }))
})
`)
	write(t, root, "users/greet.ts", "export const greet = (n: string): string => `hi ${n}`\n")
	out := filepath.Join(root, "build", ".apis", "users", "api.js")

	var observed []string
	b := NewESBuild()
	b.OnCompile = func(kind, entry string, d time.Duration, err error) {
		observed = append(observed, kind)
	}
	if err := b.CompileModule(context.Background(), CompileOptions{Entry: entry, Outfile: out, Bundle: true}); err != nil {
		t.Fatalf("CompileModule() error = %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	code := string(data)
	if !strings.Contains(code, `require("fastivite")`) {
		t.Errorf("host module should stay external:\n%s", code)
	}
	if strings.Contains(code, ": string") {
		t.Error("type annotations should be stripped")
	}
	if !strings.Contains(code, "hi ") {
		t.Error("relative import should be bundled")
	}
	if !reflect.DeepEqual(observed, []string{"module"}) {
		t.Errorf("OnCompile kinds = %v", observed)
	}
}

func TestCompileModule_Error(t *testing.T) {
	root := t.TempDir()
	entry := write(t, root, "broken/api.ts", "export default (\n")

	err := NewESBuild().CompileModule(context.Background(), CompileOptions{
		Entry:   entry,
		Outfile: filepath.Join(root, "out.js"),
		Bundle:  true,
	})
	var fe *errors.FastiviteError
	if !stderrors.As(err, &fe) {
		t.Fatalf("error = %v, want *FastiviteError", err)
	}
	if fe.Code != "E201" {
		t.Errorf("Code = %q, want E201", fe.Code)
	}
	if fe.Location == nil || fe.Location.Line == 0 {
		t.Errorf("Location = %v, want a line", fe.Location)
	}
	if fe.Detail == "" {
		t.Error("Detail should carry the bundler message")
	}
}

func TestCompileModule_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewESBuild().CompileModule(ctx, CompileOptions{Entry: "x.ts", Outfile: "x.js"})
	if !stderrors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestTransformAsset(t *testing.T) {
	root := t.TempDir()
	write(t, root, "src/style.css", "body { color: red }\n")
	file := write(t, root, "src/main.ts", "import './style.css'\nconst n: number = 1\nconsole.log(n)\n")

	body, ctype, err := NewESBuild().TransformAsset(context.Background(), root, file)
	if err != nil {
		t.Fatalf("TransformAsset() error = %v", err)
	}
	if !strings.HasPrefix(ctype, "text/javascript") {
		t.Errorf("content type = %q", ctype)
	}
	js := string(body)
	if !strings.Contains(js, "console.log") || strings.Contains(js, ": number") {
		t.Errorf("unexpected output:\n%s", js)
	}
	if !strings.Contains(js, "data-fastivite-id") || !strings.Contains(js, "color: red") {
		t.Error("imported CSS should be injected")
	}

	css, ctype, err := NewESBuild().TransformAsset(context.Background(), root, filepath.Join(root, "src/style.css"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(ctype, "text/css") || !strings.Contains(string(css), "color: red") {
		t.Errorf("css = %q (%s)", css, ctype)
	}
}

func TestBuildClient(t *testing.T) {
	root := t.TempDir()
	write(t, root, "index.html", shell)
	write(t, root, "src/entry-client.ts", "import './app.css'\ndocument.title = 'built'\n")
	write(t, root, "src/app.css", "h1 { margin: 0 }\n")
	write(t, root, "public/robots.txt", "User-agent: *\n")
	outDir := filepath.Join(root, "dist", "client")

	res, err := NewESBuild().BuildClient(context.Background(), ClientOptions{
		Root:      root,
		Index:     filepath.Join(root, "index.html"),
		OutDir:    outDir,
		Base:      "/app",
		Minify:    true,
		PublicDir: filepath.Join(root, "public"),
	})
	if err != nil {
		t.Fatalf("BuildClient() error = %v", err)
	}

	entry, ok := res.Manifest["src/entry-client.ts"]
	if !ok {
		t.Fatalf("manifest = %v", res.Manifest)
	}
	if !strings.HasPrefix(entry.File, "assets/entry-client-") || len(entry.CSS) != 1 {
		t.Errorf("entry = %+v", entry)
	}
	if _, err := os.Stat(filepath.Join(outDir, filepath.FromSlash(entry.File))); err != nil {
		t.Errorf("bundle not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "robots.txt")); err != nil {
		t.Errorf("public file not copied: %v", err)
	}

	html, _ := os.ReadFile(res.IndexFile)
	if !strings.Contains(string(html), `src="/app/`+entry.File+`"`) {
		t.Errorf("index.html not rewritten:\n%s", html)
	}
	if !strings.Contains(string(html), `href="/app/`+entry.CSS[0]+`"`) {
		t.Errorf("stylesheet not linked:\n%s", html)
	}

	var manifest map[string]ManifestEntry
	data, _ := os.ReadFile(filepath.Join(outDir, "manifest.json"))
	if err := json.Unmarshal(data, &manifest); err != nil {
		t.Fatal(err)
	}
	if manifest["src/entry-client.ts"].File != entry.File {
		t.Errorf("manifest.json = %v", manifest)
	}
}

func TestBuildClient_NoScripts(t *testing.T) {
	root := t.TempDir()
	index := write(t, root, "index.html", "<html><body></body></html>")
	_, err := NewESBuild().BuildClient(context.Background(), ClientOptions{Root: root, Index: index, OutDir: filepath.Join(root, "dist")})
	if !errors.Is(err, "E205") {
		t.Errorf("error = %v, want E205", err)
	}

	_, err = NewESBuild().BuildClient(context.Background(), ClientOptions{Root: root, Index: filepath.Join(root, "missing.html")})
	if !errors.Is(err, "E202") {
		t.Errorf("error = %v, want E202", err)
	}
}
