package dev

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fastivite/fastivite/internal/bundler"
	"github.com/fastivite/fastivite/internal/config"
	"github.com/fastivite/fastivite/internal/errors"
)

func writeFile(t *testing.T, root, rel, content string) string {
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

func testConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join(root, config.ConfigFileName))
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestDebouncer_Collapses(t *testing.T) {
	var mu sync.Mutex
	var batches [][]Change
	d := NewDebouncer(50*time.Millisecond, func(c []Change) {
		mu.Lock()
		batches = append(batches, c)
		mu.Unlock()
	})
	defer d.Stop()

	for i := 0; i < 10; i++ {
		d.Add(Change{Path: "/a.ts", Op: OpWrite})
	}
	d.Add(Change{Path: "/b.ts", Op: OpCreate})
	d.Add(Change{Path: "/a.ts", Op: OpRemove})

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	want := []Change{{Path: "/a.ts", Op: OpRemove}, {Path: "/b.ts", Op: OpCreate}}
	if !reflect.DeepEqual(batches[0], want) {
		t.Errorf("batch = %v, want %v", batches[0], want)
	}
}

func TestDebouncer_Stop(t *testing.T) {
	called := atomic.Bool{}
	d := NewDebouncer(20*time.Millisecond, func([]Change) { called.Store(true) })
	d.Add(Change{Path: "/a.ts"})
	d.Stop()
	time.Sleep(60 * time.Millisecond)
	if called.Load() {
		t.Error("stopped debouncer delivered a batch")
	}
}

func TestWatcher_Changes(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := writeFile(t, tmpDir, "src/app.ts", "export {}")

	watcher := NewWatcher(WatcherConfig{
		Paths:    []string{tmpDir},
		Debounce: 50 * time.Millisecond,
	})
	batches := make(chan []Change, 10)
	watcher.OnChange(func(c []Change) { batches <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watcher.Start(ctx)
	defer watcher.Stop()

	deadline := time.Now().Add(time.Second)
	for !watcher.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(testFile, []byte("export const a = 1"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case batch := <-batches:
		found := false
		for _, c := range batch {
			if c.Path == testFile {
				found = true
			}
		}
		if !found {
			t.Errorf("batch %v does not contain %s", batch, testFile)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for change")
	}

	// New directories are watched as they appear.
	if err := os.MkdirAll(filepath.Join(tmpDir, "src", "nested"), 0755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	nested := writeFile(t, tmpDir, "src/nested/api.ts", "export {}")
	select {
	case batch := <-batches:
		for _, c := range batch {
			if c.Path == nested {
				return
			}
		}
		t.Errorf("batch %v does not contain %s", batch, nested)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for nested change")
	}
}

func TestWatcher_Ignore(t *testing.T) {
	tmpDir := t.TempDir()

	watcher := NewWatcher(WatcherConfig{
		Paths:  []string{tmpDir},
		Ignore: []string{"*.d.ts", "node_modules", "src/gen"},
	})

	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join(tmpDir, "types.d.ts"), true},
		{filepath.Join(tmpDir, "node_modules"), true},
		{filepath.Join(tmpDir, "src", "gen", "x.ts"), true},
		{filepath.Join(tmpDir, "src", "generated.ts"), false},
		{filepath.Join(tmpDir, "main.ts"), false},
	}
	for _, tt := range tests {
		if got := watcher.shouldIgnore(tt.path); got != tt.want {
			t.Errorf("shouldIgnore(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestWatcher_DefaultIgnore(t *testing.T) {
	watcher := NewWatcher(WatcherConfig{Paths: []string{"."}})
	if !watcher.shouldIgnore(filepath.Join("proj", "node_modules")) {
		t.Error("node_modules should be ignored")
	}
	if watcher.shouldIgnore(filepath.Join("proj", "src", "pages", "build", "api.ts")) {
		t.Error("a route directory named build should be watched")
	}
	if watcher.shouldIgnore(filepath.Join("proj", "src", "rebuild.ts")) {
		t.Error("substring of an ignored name should not match")
	}
	if watcher.IsRunning() {
		t.Error("watcher should not be running initially")
	}
}

func TestWatcher_IgnoreDirs(t *testing.T) {
	root := t.TempDir()
	watcher := NewWatcher(WatcherConfig{
		Paths:      []string{root},
		IgnoreDirs: []string{filepath.Join(root, "build"), filepath.Join(root, "dist")},
	})
	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join(root, "build"), true},
		{filepath.Join(root, "build", ".apis", "users.js"), true},
		{filepath.Join(root, "dist", "server.cjs"), true},
		{filepath.Join(root, "src", "pages", "build", "api.ts"), false},
		{filepath.Join(root, "src", "pages", "dist", "api.ts"), false},
		{filepath.Join(root, "distant.ts"), false},
	}
	for _, tt := range tests {
		if got := watcher.shouldIgnore(tt.path); got != tt.want {
			t.Errorf("shouldIgnore(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestServer_WatchesRouteDirNamedBuild(t *testing.T) {
	cfg := newProject(t)
	srv, err := NewServer(ServerOptions{Config: cfg})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()
	if srv.watcher.shouldIgnore(cfg.Abs("src/pages/build/api.ts")) {
		t.Error("src/pages/build/api.ts should trigger reloads")
	}
	if !srv.watcher.shouldIgnore(cfg.Abs(cfg.Dev.BuildDir)) {
		t.Error("the dev build dir should be ignored")
	}
}

func TestClassify(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)
	cfg.GraphQL.Enabled = true
	cfg.Build.ExtraModules = map[string]string{"db": "./src/db.ts"}

	tests := []struct {
		rel  string
		want ChangeKind
	}{
		{"src/pages/users/api.ts", KindAPI},
		{"src/pages/users/api/index.ts", KindAPI},
		{"src/pages/users/page.tsx", KindSource},
		{"src/graphql/schema/user.gql", KindSchema},
		{"src/users/user.resolver.ts", KindGraphQL},
		{"src/users/user.loader.ts", KindGraphQL},
		{"src/app.context.ts", KindGraphQL},
		{"src/db.ts", KindGraphQL},
		{"public/style.css", KindCSS},
		{"src/style.css", KindSource},
		{"index.html", KindSource},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			if got := Classify(cfg, filepath.Join(root, filepath.FromSlash(tt.rel))); got != tt.want {
				t.Errorf("Classify(%s) = %v, want %v", tt.rel, got, tt.want)
			}
		})
	}
}

func TestCollectWatchPaths(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)
	cfg.Dev.Watch = []string{"./src/pages/shared", "./lib"}

	got := CollectWatchPaths(cfg)
	want := []string{
		filepath.Join(root, "src", "pages"),
		filepath.Join(root, "src"),
		filepath.Join(root, "index.html"),
		filepath.Join(root, "public"),
		filepath.Join(root, "lib"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CollectWatchPaths() =\n%v\nwant\n%v", got, want)
	}
}

func TestStateMachine(t *testing.T) {
	var seen []string
	m := stateMachine{onChange: func(from, to State) {
		seen = append(seen, from.String()+">"+to.String())
	}}

	steps := []struct {
		next State
		ok   bool
	}{
		{StateReloading, false},
		{StateServing, true},
		{StateReloading, true},
		{StateReloading, false},
		{StateServing, true},
		{StateStopped, true},
		{StateServing, false},
	}
	for i, s := range steps {
		if got := m.transition(s.next); got != s.ok {
			t.Errorf("step %d: transition(%v) = %v, want %v", i, s.next, got, s.ok)
		}
	}
	want := []string{"booting>serving", "serving>reloading", "reloading>serving", "serving>stopped"}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("transitions = %v, want %v", seen, want)
	}
}

func TestTransformIndexHTML(t *testing.T) {
	got := TransformIndexHTML("/", "<html><HEAD><title>x</title></HEAD><body></body></html>")
	want := `<html><HEAD><title>x</title><script type="module" src="/@fastivite/client.js"></script></HEAD><body></body></html>`
	if got != want {
		t.Errorf("got %s", got)
	}
	if got := TransformIndexHTML("/", "<p>bare</p>"); !strings.HasPrefix(got, "<script") {
		t.Errorf("shell without head: %s", got)
	}
}

func TestAssetServer(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/main.ts", "const n: number = 1\nconsole.log(n)\n")
	writeFile(t, root, "src/broken.ts", "const = ;\n")
	writeFile(t, root, "public/robots.txt", "User-agent: *\n")

	reload := NewReloadServer()
	a := &AssetServer{
		Root:    root,
		Public:  filepath.Join(root, "public"),
		Bundler: bundler.NewESBuild(),
		Reload:  reload,
	}
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "next")
	}))

	tests := []struct {
		name, method, path string
		status             int
		contains           string
		contentType        string
	}{
		{"module", "GET", "/src/main.ts", 200, "console.log", "text/javascript"},
		{"public", "GET", "/robots.txt", 200, "User-agent", "text/plain"},
		{"client", "GET", ClientPath, 200, "WebSocket", "text/javascript"},
		{"missing", "GET", "/src/nope.ts", 200, "next", ""},
		{"escape", "GET", "/../../etc/passwd", 200, "next", ""},
		{"post", "POST", "/src/main.ts", 200, "next", ""},
		{"page", "GET", "/about", 200, "next", ""},
		{"broken", "GET", "/src/broken.ts", 500, "E201", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.contains)
			}
			if tt.contentType != "" && !strings.HasPrefix(rec.Header().Get("Content-Type"), tt.contentType) {
				t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
			}
		})
	}
	if !strings.Contains(reload.Showing(), "E201") {
		t.Error("transform failure should be shown in the overlay")
	}
}

func TestOverlayText(t *testing.T) {
	err := errors.New("E301").WithDetail("users/api.ts").Wrap(stderrors.New("boom"))
	got := overlayText(err)
	for _, want := range []string{"E301", "users/api.ts", "boom"} {
		if !strings.Contains(got, want) {
			t.Errorf("overlayText() = %q, missing %q", got, want)
		}
	}
	if strings.Contains(got, "\x1b[") {
		t.Error("overlay text must not contain color codes")
	}
}

func dialReload(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + ReloadPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var msg Event
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestReloadServer(t *testing.T) {
	rs := NewReloadServer()
	srv := httptest.NewServer(rs)
	defer srv.Close()
	defer rs.Close()

	if rs.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", rs.ClientCount())
	}

	rs.NotifyError("E201 broken")
	conn := dialReload(t, srv)

	if msg := readMessage(t, conn); msg.Kind != EventError || msg.Error != "E201 broken" {
		t.Errorf("replayed message = %+v", msg)
	}

	rs.ClearError()
	if msg := readMessage(t, conn); msg.Kind != EventClear {
		t.Errorf("message = %+v, want clear", msg)
	}
	rs.NotifyCSS("/style.css")
	if msg := readMessage(t, conn); msg.Kind != EventCSS || msg.File != "/style.css" {
		t.Errorf("message = %+v, want css", msg)
	}
	rs.NotifyReload()
	if msg := readMessage(t, conn); msg.Kind != EventReload {
		t.Errorf("message = %+v, want reload", msg)
	}
	if rs.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", rs.ClientCount())
	}
}

func TestClientScript(t *testing.T) {
	for _, want := range []string{"WebSocket", ReloadPath, "location.reload", "fastivite-error-overlay", "refreshStyles(ev.file)"} {
		if !strings.Contains(ClientScript, want) {
			t.Errorf("ClientScript missing %q", want)
		}
	}
}

const usersAPI = `import { createApiPlugin } from 'fastivite'

export default createApiPlugin((app, path) => {
  app.get(path, async () => ({ users: ['ada'] }))
})
`

const entryServer = `export function render({ url }: { url: string }) {
  return { head: '<title>home</title>', html: '<main>' + url + '</main>' }
}
`

func newProject(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "index.html", "<html><head><!--app-head--></head><body><div id=\"app\"><!--app-html--></div></body></html>")
	writeFile(t, root, "src/entry-server.ts", entryServer)
	writeFile(t, root, "src/pages/users/api.ts", usersAPI)
	cfg := testConfig(t, root)
	cfg.Dev.EntryServer = "./src/entry-server.ts"
	return cfg
}

func get(t *testing.T, h http.Handler, target string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec.Code, rec.Body.String()
}

func TestServer_Boot(t *testing.T) {
	cfg := newProject(t)
	var reloads []uint64
	srv, err := NewServer(ServerOptions{
		Config:   cfg,
		OnReload: func(id uint64) { reloads = append(reloads, id) },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()

	if code, _ := get(t, srv.Handler(), "/api/users"); code != http.StatusServiceUnavailable {
		t.Errorf("before boot status = %d, want 503", code)
	}
	if err := srv.Boot(context.Background()); err != nil {
		t.Fatal(err)
	}
	if srv.State() != StateServing {
		t.Errorf("State() = %v, want serving", srv.State())
	}

	code, body := get(t, srv.Handler(), "/api/users")
	if code != http.StatusOK || !strings.Contains(body, `"ada"`) {
		t.Errorf("GET /api/users = %d %s", code, body)
	}
	if entry, ok := srv.Routes().Get("/api/users"); !ok || entry.Source != "users/api.ts" {
		t.Errorf("registry entry = %+v, %v", entry, ok)
	}

	code, body = get(t, srv.Handler(), "/")
	if code != http.StatusOK {
		t.Fatalf("GET / = %d %s", code, body)
	}
	for _, want := range []string{"<title>home</title>", "<main></main>", ClientPath, "FASTIVITE_BASE_URL"} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q:\n%s", want, body)
		}
	}

	// A second module and a broken one: the good ones serve, the broken
	// one is reported.
	writeFile(t, cfg.Dir(), "src/pages/posts/api.ts", strings.ReplaceAll(usersAPI, "users: ['ada']", "posts: []"))
	writeFile(t, cfg.Dir(), "src/pages/broken/api.ts", "export default (")
	if err := srv.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	if code, _ := get(t, srv.Handler(), "/api/posts"); code != http.StatusOK {
		t.Errorf("GET /api/posts = %d after reload", code)
	}
	if code, _ := get(t, srv.Handler(), "/api/users"); code != http.StatusOK {
		t.Errorf("GET /api/users = %d after reload", code)
	}
	if _, ok := srv.Routes().Get("/api/broken"); ok {
		t.Error("broken module should not be registered")
	}
	if !strings.Contains(srv.reload.Showing(), "broken/api.ts") {
		t.Errorf("overlay = %q", srv.reload.Showing())
	}
	if !reflect.DeepEqual(reloads, []uint64{1, 2}) {
		t.Errorf("reloads = %v", reloads)
	}
}

func TestServer_SourceChangeRerenders(t *testing.T) {
	cfg := newProject(t)
	srv, err := NewServer(ServerOptions{Config: cfg})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()
	if err := srv.Boot(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, body := get(t, srv.Handler(), "/"); !strings.Contains(body, "<title>home</title>") {
		t.Fatalf("first render: %s", body)
	}

	entry := writeFile(t, cfg.Dir(), "src/entry-server.ts", strings.ReplaceAll(entryServer, "home", "changed"))
	srv.handleChanges([]Change{{Path: entry, Op: OpWrite}})

	if _, body := get(t, srv.Handler(), "/"); !strings.Contains(body, "<title>changed</title>") {
		t.Errorf("render after change: %s", body)
	}
}

func TestServer_RenderError(t *testing.T) {
	cfg := newProject(t)
	writeFile(t, cfg.Dir(), "src/entry-server.ts", "export function render() { throw new Error('render exploded') }\n")
	srv, err := NewServer(ServerOptions{Config: cfg})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()
	if err := srv.Boot(context.Background()); err != nil {
		t.Fatal(err)
	}
	code, body := get(t, srv.Handler(), "/")
	if code != http.StatusInternalServerError || !strings.Contains(body, "render exploded") {
		t.Errorf("GET / = %d %s", code, body)
	}
}

// hookBundler runs after each compile of the wrapped bundler.
type hookBundler struct {
	bundler.Bundler
	after func(opts bundler.CompileOptions)
}

func (h *hookBundler) CompileModule(ctx context.Context, opts bundler.CompileOptions) error {
	err := h.Bundler.CompileModule(ctx, opts)
	if h.after != nil {
		h.after(opts)
	}
	return err
}

func TestServer_SourceChangeDuringCompile(t *testing.T) {
	cfg := newProject(t)
	entry := cfg.Abs(cfg.Dev.EntryServer)
	hb := &hookBundler{Bundler: bundler.NewESBuild()}
	srv, err := NewServer(ServerOptions{Config: cfg, Bundler: hb})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()
	if err := srv.Boot(context.Background()); err != nil {
		t.Fatal(err)
	}

	var once sync.Once
	hb.after = func(opts bundler.CompileOptions) {
		if opts.Entry != entry {
			return
		}
		once.Do(func() {
			writeFile(t, cfg.Dir(), "src/entry-server.ts", strings.ReplaceAll(entryServer, "home", "changed"))
			srv.handleChanges([]Change{{Path: entry, Op: OpWrite}})
		})
	}

	if _, body := get(t, srv.Handler(), "/"); !strings.Contains(body, "<title>home</title>") {
		t.Fatalf("first render: %s", body)
	}
	if _, body := get(t, srv.Handler(), "/"); !strings.Contains(body, "<title>changed</title>") {
		t.Errorf("change made during the compile was lost: %s", body)
	}
}

func TestServer_ReloadRequestsCoalesce(t *testing.T) {
	cfg := newProject(t)
	api := cfg.Abs("src/pages/users/api.ts")

	started := make(chan struct{})
	release := make(chan struct{})
	var blocking atomic.Bool
	hb := &hookBundler{Bundler: bundler.NewESBuild()}
	hb.after = func(opts bundler.CompileOptions) {
		if opts.Entry == api && blocking.CompareAndSwap(true, false) {
			close(started)
			<-release
		}
	}

	var mu sync.Mutex
	var reloads []uint64
	srv, err := NewServer(ServerOptions{
		Config:  cfg,
		Bundler: hb,
		OnReload: func(id uint64) {
			mu.Lock()
			reloads = append(reloads, id)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()
	if err := srv.Boot(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.reloadLoop(ctx)

	// A burst of API events yields one reload.
	blocking.Store(true)
	burst := []Change{{Path: api, Op: OpWrite}, {Path: api, Op: OpWrite}, {Path: api, Op: OpWrite}}
	srv.handleChanges(burst)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("reload did not start")
	}

	// Requests while that reload runs collapse into one follow-up.
	srv.handleChanges(burst)
	srv.handleChanges(burst)
	srv.RequestReload()
	close(release)

	count := func() []uint64 {
		mu.Lock()
		defer mu.Unlock()
		return append([]uint64(nil), reloads...)
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(count()) < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(200 * time.Millisecond)
	if got := count(); !reflect.DeepEqual(got, []uint64{1, 2, 3}) {
		t.Errorf("reloads = %v, want [1 2 3]", got)
	}
}
