package httpserver

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fastivite/fastivite/internal/apiroute"
	"github.com/fastivite/fastivite/internal/jsrt"
)

func TestSSRURL(t *testing.T) {
	tests := []struct {
		url, base, want string
	}{
		{"/", "", ""},
		{"/about/", "", "/about"},
		{"/about?x=1", "", "/about?x=1"},
		{"/app/", "/app", ""},
		{"/app/users//", "/app", "users"},
		// Leading characters are trimmed as a set, not as a prefix.
		{"/app/about", "/app", "bout"},
	}
	for _, tt := range tests {
		if got := SSRURL(tt.url, tt.base); got != tt.want {
			t.Errorf("SSRURL(%q, %q) = %q, want %q", tt.url, tt.base, got, tt.want)
		}
	}
}

type stubRenderer struct {
	res  *RenderResult
	err  error
	url  string
	host string
}

func (s *stubRenderer) Render(r *http.Request, url, host string) (*RenderResult, error) {
	s.url, s.host = url, host
	return s.res, s.err
}

const shell = `<html><head><!--app-head--></head><body><div id="app"><!--app-html--></div><!--app-html--></body></html>`

func TestSSRHandler(t *testing.T) {
	rend := &stubRenderer{res: &RenderResult{Head: "<title>t</title>", HTML: "<p>hi</p>"}}
	h := &SSRHandler{
		InjectHost: true,
		Shell: ShellFunc(func(ctx context.Context, url string) (string, error) {
			return shell, nil
		}),
		Renderer: rend,
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.com/users/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<head><title>t</title></head>") {
		t.Errorf("head not substituted: %s", body)
	}
	if !strings.Contains(body, `<div id="app"><p>hi</p>`) {
		t.Errorf("html not substituted: %s", body)
	}
	if strings.Count(body, "<!--app-html-->") != 1 {
		t.Errorf("html slot must be replaced exactly once: %s", body)
	}
	if !strings.Contains(body, `window.FASTIVITE_BASE_URL = "http://example.com"`) {
		t.Errorf("base url script missing: %s", body)
	}
	if rend.url != "/users" || rend.host != "http://example.com" {
		t.Errorf("render got url=%q host=%q", rend.url, rend.host)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
}

func TestSSRHandler_NoHost(t *testing.T) {
	rend := &stubRenderer{res: &RenderResult{HTML: "x"}}
	h := &SSRHandler{
		Shell:    ShellFunc(func(context.Context, string) (string, error) { return shell, nil }),
		Renderer: rend,
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if strings.Contains(rec.Body.String(), "FASTIVITE_BASE_URL") {
		t.Error("base url script injected without host")
	}
	if rend.host != "" {
		t.Errorf("host = %q, want empty", rend.host)
	}
}

func TestSSRHandler_Failure(t *testing.T) {
	tests := []struct {
		name  string
		shell ShellSource
		rend  Renderer
	}{
		{
			name:  "shell",
			shell: ShellFunc(func(context.Context, string) (string, error) { return "", stderrors.New("no index.html") }),
			rend:  &stubRenderer{res: &RenderResult{}},
		},
		{
			name:  "render",
			shell: ShellFunc(func(context.Context, string) (string, error) { return shell, nil }),
			rend:  &stubRenderer{err: &jsrt.JSError{Message: "boom", Stack: "Error: boom\n    at render (entry-server.js:1:1)"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &SSRHandler{Shell: tt.shell, Renderer: tt.rend}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			if rec.Code != http.StatusInternalServerError {
				t.Errorf("status = %d", rec.Code)
			}
			if rec.Body.Len() == 0 {
				t.Error("empty error body")
			}
		})
	}

	h := &SSRHandler{
		Shell: ShellFunc(func(context.Context, string) (string, error) { return shell, nil }),
		Renderer: &stubRenderer{err: &jsrt.JSError{
			Message: "boom",
			Stack:   "Error: boom\n    at render (entry-server.js:1:1)",
		}},
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.Contains(rec.Body.String(), "at render (entry-server.js:1:1)") {
		t.Errorf("body does not carry the stack: %q", rec.Body.String())
	}
}

func newVM(t *testing.T) *jsrt.VM {
	t.Helper()
	vm, err := jsrt.New(jsrt.Options{Name: "http"})
	if err != nil {
		t.Fatal(err)
	}
	return vm
}

func TestJSRenderer(t *testing.T) {
	vm := newVM(t)
	j := &JSRenderer{
		Exec: vm,
		Resolve: func(vm *jsrt.VM) (goja.Value, error) {
			m, err := vm.LoadSource("entry-server.js", `
exports.render = async ({ url, host, req }) => ({
  head: "<title>" + req.method + "</title>",
  html: url + "|" + (host === undefined ? "none" : host),
});`)
			if err != nil {
				return nil, err
			}
			return m.Export("render"), nil
		},
	}

	res, err := j.Render(httptest.NewRequest(http.MethodGet, "/", nil), "/a", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Head != "<title>GET</title>" || res.HTML != "/a|none" {
		t.Errorf("got %+v", res)
	}

	res, err = j.Render(httptest.NewRequest(http.MethodGet, "/", nil), "/b", "http://h")
	if err != nil {
		t.Fatal(err)
	}
	if res.HTML != "/b|http://h" {
		t.Errorf("html = %q", res.HTML)
	}
}

func TestAssembler_Build(t *testing.T) {
	vm := newVM(t)
	var routes []apiroute.Route
	err := vm.Do(context.Background(), func(vm *jsrt.VM) error {
		m, err := vm.LoadSource("users/api.js", `
const { createApiPlugin } = require("fastivite");
module.exports = createApiPlugin((app, path) => {
  app.get(path, () => ({ users: [] }));
  app.get(path + "/:id", (req) => ({ id: req.params.id }));
});`)
		if err != nil {
			return err
		}
		routes, err = apiroute.Register(vm, m.Exports(), apiroute.Options{Path: "/api/users"})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	metrics := NewMetrics(WithRegistry(prometheus.NewRegistry()))
	a := New(Options{Metrics: metrics, Tracing: true, Quiet: true})
	var bridged bool
	a.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bridged = true
			next.ServeHTTP(w, r)
		})
	})
	ssr := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ssr:"+r.URL.Path)
	})
	gql := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "graphql")
	})
	srv := httptest.NewServer(a.Build(Site{Exec: vm, Routes: routes, SSR: ssr, GraphQLPath: "/graphql", GraphQL: gql}))
	defer srv.Close()

	tests := []struct {
		method, path string
		status       int
		body         string
	}{
		{http.MethodGet, "/api/users", 200, `{"users":[]}`},
		{http.MethodGet, "/api/users/7", 200, `{"id":"7"}`},
		{http.MethodGet, "/about", 200, "ssr:/about"},
		{http.MethodPost, "/graphql", 200, "graphql"},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(tt.method, srv.URL+tt.path, nil)
		req.Header.Set("Origin", "http://other.test")
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(res.Body)
		res.Body.Close()
		if res.StatusCode != tt.status || string(body) != tt.body {
			t.Errorf("%s %s = %d %q, want %d %q", tt.method, tt.path, res.StatusCode, body, tt.status, tt.body)
		}
		if got := res.Header.Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("%s %s: allow-origin = %q", tt.method, tt.path, got)
		}
	}
	if !bridged {
		t.Error("middleware added with Use was not run")
	}

	res, err := http.Get(srv.URL + MetricsPath)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if !bytes.Contains(body, []byte(`fastivite_http_requests_total{method="GET",route="/api/users/{id}",status="200"} 1`)) {
		t.Errorf("metrics missing request counter:\n%s", body)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordReload()
	m.ObserveCompile("api", time.Millisecond, nil)
}

func TestSwappable(t *testing.T) {
	var s Swappable
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status before swap = %d", rec.Code)
	}

	for _, want := range []string{"one", "two"} {
		want := want
		s.Swap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, want) }))
		rec = httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Body.String() != want {
			t.Errorf("body = %q, want %q", rec.Body.String(), want)
		}
	}
}

func TestPrintRoutes(t *testing.T) {
	a := New(Options{Quiet: true})
	r := a.Build(Site{SSR: http.NotFoundHandler()})
	r.Post("/api/b", func(http.ResponseWriter, *http.Request) {})
	r.Get("/api/a", func(http.ResponseWriter, *http.Request) {})

	var buf bytes.Buffer
	if err := PrintRoutes(&buf, r); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	ia, ib := strings.Index(out, "/api/a"), strings.Index(out, "/api/b")
	if ia < 0 || ib < 0 || ia > ib {
		t.Errorf("routes not listed in order:\n%s", out)
	}
	if !strings.Contains(out, "POST") {
		t.Errorf("method missing:\n%s", out)
	}
}

func TestListen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	addrCh := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- Listen(ctx, "127.0.0.1:0", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "ok")
		}), nil, func(a net.Addr) { addrCh <- a })
	}()

	addr := <-addrCh
	res, err := http.Get("http://" + addr.String())
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Listen returned %v", err)
		}
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

func TestListen_AddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	err = Listen(context.Background(), ln.Addr().String(), http.NotFoundHandler(), nil, nil)
	if err == nil || !strings.Contains(err.Error(), "E501") {
		t.Errorf("err = %v, want E501", err)
	}
}
