package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dop251/goja"

	"github.com/fastivite/fastivite/internal/apiroute"
	"github.com/fastivite/fastivite/internal/jsrt"
)

const (
	headSlot = "<!--app-head-->"
	htmlSlot = "<!--app-html-->"
)

// RenderResult is what render() returned.
type RenderResult struct {
	Head string
	HTML string
}

// ShellSource produces the HTML shell for url.
type ShellSource interface {
	Shell(ctx context.Context, url string) (string, error)
}

// ShellFunc adapts a function to ShellSource.
type ShellFunc func(ctx context.Context, url string) (string, error)

func (f ShellFunc) Shell(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}

// Renderer renders url for r. host is empty when the caller does not pass
// one to render().
type Renderer interface {
	Render(r *http.Request, url, host string) (*RenderResult, error)
}

// SSRHandler serves server-rendered pages.
type SSRHandler struct {
	// Base is stripped from the request URL with character-set semantics:
	// every leading character contained in Base is removed.
	Base string

	// InjectHost passes host to render() and exposes it to the page as
	// window.FASTIVITE_BASE_URL.
	InjectHost bool

	Shell    ShellSource
	Renderer Renderer
	Logger   *slog.Logger
}

// SSRURL derives the render URL from the original request URL: characters in
// base are trimmed from the left, then slashes from the right.
func SSRURL(originalURL, base string) string {
	return strings.TrimRight(strings.TrimLeft(originalURL, base), "/")
}

// Host returns protocol://hostname for r.
func Host(r *http.Request) string {
	return apiroute.Protocol(r) + "://" + apiroute.Hostname(r)
}

func (h *SSRHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.Logger
	if log == nil {
		log = slog.Default()
	}

	url := SSRURL(r.URL.RequestURI(), h.Base)
	var host string
	if h.InjectHost {
		host = Host(r)
	}

	page, err := h.render(r, url, host)
	if err != nil {
		stack := jsrt.Stack(err)
		log.Error("render failed", "url", url, "error", stack)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, stack)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, page)
}

func (h *SSRHandler) render(r *http.Request, url, host string) (string, error) {
	shell, err := h.Shell.Shell(r.Context(), url)
	if err != nil {
		return "", err
	}
	res, err := h.Renderer.Render(r, url, host)
	if err != nil {
		return "", err
	}
	body := res.HTML
	if host != "" {
		body += fmt.Sprintf("\n<script type=\"text/javascript\">window.FASTIVITE_BASE_URL = %q;</script>\n", host)
	}
	page := strings.Replace(shell, headSlot, res.Head, 1)
	return strings.Replace(page, htmlSlot, body, 1), nil
}

// JSRenderer calls a JavaScript render function on Exec.
type JSRenderer struct {
	Exec jsrt.Executor

	// Resolve returns the render function on vm, loading it if needed.
	Resolve func(vm *jsrt.VM) (goja.Value, error)
}

// Render calls render({url, host, req, rep}). host is omitted when empty.
func (j *JSRenderer) Render(r *http.Request, url, host string) (*RenderResult, error) {
	var res RenderResult
	err := j.Exec.Do(r.Context(), func(vm *jsrt.VM) error {
		fn, err := j.Resolve(vm)
		if err != nil {
			return err
		}
		rt := vm.Runtime()
		req, err := apiroute.NewRequest(vm, r, nil, nil)
		if err != nil {
			return err
		}
		arg := rt.NewObject()
		arg.Set("url", url)
		if host != "" {
			arg.Set("host", host)
		}
		arg.Set("req", req)
		arg.Set("rep", apiroute.NewReply(vm).Object())

		v, err := vm.Call(fn, nil, arg)
		if err != nil {
			return err
		}
		if obj, ok := v.(*goja.Object); ok {
			res.Head = stringField(obj, "head")
			res.HTML = stringField(obj, "html")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func stringField(obj *goja.Object, name string) string {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}
