package dev

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"

	"github.com/fastivite/fastivite/internal/bundler"
	"github.com/fastivite/fastivite/internal/errors"
	"github.com/fastivite/fastivite/internal/httpserver"
	"github.com/fastivite/fastivite/internal/jsrt"
)

// ssrRuntime keeps one VM for the SSR entry across reloads. The entry is
// recompiled on the first render after a source change; the module cache
// skips re-evaluation when the bundle did not change.
type ssrRuntime struct {
	vm      *jsrt.VM
	bundler bundler.Bundler
	entry   string
	outfile string
	metrics *httpserver.Metrics
	dirty   atomic.Bool
}

func newSSRRuntime(vm *jsrt.VM, b bundler.Bundler, entry, buildDir string, m *httpserver.Metrics) *ssrRuntime {
	r := &ssrRuntime{
		vm:      vm,
		bundler: b,
		entry:   entry,
		outfile: filepath.Join(buildDir, ".ssr", "entry-server.js"),
		metrics: m,
	}
	r.dirty.Store(true)
	return r
}

// Invalidate marks the entry for recompilation.
func (r *ssrRuntime) Invalidate() {
	r.dirty.Store(true)
}

// resolve returns the render export. Runs inside vm.Do.
func (r *ssrRuntime) resolve(vm *jsrt.VM) (goja.Value, error) {
	// Swap before compiling so an Invalidate during the compile is kept.
	if r.dirty.Swap(false) {
		start := time.Now()
		err := r.bundler.CompileModule(context.Background(), bundler.CompileOptions{
			Entry:   r.entry,
			Outfile: r.outfile,
			Bundle:  true,
		})
		r.metrics.ObserveCompile("ssr", time.Since(start), err)
		if err != nil {
			r.dirty.Store(true)
			return nil, err
		}
	}
	m, err := vm.Load(r.outfile)
	if err != nil {
		return nil, err
	}
	render := m.Export("render")
	if _, ok := goja.AssertFunction(render); !ok {
		return nil, errors.New("E302").WithDetail(r.entry + " does not export render")
	}
	return render, nil
}

func (r *ssrRuntime) renderer() *httpserver.JSRenderer {
	return &httpserver.JSRenderer{Exec: r.vm, Resolve: r.resolve}
}

// TransformIndexHTML prepares the HTML shell for dev: the live reload client
// is injected and nothing else is rewritten.
func TransformIndexHTML(url, html string) string {
	tag := `<script type="module" src="` + ClientPath + `"></script>`
	if i := strings.Index(strings.ToLower(html), "</head>"); i >= 0 {
		return html[:i] + tag + html[i:]
	}
	return tag + html
}

// shellSource reads the HTML shell on every request.
func shellSource(index string) httpserver.ShellSource {
	return httpserver.ShellFunc(func(_ context.Context, url string) (string, error) {
		data, err := os.ReadFile(index)
		if err != nil {
			return "", errors.New("E202").WithDetail(index).Wrap(err)
		}
		return TransformIndexHTML(url, string(data)), nil
	})
}
