// Package apiroute adapts API modules to HTTP handlers.
//
// An API module's default export is a plugin called as
// plugin(app, { path }, done). The app object collects routes through
// get/post/put/patch/delete/head/options/all, route({ method, url, handler })
// and nested register(plugin, { prefix }). Handlers are called as
// handler(req, reply) with app as this.
package apiroute

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dop251/goja"

	"github.com/fastivite/fastivite/internal/errors"
	"github.com/fastivite/fastivite/internal/jsrt"
)

const tableKey = "apiroute.table"

// MethodAll matches every method.
const MethodAll = "*"

var methods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}

// Route is one registered endpoint.
type Route struct {
	// Method is upper case, or MethodAll.
	Method string

	// URL is the path as registered, with :param segments.
	URL string

	// Pattern is URL in chi syntax.
	Pattern string

	// Source is the module that registered the route.
	Source string

	index int
}

// table is the per-VM list of registered handlers. Route.index points into it.
type table struct {
	handlers    []goja.Value
	hooks       []hook
	apps        []*goja.Object
	decorations map[string]goja.Value
}

type hook struct {
	name string
	fn   goja.Value
}

func tableOf(vm *jsrt.VM) *table {
	t, _ := vm.Value(tableKey).(*table)
	if t == nil {
		t = &table{decorations: map[string]goja.Value{}}
		vm.Set(tableKey, t)
	}
	return t
}

// Options configures Register.
type Options struct {
	// Path is passed to the plugin as opts.path.
	Path string

	// Source names the module in route listings and errors.
	Source string

	// Decorations are set on app and on every request object.
	Decorations map[string]goja.Value
}

// Register calls plugin with a fresh app object and returns the routes it
// registered. Only valid inside jsrt.VM.Do.
func Register(vm *jsrt.VM, plugin goja.Value, opts Options) ([]Route, error) {
	if _, ok := goja.AssertFunction(plugin); !ok {
		return nil, errors.New("E302").
			WithDetail(opts.Source + ": the default export must be a plugin function").
			WithSuggestion("export default createApiPlugin((app, path) => { app.get(path, handler) })")
	}

	t := tableOf(vm)
	for k, v := range opts.Decorations {
		t.decorations[k] = v
	}
	r := &registrar{vm: vm, table: t, source: opts.Source}
	app := r.newApp("")

	pluginOpts := vm.Runtime().NewObject()
	pluginOpts.Set("path", opts.Path)

	var doneErr error
	done := func(call goja.FunctionCall) goja.Value {
		if arg := call.Argument(0); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
			doneErr = fmt.Errorf("%s", arg.String())
		}
		return goja.Undefined()
	}

	if _, err := vm.Call(plugin, goja.Undefined(), app, pluginOpts, vm.Runtime().ToValue(done)); err != nil {
		return nil, errors.New("E301").WithDetail(opts.Source).Wrap(err)
	}
	if doneErr != nil {
		return nil, errors.New("E301").WithDetail(opts.Source).Wrap(doneErr)
	}
	for _, p := range r.pending {
		if _, err := vm.Await(p); err != nil {
			return nil, errors.New("E301").WithDetail(opts.Source).Wrap(err)
		}
	}
	return r.routes, nil
}

type registrar struct {
	vm      *jsrt.VM
	table   *table
	source  string
	routes  []Route
	pending []goja.Value
}

func (r *registrar) newApp(prefix string) *goja.Object {
	rt := r.vm.Runtime()
	app := rt.NewObject()
	app.Set("prefix", prefix)
	for k, v := range r.table.decorations {
		app.Set(k, v)
	}

	for _, m := range methods {
		method := m
		app.Set(strings.ToLower(method), func(call goja.FunctionCall) goja.Value {
			r.shorthand(app, prefix, []string{method}, call)
			return app
		})
	}
	app.Set("all", func(call goja.FunctionCall) goja.Value {
		r.shorthand(app, prefix, []string{MethodAll}, call)
		return app
	})
	app.Set("route", func(call goja.FunctionCall) goja.Value {
		route := call.Argument(0).ToObject(rt)
		r.add(app, prefix, methodList(route.Get("method")), route.Get("url").String(), route.Get("handler"))
		return app
	})
	app.Set("register", func(call goja.FunctionCall) goja.Value {
		plugin := call.Argument(0)
		opts := rt.NewObject()
		if o, ok := call.Argument(1).(*goja.Object); ok {
			opts = o
		}
		childPrefix := prefix
		if p := opts.Get("prefix"); p != nil && !goja.IsUndefined(p) {
			childPrefix = joinPath(prefix, p.String())
		}
		fn, ok := goja.AssertFunction(plugin)
		if !ok {
			panic(rt.NewTypeError("register expects a plugin function"))
		}
		// Not awaited here: promise jobs only run once the outermost call
		// returns, so Register settles these afterwards.
		res, err := fn(goja.Undefined(), r.newApp(childPrefix), opts, rt.ToValue(func(goja.FunctionCall) goja.Value { return goja.Undefined() }))
		if err != nil {
			var ex *goja.Exception
			if stderrors.As(err, &ex) {
				panic(ex.Value())
			}
			panic(rt.NewGoError(err))
		}
		if res != nil && !goja.IsUndefined(res) {
			r.pending = append(r.pending, res)
		}
		return app
	})
	app.Set("decorate", func(name string, v goja.Value) goja.Value {
		app.Set(name, v)
		return app
	})
	app.Set("decorateRequest", func(name string, v goja.Value) goja.Value {
		r.table.decorations[name] = v
		return app
	})
	app.Set("addHook", func(name string, fn goja.Value) goja.Value {
		switch name {
		case "onRequest", "preHandler":
			r.table.hooks = append(r.table.hooks, hook{name: name, fn: fn})
		default:
			panic(rt.NewTypeError("unsupported hook %q", name))
		}
		return app
	})
	return app
}

func (r *registrar) shorthand(app *goja.Object, prefix string, methods []string, call goja.FunctionCall) {
	url := call.Argument(0).String()
	var handler goja.Value
	for i := len(call.Arguments) - 1; i >= 1; i-- {
		if _, ok := goja.AssertFunction(call.Arguments[i]); ok {
			handler = call.Arguments[i]
			break
		}
		if o, ok := call.Arguments[i].(*goja.Object); ok {
			if h := o.Get("handler"); h != nil {
				handler = h
				break
			}
		}
	}
	r.add(app, prefix, methods, url, handler)
}

func (r *registrar) add(app *goja.Object, prefix string, methods []string, url string, handler goja.Value) {
	rt := r.vm.Runtime()
	if _, ok := goja.AssertFunction(handler); !ok {
		panic(rt.NewTypeError("route %s has no handler function", url))
	}
	full := joinPath(prefix, url)
	for _, m := range methods {
		r.table.handlers = append(r.table.handlers, handler)
		r.table.apps = append(r.table.apps, app)
		r.routes = append(r.routes, Route{
			Method:  m,
			URL:     full,
			Pattern: ChiPattern(full),
			Source:  r.source,
			index:   len(r.table.handlers) - 1,
		})
	}
}

func methodList(v goja.Value) []string {
	if v == nil || goja.IsUndefined(v) {
		return []string{"GET"}
	}
	if list, ok := v.Export().([]any); ok {
		out := make([]string, 0, len(list))
		for _, m := range list {
			out = append(out, strings.ToUpper(fmt.Sprint(m)))
		}
		return out
	}
	m := strings.ToUpper(v.String())
	if m == "ALL" {
		m = MethodAll
	}
	return []string{m}
}

func joinPath(prefix, url string) string {
	if prefix == "" {
		if url == "" {
			return "/"
		}
		if !strings.HasPrefix(url, "/") {
			return "/" + url
		}
		return url
	}
	prefix = "/" + strings.Trim(prefix, "/")
	if url == "" || url == "/" {
		return prefix
	}
	return prefix + "/" + strings.TrimPrefix(url, "/")
}

var paramRe = regexp.MustCompile(`:([A-Za-z0-9_]+)(\(([^)]*)\))?`)

// ChiPattern converts :param and :param(regex) segments to chi's {param}
// and {param:regex}. A trailing * stays a catch-all.
func ChiPattern(url string) string {
	return paramRe.ReplaceAllStringFunc(url, func(m string) string {
		sub := paramRe.FindStringSubmatch(m)
		if sub[3] != "" {
			return "{" + sub[1] + ":" + sub[3] + "}"
		}
		return "{" + sub[1] + "}"
	})
}

// Sort orders routes by URL then method, for stable listings.
func Sort(routes []Route) {
	sort.SliceStable(routes, func(i, j int) bool {
		if routes[i].URL != routes[j].URL {
			return routes[i].URL < routes[j].URL
		}
		return routes[i].Method < routes[j].Method
	})
}
