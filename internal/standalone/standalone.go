// Package standalone serves the output of a production build: server.cjs
// for API routes, GraphQL and rendering, and client/ for static assets.
package standalone

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/dop251/goja"

	"github.com/fastivite/fastivite/internal/apiroute"
	"github.com/fastivite/fastivite/internal/config"
	"github.com/fastivite/fastivite/internal/errors"
	"github.com/fastivite/fastivite/internal/graphql"
	"github.com/fastivite/fastivite/internal/httpserver"
	"github.com/fastivite/fastivite/internal/jsrt"
)

const (
	// DefaultHost is used when HOST is unset.
	DefaultHost = "127.0.0.1"

	// DefaultPort is used when PORT is unset.
	DefaultPort = "5173"

	// DefaultServerFile is the bundle name the build writes.
	DefaultServerFile = "server.cjs"

	renderKey = "standalone.render"
)

// Options configures the standalone server.
type Options struct {
	// Cwd is the build output directory.
	Cwd string

	// ServerFile is the bundle, relative to Cwd.
	ServerFile string

	Host string
	Port string
	Base string

	// Workers is the number of JavaScript VMs. Default: runtime.NumCPU().
	Workers int

	// GraphQLPath is where the schema is served when schema.gql exists.
	GraphQLPath string

	Logger  *slog.Logger
	Metrics *httpserver.Metrics
	Tracing bool
}

// OptionsFromEnv reads HOST, PORT and BASE.
func OptionsFromEnv(cwd, serverFile string) Options {
	return Options{
		Cwd:        cwd,
		ServerFile: serverFile,
		Host:       getenv("HOST", DefaultHost),
		Port:       getenv("PORT", DefaultPort),
		Base:       os.Getenv("BASE"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Addr returns host:port.
func (o Options) Addr() string {
	return net.JoinHostPort(o.Host, o.Port)
}

// Server is a loaded build.
type Server struct {
	opts    Options
	log     *slog.Logger
	pool    *jsrt.Pool
	routes  []apiroute.Route
	handler http.Handler
}

// New loads the bundle into a pool of VMs and assembles the router.
func New(ctx context.Context, opts Options) (*Server, error) {
	if opts.ServerFile == "" {
		opts.ServerFile = DefaultServerFile
	}
	if opts.Workers < 1 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.GraphQLPath == "" {
		opts.GraphQLPath = config.New().GraphQL.Path
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "serve")

	cwd, err := filepath.Abs(opts.Cwd)
	if err != nil {
		return nil, errors.New("E502").Wrap(err)
	}
	opts.Cwd = cwd
	bundle := filepath.Join(cwd, opts.ServerFile)
	if _, err := os.Stat(bundle); err != nil {
		return nil, errors.New("E502").WithDetail(bundle).Wrap(err)
	}

	s := &Server{opts: opts, log: log}
	s.pool, err = jsrt.NewPool(ctx, opts.Workers, jsrt.Options{Name: "serve", Logger: log}, func(vm *jsrt.VM) error {
		routes, err := setup(vm, bundle)
		if err != nil {
			return err
		}
		if s.routes == nil {
			s.routes = routes
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	site := httpserver.Site{
		Exec:   s.pool,
		Routes: s.routes,
		SSR: &httpserver.SSRHandler{
			Base:     opts.Base,
			Shell:    shellSource(filepath.Join(cwd, "client", "index.html")),
			Renderer: &httpserver.JSRenderer{Exec: s.pool, Resolve: resolveRender},
			Logger:   log,
		},
	}
	schemaFile := filepath.Join(cwd, "schema.gql")
	if data, err := os.ReadFile(schemaFile); err == nil {
		schema, err := graphql.ParseSchema(schemaFile, string(data))
		if err != nil {
			return nil, err
		}
		site.GraphQLPath = opts.GraphQLPath
		site.GraphQL = graphql.NewService(schema, s.pool, log)
	}

	asm := httpserver.New(httpserver.Options{Logger: log, Metrics: opts.Metrics, Tracing: opts.Tracing})
	asm.Use(Static(filepath.Join(cwd, "client"), opts.Base))
	s.handler = asm.Build(site)
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Routes returns the registered API routes.
func (s *Server) Routes() []apiroute.Route {
	return s.routes
}

// Serve listens until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	return httpserver.Listen(ctx, s.opts.Addr(), s.handler, s.log, func(addr net.Addr) {
		s.log.Info("fastivite server is listening", "url", "http://"+addr.String()+s.opts.Base, "routes", len(s.routes))
	})
}

// setup loads the bundle on vm and registers everything it exports.
func setup(vm *jsrt.VM, bundle string) ([]apiroute.Route, error) {
	m, err := vm.Load(bundle)
	if err != nil {
		return nil, err
	}

	decorations := map[string]goja.Value{}
	if obj, ok := m.Export("extras").(*goja.Object); ok {
		for _, k := range obj.Keys() {
			decorations[k] = obj.Get(k)
		}
	}

	var routes []apiroute.Route
	for _, api := range elements(m.Export("apis")) {
		obj, ok := api.(*goja.Object)
		if !ok {
			continue
		}
		rs, err := apiroute.Register(vm, obj.Get("plugin"), apiroute.Options{
			Path:        obj.Get("path").String(),
			Source:      obj.Get("source").String(),
			Decorations: decorations,
		})
		if err != nil {
			return nil, err
		}
		routes = append(routes, rs...)
	}

	graphql.Install(vm, graphql.Collect(
		elements(m.Export("resolvers")),
		elements(m.Export("loaders")),
		elements(m.Export("contexts")),
	))

	render := m.Export("render")
	if _, ok := goja.AssertFunction(render); !ok {
		return nil, errors.New("E302").WithDetail(bundle + " does not export render")
	}
	vm.Set(renderKey, render)
	return routes, nil
}

func resolveRender(vm *jsrt.VM) (goja.Value, error) {
	fn, ok := vm.Value(renderKey).(goja.Value)
	if !ok {
		return nil, errors.New("E302").WithDetail("render is not loaded")
	}
	return fn, nil
}

// elements returns the items of a JavaScript array, or nil.
func elements(v goja.Value) []goja.Value {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	n := int(obj.Get("length").ToInteger())
	out := make([]goja.Value, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, obj.Get(strconv.Itoa(i)))
	}
	return out
}

func shellSource(index string) httpserver.ShellSource {
	return httpserver.ShellFunc(func(_ context.Context, _ string) (string, error) {
		data, err := os.ReadFile(index)
		if err != nil {
			return "", errors.New("E202").WithDetail(index).Wrap(err)
		}
		return string(data), nil
	})
}

// Static serves files under dir at base. Hashed files in assets/ are cached
// for a year; everything else must be revalidated. index.html is left to
// the renderer.
func Static(dir, base string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			p := r.URL.Path
			if base != "" {
				if !strings.HasPrefix(p, base) {
					next.ServeHTTP(w, r)
					return
				}
				p = strings.TrimPrefix(p, base)
			}
			p = path.Clean("/" + p)
			if p == "/" || p == "/index.html" {
				next.ServeHTTP(w, r)
				return
			}
			file := filepath.Join(dir, filepath.FromSlash(p))
			info, err := os.Stat(file)
			if err != nil || info.IsDir() {
				next.ServeHTTP(w, r)
				return
			}
			if strings.HasPrefix(p, "/assets/") {
				w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
			} else {
				w.Header().Set("Cache-Control", "no-cache")
			}
			http.ServeFile(w, r, file)
		})
	}
}
