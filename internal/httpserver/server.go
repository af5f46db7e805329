package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fastivite/fastivite/internal/apiroute"
	"github.com/fastivite/fastivite/internal/jsrt"
)

// Options configures an Assembler.
type Options struct {
	// Logger receives request logs. Default: slog.Default().
	Logger *slog.Logger

	// Metrics, when set, records requests and serves MetricsPath.
	Metrics *Metrics

	// Tracing enables a server span per request.
	Tracing bool

	// Quiet disables per-request logging.
	Quiet bool
}

// Site is everything one router generation serves.
type Site struct {
	// Exec runs API handlers.
	Exec jsrt.Executor

	// Routes are the registered API routes.
	Routes []apiroute.Route

	// GraphQLPath and GraphQL mount a GraphQL endpoint when both are set.
	GraphQLPath string
	GraphQL     http.Handler

	// SSR serves every GET no route matched.
	SSR http.Handler
}

// Assembler builds routers that share middleware.
type Assembler struct {
	opts Options
	log  *slog.Logger
	uses []func(http.Handler) http.Handler
}

// New creates an Assembler.
func New(opts Options) *Assembler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Assembler{opts: opts, log: log.With("component", "http")}
}

// Use adds plain net/http middleware, run after the built-in stack and
// before routing. Middleware added with Use applies to routers built later.
func (a *Assembler) Use(mw ...func(http.Handler) http.Handler) {
	a.uses = append(a.uses, mw...)
}

// Build returns a fresh router for site.
func (a *Assembler) Build(site Site) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if !a.opts.Quiet {
		r.Use(RequestLogger(a.log))
	}
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))
	if a.opts.Metrics != nil {
		r.Use(a.opts.Metrics.Middleware)
	}
	if a.opts.Tracing {
		r.Use(Tracing())
	}
	for _, mw := range a.uses {
		r.Use(mw)
	}

	if a.opts.Metrics != nil {
		r.Method(http.MethodGet, MetricsPath, a.opts.Metrics.Handler())
	}
	if site.Exec != nil {
		apiroute.Mount(r, site.Exec, site.Routes, a.log)
	}
	if site.GraphQLPath != "" && site.GraphQL != nil {
		r.Handle(site.GraphQLPath, site.GraphQL)
	}
	if site.SSR != nil {
		r.Get("/*", site.SSR.ServeHTTP)
	}
	return r
}

// RequestLogger logs one line per request.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "request",
				"id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).Round(time.Microsecond),
			)
		})
	}
}
