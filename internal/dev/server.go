package dev

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fastivite/fastivite/internal/bundler"
	"github.com/fastivite/fastivite/internal/config"
	"github.com/fastivite/fastivite/internal/graphql"
	"github.com/fastivite/fastivite/internal/httpserver"
	"github.com/fastivite/fastivite/internal/jsrt"
	"github.com/fastivite/fastivite/internal/registry"
)

// ServerOptions configures the development server.
type ServerOptions struct {
	// Config is the project configuration.
	Config *config.Config

	// Bundler compiles modules. Default: bundler.NewESBuild().
	Bundler bundler.Bundler

	// Logger receives server logs. Default: slog.Default().
	Logger *slog.Logger

	// Metrics records requests, reloads and compiles. Optional.
	Metrics *httpserver.Metrics

	// Tracing enables request spans.
	Tracing bool

	// Routes, when set, receives the route table after every load.
	Routes io.Writer

	// Debounce overrides DefaultDebounce.
	Debounce time.Duration

	// OnReload is called after every completed reload.
	OnReload func(generation uint64)
}

// Server is the development server.
type Server struct {
	config    *config.Config
	options   ServerOptions
	log       *slog.Logger
	bundler   bundler.Bundler
	state     stateMachine
	assembler *httpserver.Assembler
	swap      httpserver.Swappable
	reload    *ReloadServer
	watcher   *Watcher
	routes    *registry.Registry[Entry]
	ssr       *ssrRuntime

	gen        atomic.Pointer[generation]
	genID      atomic.Uint64
	schema     atomic.Pointer[graphql.Schema]
	gqlService atomic.Pointer[graphql.Service]
	codegen    *graphql.CodegenRunner

	reloadMu  sync.Mutex
	reloadReq chan struct{}
	stopOnce  sync.Once
}

// NewServer creates a new development server.
func NewServer(options ServerOptions) (*Server, error) {
	cfg := options.Config
	if cfg == nil {
		cfg = config.New()
	}
	log := options.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "dev")
	b := options.Bundler
	if b == nil {
		esb := bundler.NewESBuild()
		esb.Logger = log
		if m := options.Metrics; m != nil {
			esb.OnCompile = func(kind, _ string, d time.Duration, err error) {
				m.ObserveCompile(kind, d, err)
			}
		}
		b = esb
	}

	ssrVM, err := jsrt.New(jsrt.Options{Name: "ssr", Logger: log})
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:    cfg,
		options:   options,
		log:       log,
		bundler:   b,
		reload:    NewReloadServer(),
		routes:    registry.New[Entry](),
		reloadReq: make(chan struct{}, 1),
	}
	s.state.onChange = func(from, to State) {
		s.log.Debug("state", "from", from, "to", to)
	}
	s.ssr = newSSRRuntime(ssrVM, b, cfg.Abs(cfg.Dev.EntryServer), cfg.Abs(cfg.Dev.BuildDir), options.Metrics)
	s.assembler = httpserver.New(httpserver.Options{
		Logger:  log,
		Metrics: options.Metrics,
		Tracing: options.Tracing,
	})
	s.assembler.Use((&AssetServer{
		Root:    cfg.Dir(),
		Public:  cfg.Abs(cfg.Dev.Public),
		Base:    cfg.Dev.Base,
		Bundler: b,
		Reload:  s.reload,
		Logger:  log,
	}).Middleware)
	s.watcher = NewWatcher(WatcherConfig{
		Paths:      CollectWatchPaths(cfg),
		IgnoreDirs: []string{cfg.Abs(cfg.Dev.BuildDir), cfg.Abs(cfg.Build.OutDir)},
		Debounce:   options.Debounce,
		Logger:     log,
	})
	s.watcher.OnChange(s.handleChanges)
	return s, nil
}

// State returns the lifecycle state.
func (s *Server) State() State {
	return s.state.load()
}

// Routes returns the current route registry snapshot.
func (s *Server) Routes() *registry.Snapshot[Entry] {
	return s.routes.Load()
}

// Use adds middleware to every router built from now on, like Fastify's
// middie. Call before Boot.
func (s *Server) Use(mw ...func(http.Handler) http.Handler) {
	s.assembler.Use(mw...)
}

// Handler is the server's http.Handler. Its routes are replaced on reload.
func (s *Server) Handler() http.Handler {
	return &s.swap
}

// Boot loads every module and publishes the first router without
// listening. It is all that middleware mode needs.
func (s *Server) Boot(ctx context.Context) error {
	if s.State() != StateBooting {
		return nil
	}
	if err := config.LoadEnv(s.config.Dir()); err != nil {
		s.log.Warn("env files not loaded", "error", err)
	}
	if s.config.GraphQL.Enabled {
		if err := s.loadSchema(); err != nil {
			return err
		}
	}
	if err := s.rebuild(ctx); err != nil {
		return err
	}
	s.state.transition(StateServing)
	return nil
}

// Start boots, watches and listens until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Boot(ctx); err != nil {
		return err
	}
	defer s.Stop()

	go s.watcher.Start(ctx)
	go s.reloadLoop(ctx)
	s.startOperationCodegen(ctx)

	return httpserver.Listen(ctx, s.config.DevAddress(), s.Handler(), s.log, func(addr net.Addr) {
		s.log.Info("dev server listening", "url", "http://"+addr.String()+s.config.Dev.Base)
	})
}

// Stop releases watchers, child processes and browser connections.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.state.transition(StateStopped)
		s.watcher.Stop()
		s.reload.Close()
		if s.codegen != nil {
			s.codegen.Stop()
		}
	})
}

// RequestReload schedules a full route reload. Requests arriving while a
// reload runs collapse into one follow-up reload.
func (s *Server) RequestReload() {
	select {
	case s.reloadReq <- struct{}{}:
	default:
	}
}

func (s *Server) reloadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.reloadReq:
			if err := s.Reload(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("reload failed", "error", err)
			}
		}
	}
}

// Reload re-scans and re-registers every route and swaps the router in.
func (s *Server) Reload(ctx context.Context) error {
	if !s.state.transition(StateReloading) {
		return nil
	}
	defer s.state.transition(StateServing)

	start := time.Now()
	if err := s.rebuild(ctx); err != nil {
		return err
	}
	s.options.Metrics.RecordReload()
	s.log.Info("reloaded", "routes", len(s.gen.Load().routes), "duration", time.Since(start).Round(time.Millisecond))
	s.reload.NotifyReload()
	return nil
}

// rebuild loads a new generation and publishes its router.
func (s *Server) rebuild(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	id := s.genID.Add(1)
	gen, err := s.loadGeneration(ctx, id)
	if err != nil {
		return err
	}

	site := httpserver.Site{
		Exec:   gen.vm,
		Routes: gen.routes,
		SSR: &httpserver.SSRHandler{
			Base:       s.config.Dev.Base,
			InjectHost: true,
			Shell:      shellSource(s.config.Abs(s.config.Dev.Index)),
			Renderer:   s.ssr.renderer(),
			Logger:     s.log,
		},
	}
	if s.config.GraphQL.Enabled {
		svc := graphql.NewService(s.schema.Load(), gen.vm, s.log)
		s.gqlService.Store(svc)
		site.GraphQLPath = s.config.GraphQL.Path
		site.GraphQL = svc
	}

	router := s.assembler.Build(site)
	s.routes.Replace(gen.entries)
	s.gen.Store(gen)
	s.swap.Swap(router)

	if w := s.options.Routes; w != nil {
		httpserver.PrintRoutes(w, router)
	}
	if len(gen.failures) > 0 {
		s.reload.NotifyError(gen.failureReport())
	} else {
		s.reload.ClearError()
	}
	if s.options.OnReload != nil {
		s.options.OnReload(id)
	}
	return nil
}

// handleChanges handles one debounced batch of file changes.
func (s *Server) handleChanges(changes []Change) {
	kinds := map[ChangeKind]bool{}
	var css string
	for _, c := range changes {
		k := Classify(s.config, c.Path)
		kinds[k] = true
		if k == KindCSS {
			css = c.Path
		}
		s.log.Debug("changed", "path", relPath(s.config.Dir(), c.Path), "kind", k)
	}

	if kinds[KindSchema] {
		if err := s.loadSchema(); err != nil {
			s.log.Error("schema not reloaded", "error", err)
			s.reload.NotifyError(overlayText(err))
		} else if !kinds[KindAPI] && !kinds[KindGraphQL] {
			s.reload.NotifyReload()
		}
	}
	if kinds[KindSource] {
		s.ssr.Invalidate()
	}

	switch {
	case kinds[KindAPI] || kinds[KindGraphQL]:
		s.RequestReload()
	case kinds[KindSource]:
		s.reload.NotifyReload()
	case kinds[KindCSS]:
		s.reload.NotifyCSS("/" + filepath.ToSlash(relPath(s.config.Abs(s.config.Dev.Public), css)))
	}
}

func relPath(base, p string) string {
	if rel, err := filepath.Rel(base, p); err == nil {
		return rel
	}
	return p
}

func isWithinDir(path, dir string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath = filepath.Clean(absPath)
	absDir = filepath.Clean(absDir)
	if absPath == absDir {
		return true
	}
	if !strings.HasSuffix(absDir, string(os.PathSeparator)) {
		absDir += string(os.PathSeparator)
	}
	return strings.HasPrefix(absPath, absDir)
}

func isSamePath(a, b string) bool {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false
	}
	return filepath.Clean(absA) == filepath.Clean(absB)
}

// String describes the server for logs.
func (s *Server) String() string {
	return fmt.Sprintf("dev(%s, %s)", s.config.DevAddress(), s.State())
}
