package build

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/fastivite/fastivite/internal/bundler"
	"github.com/fastivite/fastivite/internal/config"
	"github.com/fastivite/fastivite/internal/errors"
	"github.com/fastivite/fastivite/internal/graphql"
	"github.com/fastivite/fastivite/internal/httpserver"
	"github.com/fastivite/fastivite/internal/scan"
)

const (
	// ServerFile is the name of the bundled server in the output directory.
	ServerFile = "server.cjs"

	// ClientDir holds the browser build.
	ClientDir = "client"

	// SchemaFile is the concatenated GraphQL schema.
	SchemaFile = "schema.gql"

	entryFile = "server-entry.js"
)

// Result contains the build output.
type Result struct {
	// Duration is how long the build took.
	Duration time.Duration

	// ServerFile is the path to the bundled server.
	ServerFile string

	// ClientDir is the path to the browser build.
	ClientDir string

	// Routes are the API route prefixes, sorted.
	Routes []string

	// Manifest records every artifact the server entry imported.
	Manifest Manifest
}

// Manifest maps logical names to artifact paths relative to the output
// directory, without extension.
type Manifest struct {
	APIs      map[string]string
	Resolvers []string
	Loaders   []string
	Contexts  []string
}

// Options configures the builder.
type Options struct {
	// Minify enables minification.
	Minify bool

	// Bundler compiles modules. Default: bundler.NewESBuild().
	Bundler bundler.Bundler

	// Logger receives warnings. Default: slog.Default().
	Logger *slog.Logger

	// OnProgress is called with progress updates.
	OnProgress func(step string)
}

// Builder handles production builds.
type Builder struct {
	config  *config.Config
	options Options
	bundler bundler.Bundler
	log     *slog.Logger
}

// New creates a new builder.
func New(cfg *config.Config, options Options) *Builder {
	if !options.Minify && cfg.Build.Minify {
		options.Minify = true
	}
	log := options.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "build")
	b := options.Bundler
	if b == nil {
		esb := bundler.NewESBuild()
		esb.Logger = log
		b = esb
	}
	return &Builder{config: cfg, options: options, bundler: b, log: log}
}

// OutDir returns the absolute output directory.
func (b *Builder) OutDir() string {
	return b.config.Abs(b.config.Build.OutDir)
}

// Build runs every step in order; the first failure aborts the build.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	start := time.Now()
	ctx, span := httpserver.StartSpan(ctx, "build", attribute.String("out_dir", b.OutDir()))
	result, err := b.build(ctx)
	httpserver.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (b *Builder) build(ctx context.Context) (*Result, error) {
	cfg := b.config
	out := b.OutDir()
	result := &Result{
		ServerFile: filepath.Join(out, ServerFile),
		ClientDir:  filepath.Join(out, ClientDir),
		Manifest:   Manifest{APIs: map[string]string{}},
	}

	b.progress("Cleaning output directory...")
	if err := cfg.CheckOutDir(); err != nil {
		return nil, err
	}
	if err := os.RemoveAll(out); err != nil {
		return nil, errors.New("E204").WithDetail(out).Wrap(err)
	}
	if err := os.MkdirAll(out, 0755); err != nil {
		return nil, errors.New("E204").WithDetail(out).Wrap(err)
	}

	b.progress("Building client...")
	err := b.step(ctx, "client", func(ctx context.Context) error {
		_, err := b.bundler.BuildClient(ctx, bundler.ClientOptions{
			Root:      cfg.Dir(),
			Index:     cfg.Abs(cfg.Dev.Index),
			OutDir:    result.ClientDir,
			Base:      cfg.Dev.Base,
			Minify:    b.options.Minify,
			PublicDir: cfg.Abs(cfg.Dev.Public),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	b.progress("Building SSR entry...")
	entry := &ServerEntry{Render: "./server/entry-server.js"}
	err = b.step(ctx, "ssr", func(ctx context.Context) error {
		_, err := b.bundler.BuildSSR(ctx, bundler.SSROptions{
			Entry:  cfg.Abs(cfg.Dev.EntryServer),
			OutDir: filepath.Join(out, "server"),
			Minify: b.options.Minify,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if cfg.GraphQL.Enabled {
		b.progress("Compiling GraphQL modules...")
		if err := b.step(ctx, "graphql", func(ctx context.Context) error {
			return b.buildGraphQL(ctx, result, entry)
		}); err != nil {
			return nil, err
		}
	}

	b.progress("Compiling API modules...")
	if err := b.step(ctx, "apis", func(ctx context.Context) error {
		return b.buildAPIs(ctx, result, entry)
	}); err != nil {
		return nil, err
	}

	if len(cfg.Build.ExtraModules) > 0 {
		b.progress("Compiling extra modules...")
		if err := b.step(ctx, "extras", func(ctx context.Context) error {
			return b.buildExtras(ctx, entry)
		}); err != nil {
			return nil, err
		}
	}

	b.progress("Bundling server...")
	if err := b.step(ctx, "server", func(ctx context.Context) error {
		return b.bundleServer(ctx, entry, result.ServerFile)
	}); err != nil {
		return nil, err
	}

	b.progress("Cleaning up...")
	b.cleanup()
	return result, nil
}

func (b *Builder) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := httpserver.StartSpan(ctx, "build."+name)
	err := fn(ctx)
	httpserver.EndSpan(span, err)
	return err
}

// module is one source compiled into the output directory.
type module struct {
	src      string
	rel      string
	logical  string
	artifact string
}

// compileAll compiles every module concurrently. The first failure cancels
// the rest and is returned.
func (b *Builder) compileAll(ctx context.Context, mods []module) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, m := range mods {
		m := m
		g.Go(func() error {
			return b.bundler.CompileModule(gctx, bundler.CompileOptions{
				Entry:   m.src,
				Outfile: m.artifact,
				Bundle:  true,
				Minify:  b.options.Minify,
			})
		})
	}
	return g.Wait()
}

// modules lists the files matched by g, sorted, with artifacts under
// out/dir.
func (b *Builder) modules(g config.GlobConfig, dir string) ([]module, error) {
	cwd := b.config.Abs(g.Cwd)
	rels, err := scan.GlobSorted(cwd, g.Patterns)
	if err != nil {
		return nil, errors.New("E103").WithDetail(cwd).Wrap(err)
	}
	mods := make([]module, 0, len(rels))
	for _, rel := range rels {
		logical := path.Join(dir, scan.LogicalName(rel))
		mods = append(mods, module{
			src:      filepath.Join(cwd, filepath.FromSlash(rel)),
			rel:      rel,
			logical:  logical,
			artifact: filepath.Join(b.OutDir(), filepath.FromSlash(logical)+".js"),
		})
	}
	return mods, nil
}

func (b *Builder) buildGraphQL(ctx context.Context, result *Result, entry *ServerEntry) error {
	cfg := b.config.GraphQL
	schema, err := graphql.LoadSchema(b.config.Abs(cfg.Schema.Cwd), cfg.Schema.Patterns)
	if err != nil {
		return err
	}
	if err := writeFile(filepath.Join(b.OutDir(), SchemaFile), []byte(schema.Source)); err != nil {
		return err
	}

	groups := []struct {
		glob     config.GlobConfig
		dir      string
		logical  *[]string
		artifact *[]string
	}{
		{cfg.Resolvers, "resolvers", &result.Manifest.Resolvers, &entry.Resolvers},
		{cfg.Loaders, "loaders", &result.Manifest.Loaders, &entry.Loaders},
		{cfg.Contexts, "contexts", &result.Manifest.Contexts, &entry.Contexts},
	}
	var all []module
	for _, g := range groups {
		mods, err := b.modules(g.glob, g.dir)
		if err != nil {
			return err
		}
		*g.logical = []string{}
		for _, m := range mods {
			*g.logical = append(*g.logical, "./"+m.logical)
			*g.artifact = append(*g.artifact, "./"+m.logical+".js")
		}
		if err := writeJSON(filepath.Join(b.OutDir(), g.dir+".json"), *g.logical); err != nil {
			return err
		}
		all = append(all, mods...)
	}
	return b.compileAll(ctx, all)
}

func (b *Builder) buildAPIs(ctx context.Context, result *Result, entry *ServerEntry) error {
	mods, err := b.modules(b.config.API, "apis")
	if err != nil {
		return err
	}
	// Two files deriving one route: the later one in sorted order wins.
	byRoute := map[string]module{}
	for _, m := range mods {
		route := scan.DeriveRoute(m.rel)
		if prev, ok := byRoute[route]; ok {
			b.log.Warn("route defined twice, later file wins", "route", route, "file", m.rel, "replaced", prev.rel)
		}
		byRoute[route] = m
	}
	routes := make([]string, 0, len(byRoute))
	for route := range byRoute {
		routes = append(routes, route)
	}
	sort.Strings(routes)

	kept := make([]module, 0, len(routes))
	for _, route := range routes {
		m := byRoute[route]
		kept = append(kept, m)
		result.Manifest.APIs[route] = "./" + m.logical
		entry.APIs = append(entry.APIs, APIModule{Route: route, Source: m.rel, Artifact: "./" + m.logical + ".js"})
	}
	result.Routes = routes

	if err := b.compileAll(ctx, kept); err != nil {
		return err
	}
	return writeJSON(filepath.Join(b.OutDir(), "apis.json"), result.Manifest.APIs)
}

func (b *Builder) buildExtras(ctx context.Context, entry *ServerEntry) error {
	extras := b.config.Build.ExtraModules
	names := make([]string, 0, len(extras))
	for name := range extras {
		names = append(names, name)
	}
	sort.Strings(names)

	mods := make([]module, 0, len(names))
	for _, name := range names {
		logical := path.Join("extra", name)
		mods = append(mods, module{
			src:      b.config.Abs(extras[name]),
			rel:      name,
			logical:  logical,
			artifact: filepath.Join(b.OutDir(), filepath.FromSlash(logical)+".js"),
		})
		entry.Extras = append(entry.Extras, ExtraModule{Name: name, Artifact: "./" + logical + ".js"})
	}
	return b.compileAll(ctx, mods)
}

func (b *Builder) bundleServer(ctx context.Context, entry *ServerEntry, outfile string) error {
	src, err := Synthesize(serverTemplate, entry.Slots())
	if err != nil {
		return err
	}
	entryPath := filepath.Join(b.OutDir(), entryFile)
	if err := writeFile(entryPath, []byte(src)); err != nil {
		return err
	}
	return b.bundler.BundleServer(ctx, bundler.ServerBundleOptions{
		Entry:      entryPath,
		Outfile:    outfile,
		Minify:     b.options.Minify,
		ResolveDir: b.OutDir(),
	})
}

// intermediates are removed after the server is bundled.
var intermediates = []string{
	"apis.json", "resolvers.json", "loaders.json", "contexts.json",
	"apis", "server", "resolvers", "loaders", "contexts", "extra",
	entryFile,
}

// cleanup removes intermediates. Failures are logged, never returned.
func (b *Builder) cleanup() {
	for _, name := range intermediates {
		p := filepath.Join(b.OutDir(), name)
		if err := os.RemoveAll(p); err != nil {
			b.log.Warn("could not remove intermediate", "path", p, "error", err)
		}
	}
}

// progress reports build progress.
func (b *Builder) progress(step string) {
	if b.options.OnProgress != nil {
		b.options.OnProgress(step)
	}
}

func writeJSON(p string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.New("E204").WithDetail(p).Wrap(err)
	}
	return writeFile(p, data)
}

func writeFile(p string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return errors.New("E204").WithDetail(p).Wrap(err)
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return errors.New("E204").WithDetail(p).Wrap(err)
	}
	return nil
}

// Clean removes the build output directory.
func (b *Builder) Clean() error {
	if err := b.config.CheckOutDir(); err != nil {
		return err
	}
	return os.RemoveAll(b.OutDir())
}
