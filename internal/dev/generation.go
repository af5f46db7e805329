package dev

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/dop251/goja"
	"golang.org/x/sync/errgroup"

	"github.com/fastivite/fastivite/internal/apiroute"
	"github.com/fastivite/fastivite/internal/bundler"
	"github.com/fastivite/fastivite/internal/config"
	"github.com/fastivite/fastivite/internal/graphql"
	"github.com/fastivite/fastivite/internal/jsrt"
	"github.com/fastivite/fastivite/internal/scan"
)

// Entry is one API module in the route registry.
type Entry struct {
	// Path is the route prefix handed to the plugin.
	Path string

	// Source is the module path relative to the API cwd.
	Source string

	// Artifact is the compiled module.
	Artifact string

	// Routes are the endpoints the module registered.
	Routes []apiroute.Route
}

// generation is one VM with every API and GraphQL module loaded.
type generation struct {
	id       uint64
	vm       *jsrt.VM
	entries  map[string]Entry
	routes   []apiroute.Route
	failures []failure
}

type failure struct {
	Source string
	Err    error
}

func (g *generation) failureReport() string {
	var b strings.Builder
	for i, f := range g.failures {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%s\n%s", f.Source, overlayText(f.Err))
	}
	return b.String()
}

// compileJob is one source to compile for a generation.
type compileJob struct {
	kind     string
	rel      string
	entry    string
	artifact string
	err      error
}

// compileAll compiles jobs concurrently. Failures are recorded on the job;
// only ctx cancellation is returned.
func compileAll(ctx context.Context, b bundler.Bundler, jobs []*compileJob) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			job.err = b.CompileModule(gctx, bundler.CompileOptions{
				Entry:   job.entry,
				Outfile: job.artifact,
				Bundle:  true,
			})
			return nil
		})
	}
	g.Wait()
	return ctx.Err()
}

// globJobs scans g and returns one compile job per match, in enumeration
// order, writing artifacts under outDir.
func globJobs(cfg *config.Config, kind string, g config.GlobConfig, outDir string) ([]*compileJob, error) {
	cwd := cfg.Abs(g.Cwd)
	files, err := scan.Glob(cwd, g.Patterns)
	if err != nil {
		return nil, err
	}
	jobs := make([]*compileJob, 0, len(files))
	for _, rel := range files {
		jobs = append(jobs, &compileJob{
			kind:     kind,
			rel:      rel,
			entry:    filepath.Join(cwd, filepath.FromSlash(rel)),
			artifact: filepath.Join(outDir, filepath.FromSlash(scan.ArtifactName(rel))),
		})
	}
	return jobs, nil
}

// dedupeRoutes drops earlier API files whose route another file also
// derives. The last file wins.
func dedupeRoutes(jobs []*compileJob) (kept []*compileJob, dropped []string) {
	last := map[string]int{}
	for i, j := range jobs {
		last[scan.DeriveRoute(j.rel)] = i
	}
	for i, j := range jobs {
		if last[scan.DeriveRoute(j.rel)] != i {
			dropped = append(dropped, j.rel)
			continue
		}
		kept = append(kept, j)
	}
	return kept, dropped
}

// loadGeneration compiles and loads every API, GraphQL and extra module
// into a fresh VM. A module that fails to compile or load is skipped and
// reported; the rest still serve.
func (s *Server) loadGeneration(ctx context.Context, id uint64) (*generation, error) {
	cfg := s.config
	buildDir := cfg.Abs(cfg.Dev.BuildDir)

	apiJobs, err := globJobs(cfg, "api", cfg.API, filepath.Join(buildDir, ".apis"))
	if err != nil {
		return nil, err
	}
	apiJobs, dropped := dedupeRoutes(apiJobs)
	for _, rel := range dropped {
		s.log.Warn("route defined twice, later file wins", "file", rel, "route", scan.DeriveRoute(rel))
	}

	var gqlJobs [3][]*compileJob
	if cfg.GraphQL.Enabled {
		for i, g := range []struct {
			kind string
			glob config.GlobConfig
		}{
			{"resolver", cfg.GraphQL.Resolvers},
			{"loader", cfg.GraphQL.Loaders},
			{"context", cfg.GraphQL.Contexts},
		} {
			gqlJobs[i], err = globJobs(cfg, g.kind, g.glob, filepath.Join(buildDir, ".graphql", g.kind+"s"))
			if err != nil {
				return nil, err
			}
		}
	}

	extraNames := make([]string, 0, len(cfg.Build.ExtraModules))
	for name := range cfg.Build.ExtraModules {
		extraNames = append(extraNames, name)
	}
	sort.Strings(extraNames)
	extraJobs := make([]*compileJob, 0, len(extraNames))
	for _, name := range extraNames {
		extraJobs = append(extraJobs, &compileJob{
			kind:     "extra",
			rel:      name,
			entry:    cfg.Abs(cfg.Build.ExtraModules[name]),
			artifact: filepath.Join(buildDir, ".extra", name+".js"),
		})
	}

	all := append([]*compileJob{}, apiJobs...)
	for _, jobs := range gqlJobs {
		all = append(all, jobs...)
	}
	all = append(all, extraJobs...)

	start := time.Now()
	if err := compileAll(ctx, s.bundler, all); err != nil {
		return nil, err
	}
	s.log.Debug("compiled modules", "count", len(all), "duration", time.Since(start).Round(time.Millisecond))

	vm, err := jsrt.New(jsrt.Options{Name: fmt.Sprintf("gen-%d", id), Logger: s.log})
	if err != nil {
		return nil, err
	}
	gen := &generation{id: id, vm: vm, entries: map[string]Entry{}}
	fail := func(job *compileJob, err error) {
		gen.failures = append(gen.failures, failure{Source: job.kind + " " + job.rel, Err: err})
		s.log.Error("module skipped", "kind", job.kind, "file", job.rel, "error", jsrt.Stack(err))
	}

	err = vm.Do(ctx, func(vm *jsrt.VM) error {
		decorations := map[string]goja.Value{}
		for _, job := range extraJobs {
			if v, ok := loadDefault(vm, job, fail); ok {
				decorations[job.rel] = v
			}
		}

		for _, job := range apiJobs {
			plugin, ok := loadDefault(vm, job, fail)
			if !ok {
				continue
			}
			path := scan.DeriveRoute(job.rel)
			routes, err := apiroute.Register(vm, plugin, apiroute.Options{
				Path:        path,
				Source:      job.rel,
				Decorations: decorations,
			})
			if err != nil {
				fail(job, err)
				continue
			}
			gen.entries[path] = Entry{Path: path, Source: job.rel, Artifact: job.artifact, Routes: routes}
			gen.routes = append(gen.routes, routes...)
		}

		if cfg.GraphQL.Enabled {
			var groups [3][]goja.Value
			for i, jobs := range gqlJobs {
				for _, job := range jobs {
					if v, ok := loadDefault(vm, job, fail); ok {
						groups[i] = append(groups[i], v)
					}
				}
			}
			graphql.Install(vm, graphql.Collect(groups[0], groups[1], groups[2]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return gen, nil
}

func loadDefault(vm *jsrt.VM, job *compileJob, fail func(*compileJob, error)) (goja.Value, bool) {
	if job.err != nil {
		fail(job, job.err)
		return nil, false
	}
	m, err := vm.Load(job.artifact)
	if err != nil {
		fail(job, err)
		return nil, false
	}
	return m.Default(), true
}
