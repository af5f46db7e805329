package dev

import (
	"path/filepath"
	"strings"

	"github.com/fastivite/fastivite/internal/config"
	"github.com/fastivite/fastivite/internal/scan"
)

// ChangeKind says what a changed file affects.
type ChangeKind int

const (
	// KindSource is client or SSR code: the SSR entry is rebuilt lazily and
	// browsers reload.
	KindSource ChangeKind = iota
	// KindCSS is a stylesheet: browsers reload styles only.
	KindCSS
	// KindAPI is an API module: routes are re-registered.
	KindAPI
	// KindGraphQL is a resolver, loader, context or extra module: routes and
	// artifacts are re-registered.
	KindGraphQL
	// KindSchema is a schema file: the schema is replaced in place.
	KindSchema
)

func (k ChangeKind) String() string {
	switch k {
	case KindCSS:
		return "css"
	case KindAPI:
		return "api"
	case KindGraphQL:
		return "graphql"
	case KindSchema:
		return "schema"
	}
	return "source"
}

// CollectWatchPaths returns a normalized list of watch paths for the project.
func CollectWatchPaths(cfg *config.Config) []string {
	paths := []string{
		cfg.Abs(cfg.API.Cwd),
		filepath.Dir(cfg.Abs(cfg.Dev.EntryServer)),
		cfg.Abs(cfg.Dev.Index),
		cfg.Abs(cfg.Dev.Public),
	}
	if cfg.GraphQL.Enabled {
		paths = append(paths,
			cfg.Abs(cfg.GraphQL.Schema.Cwd),
			cfg.Abs(cfg.GraphQL.Resolvers.Cwd),
			cfg.Abs(cfg.GraphQL.Loaders.Cwd),
			cfg.Abs(cfg.GraphQL.Contexts.Cwd),
		)
	}
	for _, p := range cfg.Build.ExtraModules {
		paths = append(paths, cfg.Abs(p))
	}
	for _, p := range cfg.Dev.Watch {
		paths = append(paths, cfg.Abs(p))
	}

	unique := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		clean := filepath.Clean(p)
		if _, ok := seen[clean]; ok {
			continue
		}
		// A path inside an already watched directory adds nothing.
		covered := false
		for _, u := range unique {
			if isWithinDir(clean, u) {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		seen[clean] = struct{}{}
		unique = append(unique, clean)
	}
	return unique
}

// Classify maps an absolute path to the kind of work its change requires.
func Classify(cfg *config.Config, path string) ChangeKind {
	if matchesGlob(cfg, cfg.API, path) {
		return KindAPI
	}
	if cfg.GraphQL.Enabled {
		if matchesGlob(cfg, cfg.GraphQL.Schema, path) {
			return KindSchema
		}
		for _, g := range []config.GlobConfig{cfg.GraphQL.Resolvers, cfg.GraphQL.Loaders, cfg.GraphQL.Contexts} {
			if matchesGlob(cfg, g, path) {
				return KindGraphQL
			}
		}
	}
	for _, p := range cfg.Build.ExtraModules {
		if isSamePath(path, cfg.Abs(p)) {
			return KindGraphQL
		}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".css", ".scss", ".sass", ".less":
		if isWithinDir(path, cfg.Abs(cfg.Dev.Public)) {
			return KindCSS
		}
	}
	return KindSource
}

func matchesGlob(cfg *config.Config, g config.GlobConfig, path string) bool {
	root := cfg.Abs(g.Cwd)
	if !isWithinDir(path, root) {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return scan.Match(g.Patterns, filepath.ToSlash(rel))
}
