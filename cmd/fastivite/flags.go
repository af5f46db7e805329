package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fastivite/fastivite/internal/config"
	"github.com/fastivite/fastivite/internal/errors"
)

// projectFlags are shared by dev and build. Only flags set on the command
// line override the configuration file.
type projectFlags struct {
	configFile  string
	index       string
	entryServer string
	apiCwd      string
	apiPatterns []string

	graphql          bool
	schemaCwd        string
	schemaPatterns   []string
	resolverCwd      string
	resolverPatterns []string
	loaderCwd        string
	loaderPatterns   []string
	contextCwd       string
	contextPatterns  []string
}

func (f *projectFlags) register(cmd *cobra.Command) {
	def := config.New()
	fl := cmd.Flags()
	fl.StringVar(&f.configFile, "config-file", "", "Configuration file (default: search for "+config.ConfigFileName+")")
	fl.StringVar(&f.index, "index", def.Dev.Index, "HTML shell")
	fl.StringVar(&f.entryServer, "entry-server", def.Dev.EntryServer, "SSR entry module")
	fl.StringVar(&f.apiCwd, "api-cwd", def.API.Cwd, "Directory searched for API routes")
	fl.StringSliceVar(&f.apiPatterns, "api-file-pattern", def.API.Patterns, "API route file patterns")

	fl.BoolVar(&f.graphql, "graphql", false, "Enable the GraphQL endpoint")
	fl.StringVar(&f.schemaCwd, "graphql-schema-cwd", def.GraphQL.Schema.Cwd, "Directory searched for schema files")
	fl.StringSliceVar(&f.schemaPatterns, "graphql-schema-pattern", def.GraphQL.Schema.Patterns, "Schema file patterns")
	fl.StringVar(&f.resolverCwd, "graphql-resolver-cwd", def.GraphQL.Resolvers.Cwd, "Directory searched for resolvers")
	fl.StringSliceVar(&f.resolverPatterns, "graphql-resolver-pattern", def.GraphQL.Resolvers.Patterns, "Resolver file patterns")
	fl.StringVar(&f.loaderCwd, "graphql-loader-cwd", def.GraphQL.Loaders.Cwd, "Directory searched for loaders")
	fl.StringSliceVar(&f.loaderPatterns, "graphql-loader-pattern", def.GraphQL.Loaders.Patterns, "Loader file patterns")
	fl.StringVar(&f.contextCwd, "graphql-context-cwd", def.GraphQL.Contexts.Cwd, "Directory searched for context factories")
	fl.StringSliceVar(&f.contextPatterns, "graphql-context-pattern", def.GraphQL.Contexts.Patterns, "Context file patterns")
}

// load reads the configuration and applies the flags that were set.
func (f *projectFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := loadConfig(f.configFile)
	if err != nil {
		return nil, err
	}
	f.apply(cmd, cfg)
	return cfg, cfg.Validate()
}

func (f *projectFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("index") {
		cfg.Dev.Index = f.index
	}
	if set("entry-server") {
		cfg.Dev.EntryServer = f.entryServer
	}
	applyGlob(set, &cfg.API, "api-cwd", f.apiCwd, "api-file-pattern", f.apiPatterns)
	if set("graphql") {
		cfg.GraphQL.Enabled = f.graphql
	}
	applyGlob(set, &cfg.GraphQL.Schema, "graphql-schema-cwd", f.schemaCwd, "graphql-schema-pattern", f.schemaPatterns)
	applyGlob(set, &cfg.GraphQL.Resolvers, "graphql-resolver-cwd", f.resolverCwd, "graphql-resolver-pattern", f.resolverPatterns)
	applyGlob(set, &cfg.GraphQL.Loaders, "graphql-loader-cwd", f.loaderCwd, "graphql-loader-pattern", f.loaderPatterns)
	applyGlob(set, &cfg.GraphQL.Contexts, "graphql-context-cwd", f.contextCwd, "graphql-context-pattern", f.contextPatterns)
}

func applyGlob(set func(string) bool, g *config.GlobConfig, cwdFlag, cwd, patternFlag string, patterns []string) {
	if set(cwdFlag) {
		g.Cwd = cwd
	}
	if set(patternFlag) {
		g.Patterns = config.SplitList(patterns)
	}
}

// loadConfig loads path when given, otherwise searches upward from the
// working directory.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.New("E101").Wrap(err)
	}
	return config.Find(wd)
}

// parseExtraModules parses name=path pairs.
func parseExtraModules(values []string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for _, v := range values {
		name, path, ok := strings.Cut(v, "=")
		name, path = strings.TrimSpace(name), strings.TrimSpace(path)
		if !ok || name == "" || path == "" {
			return nil, errors.New("E101").
				WithDetail("Invalid --extra-module " + v).
				WithSuggestion("Use name=./path/to/module.ts")
		}
		out[name] = path
	}
	return out, nil
}
