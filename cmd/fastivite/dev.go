package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fastivite/fastivite/internal/config"
	"github.com/fastivite/fastivite/internal/dev"
	"github.com/fastivite/fastivite/internal/httpserver"
)

type devFlags struct {
	projectFlags

	host     string
	port     int
	base     string
	buildDir string

	codegen             bool
	codegenOut          string
	operationCodegen    bool
	operationCodegenCfg string

	metrics     bool
	trace       bool
	printRoutes bool
}

func devCmd() *cobra.Command {
	var f devFlags

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Start the development server",
		Long: `Start the development server with hot reload.

API routes, GraphQL resolvers and the SSR entry are compiled on demand.
Saving a file reloads the affected routes and refreshes connected browsers.
Compile errors are shown in an in-page overlay.

Examples:
  fastivite dev
  fastivite dev --port=3000
  fastivite dev --graphql --graphql-codegen=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			return runDev(cfg, f)
		},
	}

	def := config.New()
	f.register(cmd)
	fl := cmd.Flags()
	fl.StringVar(&f.host, "host", def.Dev.Host, "Host to bind to")
	fl.IntVarP(&f.port, "port", "p", def.Dev.Port, "Port to run on")
	fl.StringVar(&f.base, "base", def.Dev.Base, "Public base path")
	fl.StringVar(&f.buildDir, "build-dir", def.Dev.BuildDir, "Directory for compiled modules")
	fl.BoolVar(&f.codegen, "graphql-codegen", def.GraphQL.Codegen, "Generate TypeScript types from the schema")
	fl.StringVar(&f.codegenOut, "graphql-codegen-out", def.GraphQL.CodegenOut, "Generated types file")
	fl.BoolVar(&f.operationCodegen, "graphql-operation-codegen", def.GraphQL.OperationCodegen, "Run graphql-codegen in watch mode")
	fl.StringVar(&f.operationCodegenCfg, "graphql-operation-codegen-config-file", def.GraphQL.OperationCodegenConfig, "graphql-codegen configuration")
	fl.BoolVar(&f.metrics, "metrics", false, "Expose Prometheus metrics at "+httpserver.MetricsPath)
	fl.BoolVar(&f.trace, "trace", false, "Record a span per request")
	fl.BoolVar(&f.printRoutes, "print-routes", false, "Print the route table after every reload")

	return cmd
}

// load extends projectFlags.load with the dev-only overrides.
func (f *devFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := loadConfig(f.configFile)
	if err != nil {
		return nil, err
	}
	f.apply(cmd, cfg)

	set := cmd.Flags().Changed
	if set("host") {
		cfg.Dev.Host = f.host
	}
	if set("port") {
		cfg.Dev.Port = f.port
	}
	if set("base") {
		cfg.Dev.Base = f.base
	}
	if set("build-dir") {
		cfg.Dev.BuildDir = f.buildDir
	}
	if set("graphql-codegen") {
		cfg.GraphQL.Codegen = f.codegen
	}
	if set("graphql-codegen-out") {
		cfg.GraphQL.CodegenOut = f.codegenOut
	}
	if set("graphql-operation-codegen") {
		cfg.GraphQL.OperationCodegen = f.operationCodegen
	}
	if set("graphql-operation-codegen-config-file") {
		cfg.GraphQL.OperationCodegenConfig = f.operationCodegenCfg
	}
	return cfg, cfg.Validate()
}

func runDev(cfg *config.Config, f devFlags) error {
	printBanner()
	fmt.Println("  dev")
	fmt.Println()

	options := dev.ServerOptions{
		Config:  cfg,
		Tracing: f.trace,
		OnReload: func(generation uint64) {
			if generation > 1 {
				success("Reloaded routes (generation %d)", generation)
			}
		},
	}
	if f.metrics {
		options.Metrics = httpserver.DefaultMetrics()
	}
	if f.printRoutes {
		options.Routes = os.Stdout
	}

	server, err := dev.NewServer(options)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	info("Serving %s", cfg.Dir())
	if cfg.GraphQL.Enabled {
		info("GraphQL at %s", cfg.GraphQL.Path)
	}
	return server.Start(ctx)
}
