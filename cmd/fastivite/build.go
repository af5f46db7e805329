package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fastivite/fastivite/internal/build"
	"github.com/fastivite/fastivite/internal/config"
)

func buildCmd() *cobra.Command {
	var (
		f       projectFlags
		outDir  string
		minify  bool
		extras  []string
		summary bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build for production",
		Long: `Build the application for production deployment.

This command:
  • Bundles the client from index.html into <out-dir>/client
  • Compiles the SSR entry
  • Compiles every API route and GraphQL module
  • Bundles everything into a single <out-dir>/server.cjs

Examples:
  fastivite build
  fastivite build --out-dir=out --minify=false
  fastivite build --extra-module db=./src/db.ts`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("out-dir") {
				cfg.Build.OutDir = outDir
			}
			if cmd.Flags().Changed("minify") {
				cfg.Build.Minify = minify
			}
			if len(extras) > 0 {
				mods, err := parseExtraModules(extras)
				if err != nil {
					return err
				}
				if cfg.Build.ExtraModules == nil {
					cfg.Build.ExtraModules = map[string]string{}
				}
				for name, path := range mods {
					cfg.Build.ExtraModules[name] = path
				}
			}
			return runBuild(cfg, summary)
		},
	}

	def := config.New()
	f.register(cmd)
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", def.Build.OutDir, "Output directory")
	cmd.Flags().BoolVar(&minify, "minify", def.Build.Minify, "Minify output")
	cmd.Flags().StringArrayVar(&extras, "extra-module", nil, "Extra server module as name=path (repeatable)")
	cmd.Flags().BoolVar(&summary, "summary", true, "Print the built routes")

	return cmd
}

func runBuild(cfg *config.Config, summary bool) error {
	printBanner()
	fmt.Println("  Building for production...")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	builder := build.New(cfg, build.Options{
		Minify: cfg.Build.Minify,
		OnProgress: func(step string) {
			info("%s", step)
		},
	})

	result, err := builder.Build(ctx)
	if err != nil {
		return err
	}

	fmt.Println()
	success("Built in %s", result.Duration.Round(time.Millisecond))
	info("Server: %s", result.ServerFile)
	info("Client: %s", result.ClientDir)
	if summary {
		for _, route := range result.Routes {
			info("  %s", route)
		}
	}
	if len(result.Routes) == 0 {
		warn("No API routes found in %s", cfg.API.Cwd)
	}
	return nil
}
