package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fastivite/fastivite/internal/build"
	"github.com/fastivite/fastivite/internal/config"
	"github.com/fastivite/fastivite/internal/httpserver"
	"github.com/fastivite/fastivite/internal/standalone"
)

func serveCmd() *cobra.Command {
	var (
		cwd        string
		serverFile string
		workers    int
		metrics    bool
		trace      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a production build",
		Long: `Serve a production build in this process.

HOST, PORT and BASE are read from the environment (defaults 127.0.0.1,
5173 and ""). .env.local and .env in --cwd are loaded first.

Examples:
  fastivite serve --cwd ./dist
  PORT=8080 HOST=0.0.0.0 fastivite serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnv(cwd); err != nil {
				return err
			}
			opts := standalone.OptionsFromEnv(cwd, serverFile)
			opts.Workers = workers
			opts.Tracing = trace
			opts.Logger = slog.Default()
			if metrics {
				opts.Metrics = httpserver.DefaultMetrics()
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server, err := standalone.New(ctx, opts)
			if err != nil {
				return err
			}
			return server.Serve(ctx)
		},
	}

	cmd.Flags().StringVar(&cwd, "cwd", ".", "Build output directory")
	cmd.Flags().StringVar(&serverFile, "server-file", build.ServerFile, "Server bundle, relative to --cwd")
	cmd.Flags().IntVar(&workers, "workers", 0, "JavaScript VMs (default: number of CPUs)")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "Expose Prometheus metrics at "+httpserver.MetricsPath)
	cmd.Flags().BoolVar(&trace, "trace", false, "Record a span per request")

	return cmd
}
