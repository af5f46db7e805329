package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fastivite/fastivite/internal/build"
	"github.com/fastivite/fastivite/internal/preview"
)

// exitCodeError carries the child's exit code through cobra.
type exitCodeError struct {
	err  error
	code int
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func previewCmd() *cobra.Command {
	var (
		cwd        string
		serverFile string
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Run the production build locally",
		Long: `Run the production build in a child process.

The child serves <cwd>/<server-file> with "fastivite serve". Ctrl+C stops it
and its exit code becomes this command's exit code.

Examples:
  fastivite preview
  PORT=8080 fastivite preview --cwd ./out`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dir, err := filepath.Abs(cwd)
			if err != nil {
				return err
			}
			info("Previewing %s", filepath.Join(dir, serverFile))
			err = preview.Run(ctx, preview.Options{Cwd: dir, ServerFile: serverFile})
			if code := preview.ExitCode(err); code > 0 {
				return &exitCodeError{err: err, code: code}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&cwd, "cwd", "./dist", "Build output directory")
	cmd.Flags().StringVar(&serverFile, "server-file", build.ServerFile, "Server bundle, relative to --cwd")

	return cmd
}
