package main

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fastivite/fastivite/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┌─┐┌─┐┌─┐┌┬┐┬┬  ┬┬┌┬┐┌─┐
  ├┤ ├─┤└─┐ │ │└┐┌┘│ │ ├┤
  └  ┴ ┴└─┘ ┴ ┴ └┘ ┴ ┴ └─┘
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		errors.PrintError(err)
		var ec *exitCodeError
		if stderrors.As(err, &ec) {
			return ec.code
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		verbose bool
		noColor bool
	)

	rootCmd := &cobra.Command{
		Use:   "fastivite",
		Short: "Dev server and production builds for SSR apps with API routes",
		Long: `fastivite serves a server-rendered frontend together with file-based
API routes and an optional GraphQL endpoint.

  • dev      hot-reloading development server
  • build    production bundle (client assets plus one server file)
  • preview  run the production bundle locally
  • serve    serve a production bundle (used by preview and deployments)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				errors.DisableColors()
			}
			setupLogging(verbose)
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored error output")

	rootCmd.AddCommand(
		devCmd(),
		buildCmd(),
		previewCmd(),
		serveCmd(),
		createCmd(),
		publishCmd(),
		versionCmd(),
	)
	return rootCmd
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// printBanner prints the ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}
