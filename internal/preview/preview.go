// Package preview runs a production build locally by starting the
// standalone server as a child process.
package preview

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fastivite/fastivite/internal/errors"
)

// StopGrace is how long the child may take to exit after being asked to.
const StopGrace = 5 * time.Second

// Options configures Run.
type Options struct {
	// Cwd is the build output directory. The child runs there.
	Cwd string

	// ServerFile is the bundle, relative to Cwd.
	ServerFile string

	// Executable serves the bundle. Default: the running binary.
	Executable string

	// Command replaces the whole child command line when set.
	Command []string

	// Env is added to the inherited environment.
	Env []string

	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func (o Options) command() ([]string, error) {
	if len(o.Command) > 0 {
		return o.Command, nil
	}
	exe := o.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, err
		}
	}
	serverFile := o.ServerFile
	if serverFile == "" {
		serverFile = "server.cjs"
	}
	return []string{exe, "serve", "--cwd", ".", "--server-file", serverFile}, nil
}

// Run starts the child and waits for it. SIGINT and SIGTERM received by
// this process are forwarded to the child's process group; cancelling ctx
// stops the child. A non-zero exit is returned as E503 and ExitCode reports
// it.
func Run(ctx context.Context, opts Options) error {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "preview")

	cwd, err := filepath.Abs(opts.Cwd)
	if err != nil {
		return errors.New("E503").Wrap(err)
	}
	if info, err := os.Stat(cwd); err != nil || !info.IsDir() {
		return errors.New("E502").WithDetail(cwd).
			WithSuggestion("Run fastivite build first")
	}
	argv, err := opts.command()
	if err != nil {
		return errors.New("E503").Wrap(err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Stdout = orDefault(opts.Stdout, os.Stdout)
	cmd.Stderr = orDefault(opts.Stderr, os.Stderr)

	proc, err := startProcess(cmd)
	if err != nil {
		return errors.New("E503").WithDetail(argv[0]).Wrap(err)
	}
	defer release(proc)
	log.Debug("started", "pid", cmd.Process.Pid, "cwd", cwd)

	done := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(done)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	for {
		select {
		case <-done:
			return exitError(waitErr)
		case sig := <-sigs:
			log.Debug("forwarding signal", "signal", sig)
			signalProcess(proc, sig)
		case <-ctx.Done():
			stopProcess(proc, done, StopGrace)
			<-done
			return nil
		}
	}
}

func exitError(err error) error {
	if err == nil {
		return nil
	}
	code := ExitCode(err)
	return errors.New("E503").WithDetail(fmt.Sprintf("exit status %d", code)).Wrap(err)
}

// ExitCode returns the child's exit code carried by err, 1 for other
// errors and 0 for nil.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if stderrors.As(err, &ee) && ee.ExitCode() > 0 {
		return ee.ExitCode()
	}
	return 1
}

func orDefault(w, def io.Writer) io.Writer {
	if w == nil {
		return def
	}
	return w
}
