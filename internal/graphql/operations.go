package graphql

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// CodegenRunner runs graphql-codegen in watch mode for client operations.
type CodegenRunner struct {
	// Command is the launcher, npx by default.
	Command string

	// Stdout and Stderr receive the child's output; os.Stdout and
	// os.Stderr by default.
	Stdout io.Writer
	Stderr io.Writer

	projectDir string
	log        *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	running bool
	done    chan struct{}
}

// NewCodegenRunner returns a runner for the project at projectDir.
func NewCodegenRunner(projectDir string, logger *slog.Logger) *CodegenRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &CodegenRunner{
		Command:    "npx",
		projectDir: projectDir,
		log:        logger.With("component", "graphql-codegen"),
	}
}

// Start launches `graphql-codegen --config configFile --watch`. A failure
// to start is returned; the caller logs it as a warning. Start on a running
// runner is a no-op.
func (r *CodegenRunner) Start(ctx context.Context, configFile string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Not CommandContext: Stop owns the child's lifetime.
	r.cmd = exec.Command(r.Command, "graphql-codegen", "--config", configFile, "--watch")
	r.cmd.Dir = r.projectDir
	r.cmd.Stdout = r.Stdout
	r.cmd.Stderr = r.Stderr
	if r.cmd.Stdout == nil {
		r.cmd.Stdout = os.Stdout
	}
	if r.cmd.Stderr == nil {
		r.cmd.Stderr = os.Stderr
	}

	if err := r.cmd.Start(); err != nil {
		r.cmd = nil
		return fmt.Errorf("failed to start graphql-codegen: %w", err)
	}

	r.running = true
	r.done = make(chan struct{})
	r.log.Info("operation codegen started", "config", configFile, "pid", r.cmd.Process.Pid)

	cmd := r.cmd
	done := r.done
	go func() {
		err := cmd.Wait()
		if err != nil {
			r.log.Warn("operation codegen exited", "error", err)
		}
		close(done)
		r.mu.Lock()
		r.running = false
		if r.cmd == cmd {
			r.cmd = nil
		}
		r.done = nil
		r.mu.Unlock()
	}()

	return nil
}

// Stop kills the child and waits briefly for it to exit.
func (r *CodegenRunner) Stop() {
	r.mu.Lock()
	cmd := r.cmd
	done := r.done
	running := r.running
	r.mu.Unlock()

	if !running || cmd == nil || cmd.Process == nil {
		return
	}

	_ = cmd.Process.Kill()
	if done != nil {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	}

	r.mu.Lock()
	r.running = false
	if r.cmd == cmd {
		r.cmd = nil
	}
	r.done = nil
	r.mu.Unlock()
}

// IsRunning reports whether the child is alive.
func (r *CodegenRunner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
