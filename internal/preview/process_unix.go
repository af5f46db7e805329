//go:build !windows

package preview

import (
	"os"
	"os/exec"
	"syscall"
	"time"
)

type processHandle struct {
	cmd *exec.Cmd
}

func startProcess(cmd *exec.Cmd) (*processHandle, error) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &processHandle{cmd: cmd}, nil
}

// signalProcess delivers sig to the child's whole process group.
func signalProcess(proc *processHandle, sig os.Signal) {
	s, ok := sig.(syscall.Signal)
	if !ok {
		s = syscall.SIGTERM
	}
	if pgid, err := syscall.Getpgid(proc.cmd.Process.Pid); err == nil {
		_ = syscall.Kill(-pgid, s)
		return
	}
	_ = proc.cmd.Process.Signal(s)
}

// stopProcess terminates the group and kills it if it outlives grace.
func stopProcess(proc *processHandle, done <-chan struct{}, grace time.Duration) {
	pgid, err := syscall.Getpgid(proc.cmd.Process.Pid)
	if err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
	} else {
		_ = proc.cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-done:
	case <-time.After(grace):
		if pgid > 0 {
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		} else {
			_ = proc.cmd.Process.Kill()
		}
	}
}

func release(*processHandle) {}
