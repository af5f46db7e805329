//go:build windows

package preview

import (
	"os"
	"os/exec"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

type processHandle struct {
	cmd *exec.Cmd
	job windows.Handle
}

func startProcess(cmd *exec.Cmd) (*processHandle, error) {
	job, err := createJobObject()
	if err != nil {
		job = 0
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
	}
	if err := cmd.Start(); err != nil {
		if job != 0 {
			windows.CloseHandle(job)
		}
		return nil, err
	}

	if job != 0 {
		if err := assignProcessToJob(job, cmd.Process.Pid); err != nil {
			windows.CloseHandle(job)
			job = 0
		}
	}
	return &processHandle{cmd: cmd, job: job}, nil
}

// signalProcess sends CTRL_BREAK to the child's process group.
func signalProcess(proc *processHandle, _ os.Signal) {
	if err := windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(proc.cmd.Process.Pid)); err != nil {
		_ = proc.cmd.Process.Kill()
	}
}

// stopProcess asks the child to stop and closes the job, killing every
// process in it, if the child outlives grace.
func stopProcess(proc *processHandle, done <-chan struct{}, grace time.Duration) {
	signalProcess(proc, os.Interrupt)
	select {
	case <-done:
	case <-time.After(grace):
		if proc.job != 0 {
			windows.CloseHandle(proc.job)
			proc.job = 0
		} else {
			_ = proc.cmd.Process.Kill()
		}
	}
}

func release(proc *processHandle) {
	if proc.job != 0 {
		windows.CloseHandle(proc.job)
		proc.job = 0
	}
}

func createJobObject() (windows.Handle, error) {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return 0, err
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{}
	info.BasicLimitInformation.LimitFlags = windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE
	_, err = windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	)
	if err != nil {
		windows.CloseHandle(job)
		return 0, err
	}
	return job, nil
}

func assignProcessToJob(job windows.Handle, pid int) error {
	handle, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(handle)

	return windows.AssignProcessToJobObject(job, handle)
}
