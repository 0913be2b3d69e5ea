//go:build windows

package procrunner

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// PlatformGroups returns a factory of Job Objects with a per-process memory
// limit and kill-on-close. parent is ignored on Windows.
func PlatformGroups(_ string) GroupFactory {
	return func(memoryLimit int64) (Group, error) {
		return newJob(memoryLimit)
	}
}

type job struct {
	handle windows.Handle

	once     sync.Once
	closeErr error
}

func newJob(memoryLimit int64) (*job, error) {
	h, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create job object: %v", ErrResourceLimitUnavailable, err)
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{}
	info.BasicLimitInformation.LimitFlags = windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE |
		windows.JOB_OBJECT_LIMIT_PROCESS_MEMORY
	info.ProcessMemoryLimit = uintptr(memoryLimit)

	if _, err := windows.SetInformationJobObject(h,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info))); err != nil {
		_ = windows.CloseHandle(h)
		return nil, fmt.Errorf("%w: set job limits: %v", ErrResourceLimitUnavailable, err)
	}
	return &job{handle: h}, nil
}

func (j *job) Prepare(cmd *exec.Cmd) error {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= windows.CREATE_NO_WINDOW
	cmd.SysProcAttr.HideWindow = true
	return nil
}

func (j *job) Attach(p *os.Process) error {
	h, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(p.Pid))
	if err != nil {
		return fmt.Errorf("open process %d: %w", p.Pid, err)
	}
	defer windows.CloseHandle(h)
	if err := windows.AssignProcessToJobObject(j.handle, h); err != nil {
		return fmt.Errorf("assign process %d to job: %w", p.Pid, err)
	}
	return nil
}

func (j *job) Close() error {
	j.once.Do(func() {
		_ = windows.TerminateJobObject(j.handle, 1)
		j.closeErr = windows.CloseHandle(j.handle)
	})
	return j.closeErr
}
