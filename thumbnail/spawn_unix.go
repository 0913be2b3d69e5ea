//go:build !windows

package thumbnail

import (
	"os/exec"
	"syscall"
)

// detach puts the child in its own session so it outlives the caller's
// process group and terminal.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
