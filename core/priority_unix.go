//go:build unix

package core

import "golang.org/x/sys/unix"

// backgroundNice is the niceness applied to background regeneration jobs.
const backgroundNice = 10

// LowerProcessPriority drops the current process below normal scheduling
// priority so background regeneration does not compete with the desktop.
func LowerProcessPriority() error {
	return unix.Setpriority(unix.PRIO_PROCESS, 0, backgroundNice)
}
