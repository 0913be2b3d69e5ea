//go:build windows

package core

import "golang.org/x/sys/windows"

// LowerProcessPriority drops the current process to BELOW_NORMAL_PRIORITY_CLASS
// so background regeneration does not freeze Explorer.
func LowerProcessPriority() error {
	return windows.SetPriorityClass(windows.CurrentProcess(), windows.BELOW_NORMAL_PRIORITY_CLASS)
}
