//go:build !unix && !windows

package core

// LowerProcessPriority is a no-op where the platform exposes no priority control.
func LowerProcessPriority() error {
	return nil
}
