package shutdown

import (
	"os"
	"sync"
	"syscall"

	"spacethumbs/core"
)

// SignalCounter counts termination signals: the first starts a graceful
// stop, the forceAfter-th calls onForce with the exit code of that signal.
type SignalCounter struct {
	mu         sync.Mutex
	count      int
	forceAfter int
	onForce    func(code int)
}

// NewSignalCounter creates a counter. onForce may be nil.
func NewSignalCounter(forceAfter int, onForce func(code int)) *SignalCounter {
	return &SignalCounter{forceAfter: forceAfter, onForce: onForce}
}

// Observe records sig and returns the running count. onForce runs under the
// lock, so it should exit the process rather than block.
func (s *SignalCounter) Observe(sig os.Signal) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	if s.forceAfter > 0 && s.count >= s.forceAfter && s.onForce != nil {
		s.onForce(ExitCodeFor(sig))
	}
	return s.count
}

// Count returns how many signals were observed.
func (s *SignalCounter) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// ExitCodeFor maps a termination signal to its conventional exit status.
func ExitCodeFor(sig os.Signal) int {
	switch sig {
	case os.Interrupt:
		return core.ExitCodeSIGINT
	case syscall.SIGTERM:
		return core.ExitCodeSIGTERM
	default:
		return core.ExitCodeError
	}
}
