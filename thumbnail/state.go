package thumbnail

import (
	"errors"
	"fmt"
)

// State is a step of one generation attempt.
//
//	Idle → Sniffing → Dispatched → Completed | TimedOut | Failed
//	            └──→ TooLarge | Failed
type State int

const (
	Idle State = iota
	Sniffing
	Dispatched
	Completed
	TimedOut
	TooLarge
	Failed
)

var stateNames = [...]string{"idle", "sniffing", "dispatched", "completed", "timed_out", "too_large", "failed"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether s ends an attempt.
func (s State) Terminal() bool { return s >= Completed }

var (
	// ErrUnsupported is returned when no generator accepts the input.
	ErrUnsupported = errors.New("thumbnail: unsupported format")

	// ErrTooLarge is returned when the input exceeds the size ceiling. No
	// generator runs.
	ErrTooLarge = errors.New("thumbnail: input too large")

	// ErrTimedOut is returned when generation overruns the time limit.
	ErrTimedOut = errors.New("thumbnail: generation timed out")

	// ErrGeneration is returned when the selected generator fails, panics or
	// returns a malformed buffer.
	ErrGeneration = errors.New("thumbnail: generation failed")
)

// Error is the only error type Generate returns.
type Error struct {
	State     State
	Generator string // empty when none was selected
	Err       error
}

func (e *Error) Error() string {
	if e.Generator != "" {
		return fmt.Sprintf("%s (%s): %v", e.State, e.Generator, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.State, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StateOf returns the terminal state carried by err, or Failed.
func StateOf(err error) State {
	if err == nil {
		return Completed
	}
	var te *Error
	if errors.As(err, &te) {
		return te.State
	}
	return Failed
}
