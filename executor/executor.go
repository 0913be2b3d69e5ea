// Package executor runs a unit of work on its own goroutine under a hard
// wall-clock limit.
//
// Go cannot stop a goroutine, so a worker that overruns its limit is
// abandoned: the caller gets a TimedOut outcome immediately and the worker
// keeps running until it returns on its own. The context handed to the work
// is cancelled at that point, which reaches external processes (they are
// killed through their resource group) but not pure in-process code.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"spacethumbs/logging"
)

// DefaultPollInterval is how often the caller checks for completion.
const DefaultPollInterval = 20 * time.Millisecond

// Status is the terminal state of a run.
type Status int

const (
	Completed Status = iota
	Failed
	TimedOut
	Panicked
)

func (s Status) String() string {
	switch s {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	case Panicked:
		return "panicked"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Outcome is the result of Run. Value is only meaningful when Status is
// Completed, Err when Failed, Panic and Stack when Panicked.
type Outcome[T any] struct {
	Status  Status
	Value   T
	Err     error
	Panic   any
	Stack   []byte
	Elapsed time.Duration
}

// Options configures Run.
type Options struct {
	// Limit is the wall-clock budget. Zero or negative means no limit
	// beyond the caller's ctx.
	Limit time.Duration
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	// Name labels log lines.
	Name   string
	Logger *logging.Logger
}

var abandoned atomic.Int64

// Abandoned reports how many timed-out workers are still running.
func Abandoned() int64 { return abandoned.Load() }

type result[T any] struct {
	value T
	err   error
	panic any
	stack []byte
}

// Run executes work on a dedicated goroutine and waits for it, polling every
// PollInterval, until it finishes, Limit expires or ctx ends.
func Run[T any](ctx context.Context, opts Options, work func(ctx context.Context) (T, error)) Outcome[T] {
	logger := logging.OrNop(opts.Logger)
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	start := time.Now()
	var deadline time.Time
	if opts.Limit > 0 {
		deadline = start.Add(opts.Limit)
	}

	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	// Buffered so an abandoned worker never blocks on send.
	done := make(chan result[T], 1)
	var finished atomic.Bool
	go func() {
		var r result[T]
		defer func() {
			if p := recover(); p != nil {
				r = result[T]{panic: p, stack: debug.Stack()}
			}
			if !finished.CompareAndSwap(false, true) {
				abandoned.Add(-1)
				logger.Debug("abandoned worker finished",
					zap.String("work", opts.Name),
					zap.Duration("elapsed", time.Since(start)))
			}
			done <- r
		}()
		r.value, r.err = work(workCtx)
	}()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case r := <-done:
			cancel()
			return complete(r, time.Since(start))
		case <-ctx.Done():
			return abandon[T](cancel, &finished, done, start, opts.Name, logger)
		case now := <-ticker.C:
			if !deadline.IsZero() && !now.Before(deadline) {
				return abandon[T](cancel, &finished, done, start, opts.Name, logger)
			}
		}
	}
}

func complete[T any](r result[T], elapsed time.Duration) Outcome[T] {
	switch {
	case r.panic != nil:
		return Outcome[T]{Status: Panicked, Panic: r.panic, Stack: r.stack, Elapsed: elapsed}
	case r.err != nil:
		return Outcome[T]{Status: Failed, Err: r.err, Elapsed: elapsed}
	}
	return Outcome[T]{Status: Completed, Value: r.value, Elapsed: elapsed}
}

func abandon[T any](cancel context.CancelFunc, finished *atomic.Bool, done chan result[T], start time.Time, name string, logger *logging.Logger) Outcome[T] {
	cancel()
	if !finished.CompareAndSwap(false, true) {
		// The worker finished between the last poll and now.
		return complete(<-done, time.Since(start))
	}
	n := abandoned.Add(1)
	elapsed := time.Since(start)
	logger.Warn("abandoning worker after time limit",
		zap.String("work", name),
		zap.Duration("elapsed", elapsed),
		zap.Int64("abandoned", n))
	return Outcome[T]{Status: TimedOut, Elapsed: elapsed}
}
