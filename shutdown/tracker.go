// Package shutdown coordinates an orderly stop of the long-running host:
// in-flight thumbnail jobs drain, background loops stop, then registered
// handlers release the ledger, the logger and leftover converter scratch.
package shutdown

import (
	"errors"
	"sync"
	"time"
)

// ErrTrackerClosed is returned when a job is started after shutdown began.
var ErrTrackerClosed = errors.New("shutdown: tracker is closed")

// ErrWaitTimeout is returned when in-flight jobs outlive the drain window.
var ErrWaitTimeout = errors.New("shutdown: in-flight jobs did not finish in time")

// JobTracker counts in-flight jobs and lets shutdown wait for them.
//
// Usage:
//
//	if !tracker.Start() {
//	    return ErrTrackerClosed
//	}
//	defer tracker.Done()
type JobTracker struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	active int64
	closed bool
}

// NewJobTracker creates an open tracker.
func NewJobTracker() *JobTracker {
	return &JobTracker{}
}

// Start registers one job. It returns false once Close has been called, in
// which case the caller must not run the job and must not call Done.
func (t *JobTracker) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.wg.Add(1)
	t.active++
	return true
}

// Done marks one started job as finished.
func (t *JobTracker) Done() {
	t.mu.Lock()
	t.active--
	t.mu.Unlock()
	t.wg.Done()
}

// Close rejects new jobs. Running jobs are unaffected.
func (t *JobTracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// Wait blocks until every started job is done or timeout passes.
func (t *JobTracker) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrWaitTimeout
	}
}

// Active returns the number of in-flight jobs.
func (t *JobTracker) Active() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// IsClosed reports whether Close has been called.
func (t *JobTracker) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
