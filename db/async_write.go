package db

import (
	"context"
	"sync"
	"time"
)

// DefaultChannelCapacity is the default buffer size for queued writes.
const DefaultChannelCapacity = 100

// DefaultDrainTimeout is the maximum time to wait for pending writes during shutdown.
const DefaultDrainTimeout = 10 * time.Second

// WriteHandler persists one queued item. It handles its own error logging.
type WriteHandler[T any] func(ctx context.Context, item T) error

// AsyncWriter takes writes off the caller's path: items are buffered in a
// channel and persisted by a single background goroutine, which also
// serialises access to sqlite's one writer.
type AsyncWriter[T any] struct {
	items   chan T
	handler WriteHandler[T]
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewAsyncWriter creates a writer with a buffer of capacity items.
func NewAsyncWriter[T any](handler WriteHandler[T], capacity int) *AsyncWriter[T] {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AsyncWriter[T]{
		items:   make(chan T, capacity),
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the background goroutine. Later calls are no-ops.
func (w *AsyncWriter[T]) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.stopped {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.run()
}

func (w *AsyncWriter[T]) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case item := <-w.items:
			_ = w.handler(context.Background(), item)
		}
	}
}

// drain persists whatever is still buffered.
func (w *AsyncWriter[T]) drain() {
	for {
		select {
		case item := <-w.items:
			_ = w.handler(context.Background(), item)
		default:
			return
		}
	}
}

// Write queues item without blocking. It reports false when the buffer is
// full or the writer is not running; the caller should then write
// synchronously.
func (w *AsyncWriter[T]) Write(item T) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started || w.stopped {
		return false
	}
	select {
	case w.items <- item:
		return true
	default:
		return false
	}
}

// Pending returns the number of queued items.
func (w *AsyncWriter[T]) Pending() int { return len(w.items) }

// IsRunning reports whether the writer accepts items.
func (w *AsyncWriter[T]) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started && !w.stopped
}

// Stop stops accepting items and waits up to timeout for the buffer to
// drain. It reports whether the drain finished in time.
func (w *AsyncWriter[T]) Stop(timeout time.Duration) bool {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		timeout = DefaultDrainTimeout
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
