package shutdown

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"spacethumbs/core"
)

// Handler priorities used by the host. Lower runs first.
const (
	PriorityLoops   = 10 // housekeeper, watcher
	PriorityLedger  = 30 // attempt ledger writer and database
	PriorityScratch = 40 // converter work directories
	PriorityLogger  = 90 // final log flush
)

type handler struct {
	name     string
	priority int
	seq      int
	fn       core.ShutdownFunc
}

// Registry holds handlers ordered by priority, then registration order.
//
// Usage:
//
//	r := NewRegistry()
//	r.Register("ledger", PriorityLedger, closeLedger)
//	r.Register("logger", PriorityLogger, func(context.Context) error { return logger.Sync() })
//	errs := r.Run(ctx)
type Registry struct {
	mu       sync.Mutex
	handlers []handler
	done     bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds fn. Registrations after Run are ignored.
func (r *Registry) Register(name string, priority int, fn core.ShutdownFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done || fn == nil {
		return
	}
	r.handlers = append(r.handlers, handler{name: name, priority: priority, seq: len(r.handlers), fn: fn})
}

// Run calls every handler once, in order, and returns their errors each
// prefixed with the handler name. A second Run returns nil.
func (r *Registry) Run(ctx context.Context) []error {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return nil
	}
	r.done = true
	hs := r.sorted()
	r.mu.Unlock()

	var errs []error
	for _, h := range hs {
		if err := h.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errs
}

// Names returns the handler names in execution order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs := r.sorted()
	names := make([]string, len(hs))
	for i, h := range hs {
		names[i] = h.name
	}
	return names
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

func (r *Registry) sorted() []handler {
	hs := slices.Clone(r.handlers)
	slices.SortFunc(hs, func(a, b handler) int {
		if a.priority != b.priority {
			return a.priority - b.priority
		}
		return a.seq - b.seq
	})
	return hs
}
