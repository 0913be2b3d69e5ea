package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"spacethumbs/generator"
	"spacethumbs/logging"
)

// DefaultDebounce is how long a path must stay quiet before it is warmed.
const DefaultDebounce = 500 * time.Millisecond

// queueSize bounds settled paths waiting for a worker. Further paths are
// dropped; the next write to them schedules them again.
const queueSize = 1024

// Options configures Prewarm.
type Options struct {
	Roots    []string
	Filter   Filter
	Width    int
	Height   int
	Debounce time.Duration
	Workers  int
	Logger   *logging.Logger
}

// debounced is the live timer of a path. gen changes on every reschedule so
// a timer that fired while being replaced can tell it is stale.
type debounced struct {
	timer *time.Timer
	gen   uint64
}

// Prewarm watches Roots recursively and warms files once they settle.
type Prewarm struct {
	warmer   Warmer
	opts     Options
	logger   *logging.Logger
	width    int
	height   int
	debounce time.Duration
	workers  int

	mu      sync.Mutex
	pending map[string]debounced
	queue   chan string
	ready   chan struct{}
	warmed  int64
}

// New creates a Prewarm. Run starts it.
func New(w Warmer, opts Options) *Prewarm {
	width, height := sizeOrDefault(opts.Width, opts.Height)
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	return &Prewarm{
		warmer:   w,
		opts:     opts,
		logger:   logging.OrNop(opts.Logger).Named("prewarm"),
		width:    width,
		height:   height,
		debounce: debounce,
		workers:  workers,
		pending:  make(map[string]debounced),
		queue:    make(chan string, queueSize),
		ready:    make(chan struct{}),
	}
}

// Ready is closed once every root is being watched.
func (p *Prewarm) Ready() <-chan struct{} { return p.ready }

// Warmed returns how many files have been handed to the warmer.
func (p *Prewarm) Warmed() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.warmed
}

// Run watches until ctx ends. It returns nil on cancellation and an error
// when no root could be watched.
func (p *Prewarm) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("prewarm: %w", err)
	}
	defer fw.Close()

	watched := 0
	for _, root := range p.opts.Roots {
		n, err := p.addTree(fw, root)
		if err != nil {
			p.logger.Warn("cannot watch root", zap.String("root", root), zap.Error(err))
		}
		watched += n
	}
	if watched == 0 {
		return fmt.Errorf("prewarm: none of %d roots could be watched", len(p.opts.Roots))
	}
	p.logger.Info("watching for new files",
		zap.Strings("roots", p.opts.Roots),
		zap.Int("directories", watched),
		zap.Int("workers", p.workers))
	close(p.ready)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.dispatch(gctx)
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			p.stopTimers()
			_ = g.Wait()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				p.stopTimers()
				_ = g.Wait()
				return nil
			}
			p.handle(fw, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				continue
			}
			p.logger.Warn("watch error", zap.Error(err))
		}
	}
}

// addTree watches dir and every visible subdirectory.
func (p *Prewarm) addTree(fw *fsnotify.Watcher, dir string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && (hidden(d.Name()) || p.opts.Filter.Excluded(path)) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			p.logger.Debug("cannot watch directory", zap.String("dir", path), zap.Error(err))
			return nil
		}
		n++
		return nil
	})
	return n, err
}

func (p *Prewarm) handle(fw *fsnotify.Watcher, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if p.opts.Filter.Excluded(ev.Name) || hidden(filepath.Base(ev.Name)) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if n, err := p.addTree(fw, ev.Name); err == nil && n > 0 {
			return
		}
	}
	p.schedule(ev.Name)
}

// schedule (re)starts the debounce timer of path.
func (p *Prewarm) schedule(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.pending[path]
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(p.debounce, func() { p.settle(path, gen) })
	p.pending[path] = d
}

// settle queues path if gen is still its latest schedule.
func (p *Prewarm) settle(path string, gen uint64) {
	p.mu.Lock()
	d, ok := p.pending[path]
	if !ok || d.gen != gen {
		p.mu.Unlock()
		return
	}
	delete(p.pending, path)
	p.mu.Unlock()

	select {
	case p.queue <- path:
	default:
		p.logger.Warn("prewarm queue full, dropping", zap.String("path", path))
	}
}

func (p *Prewarm) stopTimers() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for path, d := range p.pending {
		d.timer.Stop()
		delete(p.pending, path)
	}
}

// dispatch feeds settled paths to a pool of at most workers warmers.
func (p *Prewarm) dispatch(ctx context.Context) {
	pool, pctx := errgroup.WithContext(ctx)
	pool.SetLimit(p.workers)
	defer func() { _ = pool.Wait() }()

	for {
		select {
		case <-pctx.Done():
			return
		case path := <-p.queue:
			if !p.opts.Filter.Accept(path) {
				continue
			}
			pool.Go(func() error {
				p.warm(pctx, path)
				return nil
			})
		}
	}
}

func (p *Prewarm) warm(ctx context.Context, path string) {
	p.mu.Lock()
	p.warmed++
	p.mu.Unlock()

	res, err := p.warmer.Ensure(ctx, generator.Request{Path: path, Width: p.width, Height: p.height})
	switch {
	case err == nil && res.CacheHit:
		p.logger.Debug("already cached", zap.String("path", path))
	case err == nil:
		p.logger.Info("prewarmed", zap.String("path", path), zap.String("generator", res.Generator))
	case errors.Is(err, context.Canceled):
	default:
		p.logger.Warn("prewarm failed", zap.String("path", path), zap.Error(err))
	}
}
