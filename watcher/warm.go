// Package watcher prewarms the thumbnail cache: WarmTree walks a directory
// once, Prewarm follows filesystem events under a set of roots.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"spacethumbs/generator"
	"spacethumbs/logging"
	"spacethumbs/thumbnail"
)

// Warmer produces a cached thumbnail for a request. *thumbnail.Orchestrator
// implements it; Ensure returns quickly when the entry already exists.
type Warmer interface {
	Ensure(ctx context.Context, req generator.Request) (thumbnail.Result, error)
}

// DefaultSize is the square edge prewarmed when none is given.
const DefaultSize = 256

// DefaultWorkers is half the CPUs, at least one.
func DefaultWorkers() int {
	return max(runtime.NumCPU()/2, 1)
}

// Filter decides which files are worth warming.
type Filter struct {
	Registry *generator.Registry
	// Exclude lists directories never descended into, typically the cache.
	Exclude []string
	// MaxBytes skips larger files without reading them. Zero means no limit.
	MaxBytes int64
}

// Accept reports whether path is a regular, visible file some generator
// claims from its header and extension.
func (f Filter) Accept(path string) bool {
	if f.Excluded(path) || hidden(filepath.Base(path)) {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return false
	}
	if f.MaxBytes > 0 && info.Size() > f.MaxBytes {
		return false
	}
	if f.Registry == nil {
		return true
	}
	in, err := generator.SniffFile(path)
	if err != nil {
		return false
	}
	return f.Registry.SelectInput(in) != nil
}

// Excluded reports whether path is inside an excluded directory.
func (f Filter) Excluded(path string) bool {
	for _, ex := range f.Exclude {
		if ex == "" {
			continue
		}
		rel, err := filepath.Rel(ex, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") || strings.HasSuffix(name, "~")
}

// Failure is one file that could not be warmed.
type Failure struct {
	Path string
	Err  error
}

// Summary tallies a warm run.
type Summary struct {
	Files     int
	CacheHits int
	States    map[thumbnail.State]int
	Failures  []Failure

	mu sync.Mutex
}

func newSummary() *Summary {
	return &Summary{States: make(map[thumbnail.State]int)}
}

func (s *Summary) add(path string, res thumbnail.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Files++
	if err != nil {
		s.States[thumbnail.StateOf(err)]++
		s.Failures = append(s.Failures, Failure{Path: path, Err: err})
		return
	}
	s.States[thumbnail.Completed]++
	if res.CacheHit {
		s.CacheHits++
	}
}

// TreeOptions configures WarmTree.
type TreeOptions struct {
	Filter  Filter
	Width   int
	Height  int
	Workers int
	Logger  *logging.Logger
}

// WarmTree ensures a thumbnail for every accepted file under root, at most
// Workers at a time. Per-file failures land in the summary; the error is
// only for an unreadable root or a cancelled ctx.
func WarmTree(ctx context.Context, w Warmer, root string, opts TreeOptions) (*Summary, error) {
	logger := logging.OrNop(opts.Logger)
	width, height := sizeOrDefault(opts.Width, opts.Height)
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers()
	}

	sum := newSummary()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if gctx.Err() != nil {
			return gctx.Err()
		}
		if d.IsDir() {
			if path != root && (hidden(d.Name()) || opts.Filter.Excluded(path)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !opts.Filter.Accept(path) {
			return nil
		}
		g.Go(func() error {
			res, err := w.Ensure(gctx, generator.Request{Path: path, Width: width, Height: height})
			sum.add(path, res, err)
			return nil
		})
		return nil
	})
	_ = g.Wait()

	if walkErr != nil && !errors.Is(walkErr, context.Canceled) {
		return sum, walkErr
	}
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, nil
}

func sizeOrDefault(w, h int) (int, int) {
	if w <= 0 {
		w = DefaultSize
	}
	if h <= 0 {
		h = w
	}
	return w, h
}
