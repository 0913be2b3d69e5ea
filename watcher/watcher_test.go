package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"spacethumbs/generator"
	"spacethumbs/thumbnail"
)

type fakeWarmer struct {
	mu    sync.Mutex
	reqs  []generator.Request
	calls chan string
	fail  map[string]error
	hit   map[string]bool
}

func newFakeWarmer() *fakeWarmer {
	return &fakeWarmer{calls: make(chan string, 64), fail: map[string]error{}, hit: map[string]bool{}}
}

func (f *fakeWarmer) Ensure(_ context.Context, req generator.Request) (thumbnail.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	err, hit := f.fail[filepath.Base(req.Path)], f.hit[filepath.Base(req.Path)]
	f.mu.Unlock()
	f.calls <- req.Path
	if err != nil {
		return thumbnail.Result{}, err
	}
	return thumbnail.Result{State: thumbnail.Completed, CacheHit: hit}, nil
}

func (f *fakeWarmer) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.reqs {
		out = append(out, filepath.Base(r.Path))
	}
	slices.Sort(out)
	return out
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func testFilter(exclude ...string) Filter {
	return Filter{Registry: generator.NewRegistry(generator.NewText()), Exclude: exclude}
}

func TestFilterAccept(t *testing.T) {
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")
	write(t, filepath.Join(dir, "notes.txt"), "hello")
	write(t, filepath.Join(dir, "image.xyz"), "hello")
	write(t, filepath.Join(dir, ".hidden.txt"), "hello")
	write(t, filepath.Join(dir, "empty.txt"), "")
	write(t, filepath.Join(cacheDir, "entry.txt"), "hello")

	f := testFilter(cacheDir)
	tests := map[string]bool{
		"notes.txt":       true,
		"image.xyz":       false,
		".hidden.txt":     false,
		"empty.txt":       false,
		"cache/entry.txt": false,
		"missing.txt":     false,
	}
	for name, want := range tests {
		if got := f.Accept(filepath.Join(dir, name)); got != want {
			t.Errorf("Accept(%s) = %v, want %v", name, got, want)
		}
	}

	f.MaxBytes = 3
	if f.Accept(filepath.Join(dir, "notes.txt")) {
		t.Error("Accept ignored MaxBytes")
	}
}

func TestWarmTree(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "a.txt"), "a")
	write(t, filepath.Join(dir, "sub", "b.md"), "b")
	write(t, filepath.Join(dir, "sub", "c.log"), "c")
	write(t, filepath.Join(dir, "sub", "skip.bin"), "x")
	write(t, filepath.Join(dir, ".git", "d.txt"), "d")

	w := newFakeWarmer()
	w.fail["c.log"] = &thumbnail.Error{State: thumbnail.TimedOut, Err: thumbnail.ErrTimedOut}
	w.hit["a.txt"] = true

	sum, err := WarmTree(context.Background(), w, dir, TreeOptions{Filter: testFilter(), Width: 64, Workers: 2})
	if err != nil {
		t.Fatalf("WarmTree: %v", err)
	}
	if got := w.paths(); !slices.Equal(got, []string{"a.txt", "b.md", "c.log"}) {
		t.Errorf("warmed %v", got)
	}
	for _, r := range w.reqs {
		if r.Width != 64 || r.Height != 64 {
			t.Errorf("request size %dx%d, want 64x64", r.Width, r.Height)
		}
	}
	if sum.Files != 3 || sum.CacheHits != 1 {
		t.Errorf("Files=%d CacheHits=%d", sum.Files, sum.CacheHits)
	}
	if sum.States[thumbnail.Completed] != 2 || sum.States[thumbnail.TimedOut] != 1 {
		t.Errorf("States = %v", sum.States)
	}
	if len(sum.Failures) != 1 || !errors.Is(sum.Failures[0].Err, thumbnail.ErrTimedOut) {
		t.Errorf("Failures = %v", sum.Failures)
	}

	if _, err := WarmTree(context.Background(), w, filepath.Join(dir, "missing"), TreeOptions{}); err == nil {
		t.Error("missing root did not fail")
	}
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the warmer")
		return ""
	}
}

func TestPrewarmDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")
	if err := os.Mkdir(cacheDir, 0755); err != nil {
		t.Fatal(err)
	}

	w := newFakeWarmer()
	p := New(w, Options{
		Roots:    []string{dir},
		Filter:   testFilter(cacheDir),
		Debounce: 100 * time.Millisecond,
		Workers:  1,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case <-p.Ready():
	case err := <-done:
		t.Fatalf("Run exited early: %v", err)
	}

	target := filepath.Join(dir, "draft.txt")
	for i := 0; i < 5; i++ {
		write(t, target, "revision")
	}
	write(t, filepath.Join(cacheDir, "ignored.txt"), "x")

	if got := waitFor(t, w.calls); got != target {
		t.Errorf("warmed %s, want %s", got, target)
	}
	select {
	case extra := <-w.calls:
		t.Errorf("unexpected second warm of %s", extra)
	case <-time.After(400 * time.Millisecond):
	}

	// Directories created after start are watched too.
	nested := filepath.Join(dir, "new", "part.md")
	if err := os.Mkdir(filepath.Dir(nested), 0755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	write(t, nested, "# part")
	if got := waitFor(t, w.calls); got != nested {
		t.Errorf("warmed %s, want %s", got, nested)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v", err)
	}
	if p.Warmed() != 2 {
		t.Errorf("Warmed() = %d, want 2", p.Warmed())
	}
}

func TestScheduleQueuesOncePerSettle(t *testing.T) {
	tests := []struct {
		name string
		run  func(p *Prewarm)
		want int
	}{
		{"rapid reschedules", func(p *Prewarm) {
			for i := 0; i < 50; i++ {
				p.schedule("model.step")
			}
		}, 1},
		{"stale timer fires after reschedule", func(p *Prewarm) {
			p.schedule("model.step")
			p.mu.Lock()
			stale := p.pending["model.step"].gen
			p.mu.Unlock()
			p.schedule("model.step")
			p.settle("model.step", stale)
		}, 1},
		{"settle after stop", func(p *Prewarm) {
			p.schedule("model.step")
			p.stopTimers()
			p.settle("model.step", 1)
		}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(newFakeWarmer(), Options{Debounce: 20 * time.Millisecond})
			tt.run(p)
			time.Sleep(150 * time.Millisecond)
			if got := len(p.queue); got != tt.want {
				t.Errorf("queued %d paths, want %d", got, tt.want)
			}
		})
	}
}

func TestPrewarmNoRoots(t *testing.T) {
	p := New(newFakeWarmer(), Options{Roots: []string{filepath.Join(t.TempDir(), "missing")}})
	if err := p.Run(context.Background()); err == nil {
		t.Error("Run with no watchable root returned nil")
	}
}

func TestDefaultWorkers(t *testing.T) {
	if DefaultWorkers() < 1 {
		t.Error("DefaultWorkers() < 1")
	}
}
