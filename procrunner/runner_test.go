package procrunner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeGroup stands in for the OS resource group and kills its members on
// Close.
type fakeGroup struct {
	mu       sync.Mutex
	procs    []*os.Process
	prepared bool
	closed   int
}

func (g *fakeGroup) Prepare(*exec.Cmd) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prepared = true
	return nil
}

func (g *fakeGroup) Attach(p *os.Process) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.procs = append(g.procs, p)
	return nil
}

func (g *fakeGroup) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed++
	for _, p := range g.procs {
		_ = p.Kill()
	}
	g.procs = nil
	return nil
}

func newTestRunner(t *testing.T, g *fakeGroup) *Runner {
	t.Helper()
	return &Runner{
		MemoryLimit: DefaultMemoryLimit,
		NewGroup:    func(int64) (Group, error) { return g, nil },
		TempDir:     t.TempDir(),
	}
}

func helperCommand(mode string, env ...string) Command {
	return Command{
		Path:      os.Args[0],
		Args:      []string{"-test.run=TestHelperProcess", "--", "{input}", "{output}"},
		Env:       append([]string{"GO_WANT_HELPER_PROCESS=1", "HELPER_MODE=" + mode}, env...),
		OutputExt: "png",
	}
}

// TestHelperProcess is the fake converter run by the tests below.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	in := os.Getenv(DefaultInputEnv)
	out := os.Getenv(DefaultOutputEnv)
	if record := os.Getenv("HELPER_RECORD"); record != "" {
		_ = os.WriteFile(record, []byte(in+"\n"+out), 0600)
	}

	switch os.Getenv("HELPER_MODE") {
	case "write":
		if !filepath.IsAbs(in) || !filepath.IsAbs(out) {
			fmt.Fprintln(os.Stderr, "paths are not absolute")
			os.Exit(2)
		}
		data, err := os.ReadFile(in)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		if err := os.WriteFile(out, append([]byte("converted:"), data...), 0600); err != nil {
			os.Exit(2)
		}
	case "fail":
		fmt.Fprintln(os.Stderr, "boom")
		os.Exit(3)
	case "empty":
	case "sleep":
		time.Sleep(30 * time.Second)
	}
	os.Exit(0)
}

func TestConvertWritesOutput(t *testing.T) {
	g := &fakeGroup{}
	r := newTestRunner(t, g)
	record := filepath.Join(t.TempDir(), "record")

	out, err := r.Convert(context.Background(), helperCommand("write", "HELPER_RECORD="+record),
		Input{Data: []byte("abc"), Ext: "step"})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if string(out) != "converted:abc" {
		t.Errorf("output = %q", out)
	}
	if !g.prepared {
		t.Error("group was not prepared")
	}
	if g.closed == 0 {
		t.Error("group was not closed")
	}

	paths, err := os.ReadFile(record)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	lines := strings.Split(string(paths), "\n")
	if len(lines) != 2 {
		t.Fatalf("record = %q", paths)
	}
	if !strings.HasSuffix(lines[0], "input.step") {
		t.Errorf("input path = %q", lines[0])
	}
	if filepath.Ext(lines[1]) != ".png" {
		t.Errorf("output path = %q", lines[1])
	}
	if _, err := os.Stat(lines[1]); !os.IsNotExist(err) {
		t.Errorf("output file still exists: %v", err)
	}
}

func TestConvertUsesExistingPath(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "part.obj")
	if err := os.WriteFile(src, []byte("v 0 0 0"), 0600); err != nil {
		t.Fatal(err)
	}
	record := filepath.Join(dir, "record")

	r := newTestRunner(t, &fakeGroup{})
	if _, err := r.Convert(context.Background(), helperCommand("write", "HELPER_RECORD="+record), Input{Path: src}); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	paths, _ := os.ReadFile(record)
	lines := strings.Split(string(paths), "\n")
	if lines[0] != src {
		t.Errorf("input path = %q, want %q", lines[0], src)
	}
	if filepath.Base(lines[1]) != "part.png" {
		t.Errorf("output name = %q, want part.png", filepath.Base(lines[1]))
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("source was removed: %v", err)
	}
}

func TestConvertFailsClosed(t *testing.T) {
	record := filepath.Join(t.TempDir(), "record")
	r := &Runner{
		NewGroup: func(int64) (Group, error) { return nil, errors.New("no delegation") },
		TempDir:  t.TempDir(),
	}

	_, err := r.Convert(context.Background(), helperCommand("write", "HELPER_RECORD="+record), Input{Data: []byte("x")})
	var f *Failure
	if !errors.As(err, &f) || f.Stage != StageGroup {
		t.Fatalf("err = %v, want group failure", err)
	}
	if !errors.Is(err, ErrResourceLimitUnavailable) {
		t.Errorf("err = %v, want ErrResourceLimitUnavailable", err)
	}
	if _, err := os.Stat(record); !os.IsNotExist(err) {
		t.Error("converter ran without a resource group")
	}
}

func TestConvertFailures(t *testing.T) {
	tests := []struct {
		name  string
		mode  string
		stage Stage
		code  int
	}{
		{name: "non-zero exit", mode: "fail", stage: StageExit, code: 3},
		{name: "no output", mode: "empty", stage: StageOutput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRunner(t, &fakeGroup{})
			out, err := r.Convert(context.Background(), helperCommand(tt.mode), Input{Data: []byte("x")})
			if out != nil {
				t.Errorf("output = %q, want nil", out)
			}
			var f *Failure
			if !errors.As(err, &f) {
				t.Fatalf("err = %v, want *Failure", err)
			}
			if f.Stage != tt.stage {
				t.Errorf("stage = %s, want %s", f.Stage, tt.stage)
			}
			if tt.code != 0 && f.ExitCode != tt.code {
				t.Errorf("exit code = %d, want %d", f.ExitCode, tt.code)
			}
			if tt.mode == "fail" && !strings.Contains(f.Stderr, "boom") {
				t.Errorf("stderr = %q", f.Stderr)
			}
		})
	}
}

func TestConvertTimeout(t *testing.T) {
	g := &fakeGroup{}
	r := newTestRunner(t, g)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Convert(ctx, helperCommand("sleep"), Input{Data: []byte("x")})
	elapsed := time.Since(start)

	var f *Failure
	if !errors.As(err, &f) || f.Stage != StageTimeout {
		t.Fatalf("err = %v, want timeout failure", err)
	}
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v", err)
	}
	if elapsed > 10*time.Second {
		t.Errorf("Convert took %v after the deadline", elapsed)
	}
}

func TestConvertRequiresInput(t *testing.T) {
	r := newTestRunner(t, &fakeGroup{})
	_, err := r.Convert(context.Background(), helperCommand("write"), Input{})
	if !errors.Is(err, ErrNoInput) {
		t.Errorf("err = %v, want ErrNoInput", err)
	}
}

func TestExpandArgs(t *testing.T) {
	got := expandArgs([]string{"--in={input}", "{output}", "-o", "{outdir}", "plain"}, "/a/in.step", "/w/in.glb", "/w")
	want := []string{"--in=/a/in.step", "/w/in.glb", "-o", "/w", "plain"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(8)
	fmt.Fprint(b, "hello ")
	fmt.Fprint(b, "world")
	if got := b.String(); got != "lo world" {
		t.Errorf("tail = %q, want %q", got, "lo world")
	}
	fmt.Fprint(b, "0123456789")
	if got := b.String(); got != "23456789" {
		t.Errorf("tail = %q, want %q", got, "23456789")
	}
}

func TestPlatformGroupMemoryLimit(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "windows" {
		t.Skip("no resource groups on " + runtime.GOOS)
	}
	g, err := PlatformGroups(os.Getenv("SPACETHUMBS_CGROUP_PARENT"))(64 * 1024 * 1024)
	if err != nil {
		t.Skipf("resource groups unavailable: %v", err)
	}
	if err := g.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := g.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
