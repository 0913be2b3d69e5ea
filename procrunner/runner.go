// Package procrunner runs external converter processes inside an OS
// resource group with a memory ceiling and kill-all-on-close semantics.
//
// The runner fails closed: when the platform cannot provide the resource
// group, nothing is spawned.
package procrunner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"spacethumbs/core"
	"spacethumbs/logging"
)

var (
	// ErrResourceLimitUnavailable is returned when the resource group cannot be
	// created. No process is started.
	ErrResourceLimitUnavailable = errors.New("procrunner: resource limit unavailable")

	// ErrNoInput is returned when Input carries neither a path nor bytes.
	ErrNoInput = errors.New("procrunner: input has neither path nor data")

	// ErrNoOutput is returned when the converter exits cleanly without
	// writing a non-empty output file.
	ErrNoOutput = errors.New("procrunner: converter produced no output")

	// ErrTimeout is returned when ctx ends before the converter exits.
	ErrTimeout = errors.New("procrunner: converter killed on deadline")
)

// Environment variables that carry absolute paths to the converter.
const (
	DefaultInputEnv  = "SPACETHUMBS_INPUT"
	DefaultOutputEnv = "SPACETHUMBS_OUTPUT"
)

// DefaultMemoryLimit is the per-conversion ceiling: 2560 MiB.
const DefaultMemoryLimit int64 = 2560 * core.BytesPerMB

// WorkDirPrefix names the private scratch directory of each conversion.
const WorkDirPrefix = "spacethumbs-conv-"

// stderrTail is how much converter stderr is kept for failure reports.
const stderrTail = 4 * 1024

// Stage names the step of Convert that failed.
type Stage string

const (
	StageGroup      Stage = "group"
	StageInput      Stage = "input"
	StageSpawn      Stage = "spawn"
	StageMembership Stage = "membership"
	StageTimeout    Stage = "timeout"
	StageExit       Stage = "exit"
	StageOutput     Stage = "output"
)

// Failure is the typed error returned by Convert. No partial output is ever
// returned alongside it.
type Failure struct {
	Stage    Stage
	ExitCode int    // set for StageExit
	Stderr   string // tail of the converter's stderr, when it ran
	Err      error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("converter %s failed", f.Stage)
	if f.Stage == StageExit {
		msg += fmt.Sprintf(" with code %d", f.ExitCode)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// Command is an external converter invocation. Args may contain {input},
// {output} and {outdir}, expanded to the same absolute paths exported
// through the environment.
type Command struct {
	Path      string
	Args      []string
	Env       []string // extra KEY=VALUE pairs
	OutputExt string   // extension of the file the converter writes, no dot
}

// CommandFor builds a Command from a configured converter.
func CommandFor(cfg core.ConverterConfig) Command {
	return Command{
		Path:      cfg.Command,
		Args:      append([]string(nil), cfg.Args...),
		Env:       append([]string(nil), cfg.Env...),
		OutputExt: strings.TrimPrefix(strings.ToLower(cfg.Output), "."),
	}
}

// Input is the file to convert: an existing path, or bytes that are written
// to the private work directory first.
type Input struct {
	Path string
	Data []byte
	Ext  string
}

// Group is an OS resource-control group. Prepare runs before the process
// starts, Attach right after. Close kills every member and releases the
// group; it is safe to call more than once.
type Group interface {
	Prepare(cmd *exec.Cmd) error
	Attach(p *os.Process) error
	Close() error
}

// GroupFactory creates a group with the given memory ceiling in bytes.
type GroupFactory func(memoryLimit int64) (Group, error)

// Options configures New.
type Options struct {
	MemoryLimit int64
	// CgroupParent is a delegated cgroup v2 directory on Linux. Empty means
	// the process's own cgroup.
	CgroupParent string
	TempDir      string
}

// Runner spawns converters under resource limits.
type Runner struct {
	MemoryLimit int64
	NewGroup    GroupFactory
	InputEnv    string
	OutputEnv   string
	TempDir     string

	logger *logging.Logger
}

// New creates a Runner backed by the platform's resource groups.
func New(opts Options, logger *logging.Logger) *Runner {
	limit := opts.MemoryLimit
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &Runner{
		MemoryLimit: limit,
		NewGroup:    PlatformGroups(opts.CgroupParent),
		InputEnv:    DefaultInputEnv,
		OutputEnv:   DefaultOutputEnv,
		TempDir:     opts.TempDir,
		logger:      logging.OrNop(logger),
	}
}

// Convert runs cmd on in and returns the bytes of the converter's output
// file. The output file and the work directory are removed before return.
// When ctx ends first the whole group is killed.
func (r *Runner) Convert(ctx context.Context, cmd Command, in Input) ([]byte, error) {
	logger := logging.OrNop(r.logger)
	if in.Path == "" && in.Data == nil {
		return nil, &Failure{Stage: StageInput, Err: ErrNoInput}
	}

	newGroup := r.NewGroup
	if newGroup == nil {
		newGroup = PlatformGroups("")
	}
	group, err := newGroup(r.MemoryLimit)
	if err != nil {
		if !errors.Is(err, ErrResourceLimitUnavailable) {
			err = fmt.Errorf("%w: %v", ErrResourceLimitUnavailable, err)
		}
		logger.Warn("refusing to spawn converter without resource limits",
			zap.String("command", cmd.Path),
			zap.Error(err))
		return nil, &Failure{Stage: StageGroup, Err: err}
	}
	defer func() {
		if err := group.Close(); err != nil {
			logger.Warn("failed to close resource group", zap.Error(err))
		}
	}()

	workDir, err := os.MkdirTemp(r.TempDir, WorkDirPrefix)
	if err != nil {
		return nil, &Failure{Stage: StageInput, Err: err}
	}
	defer os.RemoveAll(workDir)

	inputPath, err := r.stageInput(workDir, in)
	if err != nil {
		return nil, &Failure{Stage: StageInput, Err: err}
	}
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	outputPath := filepath.Join(workDir, stem+"."+cmd.OutputExt)

	proc := exec.Command(cmd.Path, expandArgs(cmd.Args, inputPath, outputPath, workDir)...)
	proc.Dir = workDir
	proc.Env = append(os.Environ(), cmd.Env...)
	proc.Env = append(proc.Env, r.inputEnv()+"="+inputPath, r.outputEnv()+"="+outputPath)
	tail := newTailBuffer(stderrTail)
	proc.Stderr = tail

	if err := group.Prepare(proc); err != nil {
		return nil, &Failure{Stage: StageMembership, Err: err}
	}

	start := time.Now()
	if err := proc.Start(); err != nil {
		return nil, &Failure{Stage: StageSpawn, Err: err}
	}
	if err := group.Attach(proc.Process); err != nil {
		_ = proc.Process.Kill()
		_ = proc.Wait()
		return nil, &Failure{Stage: StageMembership, Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()

	select {
	case <-ctx.Done():
		if err := group.Close(); err != nil {
			logger.Warn("failed to kill resource group", zap.Error(err))
			_ = proc.Process.Kill()
		}
		<-done
		logger.Warn("converter killed",
			zap.String("command", cmd.Path),
			zap.Duration("elapsed", time.Since(start)))
		return nil, &Failure{Stage: StageTimeout, Stderr: tail.String(), Err: errors.Join(ErrTimeout, ctx.Err())}
	case err := <-done:
		if err != nil {
			code := -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			}
			return nil, &Failure{Stage: StageExit, ExitCode: code, Stderr: tail.String(), Err: err}
		}
	}

	out, err := os.ReadFile(outputPath)
	_ = os.Remove(outputPath)
	if err != nil || len(out) == 0 {
		if err == nil {
			err = ErrNoOutput
		} else {
			err = fmt.Errorf("%w: %v", ErrNoOutput, err)
		}
		return nil, &Failure{Stage: StageOutput, Stderr: tail.String(), Err: err}
	}

	logger.Debug("converter finished",
		zap.String("command", cmd.Path),
		zap.Int("bytes", len(out)),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

func (r *Runner) stageInput(workDir string, in Input) (string, error) {
	if in.Path != "" {
		abs, err := filepath.Abs(in.Path)
		if err != nil {
			return "", err
		}
		return abs, nil
	}
	ext := strings.TrimPrefix(in.Ext, ".")
	if ext == "" {
		ext = "bin"
	}
	p := filepath.Join(workDir, "input."+ext)
	if err := os.WriteFile(p, in.Data, 0600); err != nil {
		return "", err
	}
	return p, nil
}

func (r *Runner) inputEnv() string {
	if r.InputEnv == "" {
		return DefaultInputEnv
	}
	return r.InputEnv
}

func (r *Runner) outputEnv() string {
	if r.OutputEnv == "" {
		return DefaultOutputEnv
	}
	return r.OutputEnv
}

func expandArgs(args []string, input, output, outdir string) []string {
	rep := strings.NewReplacer("{input}", input, "{output}", output, "{outdir}", outdir)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = rep.Replace(a)
	}
	return out
}
