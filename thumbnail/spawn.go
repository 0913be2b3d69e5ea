package thumbnail

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"go.uber.org/zap"

	"spacethumbs/logging"
)

// Job is a background regeneration request.
type Job struct {
	Path   string
	Width  int
	Height int
}

// Spawner starts a background job without waiting for it.
type Spawner interface {
	Spawn(job Job) error
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(job Job) error

func (f SpawnerFunc) Spawn(job Job) error { return f(job) }

// SelfSpawner re-executes the current binary as
// "regenerate --input <path> --width W --height H", detached from the
// caller's session or console, with no inherited stdio.
type SelfSpawner struct {
	Executable string
	// Env is appended to the current environment.
	Env    []string
	logger *logging.Logger
}

// NewSelfSpawner resolves the running executable.
func NewSelfSpawner(logger *logging.Logger) (*SelfSpawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("thumbnail: resolve executable: %w", err)
	}
	return &SelfSpawner{Executable: exe, logger: logging.OrNop(logger)}, nil
}

// Command builds the detached regeneration command for job.
func (s *SelfSpawner) Command(job Job) *exec.Cmd {
	cmd := exec.Command(s.Executable,
		"regenerate",
		"--input", job.Path,
		"--width", strconv.Itoa(job.Width),
		"--height", strconv.Itoa(job.Height),
	)
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	detach(cmd)
	return cmd
}

// Spawn starts the job and returns once the process exists. The child is
// reaped in the background so long-lived hosts do not collect zombies.
func (s *SelfSpawner) Spawn(job Job) error {
	cmd := s.Command(job)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("thumbnail: spawn regenerate: %w", err)
	}
	logging.OrNop(s.logger).Debug("spawned background regeneration",
		zap.String("path", job.Path),
		zap.Int("pid", cmd.Process.Pid))
	go func() { _ = cmd.Wait() }()
	return nil
}
