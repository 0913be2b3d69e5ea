//go:build linux

package procrunner

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const cgroupRoot = "/sys/fs/cgroup"

// PlatformGroups returns a factory of cgroup v2 groups created under parent,
// or under the calling process's own cgroup when parent is empty. The
// parent must be delegated to the current user with the memory controller
// available.
func PlatformGroups(parent string) GroupFactory {
	return func(memoryLimit int64) (Group, error) {
		return newCgroup(parent, memoryLimit)
	}
}

type cgroup struct {
	dir string
	fd  int

	once     sync.Once
	closeErr error
}

func newCgroup(parent string, memoryLimit int64) (*cgroup, error) {
	if parent == "" {
		self, err := selfCgroup()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrResourceLimitUnavailable, err)
		}
		parent = self
	}

	var st unix.Statfs_t
	if err := unix.Statfs(parent, &st); err != nil {
		return nil, fmt.Errorf("%w: statfs %s: %v", ErrResourceLimitUnavailable, parent, err)
	}
	if st.Type != unix.CGROUP2_SUPER_MAGIC {
		return nil, fmt.Errorf("%w: %s is not a cgroup v2 mount", ErrResourceLimitUnavailable, parent)
	}

	// Best effort: the controller may already be enabled, or the parent may
	// hold processes, in which case memory.max below will be missing.
	_ = os.WriteFile(filepath.Join(parent, "cgroup.subtree_control"), []byte("+memory"), 0)

	dir := filepath.Join(parent, "spacethumbs-"+uuid.NewString())
	if err := os.Mkdir(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResourceLimitUnavailable, err)
	}
	g := &cgroup{dir: dir, fd: -1}

	if err := g.write("memory.max", strconv.FormatInt(memoryLimit, 10)); err != nil {
		_ = os.Remove(dir)
		return nil, fmt.Errorf("%w: %v", ErrResourceLimitUnavailable, err)
	}
	if err := g.write("memory.swap.max", "0"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_ = os.Remove(dir)
		return nil, fmt.Errorf("%w: %v", ErrResourceLimitUnavailable, err)
	}

	fd, err := unix.Open(dir, unix.O_PATH|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		_ = os.Remove(dir)
		return nil, fmt.Errorf("%w: open %s: %v", ErrResourceLimitUnavailable, dir, err)
	}
	g.fd = fd
	return g, nil
}

// Prepare makes the child start directly inside the cgroup, so it is never
// observable outside the limit.
func (g *cgroup) Prepare(cmd *exec.Cmd) error {
	if g.fd < 0 {
		return errors.New("cgroup already closed")
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.UseCgroupFD = true
	cmd.SysProcAttr.CgroupFD = g.fd
	cmd.SysProcAttr.Pdeathsig = syscall.SIGKILL
	return nil
}

// Attach verifies the started process landed in the cgroup.
func (g *cgroup) Attach(p *os.Process) error {
	pids, err := g.pids()
	if err != nil {
		return err
	}
	for _, pid := range pids {
		if pid == p.Pid {
			return nil
		}
	}
	// The child may already have exited; that is not a membership failure.
	if err := p.Signal(syscall.Signal(0)); err != nil {
		return nil
	}
	return fmt.Errorf("pid %d is not a member of %s", p.Pid, g.dir)
}

// Close kills every member and removes the cgroup.
func (g *cgroup) Close() error {
	g.once.Do(func() {
		g.closeErr = g.close()
	})
	return g.closeErr
}

func (g *cgroup) close() error {
	if err := g.write("cgroup.kill", "1"); err != nil {
		// cgroup.kill needs Linux 5.14.
		pids, _ := g.pids()
		for _, pid := range pids {
			_ = unix.Kill(pid, unix.SIGKILL)
		}
	}
	if g.fd >= 0 {
		_ = unix.Close(g.fd)
		g.fd = -1
	}

	// rmdir fails with EBUSY until the killed members are reaped.
	var err error
	for i := 0; i < 50; i++ {
		if err = unix.Rmdir(g.dir); err == nil || errors.Is(err, unix.ENOENT) {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("remove cgroup %s: %w", g.dir, err)
}

func (g *cgroup) write(name, value string) error {
	return os.WriteFile(filepath.Join(g.dir, name), []byte(value), 0)
}

func (g *cgroup) pids() ([]int, error) {
	data, err := os.ReadFile(filepath.Join(g.dir, "cgroup.procs"))
	if err != nil {
		return nil, err
	}
	var pids []int
	for _, f := range strings.Fields(string(data)) {
		if pid, err := strconv.Atoi(f); err == nil {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

// selfCgroup resolves the unified-hierarchy cgroup of this process.
func selfCgroup() (string, error) {
	data, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return "", err
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if rel, ok := strings.CutPrefix(sc.Text(), "0::"); ok {
			return filepath.Join(cgroupRoot, rel), nil
		}
	}
	return "", errors.New("no cgroup v2 entry in /proc/self/cgroup")
}
