package shutdown

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"spacethumbs/core"
	"spacethumbs/logging"
	"spacethumbs/procrunner"
)

// CleanupWorkDirs returns a handler that removes converter scratch
// directories under dir (the system temp directory when empty) older than
// olderThan. A converter killed along with its host leaves one behind.
//
// Usage:
//
//	m.Register("scratch", shutdown.PriorityScratch, shutdown.CleanupWorkDirs(logger, "", time.Hour))
func CleanupWorkDirs(logger *logging.Logger, dir string, olderThan time.Duration) core.ShutdownFunc {
	return func(ctx context.Context) error {
		RemoveStaleWorkDirs(ctx, logger, dir, olderThan)
		return nil
	}
}

// RemoveStaleWorkDirs deletes the stale scratch directories and returns how
// many went. Failures are logged and skipped; directories younger than
// olderThan may belong to a conversion still running in another process.
func RemoveStaleWorkDirs(ctx context.Context, logger *logging.Logger, dir string, olderThan time.Duration) int {
	logger = logging.OrNop(logger)
	if dir == "" {
		dir = os.TempDir()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("cannot list scratch directory", zap.String("dir", dir), zap.Error(err))
		}
		return 0
	}

	cutoff := time.Now().Add(-olderThan)
	removed, failed := 0, 0
	for _, e := range entries {
		if ctx.Err() != nil {
			logger.Warn("scratch cleanup interrupted", zap.Int("removed", removed))
			return removed
		}
		if !e.IsDir() || !strings.HasPrefix(e.Name(), procrunner.WorkDirPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			failed++
			logger.Warn("failed to remove scratch directory", zap.String("name", e.Name()), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 || failed > 0 {
		logger.Info("removed stale converter scratch",
			zap.String("dir", dir),
			zap.Int("removed", removed),
			zap.Int("failed", failed))
	}
	return removed
}
