// Package cache stores generated thumbnails as PNG files named by the
// content key of their source.
//
// The cache is append-only by key. Writers race with last-writer-wins and
// readers only ever observe complete files, so no locking is needed.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"spacethumbs/core"
	"spacethumbs/logging"
)

// ErrNoCacheDir is returned when no per-user state directory resolves.
var ErrNoCacheDir = errors.New("cache: no cache directory")

const (
	entryExt  = ".png"
	tmpPrefix = ".tmp-"
)

// DefaultDir returns <state>/spacethumbs/cache.
func DefaultDir() (string, error) {
	dir, err := core.GetStateFilePath("cache")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCacheDir, err)
	}
	return dir, nil
}

// Cache is the on-disk thumbnail store.
type Cache struct {
	dir    string
	logger *logging.Logger
}

// New opens the cache in dir, creating it if needed.
func New(dir string, logger *logging.Logger) (*Cache, error) {
	if dir == "" {
		return nil, ErrNoCacheDir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cache: create %s: %w", dir, err)
	}
	return &Cache{dir: dir, logger: logging.OrNop(logger)}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Path returns the entry file for key.
func (c *Cache) Path(key Key) string {
	return filepath.Join(c.dir, key.String()+entryExt)
}

// Get returns the PNG stored for key. A missing entry is a miss, not an
// error. A hit refreshes the entry's mtime so pruning evicts the least
// recently used entries first.
func (c *Cache) Get(key Key) ([]byte, bool, error) {
	p := c.Path(key)
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: read %s: %w", key, err)
	}
	if len(data) == 0 {
		return nil, false, nil
	}

	now := time.Now()
	if err := os.Chtimes(p, now, now); err != nil {
		c.logger.Debug("failed to touch cache entry", zap.String("key", key.String()), zap.Error(err))
	}
	return data, true, nil
}

// Put stores png for key through a temp file and a rename in the same
// directory.
func (c *Cache) Put(key Key, png []byte) error {
	tmp, err := os.CreateTemp(c.dir, tmpPrefix+key.String()+"-*")
	if err != nil {
		return fmt.Errorf("cache: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(png); err != nil {
		tmp.Close()
		return fmt.Errorf("cache: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, c.Path(key)); err != nil {
		return fmt.Errorf("cache: commit %s: %w", key, err)
	}

	c.logger.Debug("cached thumbnail",
		zap.String("key", key.String()),
		zap.Int("bytes", len(png)))
	return nil
}

// Has reports whether an entry exists for key.
func (c *Cache) Has(key Key) bool {
	info, err := os.Stat(c.Path(key))
	return err == nil && info.Size() > 0
}
