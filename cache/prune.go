package cache

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// staleTmpAge is how old an orphaned temp file must be before Prune removes
// it. Younger ones may belong to a Put in flight.
const staleTmpAge = time.Hour

// Policy bounds the cache. Zero fields disable the corresponding rule.
type Policy struct {
	MaxAge   time.Duration
	MaxBytes int64
}

// PruneResult summarises a Prune pass.
type PruneResult struct {
	Scanned     int
	RemovedAge  int
	RemovedSize int
	RemovedTemp int
	BytesFreed  int64
	BytesRemain int64
	EntriesKept int
}

// Removed returns the total number of deleted entries.
func (r PruneResult) Removed() int { return r.RemovedAge + r.RemovedSize }

type entry struct {
	path    string
	size    int64
	modTime time.Time
}

// Prune deletes entries older than MaxAge, then the least recently used
// entries until the total size is at most MaxBytes, then orphaned temp
// files. It stops early, returning ctx.Err(), when ctx ends.
func (c *Cache) Prune(ctx context.Context, p Policy) (PruneResult, error) {
	var res PruneResult
	now := time.Now()

	dirents, err := os.ReadDir(c.dir)
	if err != nil {
		return res, err
	}

	var entries []entry
	for _, de := range dirents {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		name := de.Name()
		full := filepath.Join(c.dir, name)

		switch {
		case strings.HasPrefix(name, tmpPrefix):
			if now.Sub(info.ModTime()) > staleTmpAge && c.remove(full) {
				res.RemovedTemp++
			}
		case strings.HasSuffix(name, entryExt):
			res.Scanned++
			if _, err := ParseKey(strings.TrimSuffix(name, entryExt)); err != nil {
				continue
			}
			entries = append(entries, entry{path: full, size: info.Size(), modTime: info.ModTime()})
		}
	}

	var total int64
	kept := entries[:0]
	for _, e := range entries {
		if p.MaxAge > 0 && now.Sub(e.modTime) > p.MaxAge {
			if c.remove(e.path) {
				res.RemovedAge++
				res.BytesFreed += e.size
			}
			continue
		}
		kept = append(kept, e)
		total += e.size
	}

	if p.MaxBytes > 0 && total > p.MaxBytes {
		sort.Slice(kept, func(i, j int) bool { return kept[i].modTime.Before(kept[j].modTime) })
		i := 0
		for ; i < len(kept) && total > p.MaxBytes; i++ {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if c.remove(kept[i].path) {
				res.RemovedSize++
				res.BytesFreed += kept[i].size
				total -= kept[i].size
			}
		}
		kept = kept[i:]
	}

	res.BytesRemain = total
	res.EntriesKept = len(kept)
	c.logger.Info("pruned thumbnail cache",
		zap.String("dir", c.dir),
		zap.Int("scanned", res.Scanned),
		zap.Int("removed", res.Removed()),
		zap.Int("removed_temp", res.RemovedTemp),
		zap.Int64("bytes_freed", res.BytesFreed),
		zap.Int64("bytes_remaining", res.BytesRemain))
	return res, nil
}

func (c *Cache) remove(path string) bool {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("failed to remove cache file", zap.String("path", path), zap.Error(err))
		return false
	}
	return true
}
