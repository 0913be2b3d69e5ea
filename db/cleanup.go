package db

import (
	"context"
	"fmt"
	"time"
)

// CleanupResult contains statistics about a cleanup operation.
type CleanupResult struct {
	// AttemptsDeleted is the number of generation_attempts rows removed
	AttemptsDeleted int64
	// Duration is how long the cleanup took
	Duration time.Duration
}

// Cleanup deletes attempts older than retentionDays and runs VACUUM to
// reclaim the space.
//
// Example:
//
//	result, err := database.Cleanup(ctx, cfg.LedgerRetentionDays)
func (d *Database) Cleanup(ctx context.Context, retentionDays int) (CleanupResult, error) {
	start := time.Now()
	var result CleanupResult

	if retentionDays < 0 {
		return result, fmt.Errorf("retentionDays must be non-negative, got %d", retentionDays)
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return result, ErrClosed
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(sqliteTime)
	res, err := d.db.ExecContext(ctx, "DELETE FROM generation_attempts WHERE created_at < ?", cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to delete old attempts: %w", err)
	}
	if result.AttemptsDeleted, err = res.RowsAffected(); err != nil {
		return result, fmt.Errorf("failed to get rows affected: %w", err)
	}

	// VACUUM cannot run inside a transaction and only pays off after deletes.
	if result.AttemptsDeleted > 0 {
		if _, err := d.db.ExecContext(ctx, "VACUUM"); err != nil {
			return result, fmt.Errorf("failed to vacuum database: %w", err)
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}
