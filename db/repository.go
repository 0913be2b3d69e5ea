package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"spacethumbs/logging"
)

// sqliteTime is the layout sqlite's CURRENT_TIMESTAMP produces.
const sqliteTime = "2006-01-02 15:04:05"

// Attempt is one row of generation_attempts: a single run of the pipeline
// for one source at one size.
type Attempt struct {
	ID           int64         // Auto-incremented primary key
	AttemptID    string        // UUID; generated when empty
	CacheKey     string        // Hex content key of the source
	SourcePath   string        // Empty for in-memory sources
	Ext          string        // Lowercased extension without dot
	Generator    string        // Selected generator; empty when none matched
	State        string        // Terminal orchestrator state
	Width        int           // Requested width
	Height       int           // Requested height
	Duration     time.Duration // Wall time from validation to outcome
	ErrorMessage string        // Set for non-completed states
	CreatedAt    time.Time     // Defaults to now
}

// Repository records and queries generation attempts.
type Repository struct {
	db     *Database
	writer *AsyncWriter[Attempt]
	logger *logging.Logger
}

// NewRepository creates a repository over db. Call Start to enable
// asynchronous writes; until then RecordAttempt writes synchronously.
func NewRepository(db *Database, logger *logging.Logger) *Repository {
	r := &Repository{db: db, logger: logging.OrNop(logger)}
	r.writer = NewAsyncWriter(func(ctx context.Context, a Attempt) error {
		if err := r.insert(ctx, a); err != nil {
			r.logger.Warn("failed to record attempt",
				zap.String("attempt_id", a.AttemptID),
				zap.Error(err))
			return err
		}
		return nil
	}, DefaultChannelCapacity)
	return r
}

// Start launches the background writer.
func (r *Repository) Start() { r.writer.Start() }

// Stop drains queued attempts, waiting at most timeout.
func (r *Repository) Stop(timeout time.Duration) {
	if !r.writer.Stop(timeout) {
		r.logger.Warn("attempt ledger did not drain in time",
			zap.Int("pending", r.writer.Pending()))
	}
}

// RecordAttempt queues a for the background writer, falling back to a
// synchronous insert when the queue is full or not running.
func (r *Repository) RecordAttempt(ctx context.Context, a Attempt) error {
	if a.AttemptID == "" {
		a.AttemptID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if r.writer.Write(a) {
		return nil
	}
	return r.insert(ctx, a)
}

func (r *Repository) insert(ctx context.Context, a Attempt) error {
	conn := r.db.DB()
	if conn == nil {
		return ErrClosed
	}

	_, err := conn.ExecContext(ctx, `
		INSERT INTO generation_attempts (
			attempt_id, cache_key, source_path, ext, generator, state,
			width, height, duration_ms, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AttemptID,
		a.CacheKey,
		nullString(a.SourcePath),
		nullString(a.Ext),
		nullString(a.Generator),
		a.State,
		a.Width,
		a.Height,
		a.Duration.Milliseconds(),
		nullString(a.ErrorMessage),
		a.CreatedAt.UTC().Format(sqliteTime),
	)
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

// RecentAttempts returns the newest attempts first.
func (r *Repository) RecentAttempts(ctx context.Context, limit int) ([]Attempt, error) {
	conn := r.db.DB()
	if conn == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT id, attempt_id, cache_key, COALESCE(source_path, ''), COALESCE(ext, ''),
		       COALESCE(generator, ''), state, width, height, duration_ms,
		       COALESCE(error_message, ''), created_at
		FROM generation_attempts
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var (
			a          Attempt
			durationMS int64
			createdAt  string
		)
		if err := rows.Scan(&a.ID, &a.AttemptID, &a.CacheKey, &a.SourcePath, &a.Ext,
			&a.Generator, &a.State, &a.Width, &a.Height, &durationMS,
			&a.ErrorMessage, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt row: %w", err)
		}
		a.Duration = time.Duration(durationMS) * time.Millisecond
		a.CreatedAt = parseTime(createdAt)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempt rows: %w", err)
	}
	return attempts, nil
}

// StateCounts returns the number of attempts per state since the given time.
// A zero since counts everything.
func (r *Repository) StateCounts(ctx context.Context, since time.Time) (map[string]int64, error) {
	conn := r.db.DB()
	if conn == nil {
		return nil, ErrClosed
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT state, COUNT(*)
		FROM generation_attempts
		WHERE created_at >= ?
		GROUP BY state`, since.UTC().Format(sqliteTime))
	if err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan state count: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// CountAttempts returns the total number of recorded attempts.
func (r *Repository) CountAttempts(ctx context.Context) (int64, error) {
	conn := r.db.DB()
	if conn == nil {
		return 0, ErrClosed
	}
	var n int64
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM generation_attempts").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return n, nil
}

// nullString stores empty strings as NULL.
func nullString(s string) any {
	if s == "" {
		return sql.NullString{}
	}
	return s
}

// parseTime accepts the layouts the sqlite driver may hand back for a
// DATETIME column.
func parseTime(s string) time.Time {
	for _, layout := range []string{sqliteTime, time.RFC3339Nano, "2006-01-02T15:04:05Z"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}
