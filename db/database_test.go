package db

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "nested", "ledger.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpenAppliesMigrations(t *testing.T) {
	d := openTestDB(t)
	var n int
	err := d.DB().QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='generation_attempts'").Scan(&n)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("generation_attempts table count = %d, want 1", n)
	}

	// Reopening an up-to-date ledger is a no-op migration.
	d2, err := Open(d.Path(), nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	d2.Close()
}

func TestMigrationVersion(t *testing.T) {
	d := openTestDB(t)
	conn, err := NewSQLiteConnection(DefaultConnectionConfig(d.Path()))
	if err != nil {
		t.Fatal(err)
	}
	v, dirty, err := MigrationVersion(conn)
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 || dirty {
		t.Errorf("MigrationVersion() = %d, %v, want 1, false", v, dirty)
	}
}

func TestCloseIdempotent(t *testing.T) {
	d := openTestDB(t)
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := d.Ping(); !errors.Is(err, ErrClosed) {
		t.Errorf("Ping after Close = %v, want ErrClosed", err)
	}
}

func TestRecordAndQueryAttempts(t *testing.T) {
	d := openTestDB(t)
	repo := NewRepository(d, nil)
	ctx := context.Background()

	attempts := []Attempt{
		{CacheKey: "aa", SourcePath: "/m/a.glb", Ext: "glb", Generator: "model3d", State: "completed", Width: 256, Height: 256, Duration: 120 * time.Millisecond},
		{CacheKey: "bb", SourcePath: "/m/b.step", Ext: "step", Generator: "model3d", State: "timed_out", Width: 256, Height: 256, ErrorMessage: "timed out"},
		{CacheKey: "cc", Ext: "xyz", State: "failed", Width: 256, Height: 256},
		{CacheKey: "dd", Ext: "png", Generator: "raster", State: "completed", Width: 64, Height: 64},
	}
	for _, a := range attempts {
		if err := repo.RecordAttempt(ctx, a); err != nil {
			t.Fatalf("RecordAttempt: %v", err)
		}
	}

	n, err := repo.CountAttempts(ctx)
	if err != nil || n != 4 {
		t.Fatalf("CountAttempts() = %d, %v, want 4", n, err)
	}

	recent, err := repo.RecentAttempts(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Fatalf("RecentAttempts(2) returned %d rows", len(recent))
	}
	if recent[0].CacheKey != "dd" {
		t.Errorf("newest attempt = %q, want dd", recent[0].CacheKey)
	}
	if recent[0].AttemptID == "" {
		t.Error("AttemptID was not generated")
	}

	all, _ := repo.RecentAttempts(ctx, 10)
	byKey := map[string]Attempt{}
	for _, a := range all {
		byKey[a.CacheKey] = a
	}
	if got := byKey["aa"].Duration; got != 120*time.Millisecond {
		t.Errorf("duration = %v, want 120ms", got)
	}
	if got := byKey["bb"].ErrorMessage; got != "timed out" {
		t.Errorf("error message = %q", got)
	}
	if got := byKey["cc"].Generator; got != "" {
		t.Errorf("generator = %q, want empty", got)
	}
	if byKey["aa"].CreatedAt.IsZero() {
		t.Error("created_at did not round-trip")
	}

	counts, err := repo.StateCounts(ctx, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]int64{"completed": 2, "timed_out": 1, "failed": 1}
	for state, n := range want {
		if counts[state] != n {
			t.Errorf("StateCounts()[%s] = %d, want %d", state, counts[state], n)
		}
	}
}

func TestStateCountsSince(t *testing.T) {
	d := openTestDB(t)
	repo := NewRepository(d, nil)
	ctx := context.Background()

	repo.RecordAttempt(ctx, Attempt{CacheKey: "old", State: "completed", Width: 1, Height: 1, CreatedAt: time.Now().Add(-72 * time.Hour)})
	repo.RecordAttempt(ctx, Attempt{CacheKey: "new", State: "completed", Width: 1, Height: 1})

	counts, err := repo.StateCounts(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if counts["completed"] != 1 {
		t.Errorf("completed since yesterday = %d, want 1", counts["completed"])
	}
}

func TestRecordAttemptAsync(t *testing.T) {
	d := openTestDB(t)
	repo := NewRepository(d, nil)
	repo.Start()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := repo.RecordAttempt(ctx, Attempt{CacheKey: "k", State: "completed", Width: 1, Height: 1}); err != nil {
			t.Fatal(err)
		}
	}
	repo.Stop(5 * time.Second)

	n, err := repo.CountAttempts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Errorf("CountAttempts() after drain = %d, want 10", n)
	}

	// After Stop, writes fall back to synchronous inserts.
	if err := repo.RecordAttempt(ctx, Attempt{CacheKey: "late", State: "failed", Width: 1, Height: 1}); err != nil {
		t.Fatal(err)
	}
	if n, _ := repo.CountAttempts(ctx); n != 11 {
		t.Errorf("CountAttempts() = %d, want 11", n)
	}
}

func TestCleanup(t *testing.T) {
	d := openTestDB(t)
	repo := NewRepository(d, nil)
	ctx := context.Background()

	repo.RecordAttempt(ctx, Attempt{CacheKey: "ancient", State: "completed", Width: 1, Height: 1, CreatedAt: time.Now().AddDate(0, 0, -30)})
	repo.RecordAttempt(ctx, Attempt{CacheKey: "recent", State: "completed", Width: 1, Height: 1})

	res, err := d.Cleanup(ctx, 14)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if res.AttemptsDeleted != 1 {
		t.Errorf("AttemptsDeleted = %d, want 1", res.AttemptsDeleted)
	}
	if n, _ := repo.CountAttempts(ctx); n != 1 {
		t.Errorf("remaining attempts = %d, want 1", n)
	}

	if _, err := d.Cleanup(ctx, -1); err == nil {
		t.Error("Cleanup(-1) succeeded")
	}
}

func TestAsyncWriterFallsBackWhenFull(t *testing.T) {
	var handled atomic.Int32
	block := make(chan struct{})
	w := NewAsyncWriter(func(ctx context.Context, n int) error {
		<-block
		handled.Add(1)
		return nil
	}, 1)

	if w.Write(1) {
		t.Error("Write succeeded before Start")
	}
	w.Start()

	queued := 0
	for i := 0; i < 5; i++ {
		if w.Write(i) {
			queued++
		}
	}
	// One item may be held by the blocked handler and one buffered.
	if queued < 1 || queued > 2 {
		t.Errorf("queued %d items into a 1-slot buffer", queued)
	}

	close(block)
	if !w.Stop(time.Second) {
		t.Fatal("Stop timed out")
	}
	if int(handled.Load()) != queued {
		t.Errorf("handled %d items, want %d", handled.Load(), queued)
	}
	if w.Write(9) {
		t.Error("Write succeeded after Stop")
	}
}
