package executor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunOutcomes(t *testing.T) {
	errBoom := errors.New("boom")
	tests := []struct {
		name   string
		work   func(context.Context) (int, error)
		status Status
	}{
		{
			name:   "completed",
			work:   func(context.Context) (int, error) { return 42, nil },
			status: Completed,
		},
		{
			name:   "failed",
			work:   func(context.Context) (int, error) { return 0, errBoom },
			status: Failed,
		},
		{
			name:   "panicked",
			work:   func(context.Context) (int, error) { panic("kaboom") },
			status: Panicked,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Run(context.Background(), Options{Limit: time.Second, PollInterval: time.Millisecond}, tt.work)
			if out.Status != tt.status {
				t.Fatalf("Status = %v, want %v", out.Status, tt.status)
			}
			switch tt.status {
			case Completed:
				if out.Value != 42 {
					t.Errorf("Value = %d, want 42", out.Value)
				}
			case Failed:
				if !errors.Is(out.Err, errBoom) {
					t.Errorf("Err = %v, want %v", out.Err, errBoom)
				}
			case Panicked:
				if out.Panic != "kaboom" {
					t.Errorf("Panic = %v, want kaboom", out.Panic)
				}
				if len(out.Stack) == 0 {
					t.Error("Stack is empty")
				}
			}
		})
	}
}

func TestRunTimesOutWithinPollInterval(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	limit := 100 * time.Millisecond
	poll := 10 * time.Millisecond
	before := Abandoned()

	start := time.Now()
	out := Run(context.Background(), Options{Limit: limit, PollInterval: poll}, func(context.Context) (struct{}, error) {
		<-release
		return struct{}{}, nil
	})
	elapsed := time.Since(start)

	if out.Status != TimedOut {
		t.Fatalf("Status = %v, want %v", out.Status, TimedOut)
	}
	if elapsed < limit {
		t.Errorf("returned after %v, before the %v limit", elapsed, limit)
	}
	if elapsed > limit+poll+200*time.Millisecond {
		t.Errorf("returned after %v, want about %v", elapsed, limit)
	}
	if got := Abandoned(); got != before+1 {
		t.Errorf("Abandoned() = %d, want %d", got, before+1)
	}
}

func TestRunCancelsWorkContextOnTimeout(t *testing.T) {
	cancelled := make(chan struct{})
	out := Run(context.Background(), Options{Limit: 30 * time.Millisecond, PollInterval: 5 * time.Millisecond}, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		close(cancelled)
		time.Sleep(50 * time.Millisecond)
		return 0, nil
	})
	if out.Status != TimedOut {
		t.Fatalf("Status = %v, want %v", out.Status, TimedOut)
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("work context was not cancelled")
	}
}

func TestRunCallerContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	release := make(chan struct{})
	defer close(release)
	out := Run(ctx, Options{Limit: time.Minute}, func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	if out.Status != TimedOut {
		t.Errorf("Status = %v, want %v", out.Status, TimedOut)
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		s    Status
		want string
	}{
		{Completed, "completed"},
		{Failed, "failed"},
		{TimedOut, "timed_out"},
		{Panicked, "panicked"},
		{Status(9), "Status(9)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", int(tt.s), got, tt.want)
		}
	}
}
