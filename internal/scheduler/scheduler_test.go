package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/waldoclick/waldo-project-sub000/pkg/ads"
	"go.uber.org/zap"
)

type recordingRunner struct {
	mu            sync.Mutex
	decrementDays []string
	restoreCalls  int
	decrementErr  error
}

func (runner *recordingRunner) RunDailyDecrement(ctx context.Context, day string) (ads.BatchSummary, error) {
	runner.mu.Lock()
	defer runner.mu.Unlock()
	runner.decrementDays = append(runner.decrementDays, day)
	return ads.BatchSummary{Processed: 1}, runner.decrementErr
}

func (runner *recordingRunner) RunFreeCreditRestore(ctx context.Context) (ads.BatchSummary, error) {
	runner.mu.Lock()
	defer runner.mu.Unlock()
	runner.restoreCalls++
	return ads.BatchSummary{}, nil
}

func TestRunOnceExecutesBothBatches(test *testing.T) {
	test.Parallel()
	runner := &recordingRunner{}
	scheduler := New(runner, zap.NewNop(), time.Minute)

	scheduler.RunOnce(context.Background(), "2026-08-28")

	if len(runner.decrementDays) != 1 || runner.decrementDays[0] != "2026-08-28" {
		test.Fatalf("unexpected decrement calls %v", runner.decrementDays)
	}
	if runner.restoreCalls != 1 {
		test.Fatalf("expected one restore call, got %d", runner.restoreCalls)
	}
}

func TestRunOnceRunsRestoreAfterDecrementError(test *testing.T) {
	test.Parallel()
	runner := &recordingRunner{decrementErr: errors.New("database offline")}
	scheduler := New(runner, zap.NewNop(), time.Minute)

	scheduler.RunOnce(context.Background(), "2026-08-28")

	if runner.restoreCalls != 1 {
		test.Fatalf("restore must run even when decrement fails, got %d calls", runner.restoreCalls)
	}
}

func TestTickSkipsSameDay(test *testing.T) {
	test.Parallel()
	runner := &recordingRunner{}
	scheduler := New(runner, zap.NewNop(), time.Minute)
	current := time.Date(2026, time.August, 28, 10, 0, 0, 0, time.UTC)
	scheduler.nowFn = func() time.Time { return current }

	scheduler.tick(context.Background())
	scheduler.tick(context.Background())
	if len(runner.decrementDays) != 1 {
		test.Fatalf("same-day tick must not rerun, got %v", runner.decrementDays)
	}

	current = current.Add(24 * time.Hour)
	scheduler.tick(context.Background())
	if len(runner.decrementDays) != 2 || runner.decrementDays[1] != "2026-08-29" {
		test.Fatalf("next-day tick must rerun, got %v", runner.decrementDays)
	}
}

func TestTickRetriesFailedDay(test *testing.T) {
	test.Parallel()
	runner := &recordingRunner{decrementErr: errors.New("database offline")}
	scheduler := New(runner, zap.NewNop(), time.Minute)
	current := time.Date(2026, time.August, 28, 0, 1, 0, 0, time.UTC)
	scheduler.nowFn = func() time.Time { return current }

	scheduler.tick(context.Background())
	if len(runner.decrementDays) != 1 {
		test.Fatalf("expected one attempt, got %v", runner.decrementDays)
	}

	runner.decrementErr = nil
	scheduler.tick(context.Background())
	if len(runner.decrementDays) != 2 {
		test.Fatalf("a failed day must be retried on the next tick, got %v", runner.decrementDays)
	}

	scheduler.tick(context.Background())
	if len(runner.decrementDays) != 2 {
		test.Fatalf("a completed day must not rerun, got %v", runner.decrementDays)
	}
}

func TestRunStopsOnContextCancel(test *testing.T) {
	test.Parallel()
	runner := &recordingRunner{}
	scheduler := New(runner, zap.NewNop(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scheduler.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			test.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		test.Fatalf("scheduler did not stop after cancel")
	}
}
