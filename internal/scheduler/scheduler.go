// Package scheduler drives the daily lifecycle batches.
package scheduler

import (
	"context"
	"time"

	"github.com/waldoclick/waldo-project-sub000/pkg/ads"
	"go.uber.org/zap"
)

const defaultCheckInterval = time.Minute

// BatchRunner is the slice of the ads service the scheduler drives.
type BatchRunner interface {
	RunDailyDecrement(ctx context.Context, day string) (ads.BatchSummary, error)
	RunFreeCreditRestore(ctx context.Context) (ads.BatchSummary, error)
}

// Scheduler runs the decrement and restore batches once per UTC day. The
// per-ad day ticks make re-runs within the same day no-ops, so the check
// interval only bounds how late after midnight the batch starts.
type Scheduler struct {
	runner   BatchRunner
	logger   *zap.Logger
	interval time.Duration
	nowFn    func() time.Time
	lastDay  string
}

// New returns a Scheduler polling at the given interval. A non-positive
// interval falls back to one minute.
func New(runner BatchRunner, logger *zap.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Scheduler{
		runner:   runner,
		logger:   logger,
		interval: interval,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks until the context is canceled, firing the batches whenever the
// UTC day changes. The first check happens immediately.
func (scheduler *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(scheduler.interval)
	defer ticker.Stop()

	scheduler.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			scheduler.tick(ctx)
		}
	}
}

// tick fires the batches on a day change. The day is only marked done after
// a clean run, so a batch that could not even list its candidates is retried
// on the next tick instead of waiting for the following midnight.
func (scheduler *Scheduler) tick(ctx context.Context) {
	day := ads.Day(scheduler.nowFn().Unix())
	if day == scheduler.lastDay {
		return
	}
	if err := scheduler.RunOnce(ctx, day); err != nil {
		return
	}
	scheduler.lastDay = day
}

// RunOnce executes one decrement-then-restore cycle for the given day and
// logs the digests. It returns the first batch-level error; per-ad failures
// stay inside the summaries. The restore sweep runs even when the decrement
// fails; both jobs are idempotent within a day.
func (scheduler *Scheduler) RunOnce(ctx context.Context, day string) error {
	decrement, decrementError := scheduler.runner.RunDailyDecrement(ctx, day)
	if decrementError != nil {
		scheduler.logger.Error("daily decrement failed",
			zap.String("day", day),
			zap.Error(decrementError))
	} else {
		scheduler.logger.Info("daily decrement finished",
			zap.String("day", day),
			zap.Int("processed", decrement.Processed),
			zap.Int("skipped", decrement.Skipped),
			zap.Int("errored", decrement.Errored))
	}

	restore, restoreError := scheduler.runner.RunFreeCreditRestore(ctx)
	if restoreError != nil {
		scheduler.logger.Error("free credit restore failed",
			zap.String("day", day),
			zap.Error(restoreError))
		return restoreError
	}
	scheduler.logger.Info("free credit restore finished",
		zap.String("day", day),
		zap.Int("processed", restore.Processed),
		zap.Int("skipped", restore.Skipped),
		zap.Int("errored", restore.Errored),
		zap.Int("subjects", len(restore.Subjects)))
	return decrementError
}
