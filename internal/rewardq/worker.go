package rewardq

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/park285/caro-series/internal/clock"
	"github.com/park285/caro-series/internal/obslog"
	"github.com/park285/caro-series/internal/series"
)

const DefaultPollInterval = 2 * time.Second

// Applier redelivers stored rewards of a terminal series.
type Applier interface {
	ApplyRewards(ctx context.Context, seriesID string) error
}

// Worker drains due redeliveries from a Queue.
type Worker struct {
	q        *Queue
	applier  Applier
	clk      clock.Scheduler
	interval time.Duration
	batch    int
}

func NewWorker(q *Queue, applier Applier, clk clock.Scheduler, interval time.Duration) *Worker {
	if clk == nil {
		clk = clock.Real()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Worker{q: q, applier: applier, clk: clk, interval: interval, batch: 16}
}

// Run polls until ctx is cancelled. The next poll is scheduled only after a drain finishes.
func (w *Worker) Run(ctx context.Context) error {
	obslog.L().Info("reward_worker_start", zap.Duration("interval", w.interval))
	tick := make(chan struct{}, 1)
	for {
		t := w.clk.AfterFunc(w.interval, func() {
			select {
			case tick <- struct{}{}:
			default:
			}
		})
		select {
		case <-ctx.Done():
			t.Stop()
			obslog.L().Info("reward_worker_stop")
			return nil
		case <-tick:
			if _, err := w.Drain(ctx); err != nil && ctx.Err() == nil {
				obslog.L().Warn("reward_worker_drain_error", zap.Error(err))
			}
		}
	}
}

// Drain processes every currently due series once and returns how many were delivered.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	ids, claimErr := w.q.Claim(ctx, w.batch)
	delivered, err := w.process(ctx, ids)
	return delivered, errors.Join(claimErr, err)
}

// process handles claimed ids. Every id is either delivered, dropped, rescheduled or
// dead-lettered; a failure on one id does not skip the rest.
func (w *Worker) process(ctx context.Context, ids []string) (int, error) {
	delivered := 0
	var errs []error
	for _, id := range ids {
		err := w.applier.ApplyRewards(ctx, id)
		switch {
		case err == nil:
			delivered++
			if err := w.q.Done(ctx, id); err != nil {
				obslog.L().Warn("reward_retry_done_error", zap.String("series_id", id), zap.Error(err))
			}
			obslog.L().Info("reward_redelivered", zap.String("series_id", id))
		case errors.Is(err, series.ErrSeriesNotFound), errors.Is(err, series.ErrSeriesNotTerminal):
			_ = w.q.Done(ctx, id)
			obslog.L().Warn("reward_retry_dropped", zap.String("series_id", id), zap.Error(err))
		default:
			attempts, rerr := w.q.Retry(ctx, id, err)
			if errors.Is(rerr, ErrDeadLettered) {
				obslog.L().Error("reward_dead_lettered",
					zap.String("series_id", id),
					zap.Int("attempts", attempts),
					zap.Error(err),
				)
				continue
			}
			if rerr != nil {
				obslog.L().Error("reward_retry_schedule_error", zap.String("series_id", id), zap.Error(rerr))
				errs = append(errs, rerr)
				continue
			}
			obslog.L().Warn("reward_retry_scheduled",
				zap.String("series_id", id),
				zap.Int("attempts", attempts),
				zap.Duration("backoff", w.q.Backoff(attempts)),
				zap.Error(err),
			)
		}
	}
	return delivered, errors.Join(errs...)
}
