package edge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// CronRunner drives a worker's Scheduled entry point on a local schedule.
// It stands in for the platform timer when the process runs outside a
// worker host (local development, the demo server).
type CronRunner struct {
	worker *WorkerAdapter
	expr   string
	log    *slog.Logger
}

// NewCronRunner validates the expression up front so a bad schedule fails
// at startup, not at the first tick.
func NewCronRunner(w *WorkerAdapter, expr string) (*CronRunner, error) {
	if !gronx.IsValid(expr) {
		return nil, fmt.Errorf("edge: invalid cron expression %q", expr)
	}
	return &CronRunner{worker: w, expr: expr, log: w.cfg.Logger.With("cron", expr)}, nil
}

// Run blocks until ctx is cancelled, firing Scheduled at each tick. Ticks
// are computed from full cron syntax; a failed computation falls back to a
// short sleep and retries rather than killing the loop.
func (r *CronRunner) Run(ctx context.Context) {
	r.log.Info("cron_runner_started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info("cron_runner_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(r.expr, now, false)
		if err != nil {
			r.log.Error("cron_next_tick_failed", "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				r.log.Info("cron_runner_stopping")
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			// due now-ish; fire and pause briefly to avoid a tight loop
			go r.fire(ctx, next)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				r.log.Info("cron_runner_stopping")
				return
			}
			continue
		}

		select {
		case <-time.After(wait):
			go r.fire(ctx, next)
		case <-ctx.Done():
			r.log.Info("cron_runner_stopping")
			return
		}
	}
}

func (r *CronRunner) fire(ctx context.Context, at time.Time) {
	r.worker.Scheduled(ctx, ScheduledEvent{Cron: r.expr, ScheduledTime: at})
}
