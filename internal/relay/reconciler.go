package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/darshan-rambhia/leafsync/internal/diag"
	"github.com/darshan-rambhia/leafsync/internal/status"
)

// CycleResult counts what one reconciliation cycle did.
type CycleResult struct {
	Attempted int
	Delivered int
	Failed    int
}

// Reconciler periodically resubmits undelivered readings.
type Reconciler struct {
	deps     Deps
	interval time.Duration
}

// NewReconciler creates a reconciler that runs a cycle every interval.
func NewReconciler(deps Deps, interval time.Duration) *Reconciler {
	return &Reconciler{deps: deps, interval: interval}
}

// Run starts the reconciliation loop. It runs one cycle at startup and
// blocks until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	slog.Info("reconciler started", "interval", r.interval)

	// Run once at startup
	r.runCycle(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

func (r *Reconciler) runCycle(ctx context.Context) {
	res, err := r.Cycle(ctx)
	if err != nil {
		return
	}
	if res.Attempted > 0 {
		slog.Info("reconciliation complete", "attempted", res.Attempted, "delivered", res.Delivered, "failed", res.Failed)
	}
}

// Cycle resubmits every pending reading, oldest first, with its original
// capture time. A failure on one reading is reported and the cycle moves
// on to the next. The returned error is only set when the pending list
// could not be read.
func (r *Reconciler) Cycle(ctx context.Context) (CycleResult, error) {
	d := &r.deps
	start := time.Now()

	pending, err := d.Store.ListPending(ctx)
	if err != nil {
		d.report(ctx, diag.OpReconcile, err)
		return CycleResult{}, err
	}
	if d.Metrics != nil {
		d.Metrics.PendingReadings.Set(float64(len(pending)))
	}

	var res CycleResult
	for _, reading := range pending {
		if ctx.Err() != nil {
			break
		}
		res.Attempted++

		capturedAt := reading.CapturedAt
		if !d.deliver(ctx, reading.Sample, &capturedAt) {
			res.Failed++
			continue
		}
		if err := d.Store.MarkDelivered(ctx, reading.ID); err != nil {
			d.report(ctx, diag.OpMark, err)
			res.Failed++
			continue
		}
		res.Delivered++
	}

	if d.Metrics != nil {
		d.Metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	}
	if d.Status != nil {
		d.Status.SetLastReconcile(status.Cycle{
			At:        start,
			Attempted: res.Attempted,
			Delivered: res.Delivered,
			Failed:    res.Failed,
		})
	}
	return res, nil
}
