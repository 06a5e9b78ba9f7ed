// Package collector provides the sensor polling loop for leafsync.
package collector

import (
	"context"
	"log/slog"
	"time"

	"github.com/darshan-rambhia/leafsync/internal/diag"
)

// Collector is the interface for all data collectors.
type Collector interface {
	Name() string
	Collect(ctx context.Context) error
	Interval() time.Duration
}

// Run calls Collect, then waits the collector's interval before the next
// call, regardless of the outcome. Failures go to r and never stop the loop.
// It blocks until the context is cancelled.
func Run(ctx context.Context, c Collector, r diag.Reporter) error {
	name := c.Name()
	interval := c.Interval()
	slog.Info("collector started", "name", name, "interval", interval)

	for {
		if err := c.Collect(ctx); err != nil && ctx.Err() == nil {
			r.ReportFailure(ctx, diag.OpCollect, err)
		}

		select {
		case <-ctx.Done():
			slog.Info("collector stopped", "name", name)
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
