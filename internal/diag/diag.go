// Package diag reports recoverable failures. Every report is logged,
// appended to the diagnostic log table and counted.
package diag

import (
	"context"
	"log/slog"
	"time"

	"github.com/darshan-rambhia/leafsync/internal/metrics"
	"github.com/darshan-rambhia/leafsync/internal/status"
)

// Operation names used in reports and the failures metric.
const (
	OpCollect   = "collect"
	OpValidate  = "validate"
	OpToken     = "token"
	OpSubmit    = "submit"
	OpPersist   = "persist"
	OpReconcile = "reconcile"
	OpMark      = "mark_delivered"
)

// Reporter records a recoverable failure. It never fails: a report that
// cannot be persisted is only logged.
type Reporter interface {
	ReportFailure(ctx context.Context, op string, err error)
}

// LogAppender is the part of the store the reporter writes to.
type LogAppender interface {
	AppendLog(ctx context.Context, message string) error
}

// StoreReporter is the production Reporter.
type StoreReporter struct {
	logs    LogAppender
	metrics *metrics.Metrics
	status  *status.Tracker
	now     func() time.Time
}

// NewStoreReporter creates a reporter. m and st may be nil.
func NewStoreReporter(logs LogAppender, m *metrics.Metrics, st *status.Tracker) *StoreReporter {
	return &StoreReporter{logs: logs, metrics: m, status: st, now: time.Now}
}

func (r *StoreReporter) ReportFailure(ctx context.Context, op string, err error) {
	msg := op + ": " + err.Error()
	slog.Warn("operation failed", "op", op, "error", err)

	if r.metrics != nil {
		r.metrics.Failures.WithLabelValues(op).Inc()
	}
	if r.status != nil {
		r.status.SetLastFailure(status.Failure{At: r.now(), Op: op, Message: err.Error()})
	}

	// Persist even when the caller is shutting down.
	if err := r.logs.AppendLog(context.WithoutCancel(ctx), msg); err != nil {
		slog.Error("writing diagnostic log", "op", op, "error", err)
	}
}
