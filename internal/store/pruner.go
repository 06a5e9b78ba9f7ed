package store

import (
	"context"
	"log/slog"
	"time"
)

// RetentionConfig defines how long to keep age-bounded data. Readings are
// not listed here: they are bounded by count (see WithCapacity), never by
// age, so an undelivered reading is not dropped just for being old.
type RetentionConfig struct {
	LogEntries time.Duration // default 30d
}

// DefaultRetention returns the default retention periods.
func DefaultRetention() RetentionConfig {
	return RetentionConfig{
		LogEntries: 30 * 24 * time.Hour,
	}
}

// Pruner periodically removes old diagnostic log entries from the store.
type Pruner struct {
	store     *Store
	retention RetentionConfig
	interval  time.Duration
}

// NewPruner creates a pruner with the given retention config.
func NewPruner(store *Store, retention RetentionConfig) *Pruner {
	return &Pruner{
		store:     store,
		retention: retention,
		interval:  1 * time.Hour,
	}
}

// Run starts the pruner loop. It blocks until the context is cancelled.
func (p *Pruner) Run(ctx context.Context) error {
	slog.Info("pruner started", "interval", p.interval, "log_retention", p.retention.LogEntries)

	// Run once at startup
	p.prune(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("pruner stopped")
			return ctx.Err()
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	if p.retention.LogEntries <= 0 {
		return
	}
	cutoff := p.store.now().Add(-p.retention.LogEntries)
	rows, err := p.store.PruneLogs(ctx, cutoff)
	if err != nil {
		slog.Error("pruning failed", "table", "logs", "error", err)
		return
	}
	if rows > 0 {
		slog.Info("pruned old data", "table", "logs", "rows", rows)
	}
}
