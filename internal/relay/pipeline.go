package relay

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/darshan-rambhia/leafsync/internal/diag"
	"github.com/darshan-rambhia/leafsync/internal/model"
	"github.com/darshan-rambhia/leafsync/internal/status"
)

// Outcome is what happened to one sample.
type Outcome int

const (
	// OutcomeRejected means the sample failed validation and was dropped.
	OutcomeRejected Outcome = iota
	// OutcomeDelivered means the sample was acknowledged and stored as delivered.
	OutcomeDelivered
	// OutcomePending means delivery failed and the sample was stored for reconciliation.
	OutcomePending
	// OutcomeLost means the sample could not be stored.
	OutcomeLost
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRejected:
		return "rejected"
	case OutcomeDelivered:
		return "delivered"
	case OutcomePending:
		return "pending"
	case OutcomeLost:
		return "lost"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Pipeline validates each sample, tries to deliver it right away, and
// stores it with the resulting delivery state.
type Pipeline struct {
	deps Deps
}

// NewPipeline creates a pipeline.
func NewPipeline(deps Deps) *Pipeline {
	return &Pipeline{deps: deps}
}

// Run processes samples from in, one at a time, until the context is
// cancelled or in is closed. On cancellation the samples already queued in
// in are still processed and stored before Run returns.
func (p *Pipeline) Run(ctx context.Context, in <-chan model.Sample) error {
	slog.Info("pipeline started")
	for {
		select {
		case <-ctx.Done():
			n := p.drain(ctx, in)
			slog.Info("pipeline stopped", "drained", n)
			return ctx.Err()
		case s, ok := <-in:
			if !ok {
				slog.Info("pipeline input closed")
				return nil
			}
			outcome := p.Process(ctx, s)
			slog.Debug("sample processed", "incoming", s.Incoming, "outcome", outcome)
		}
	}
}

// drain processes whatever is buffered in in without waiting for more.
func (p *Pipeline) drain(ctx context.Context, in <-chan model.Sample) int {
	n := 0
	for {
		select {
		case s, ok := <-in:
			if !ok {
				return n
			}
			p.Process(ctx, s)
			n++
		default:
			return n
		}
	}
}

// Process handles one sample. A sample whose incoming value is not a
// finite, strictly positive number is logged and dropped without touching
// the store or the service. Every other sample is stored exactly once.
func (p *Pipeline) Process(ctx context.Context, s model.Sample) Outcome {
	d := &p.deps

	if !(s.Incoming > 0) || math.IsInf(s.Incoming, 0) {
		// Logged only: a rejected sample leaves no trace in the store.
		err := fmt.Errorf("%w: incoming value %v", model.ErrValidation, s.Incoming)
		slog.Warn("sample rejected", "error", err)
		if d.Metrics != nil {
			d.Metrics.SamplesRejected.Inc()
		}
		if d.Status != nil {
			d.Status.SetLastFailure(status.Failure{At: time.Now(), Op: diag.OpValidate, Message: err.Error()})
		}
		return OutcomeRejected
	}
	if d.Status != nil {
		d.Status.SetLastSample(s)
	}

	delivered := d.deliver(ctx, s, nil)

	// The sample is already accepted; store it even if we are shutting down.
	id, err := d.Store.EnqueueReading(context.WithoutCancel(ctx), s, delivered)
	if err != nil {
		d.Reporter.ReportFailure(ctx, diag.OpPersist, err)
		return OutcomeLost
	}

	state := "pending"
	if delivered {
		state = "delivered"
	}
	if d.Metrics != nil {
		d.Metrics.ReadingsStored.WithLabelValues(state).Inc()
	}
	slog.Debug("reading stored", "id", id, "state", state)

	if delivered {
		return OutcomeDelivered
	}
	return OutcomePending
}
