// Package relay moves readings from the local queue to the collection
// service: the pipeline handles fresh samples, the reconciler retries what
// is still pending.
package relay

import (
	"context"
	"time"

	"github.com/darshan-rambhia/leafsync/internal/diag"
	"github.com/darshan-rambhia/leafsync/internal/metrics"
	"github.com/darshan-rambhia/leafsync/internal/model"
	"github.com/darshan-rambhia/leafsync/internal/remote"
	"github.com/darshan-rambhia/leafsync/internal/status"
)

// ReadingStore is the part of the local store the relay needs.
type ReadingStore interface {
	EnqueueReading(ctx context.Context, sample model.Sample, delivered bool) (int64, error)
	ListPending(ctx context.Context) ([]model.Reading, error)
	MarkDelivered(ctx context.Context, id int64) error
}

// TokenSource returns a valid access token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Submitter delivers one reading to the collection service.
type Submitter interface {
	SubmitReading(ctx context.Context, sub remote.Submission) error
}

// Deps wires the relay to its collaborators. Metrics and Status are
// optional.
type Deps struct {
	Store    ReadingStore
	Tokens   TokenSource
	Remote   Submitter
	Reporter diag.Reporter
	ClientID string
	Metrics  *metrics.Metrics
	Status   *status.Tracker
}

// deliver obtains a token and submits s. deliveredAt is nil for live
// submissions. Failures are reported; the result says whether the service
// acknowledged the reading.
func (d *Deps) deliver(ctx context.Context, s model.Sample, deliveredAt *time.Time) bool {
	token, err := d.Tokens.Token(ctx)
	if err != nil {
		d.report(ctx, diag.OpToken, err)
		return false
	}

	err = d.Remote.SubmitReading(ctx, remote.Submission{
		Token:       token,
		ClientID:    d.ClientID,
		Incoming:    s.Incoming,
		Outgoing:    s.Outgoing,
		Current:     s.Instantaneous,
		DeliveredAt: deliveredAt,
	})
	if err != nil {
		d.report(ctx, diag.OpSubmit, err)
		return false
	}

	path := metrics.PathLive
	if deliveredAt != nil {
		path = metrics.PathBackfill
	}
	if d.Metrics != nil {
		d.Metrics.ReadingsDelivered.WithLabelValues(path).Inc()
	}
	if d.Status != nil {
		d.Status.SetLastDelivery(time.Now())
	}
	return true
}

// report forwards a failure unless it was caused by shutdown.
func (d *Deps) report(ctx context.Context, op string, err error) {
	if ctx.Err() != nil {
		return
	}
	d.Reporter.ReportFailure(ctx, op, err)
}
