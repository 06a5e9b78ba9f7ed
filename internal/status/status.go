// Package status keeps an in-memory view of what the agent last did, for
// the /status endpoint.
package status

import (
	"maps"
	"sync"
	"time"

	"github.com/darshan-rambhia/leafsync/internal/model"
)

// Cycle summarizes one reconciliation pass.
type Cycle struct {
	At        time.Time `json:"at"`
	Attempted int       `json:"attempted"`
	Delivered int       `json:"delivered"`
	Failed    int       `json:"failed"`
}

// Failure is the most recent reported failure.
type Failure struct {
	At      time.Time `json:"at"`
	Op      string    `json:"op"`
	Message string    `json:"message"`
}

// Tracker is a thread-safe holder of recent agent activity.
type Tracker struct {
	mu sync.RWMutex

	startedAt     time.Time
	lastPoll      map[string]time.Time
	lastSample    *model.Sample
	lastDelivery  time.Time
	lastReconcile *Cycle
	lastFailure   *Failure
}

// Snapshot is a read-only copy of the tracker state.
type Snapshot struct {
	StartedAt     time.Time            `json:"started_at"`
	LastPoll      map[string]time.Time `json:"last_poll"`
	LastSample    *model.Sample        `json:"last_sample,omitempty"`
	LastDelivery  *time.Time           `json:"last_delivery,omitempty"`
	LastReconcile *Cycle               `json:"last_reconcile,omitempty"`
	LastFailure   *Failure             `json:"last_failure,omitempty"`
}

// New returns an initialized Tracker.
func New(startedAt time.Time) *Tracker {
	return &Tracker{
		startedAt: startedAt,
		lastPoll:  make(map[string]time.Time),
	}
}

// Snapshot returns a deep copy of the tracker contents.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		StartedAt: t.startedAt,
		LastPoll:  make(map[string]time.Time, len(t.lastPoll)),
	}
	maps.Copy(snap.LastPoll, t.lastPoll)

	if t.lastSample != nil {
		s := copySample(*t.lastSample)
		snap.LastSample = &s
	}
	if !t.lastDelivery.IsZero() {
		d := t.lastDelivery
		snap.LastDelivery = &d
	}
	if t.lastReconcile != nil {
		c := *t.lastReconcile
		snap.LastReconcile = &c
	}
	if t.lastFailure != nil {
		f := *t.lastFailure
		snap.LastFailure = &f
	}
	return snap
}

// SetLastPoll records when a collector last polled successfully.
func (t *Tracker) SetLastPoll(collector string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastPoll[collector] = at
}

// SetLastSample records the most recent accepted sample.
func (t *Tracker) SetLastSample(s model.Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := copySample(s)
	t.lastSample = &cp
}

// SetLastDelivery records when a reading was last acknowledged.
func (t *Tracker) SetLastDelivery(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastDelivery = at
}

// SetLastReconcile records the outcome of a reconciliation cycle.
func (t *Tracker) SetLastReconcile(c Cycle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastReconcile = &c
}

// SetLastFailure records a reported failure.
func (t *Tracker) SetLastFailure(f Failure) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastFailure = &f
}

func copySample(s model.Sample) model.Sample {
	if s.Outgoing != nil {
		s.Outgoing = model.Float64(*s.Outgoing)
	}
	if s.Instantaneous != nil {
		s.Instantaneous = model.Float64(*s.Instantaneous)
	}
	return s
}
