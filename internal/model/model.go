// Package model defines all shared domain types for leafsync.
package model

import "time"

// SensorType identifies the kind of meter a reading came from. The values
// match the enum the collection service expects on the wire.
type SensorType int32

const (
	SensorTypeAnalogElectricity  SensorType = 0
	SensorTypeDigitalElectricity SensorType = 1
)

// Sample is one normalized sensor reading as produced by the collector.
// Incoming and Outgoing are meter totals in kWh, Instantaneous is the
// current power draw in W.
type Sample struct {
	Incoming      float64   `json:"incoming"`
	Outgoing      *float64  `json:"outgoing,omitempty"`
	Instantaneous *float64  `json:"instantaneous,omitempty"`
	CapturedAt    time.Time `json:"captured_at"`
}

// Reading is a Sample persisted in the local queue.
type Reading struct {
	ID int64 `json:"id"`
	Sample
	Delivered bool `json:"delivered"`
}

// Credential is the cached access token for the collection service.
type Credential struct {
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the credential can still be used at now.
func (c *Credential) Valid(now time.Time) bool {
	return c != nil && c.Token != "" && c.ExpiresAt.After(now)
}

// Migration is a single schema change script identified by ID. Migrations
// are applied in ascending ID order.
type Migration struct {
	ID  string
	SQL string
}

// AppliedMigration is a row of the migration ledger.
type AppliedMigration struct {
	ID        string    `json:"id"`
	AppliedAt time.Time `json:"applied_at"`
}

// LogEntry is a row of the diagnostic log.
type LogEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 {
	return &v
}
