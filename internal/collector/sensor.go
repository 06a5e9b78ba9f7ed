package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/darshan-rambhia/leafsync/internal/metrics"
	"github.com/darshan-rambhia/leafsync/internal/model"
	"github.com/darshan-rambhia/leafsync/internal/status"
)

const keyTotalIn = "Total_in"

// SensorConfig holds configuration for the local metering sensor.
type SensorConfig struct {
	URL          string
	PollInterval time.Duration
	Timeout      time.Duration
}

// SensorCollector polls the metering sensor and hands each sample to the
// pipeline over a bounded channel.
type SensorCollector struct {
	config  SensorConfig
	client  *http.Client
	out     chan<- model.Sample
	status  *status.Tracker
	metrics *metrics.Metrics
	now     func() time.Time
}

// SensorOption configures a SensorCollector.
type SensorOption func(*SensorCollector)

// WithStatus records successful polls in st.
func WithStatus(st *status.Tracker) SensorOption {
	return func(c *SensorCollector) { c.status = st }
}

// WithMetrics counts collected samples in m.
func WithMetrics(m *metrics.Metrics) SensorOption {
	return func(c *SensorCollector) { c.metrics = m }
}

// WithNow sets the clock used to stamp samples.
func WithNow(now func() time.Time) SensorOption {
	return func(c *SensorCollector) { c.now = now }
}

// NewSensorCollector creates a collector that sends samples to out.
func NewSensorCollector(cfg SensorConfig, out chan<- model.Sample, opts ...SensorOption) *SensorCollector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &SensorCollector{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		out:    out,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *SensorCollector) Name() string            { return "sensor" }
func (c *SensorCollector) Interval() time.Duration { return c.config.PollInterval }

// Collect reads one sample and sends it downstream. The send blocks while
// the channel is full.
func (c *SensorCollector) Collect(ctx context.Context) error {
	body, err := c.fetch(ctx)
	if err != nil {
		return err
	}

	sample, err := ParseSample(body)
	if err != nil {
		return fmt.Errorf("parsing sensor response: %w", err)
	}
	now := c.now()
	sample.CapturedAt = now

	select {
	case c.out <- sample:
	case <-ctx.Done():
		return ctx.Err()
	}

	if c.status != nil {
		c.status.SetLastPoll(c.Name(), now)
	}
	if c.metrics != nil {
		c.metrics.SamplesCollected.Inc()
	}
	return nil
}

func (c *SensorCollector) fetch(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating sensor request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, model.NewNetworkError(c.config.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max
	if err != nil {
		return nil, model.NewNetworkError(c.config.URL, fmt.Errorf("reading response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, model.NewNetworkError(c.config.URL, fmt.Errorf("unexpected HTTP status %d", resp.StatusCode))
	}
	return body, nil
}

// statusDocument is the sensor's status reply. Meters sit one level below
// StatusSNS, keyed by the meter name the device was configured with:
//
//	{"StatusSNS": {"Time": "...", "SML": {"Total_in": 12.3, "Total_out": 0.4, "Power_curr": 230}}}
//
// Telemetry payloads carry the same meter objects at the top level.
type statusDocument struct {
	StatusSNS map[string]json.RawMessage `json:"StatusSNS"`
}

// meterValues is one meter object inside the status document.
type meterValues struct {
	TotalIn   *float64 `json:"Total_in"`
	TotalOut  *float64 `json:"Total_out"`
	PowerCurr *float64 `json:"Power_curr"`
}

// ParseSample extracts a sample from a sensor status document. The first
// meter, in key order, that reports Total_in is used; Total_out and
// Power_curr are optional. A meter value that is not a JSON number is an
// error.
func ParseSample(data []byte) (model.Sample, error) {
	var doc statusDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.Sample{}, fmt.Errorf("decoding JSON: %w", err)
	}
	sections := doc.StatusSNS
	if sections == nil {
		if err := json.Unmarshal(data, &sections); err != nil {
			return model.Sample{}, fmt.Errorf("decoding JSON: %w", err)
		}
	}

	for _, name := range slices.Sorted(maps.Keys(sections)) {
		raw := bytes.TrimSpace(sections[name])
		if len(raw) == 0 || raw[0] != '{' {
			continue
		}
		var m meterValues
		if err := json.Unmarshal(raw, &m); err != nil {
			return model.Sample{}, fmt.Errorf("decoding meter %s: %w", name, err)
		}
		if m.TotalIn == nil {
			continue
		}
		return model.Sample{
			Incoming:      *m.TotalIn,
			Outgoing:      m.TotalOut,
			Instantaneous: m.PowerCurr,
		}, nil
	}
	return model.Sample{}, fmt.Errorf("no meter with %s in sensor document", keyTotalIn)
}
