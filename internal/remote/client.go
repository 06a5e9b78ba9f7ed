// Package remote talks to the collection service: it acquires access
// tokens and submits readings as protobuf messages over HTTP POST.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/darshan-rambhia/leafsync/internal/model"
)

// ContentType is sent with every request body.
const ContentType = "application/x-protobuf"

const (
	tokenPath  = "/token"
	submitPath = "/sensor_input"

	maxResponseSize = 1 << 20 // 1 MB
	defaultTimeout  = 30 * time.Second
)

// Token is a freshly issued access token. ExpiresIn is the lifetime hint
// given by the service, or zero if it gave none.
type Token struct {
	Value     string
	ExpiresIn time.Duration
}

// Submission is one reading to deliver. DeliveredAt is set only when a
// reading is backfilled by reconciliation; live submissions leave it nil.
type Submission struct {
	Token       string
	ClientID    string
	Incoming    float64
	Outgoing    *float64
	Current     *float64
	DeliveredAt *time.Time
}

// Client is an HTTP client for the collection service. It performs no
// retries and never refreshes tokens on its own.
type Client struct {
	baseURL    string
	sensorType model.SensorType
	timeout    time.Duration
	client     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient creates a client for the service rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		sensorType: model.SensorTypeDigitalElectricity,
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: c.timeout}
	}
	return c
}

// AcquireToken requests a new access token for clientID. A status outside
// 200-299 is returned as *model.AuthError; transport failures and
// undecodable responses as *model.NetworkError.
func (c *Client) AcquireToken(ctx context.Context, clientID string) (Token, error) {
	needScript := false
	req := &TokenRequest{
		ClientID:   clientID,
		Type:       c.sensorType,
		NeedScript: &needScript,
	}

	var resp TokenResponse
	if err := c.call(ctx, tokenPath, req.Marshal(), &resp); err != nil {
		return Token{}, err
	}
	if !model.IsStatusOK(resp.Status) {
		return Token{}, &model.AuthError{
			Status:  resp.Status,
			Message: messageOr(resp.StatusMessage, "error acquiring token"),
		}
	}
	if resp.AccessToken == "" {
		return Token{}, &model.AuthError{Status: resp.Status, Message: "empty access token"}
	}
	return Token{
		Value:     resp.AccessToken,
		ExpiresIn: time.Duration(resp.ExpiresIn) * time.Second,
	}, nil
}

// SubmitReading delivers one reading. A status outside 200-299 is returned
// as *model.DeliveryError; transport failures and undecodable responses as
// *model.NetworkError.
func (c *Client) SubmitReading(ctx context.Context, sub Submission) error {
	req := &SensorDataRequest{
		AccessToken:  sub.Token,
		Type:         c.sensorType,
		Value:        sub.Incoming,
		ValueOut:     sub.Outgoing,
		ValueCurrent: sub.Current,
		ClientID:     sub.ClientID,
	}
	if sub.DeliveredAt != nil {
		ns := uint64(sub.DeliveredAt.UnixNano())
		req.Timestamp = &ns
	}

	var resp SensorDataResponse
	if err := c.call(ctx, submitPath, req.Marshal(), &resp); err != nil {
		return err
	}
	if !model.IsStatusOK(resp.Status) {
		return &model.DeliveryError{
			Status:  resp.Status,
			Message: messageOr(resp.StatusMessage, "error sending data"),
		}
	}
	return nil
}

type response interface {
	Unmarshal([]byte) error
	status() int32
}

// call posts body to path and decodes the reply into resp. A non-2xx HTTP
// response is only accepted when it still carries a protocol status, which
// the caller then interprets.
func (c *Client) call(ctx context.Context, path string, body []byte, resp response) error {
	raw, code, err := c.post(ctx, path, body)
	if err != nil {
		return model.NewNetworkError(path, err)
	}
	if err := resp.Unmarshal(raw); err != nil {
		if code/100 != 2 {
			return model.NewNetworkError(path, fmt.Errorf("unexpected HTTP status %d", code))
		}
		return model.NewNetworkError(path, fmt.Errorf("decoding response: %w", err))
	}
	if code/100 != 2 && resp.status() == 0 {
		return model.NewNetworkError(path, fmt.Errorf("unexpected HTTP status %d", code))
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("creating request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", ContentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response from %s: %w", path, err)
	}
	return raw, resp.StatusCode, nil
}

func messageOr(msg *string, fallback string) string {
	if msg == nil || *msg == "" {
		return fallback
	}
	return *msg
}
