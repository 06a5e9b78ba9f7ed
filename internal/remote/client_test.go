package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshan-rambhia/leafsync/internal/model"
)

func strPtr(s string) *string { return &s }

// newTestService starts a fake collection service. handler receives the raw
// request body of each call and returns the raw response body.
func newTestService(t *testing.T, path string, handler func(t *testing.T, body []byte) ([]byte, int)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, path, r.URL.Path)
		assert.Equal(t, ContentType, r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		resp, code := handler(t, body)
		w.WriteHeader(code)
		w.Write(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ---------------------------------------------------------------------------
// AcquireToken
// ---------------------------------------------------------------------------

func TestAcquireToken_Success(t *testing.T) {
	srv := newTestService(t, "/token", func(t *testing.T, body []byte) ([]byte, int) {
		var req TokenRequest
		require.NoError(t, req.Unmarshal(body))
		assert.Equal(t, "aa:bb:cc:dd:ee:ff", req.ClientID)
		assert.Equal(t, model.SensorTypeDigitalElectricity, req.Type)
		require.NotNil(t, req.NeedScript)
		assert.False(t, *req.NeedScript)
		return (&TokenResponse{AccessToken: "tok-123", ExpiresIn: 3600, Status: 200}).Marshal(), http.StatusOK
	})

	c := NewClient(srv.URL + "/")
	tok, err := c.AcquireToken(context.Background(), "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", tok.Value)
	assert.Equal(t, time.Hour, tok.ExpiresIn)
}

func TestAcquireToken_NoLifetimeHint(t *testing.T) {
	srv := newTestService(t, "/token", func(t *testing.T, body []byte) ([]byte, int) {
		return (&TokenResponse{AccessToken: "tok", Status: 201}).Marshal(), http.StatusOK
	})

	tok, err := NewClient(srv.URL).AcquireToken(context.Background(), "id")
	require.NoError(t, err)
	assert.Equal(t, "tok", tok.Value)
	assert.Zero(t, tok.ExpiresIn)
}

func TestAcquireToken_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		resp    TokenResponse
		wantMsg string
	}{
		{"with message", TokenResponse{Status: 403, StatusMessage: strPtr("unknown device")}, "unknown device"},
		{"without message", TokenResponse{Status: 500}, "error acquiring token"},
		{"missing status", TokenResponse{AccessToken: "tok"}, "error acquiring token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestService(t, "/token", func(t *testing.T, body []byte) ([]byte, int) {
				return tt.resp.Marshal(), http.StatusOK
			})

			_, err := NewClient(srv.URL).AcquireToken(context.Background(), "id")
			var authErr *model.AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tt.resp.Status, authErr.Status)
			assert.Equal(t, tt.wantMsg, authErr.Message)
		})
	}
}

func TestAcquireToken_EmptyToken(t *testing.T) {
	srv := newTestService(t, "/token", func(t *testing.T, body []byte) ([]byte, int) {
		return (&TokenResponse{Status: 200}).Marshal(), http.StatusOK
	})

	_, err := NewClient(srv.URL).AcquireToken(context.Background(), "id")
	var authErr *model.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "empty access token", authErr.Message)
}

func TestAcquireToken_ProtocolStatusOnHTTPError(t *testing.T) {
	srv := newTestService(t, "/token", func(t *testing.T, body []byte) ([]byte, int) {
		return (&TokenResponse{Status: 401, StatusMessage: strPtr("expired")}).Marshal(), http.StatusUnauthorized
	})

	_, err := NewClient(srv.URL).AcquireToken(context.Background(), "id")
	var authErr *model.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "expired", authErr.Message)
}

func TestAcquireToken_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).AcquireToken(context.Background(), "id")
	var netErr *model.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.IsRetryable())
	assert.Equal(t, "/token", netErr.Endpoint)
}

// ---------------------------------------------------------------------------
// SubmitReading
// ---------------------------------------------------------------------------

func TestSubmitReading_Live(t *testing.T) {
	var got SensorDataRequest
	srv := newTestService(t, "/sensor_input", func(t *testing.T, body []byte) ([]byte, int) {
		require.NoError(t, got.Unmarshal(body))
		return (&SensorDataResponse{Status: 200}).Marshal(), http.StatusOK
	})

	err := NewClient(srv.URL).SubmitReading(context.Background(), Submission{
		Token:    "tok",
		ClientID: "dev",
		Incoming: 120.5,
		Current:  model.Float64(3.2),
	})
	require.NoError(t, err)

	assert.Equal(t, "tok", got.AccessToken)
	assert.Equal(t, "dev", got.ClientID)
	assert.Equal(t, model.SensorTypeDigitalElectricity, got.Type)
	assert.Equal(t, 120.5, got.Value)
	assert.Nil(t, got.ValueOut)
	require.NotNil(t, got.ValueCurrent)
	assert.Equal(t, 3.2, *got.ValueCurrent)
	assert.Nil(t, got.Timestamp, "live submissions carry no timestamp")
}

func TestSubmitReading_Backfilled(t *testing.T) {
	var got SensorDataRequest
	srv := newTestService(t, "/sensor_input", func(t *testing.T, body []byte) ([]byte, int) {
		require.NoError(t, got.Unmarshal(body))
		return (&SensorDataResponse{Status: 204}).Marshal(), http.StatusOK
	})

	at := time.Date(2026, 2, 3, 4, 5, 6, 789, time.UTC)
	err := NewClient(srv.URL).SubmitReading(context.Background(), Submission{
		Token:       "tok",
		Incoming:    10,
		Outgoing:    model.Float64(2),
		DeliveredAt: &at,
	})
	require.NoError(t, err)

	require.NotNil(t, got.Timestamp)
	assert.Equal(t, uint64(at.UnixNano()), *got.Timestamp)
	require.NotNil(t, got.ValueOut)
	assert.Equal(t, 2.0, *got.ValueOut)
}

func TestSubmitReading_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		resp    SensorDataResponse
		wantMsg string
	}{
		{"service unavailable", SensorDataResponse{Status: 503, StatusMessage: strPtr("maintenance window")}, "maintenance window"},
		{"empty message", SensorDataResponse{Status: 400, StatusMessage: strPtr("")}, "error sending data"},
		{"redirect range", SensorDataResponse{Status: 300}, "error sending data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestService(t, "/sensor_input", func(t *testing.T, body []byte) ([]byte, int) {
				return tt.resp.Marshal(), http.StatusOK
			})

			err := NewClient(srv.URL).SubmitReading(context.Background(), Submission{Token: "tok", Incoming: 1})
			var deliveryErr *model.DeliveryError
			require.ErrorAs(t, err, &deliveryErr)
			assert.Equal(t, tt.resp.Status, deliveryErr.Status)
			assert.Equal(t, tt.wantMsg, deliveryErr.Message)
		})
	}
}

func TestSubmitReading_HTTPErrorWithoutPayload(t *testing.T) {
	srv := newTestService(t, "/sensor_input", func(t *testing.T, body []byte) ([]byte, int) {
		return nil, http.StatusBadGateway
	})

	err := NewClient(srv.URL).SubmitReading(context.Background(), Submission{Token: "tok", Incoming: 1})
	var netErr *model.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Contains(t, err.Error(), "502")
}

func TestSubmitReading_UndecodableBody(t *testing.T) {
	srv := newTestService(t, "/sensor_input", func(t *testing.T, body []byte) ([]byte, int) {
		return []byte{0x0a, 0x10, 'x'}, http.StatusOK
	})

	err := NewClient(srv.URL).SubmitReading(context.Background(), Submission{Token: "tok", Incoming: 1})
	var netErr *model.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Contains(t, err.Error(), "decoding response")
}

func TestSubmitReading_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := NewClient(srv.URL, WithTimeout(50*time.Millisecond))
	err := c.SubmitReading(context.Background(), Submission{Token: "tok", Incoming: 1})
	var netErr *model.NetworkError
	require.ErrorAs(t, err, &netErr)
}

func TestSubmitReading_CancelledContext(t *testing.T) {
	srv := newTestService(t, "/sensor_input", func(t *testing.T, body []byte) ([]byte, int) {
		return (&SensorDataResponse{Status: 200}).Marshal(), http.StatusOK
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewClient(srv.URL).SubmitReading(ctx, Submission{Token: "tok", Incoming: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithHTTPClient(t *testing.T) {
	hc := &http.Client{}
	c := NewClient("http://example.invalid", WithHTTPClient(hc))
	assert.Same(t, hc, c.client)
	assert.Equal(t, "http://example.invalid", c.baseURL)
}
