package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func respond(code int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
		w.Write([]byte(body))
	})
}

func TestLoggingMiddleware_PassesThrough(t *testing.T) {
	for _, code := range []int{http.StatusOK, http.StatusAccepted, http.StatusNotFound, http.StatusInternalServerError} {
		w := serve(LoggingMiddleware(respond(code, "body")), "/status")
		assert.Equal(t, code, w.Code)
		assert.Equal(t, "body", w.Body.String())
	}
}

func TestStatusWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, status: http.StatusOK}

	sw.Write([]byte("x"))
	assert.Equal(t, http.StatusOK, sw.status, "implicit 200 when WriteHeader is never called")

	rec = httptest.NewRecorder()
	sw = &statusWriter{ResponseWriter: rec, status: http.StatusOK}
	sw.WriteHeader(http.StatusServiceUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, sw.status)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.Handler
		wantCode int
	}{
		{"no panic", respond(http.StatusOK, "ok"), http.StatusOK},
		{"string panic", http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }), http.StatusInternalServerError},
		{"error panic", http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic(assert.AnError) }), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(RecoveryMiddleware(tt.handler), "/healthz")
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode == http.StatusInternalServerError {
				assert.Contains(t, w.Body.String(), "Internal Server Error")
			}
		})
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	w := serve(SecurityHeadersMiddleware(respond(http.StatusOK, "ok")), "/status")

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
}

func TestMiddlewareChain(t *testing.T) {
	h := SecurityHeadersMiddleware(RecoveryMiddleware(LoggingMiddleware(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("handler bug") }),
	)))
	w := serve(h, "/status")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}
