package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(handler http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/user/login", nil)
	req.RemoteAddr = remoteAddr
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestRateLimit_WithinBurstPasses(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimit(ctx, 10, 10, newTestLogger(&buf))(okHandler())

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, hit(handler, "192.168.1.1:12345").Code, "request %d", i+1)
	}
}

func TestRateLimit_ExceedingBurstReturns429(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimit(ctx, 0.001, 2, newTestLogger(&buf))(okHandler())

	assert.Equal(t, http.StatusOK, hit(handler, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusOK, hit(handler, "10.0.0.1:1").Code)

	rr := hit(handler, "10.0.0.1:1")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Contains(t, rr.Body.String(), "RATE_LIMITED")
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.Contains(t, buf.String(), "rate limit exceeded")
}

func TestRateLimit_IndependentPerIP(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimit(ctx, 0.001, 1, newTestLogger(&buf))(okHandler())

	assert.Equal(t, http.StatusOK, hit(handler, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(handler, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusOK, hit(handler, "10.0.0.2:1").Code)
}

func TestVisitorStore_CleanupEvictsIdle(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newVisitorStore(1, 1, time.Minute)
	store.nowFunc = func() time.Time { return now }

	store.get("10.0.0.1")
	now = now.Add(30 * time.Second)
	store.get("10.0.0.2")

	now = now.Add(45 * time.Second)
	store.cleanup()

	assert.Equal(t, 1, store.len())
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		xri    string
		remote string
		want   string
	}{
		{"remote addr", "", "", "10.1.1.1:5555", "10.1.1.1"},
		{"forwarded chain", "203.0.113.9, 10.0.0.1", "", "10.1.1.1:5555", "203.0.113.9"},
		{"forwarded garbage then ip", "unknown, 198.51.100.4", "", "10.1.1.1:5555", "198.51.100.4"},
		{"real ip", "", "198.51.100.7", "10.1.1.1:5555", "198.51.100.7"},
		{"remote without port", "", "", "10.1.1.1", "10.1.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
