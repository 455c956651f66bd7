package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCORSMiddleware(t *testing.T) {
	called := false
	next := func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	}

	t.Run("default origin", func(t *testing.T) {
		called = false
		w := httptest.NewRecorder()
		(&Server{}).corsMiddleware(next)(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.True(t, called)
		assert.Equal(t, http.StatusTeapot, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Undistort-Coverage")
	})

	t.Run("preflight", func(t *testing.T) {
		called = false
		w := httptest.NewRecorder()
		(&Server{corsOrigin: "https://example.com"}).corsMiddleware(next)(w, httptest.NewRequest(http.MethodOptions, "/rectify", nil))

		assert.False(t, called)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

	t.Run("disabled", func(t *testing.T) {
		handler := (&Server{}).rateLimitMiddleware(ok)
		for range 5 {
			w := httptest.NewRecorder()
			handler(w, httptest.NewRequest(http.MethodPost, "/rectify", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}
	})

	t.Run("per minute", func(t *testing.T) {
		s := &Server{rateLimiter: NewRateLimiter(2, 0, 0, 0)}
		handler := s.rateLimitMiddleware(ok)

		codes := make([]int, 0, 3)
		for range 3 {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/rectify", nil)
			req.RemoteAddr = "10.0.0.1:1234"
			handler(w, req)
			codes = append(codes, w.Code)
			if w.Code == http.StatusTooManyRequests {
				assert.Equal(t, "minute", w.Header().Get("X-RateLimit-Type"))
				assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
				assert.NotEmpty(t, w.Header().Get("Retry-After"))

				var body map[string]any
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, "rate_limit_exceeded", body["error"])
			}
		}
		assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

		// Another client has its own budget.
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/rectify", nil)
		req.RemoteAddr = "10.0.0.2:1234"
		handler(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestHandleRateLimitError(t *testing.T) {
	s := &Server{}

	t.Run("quota", func(t *testing.T) {
		w := httptest.NewRecorder()
		resets := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
		s.handleRateLimitError(w, &QuotaExceededError{Kind: "data", Limit: 100, Used: 90, Resets: resets})

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "data", w.Header().Get("X-Quota-Type"))
		assert.Equal(t, "100", w.Header().Get("X-Quota-Limit"))
		assert.Equal(t, "90", w.Header().Get("X-Quota-Used"))
		assert.Equal(t, "Fri, 02 Jan 2026 00:00:00 GMT", w.Header().Get("X-Quota-Resets"))
	})

	t.Run("unknown", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.handleRateLimitError(w, errors.New("boom"))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{name: "forwarded for", headers: map[string]string{"X-Forwarded-For": "203.0.113.1, 10.0.0.1"}, remoteAddr: "10.0.0.9:80", want: "203.0.113.1"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": " 198.51.100.7 "}, remoteAddr: "10.0.0.9:80", want: "198.51.100.7"},
		{name: "remote addr", remoteAddr: "192.0.2.4:5555", want: "192.0.2.4"},
		{name: "remote addr without port", remoteAddr: "192.0.2.4", want: "192.0.2.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}
