package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/cryptoboard/internal/domain"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuth(t *testing.T) {
	h := Auth("secret", "/health", "/metrics")(okHandler)

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"missing token", "/list", nil, http.StatusUnauthorized},
		{"wrong token", "/list", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"api key header", "/list", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"bearer", "/list", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"health exempt", "/health", nil, http.StatusOK},
		{"metrics exempt", "/metrics", nil, http.StatusOK},
		{"prefix is not exempt", "/healthz", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestAuth_DisabledWithoutKey(t *testing.T) {
	rec := httptest.NewRecorder()
	Auth("")(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/list", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

type countingLimiter struct {
	calls int
	limit int
	err   error
	keys  []string
}

func (l *countingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (domain.RateDecision, error) {
	l.calls++
	l.keys = append(l.keys, key)
	if l.err != nil {
		return domain.RateDecision{}, l.err
	}
	return domain.RateDecision{Allowed: l.calls <= l.limit, Remaining: max(l.limit-l.calls, 0)}, nil
}

func TestRateLimit(t *testing.T) {
	lim := &countingLimiter{limit: 2}
	h := RateLimit(lim, "predict", 2, time.Minute, discardLogger())(okHandler)

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodGet, "/predict/bitcoin", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes[i] = rec.Code
		if i == 0 && rec.Header().Get("X-RateLimit-Remaining") != "1" {
			t.Errorf("expected 1 remaining, got %q", rec.Header().Get("X-RateLimit-Remaining"))
		}
		if i == 2 && rec.Header().Get("Retry-After") != "60" {
			t.Errorf("expected Retry-After 60, got %q", rec.Header().Get("Retry-After"))
		}
	}

	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Errorf("expected [200 200 429], got %v", codes)
	}
	if lim.keys[0] != "predict:10.0.0.1" {
		t.Errorf("expected key predict:10.0.0.1, got %s", lim.keys[0])
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	lim := &countingLimiter{err: errors.New("redis down")}
	h := RateLimit(lim, "predict", 1, time.Second, discardLogger())(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/predict/bitcoin", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 when limiter fails, got %d", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/list", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Errorf("expected allowed origin header")
	}

	req = httptest.NewRequest(http.MethodGet, "/list", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("expected no CORS header for disallowed origin")
	}
}

func TestLogging_SetsRequestID(t *testing.T) {
	var seen string
	h := Logging(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	if seen == "" || rec.Header().Get("X-Request-ID") != seen {
		t.Errorf("expected request id %q in header, got %q", seen, rec.Header().Get("X-Request-ID"))
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("expected 418, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc" {
		t.Errorf("expected caller request id to be reused, got %q", seen)
	}
}
