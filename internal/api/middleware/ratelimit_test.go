package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestKeyedLimiterBurstPerKey(t *testing.T) {
	l := NewKeyedLimiter(Limits{PerSecond: 0.001, Burst: 2, IdleTTL: time.Hour, SweepEvery: time.Hour})
	defer l.Stop()

	for i, want := range []bool{true, true, false} {
		if got := l.Allow("198.51.100.1"); got != want {
			t.Fatalf("request %d: Allow = %v, want %v", i+1, got, want)
		}
	}
	if !l.Allow("198.51.100.2") {
		t.Fatal("a second key shares the first key's bucket")
	}
	if l.Len() != 2 {
		t.Fatalf("Len = %d, want 2", l.Len())
	}
}

func TestKeyedLimiterSweepDropsIdleBuckets(t *testing.T) {
	l := NewKeyedLimiter(Limits{PerSecond: 1, Burst: 1, IdleTTL: time.Minute, SweepEvery: time.Hour})
	defer l.Stop()

	clock := time.Unix(1700000000, 0)
	l.now = func() time.Time { return clock }

	l.Allow("stale")
	clock = clock.Add(2 * time.Minute)
	l.Allow("fresh")

	if n := l.sweep(); n != 1 {
		t.Fatalf("sweep removed %d, want 1", n)
	}
	if l.Len() != 1 {
		t.Fatalf("Len = %d after sweep, want 1", l.Len())
	}

	// A dropped key starts again with a full bucket.
	if !l.Allow("stale") {
		t.Fatal("swept key was still limited")
	}
}

func TestKeyedLimiterStopTwice(t *testing.T) {
	l := NewKeyedLimiter(VoiceLimits())
	l.Stop()
	l.Stop()
}

func TestRateLimitRejectsWithPlainText(t *testing.T) {
	l := NewKeyedLimiter(Limits{PerSecond: 0.001, Burst: 1, IdleTTL: time.Hour, SweepEvery: time.Hour})
	defer l.Stop()

	h := RateLimit(l, ClientIP, quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/voice/initial", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := send("10.0.0.5:12345"); rec.Code != http.StatusNoContent {
		t.Fatalf("first request: %d", rec.Code)
	}

	rec := send("10.0.0.5:23456")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request from same address: %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Body.String() != "rate limit exceeded" {
		t.Errorf("body = %q", rec.Body.String())
	}

	if rec := send("10.0.0.6:12345"); rec.Code != http.StatusNoContent {
		t.Fatalf("other address: %d", rec.Code)
	}
}

func TestRateLimitUsesKeyFunc(t *testing.T) {
	l := NewKeyedLimiter(Limits{PerSecond: 0.001, Burst: 1, IdleTTL: time.Hour, SweepEvery: time.Hour})
	defer l.Stop()

	byHeader := func(r *http.Request) string { return r.Header.Get("X-Bucket") }
	h := RateLimit(l, byHeader, quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i, tc := range []struct {
		bucket string
		want   int
	}{
		{"a", http.StatusOK},
		{"b", http.StatusOK},
		{"a", http.StatusTooManyRequests},
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.5:1"
		req.Header.Set("X-Bucket", tc.bucket)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("request %d (%s): %d, want %d", i+1, tc.bucket, rec.Code, tc.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"192.168.1.1:8080", "192.168.1.1"},
		{"[::1]:8080", "::1"},
		{"10.0.0.1", "10.0.0.1"},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tt.remoteAddr
		if got := ClientIP(r); got != tt.want {
			t.Errorf("ClientIP(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}
