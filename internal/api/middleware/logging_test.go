package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serveLogged(t *testing.T, h http.HandlerFunc, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	req := httptest.NewRequest(method, path, strings.NewReader("From=%2B15550001111"))
	req.RemoteAddr = "203.0.113.9:4000"
	rr := httptest.NewRecorder()
	StructuredLogger(logger)(h).ServeHTTP(rr, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	return rr, entry
}

func TestStructuredLoggerDefaultStatus(t *testing.T) {
	rr, entry := serveLogged(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}, http.MethodGet, "/healthz")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if entry["method"] != "GET" {
		t.Fatalf("expected method GET, got %v", entry["method"])
	}
	if entry["path"] != "/healthz" {
		t.Fatalf("expected path /healthz, got %v", entry["path"])
	}
	// JSON numbers decode as float64.
	if entry["status"] != float64(200) {
		t.Fatalf("expected status 200, got %v", entry["status"])
	}
	if entry["bytes"] != float64(2) {
		t.Fatalf("expected bytes 2, got %v", entry["bytes"])
	}
	if entry["subsystem"] != "http" {
		t.Fatalf("expected subsystem http, got %v", entry["subsystem"])
	}
	if entry["remote_addr"] != "203.0.113.9:4000" {
		t.Fatalf("expected remote_addr, got %v", entry["remote_addr"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Fatal("expected duration_ms in log output")
	}
}

func TestStructuredLoggerExplicitStatus(t *testing.T) {
	rr, entry := serveLogged(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}, http.MethodPost, "/voice/initial")

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if entry["status"] != float64(403) {
		t.Fatalf("expected status 403, got %v", entry["status"])
	}
}

func TestStructuredLoggerDoubleWriteHeader(t *testing.T) {
	_, entry := serveLogged(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.WriteHeader(http.StatusInternalServerError) // Should be ignored.
	}, http.MethodPost, "/nope")

	if entry["status"] != float64(404) {
		t.Fatalf("expected first status 404, got %v", entry["status"])
	}
}

func TestStructuredLoggerOmitsBody(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	req := httptest.NewRequest(http.MethodPost, "/voice/confirm", strings.NewReader("Digits=1&From=%2B15550001111"))
	StructuredLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(httptest.NewRecorder(), req)

	if strings.Contains(buf.String(), "15550001111") {
		t.Fatalf("request body leaked into log: %s", buf.String())
	}
}

func TestWrapResponseWriterDefaultStatus(t *testing.T) {
	w := newWrapResponseWriter(httptest.NewRecorder())
	if w.status != http.StatusOK {
		t.Fatalf("expected default status 200, got %d", w.status)
	}
}

func TestWrapResponseWriterCapturesStatus(t *testing.T) {
	w := newWrapResponseWriter(httptest.NewRecorder())
	w.WriteHeader(http.StatusBadRequest)
	if w.status != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.status)
	}
}

func TestWrapResponseWriterWriteLocksStatus(t *testing.T) {
	w := newWrapResponseWriter(httptest.NewRecorder())
	w.Write([]byte("body"))
	w.WriteHeader(http.StatusTeapot)
	if w.status != http.StatusOK {
		t.Fatalf("status after implicit 200 should stay 200, got %d", w.status)
	}
	if w.bytes != 4 {
		t.Fatalf("expected 4 bytes, got %d", w.bytes)
	}
}

func TestWrapResponseWriterFlushReachesUnderlying(t *testing.T) {
	rec := httptest.NewRecorder()
	w := newWrapResponseWriter(rec)

	if err := http.NewResponseController(w).Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !rec.Flushed {
		t.Fatal("flush did not reach the underlying writer")
	}
}
