package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type fakeEvents struct {
	counts map[string]int64
	err    error
}

func (f fakeEvents) CountByKind(ctx context.Context) (map[string]int64, error) {
	return f.counts, f.err
}

type fakeCallers struct {
	n   int
	err error
}

func (f fakeCallers) EnabledCallers() (int, error) { return f.n, f.err }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)

	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("scrape status = %d: %s", rr.Code, rr.Body.String())
	}
	return rr.Body.String()
}

func TestCollectorExposesLedgerCounts(t *testing.T) {
	c := NewCollector(
		fakeEvents{counts: map[string]int64{"unlock_success": 3, "caller_blocked": 1}},
		fakeCallers{n: 4},
		time.Now().Add(-time.Minute),
		testLogger(),
	)
	body := scrape(t, c)

	for _, want := range []string{
		`gatebridge_events_total{kind="unlock_success"} 3`,
		`gatebridge_events_total{kind="caller_blocked"} 1`,
		`gatebridge_events_total{kind="unlock_failed"} 0`,
		`gatebridge_allowed_callers 4`,
		`gatebridge_uptime_seconds `,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q:\n%s", want, body)
		}
	}
}

func TestCollectorSkipsFailingProviders(t *testing.T) {
	c := NewCollector(
		fakeEvents{err: errors.New("database is locked")},
		fakeCallers{err: errors.New("no such file")},
		time.Now(),
		testLogger(),
	)
	body := scrape(t, c)

	if strings.Contains(body, "gatebridge_events_total{") {
		t.Errorf("events exported despite error:\n%s", body)
	}
	if strings.Contains(body, "gatebridge_allowed_callers ") {
		t.Errorf("callers exported despite error:\n%s", body)
	}
	if !strings.Contains(body, "gatebridge_uptime_seconds") {
		t.Errorf("uptime missing:\n%s", body)
	}
}

func TestCollectorNilProviders(t *testing.T) {
	body := scrape(t, NewCollector(nil, nil, time.Now(), testLogger()))
	if !strings.Contains(body, "gatebridge_uptime_seconds") {
		t.Errorf("uptime missing:\n%s", body)
	}
}
