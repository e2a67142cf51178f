package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowpbx/gatebridge/internal/database/models"
)

// EventCounter returns ledger totals keyed by event kind.
type EventCounter interface {
	CountByKind(ctx context.Context) (map[string]int64, error)
}

// CallerCounter returns the number of enabled entries in the allow-list.
type CallerCounter interface {
	EnabledCallers() (int, error)
}

// Collector is a prometheus.Collector that gathers gatebridge metrics at scrape time.
type Collector struct {
	events    EventCounter
	callers   CallerCounter
	startTime time.Time
	logger    *slog.Logger

	eventsTotalDesc *prometheus.Desc
	callersDesc     *prometheus.Desc
	uptimeDesc      *prometheus.Desc
}

// NewCollector creates a new metrics collector. Either provider may be nil if unavailable.
func NewCollector(events EventCounter, callers CallerCounter, startTime time.Time, logger *slog.Logger) *Collector {
	return &Collector{
		events:    events,
		callers:   callers,
		startTime: startTime,
		logger:    logger.With("subsystem", "metrics"),

		eventsTotalDesc: prometheus.NewDesc(
			"gatebridge_events_total",
			"Activity ledger events recorded, by kind",
			[]string{"kind"}, nil,
		),
		callersDesc: prometheus.NewDesc(
			"gatebridge_allowed_callers",
			"Enabled entries in the caller allow-list",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"gatebridge_uptime_seconds",
			"Seconds since the gatebridge process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.eventsTotalDesc
	ch <- c.callersDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Ledger totals. Every known kind is emitted so series never vanish.
	if c.events != nil {
		counts, err := c.events.CountByKind(ctx)
		if err != nil {
			c.logger.Error("failed to count ledger events", "error", err)
		} else {
			for _, kind := range models.EventKinds {
				ch <- prometheus.MustNewConstMetric(
					c.eventsTotalDesc, prometheus.CounterValue,
					float64(counts[kind]), kind,
				)
			}
		}
	}

	if c.callers != nil {
		n, err := c.callers.EnabledCallers()
		if err != nil {
			c.logger.Error("failed to count allowed callers", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.callersDesc, prometheus.GaugeValue, float64(n),
			)
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
