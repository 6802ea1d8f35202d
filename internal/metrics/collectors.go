package metrics

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"hermes/pkg/logger"
)

// CustomCollector collects storage-level gauges straight from Postgres on
// each scrape: stored sessions, transcript size, outstanding tokens and
// mirrored connections across all instances.
type CustomCollector struct {
	log      *logger.Logger
	postgres *sqlx.DB

	// Descriptors
	storedSessions      *prometheus.Desc
	storedEvents        *prometheus.Desc
	outstandingTokens   *prometheus.Desc
	mirroredConnections *prometheus.Desc
}

// NewCustomCollector creates a new custom metrics collector
func NewCustomCollector(log *logger.Logger, postgres *sqlx.DB) *CustomCollector {
	return &CustomCollector{
		log:      log,
		postgres: postgres,

		storedSessions: prometheus.NewDesc(
			"hermes_stored_sessions",
			"Total number of persisted sessions",
			nil, nil,
		),
		storedEvents: prometheus.NewDesc(
			"hermes_stored_events",
			"Total number of persisted transcript events",
			nil, nil,
		),
		outstandingTokens: prometheus.NewDesc(
			"hermes_outstanding_resumption_tokens",
			"Resumption tokens issued and not yet redeemed or expired",
			nil, nil,
		),
		mirroredConnections: prometheus.NewDesc(
			"hermes_mirrored_connections",
			"Connection mirror rows across all instances",
			[]string{"instance_id"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *CustomCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.storedSessions
	ch <- c.storedEvents
	ch <- c.outstandingTokens
	ch <- c.mirroredConnections
}

// Collect implements prometheus.Collector
func (c *CustomCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.collectCount(ctx, ch, c.storedSessions, "SELECT COUNT(*) FROM adk_sessions")
	c.collectCount(ctx, ch, c.storedEvents, "SELECT COUNT(*) FROM adk_events")
	c.collectCount(ctx, ch, c.outstandingTokens,
		"SELECT COUNT(*) FROM resumption_tokens WHERE expires_at > NOW()")
	c.collectConnectionStats(ctx, ch)
}

func (c *CustomCollector) collectCount(ctx context.Context, ch chan<- prometheus.Metric, desc *prometheus.Desc, query string) {
	var count int
	if err := c.postgres.GetContext(ctx, &count, query); err != nil {
		c.log.Errorw("Failed to collect storage metric", "error", err)
		return
	}

	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(count))
}

func (c *CustomCollector) collectConnectionStats(ctx context.Context, ch chan<- prometheus.Metric) {
	type ConnectionStat struct {
		InstanceID string `db:"instance_id"`
		Count      int    `db:"count"`
	}

	var stats []ConnectionStat
	err := c.postgres.SelectContext(ctx, &stats, `
		SELECT instance_id, COUNT(*) as count
		FROM active_connections
		GROUP BY instance_id
	`)
	if err != nil {
		c.log.Errorw("Failed to collect connection stats", "error", err)
		return
	}

	for _, stat := range stats {
		ch <- prometheus.MustNewConstMetric(
			c.mirroredConnections,
			prometheus.GaugeValue,
			float64(stat.Count),
			stat.InstanceID,
		)
	}
}

// RegisterCustomCollector registers the custom collector
func RegisterCustomCollector(collector *CustomCollector) {
	prometheus.MustRegister(collector)
}
