package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hermes_active_connections",
			Help: "Number of currently bound client transports",
		},
	)

	ConnectionsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hermes_connections_opened_total",
			Help: "Total number of transport binds",
		},
		[]string{"transport"}, // transport: websocket|sse
	)

	ConnectionsSuperseded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hermes_connections_superseded_total",
			Help: "Total number of transports replaced by a newer bind on the same session",
		},
	)

	// Turn metrics
	Turns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hermes_turns_total",
			Help: "Total number of processed conversation turns",
		},
		[]string{"status"}, // status: success|error|timeout
	)

	TurnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hermes_turn_duration_seconds",
			Help:    "Conversation turn duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// Wire message metrics
	WireMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hermes_wire_messages_total",
			Help: "Total number of wire messages delivered to clients",
		},
		[]string{"type"},
	)

	WireMessagesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hermes_wire_messages_dropped_total",
			Help: "Total number of wire messages with no bound transport to deliver to",
		},
	)

	// Resumption token metrics
	TokensIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hermes_resumption_tokens_issued_total",
			Help: "Total number of resumption tokens issued",
		},
	)

	TokenRedemptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hermes_resumption_token_redemptions_total",
			Help: "Total number of resumption token redemption attempts",
		},
		[]string{"status"}, // status: success|not_found|expired
	)

	// Session metrics
	SessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hermes_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionsDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hermes_sessions_deleted_total",
			Help: "Total number of sessions deleted",
		},
	)
)

// Init registers all metrics with Prometheus
func Init() {
	prometheus.MustRegister(ActiveConnections)
	prometheus.MustRegister(ConnectionsOpened)
	prometheus.MustRegister(ConnectionsSuperseded)

	prometheus.MustRegister(Turns)
	prometheus.MustRegister(TurnDuration)

	prometheus.MustRegister(WireMessages)
	prometheus.MustRegister(WireMessagesDropped)

	prometheus.MustRegister(TokensIssued)
	prometheus.MustRegister(TokenRedemptions)

	prometheus.MustRegister(SessionsCreated)
	prometheus.MustRegister(SessionsDeleted)
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTurn records one processed turn
func RecordTurn(duration time.Duration, status string) {
	Turns.WithLabelValues(status).Inc()
	TurnDuration.Observe(duration.Seconds())
}

// RecordWireMessage records a delivered wire message
func RecordWireMessage(msgType string, delivered bool) {
	if delivered {
		WireMessages.WithLabelValues(msgType).Inc()
		return
	}
	WireMessagesDropped.Inc()
}

// RecordTokenRedemption records a redemption attempt outcome
func RecordTokenRedemption(status string) {
	TokenRedemptions.WithLabelValues(status).Inc()
}
