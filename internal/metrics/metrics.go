// Package metrics provides Prometheus instrumentation for the relay. It
// exposes gauges for connection counts, counters for event throughput and
// drops, and a histogram for event handling latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of open WebSocket connections,
	// joined or not.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_total",
		Help: "Current number of open WebSocket connections",
	})

	// JoinedUsers tracks the number of connections that completed join.
	JoinedUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_joined_users",
		Help: "Current number of joined users",
	})

	// EventsTotal counts inbound client events by type.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_total",
		Help: "Total number of inbound client events",
	}, []string{"type"})

	// DroppedEventsTotal counts inbound events discarded without effect,
	// labeled by reason ("unknown_sender", "unknown_target", "parse_error", ...).
	DroppedEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_dropped_events_total",
		Help: "Total number of inbound events dropped",
	}, []string{"reason"})

	// MessagesTotal counts appended messages by kind: "text", "image",
	// "file", "system" or "private".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "Total number of messages appended",
	}, []string{"kind"})

	// OutboundDroppedTotal counts frames that could not be queued because the
	// recipient's send queue was full or already closed.
	OutboundDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_outbound_dropped_total",
		Help: "Total number of outbound frames dropped",
	})

	// EventLatency records inbound event processing latency in seconds.
	EventLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_event_latency_seconds",
		Help:    "Inbound event processing latency in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	})

	// PresenceSweeps counts activity sweeps, labeled by whether any status
	// changed.
	PresenceSweeps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_presence_sweeps_total",
		Help: "Total number of presence sweeps",
	}, []string{"changed"})

	// RateLimitedTotal counts events rejected by the rate limiter.
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_rate_limited_total",
		Help: "Total number of events rejected by the rate limiter",
	})

	// ArchiveTotal counts archive records, labeled by result: "published",
	// "dropped" or "failed".
	ArchiveTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_archive_records_total",
		Help: "Total number of archive records handled",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		JoinedUsers,
		EventsTotal,
		DroppedEventsTotal,
		MessagesTotal,
		OutboundDroppedTotal,
		EventLatency,
		PresenceSweeps,
		RateLimitedTotal,
		ArchiveTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
