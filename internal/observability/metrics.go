package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SwipesTotal counts recorded swipe decisions by action.
	SwipesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mazl_swipes_total",
		Help: "Total number of recorded swipe decisions",
	}, []string{"action"})

	// MatchesCreated counts matches inserted by this process.
	MatchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mazl_matches_created_total",
		Help: "Total number of matches created",
	})

	// MatchRaces counts match inserts that lost to a concurrent creator.
	MatchRaces = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mazl_match_races_total",
		Help: "Total number of match inserts that lost to an existing row",
	})

	// MessagesTotal counts appended chat messages.
	MessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mazl_messages_total",
		Help: "Total number of chat messages appended",
	})

	// RealtimeEventsTotal counts published realtime events by type.
	RealtimeEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mazl_realtime_events_total",
		Help: "Total realtime events published by type",
	}, []string{"event_type"})

	// WebSocketConnectionsTotal is the gauge of total WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mazl_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketBackpressureDrops counts frames dropped because a channel could not accept them.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mazl_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket frames dropped due to backpressure",
	}, []string{"hub", "reason"})

	// RedisErrors counts Redis errors by command.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mazl_redis_errors_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mazl_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
