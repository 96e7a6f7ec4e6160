package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the game relay.
//
// Naming convention: namespace_subsystem_name
// - namespace: relay
// - subsystem: websocket, game, hub, http
//
// Gauges report current state (connections, hubs); counters report
// cumulative events (envelopes, drops, rejections).

var (
	// ActiveConnections tracks live WebSocket connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveGames tracks live game hubs.
	ActiveGames = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "game",
		Name:      "hubs_active",
		Help:      "Current number of active game hubs",
	})

	// Envelopes counts envelope deliveries by intent.
	Envelopes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "hub",
		Name:      "envelopes_total",
		Help:      "Total envelopes delivered to client queues",
	}, []string{"intent"})

	// ReplayedEnvelopes counts envelopes served from the replay buffer.
	ReplayedEnvelopes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "hub",
		Name:      "replayed_envelopes_total",
		Help:      "Total envelopes replayed to reconnecting clients",
	})

	// ResumeRejections counts connections refused for an unservable lastnum.
	ResumeRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "hub",
		Name:      "resume_rejections_total",
		Help:      "Total connections rejected because lastnum was outside the replay window",
	})

	// DroppedClients counts clients dropped for overflowing their queue.
	DroppedClients = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "hub",
		Name:      "dropped_clients_total",
		Help:      "Total clients dropped after exceeding their queue high-water mark",
	})

	// RateLimitExceeded counts refused upgrades by limiter scope.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "http",
		Name:      "rate_limit_exceeded_total",
		Help:      "Total requests refused by the rate limiter",
	}, []string{"scope"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
