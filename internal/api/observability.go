package api

import (
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics - all registered at package init
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "match_tick_duration_seconds",
		Help:    "Time spent in one scheduler tick",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
	})

	activeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "match_rooms_active",
		Help: "Current number of active match rooms",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchmaking_queue_depth",
		Help: "Players currently waiting in the matchmaking queue",
	})

	activeTournaments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tournaments_active",
		Help: "Current number of live tournament lobbies",
	})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Current number of WebSocket connections",
	})

	wsMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_sent_total",
		Help: "Total WebSocket messages written",
	})

	wsMessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_dropped_total",
		Help: "Messages dropped because a client's send buffer was full",
	})

	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter, origin check or limits",
	}, []string{"reason"})
)

// RecordTick records scheduler tick timing.
func RecordTick(d time.Duration) {
	tickDuration.Observe(d.Seconds())
}

// UpdateGauges refreshes the engine gauges. Called periodically by the
// server's metrics loop.
func UpdateGauges(rooms, queue, tournaments int) {
	activeRooms.Set(float64(rooms))
	queueDepth.Set(float64(queue))
	activeTournaments.Set(float64(tournaments))
}

// UpdateWSConnections updates the connection gauge.
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages counts one outbound message.
func IncrementWSMessages() {
	wsMessagesSent.Inc()
}

// RecordMessageDropped counts one dropped outbound message.
func RecordMessageDropped() {
	wsMessagesDropped.Inc()
}

// RecordConnectionRejected increments the rejection counter.
// reason must be one of: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit"
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// ObservabilityConfig configures the debug server
type ObservabilityConfig struct {
	Enabled    bool
	ListenAddr string // MUST stay on localhost in production
}

// DefaultObservabilityConfig returns safe defaults
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// StartDebugServer starts the internal observability server with pprof and
// the Prometheus endpoint. It must bind to localhost only; external binding
// requires an explicit env override.
func StartDebugServer(cfg ObservabilityConfig) error {
	if !cfg.Enabled {
		log.Println("debug server disabled")
		return nil
	}

	if cfg.ListenAddr != "127.0.0.1:6060" && cfg.ListenAddr != "localhost:6060" {
		if os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
			log.Println("debug server forced to localhost")
			cfg.ListenAddr = "127.0.0.1:6060"
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	go func() {
		log.Printf("debug server on %s (pprof, metrics)", cfg.ListenAddr)
		if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
			log.Printf("debug server error: %v", err)
		}
	}()

	return nil
}
