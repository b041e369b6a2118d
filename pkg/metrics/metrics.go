// Package metrics exposes the service's Prometheus collectors. They
// register on the default registry and are served by promhttp at
// /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_active_connections",
		Help: "Number of websocket connections currently open.",
	})

	EnvelopesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_envelopes_total",
		Help: "Inbound websocket envelopes by tag.",
	}, []string{"tag"})

	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_sessions_created_total",
		Help: "Sessions assigned to authenticated connections.",
	})

	StreamChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_stream_chunks_total",
		Help: "Generation chunks relayed to clients.",
	})

	GenerationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_generation_failures_total",
		Help: "Prompt runs that ended in an error.",
	})

	storeOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatrelay_store_op_duration_seconds",
		Help:    "Latency of document store operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)

// ObserveStoreOp records the elapsed time of a store operation.
func ObserveStoreOp(op string, start time.Time) {
	storeOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
