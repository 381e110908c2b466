// Package telemetry wires the shared Prometheus metrics and OpenTelemetry
// tracing used across the Gauntlet, Fitness Engine, and Protocol Surface.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the accumulated metrics in the Prometheus exposition
// format, mounted at /metrics by the Protocol Surface.
func Handler() http.Handler {
	return promhttp.Handler()
}

var (
	// GauntletVerdicts counts verdicts produced by the Gauntlet, labeled by
	// outcome (approved, rejected_static, rejected_runtime).
	GauntletVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentevolution",
			Subsystem: "gauntlet",
			Name:      "verdicts_total",
			Help:      "Total number of Gauntlet verdicts by outcome",
		},
		[]string{"outcome"},
	)

	// SandboxDuration observes the wall-clock duration of sandbox
	// executions, labeled by whether the run was killed for a limit breach.
	SandboxDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentevolution",
			Subsystem: "sandbox",
			Name:      "execution_seconds",
			Help:      "Sandbox execution wall-clock duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"killed"},
	)

	// SandboxQueueDepth tracks how many submissions are currently queued
	// or running against the bounded sandbox pool.
	SandboxQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agentevolution",
			Subsystem: "sandbox",
			Name:      "queue_depth",
			Help:      "Number of submissions currently queued or running in the sandbox pool",
		},
	)

	// FitnessRecomputations counts fitness recomputations.
	FitnessRecomputations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "agentevolution",
			Subsystem: "fitness",
			Name:      "recomputations_total",
			Help:      "Total number of fitness score recomputations",
		},
	)

	// Delistings counts tools delisted, labeled by reason.
	Delistings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentevolution",
			Subsystem: "fitness",
			Name:      "delistings_total",
			Help:      "Total number of tools delisted, by reason",
		},
		[]string{"reason"},
	)

	// TrustEscalations counts tools advancing from Verified to BattleTested.
	TrustEscalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "agentevolution",
			Subsystem: "fitness",
			Name:      "trust_escalations_total",
			Help:      "Total number of tools escalated from verified to battle_tested",
		},
	)

	// RPCRequests counts Protocol Surface calls, labeled by method and
	// outcome code.
	RPCRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentevolution",
			Subsystem: "protocol",
			Name:      "requests_total",
			Help:      "Total number of RPC requests handled, by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	// RPCLatency observes end-to-end handler latency per method.
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentevolution",
			Subsystem: "protocol",
			Name:      "request_seconds",
			Help:      "RPC request handling latency in seconds, by method",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)
