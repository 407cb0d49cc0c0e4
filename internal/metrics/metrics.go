// Package metrics provides Prometheus instrumentation for the Murmur chat
// service: moderation pipeline outcomes, classifier call behavior, and
// hub-level connection and message counts.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "murmur_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MessagesTotal counts messages processed, labeled by type:
	// "received", "relayed", "rewritten", or "dropped".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"type"})

	// VerdictsTotal counts moderation verdicts by the path that produced
	// them: "ai", "heuristic", or "conservative".
	VerdictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_moderation_verdicts_total",
		Help: "Total number of moderation verdicts by source",
	}, []string{"source"})

	// ClassifierAttempts counts classifier calls by outcome: "ok",
	// "retryable", or "rate_limited".
	ClassifierAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_classifier_attempts_total",
		Help: "Total number of classifier attempts by outcome",
	}, []string{"outcome"})

	// ClassifierLatency records classifier round-trip latency in seconds.
	ClassifierLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "murmur_classifier_latency_seconds",
		Help:    "Classifier call latency in seconds",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	// ModerationLatency records end-to-end moderation latency per message.
	ModerationLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "murmur_moderation_latency_seconds",
		Help:    "End-to-end moderation latency in seconds",
		Buckets: []float64{.001, .01, .05, .1, .5, 1, 2.5, 5, 10},
	})

	// SeverityUpdates counts conversation severity broadcasts.
	SeverityUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "murmur_severity_updates_total",
		Help: "Total number of conversation severity score updates",
	})

	// ActiveConversations tracks conversations with at least one local participant.
	ActiveConversations = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "murmur_active_conversations",
		Help: "Current number of conversations with local participants",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MessagesTotal,
		VerdictsTotal,
		ClassifierAttempts,
		ClassifierLatency,
		ModerationLatency,
		SeverityUpdates,
		ActiveConversations,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
