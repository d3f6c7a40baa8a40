// Package metrics exposes Prometheus collectors for the assistant service.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shsh_guard"

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing, so components can take it unconditionally.
type Metrics struct {
	messagesAnalyzed *prometheus.CounterVec
	recommendations  *prometheus.CounterVec
	modelLatency     *prometheus.HistogramVec
	modelFailures    *prometheus.CounterVec
	toolUsage        *prometheus.CounterVec
	liveSessions     prometheus.Gauge
	gatherer         prometheus.Gatherer
}

// MustNewMetrics registers the collectors with reg. Collectors already
// registered under the same name are reused, which keeps repeated
// construction in tests from panicking. Any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		messagesAnalyzed: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analyzer",
				Name:      "messages_total",
				Help:      "Messages run through the analyzer, by author role.",
			},
			[]string{"role"},
		)),
		recommendations: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "recommend",
				Name:      "served_total",
				Help:      "Recommendations returned to clients, by contributing source.",
			},
			[]string{"source"},
		)),
		modelLatency: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "model",
				Name:      "request_duration_seconds",
				Help:      "Latency of language model calls.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		)),
		modelFailures: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "model",
				Name:      "failures_total",
				Help:      "Language model calls that failed or returned an unusable reply.",
			},
			[]string{"reason"},
		)),
		toolUsage: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "usage",
				Name:      "tool_uses_total",
				Help:      "Recorded tool invocations, by tool and outcome.",
			},
			[]string{"tool", "outcome"},
		)),
		liveSessions: register(reg, prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "live",
				Help:      "Conversation sessions currently held in memory.",
			},
		)),
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// MessageAnalyzed counts one analyzed message.
func (m *Metrics) MessageAnalyzed(role string) {
	if m == nil {
		return
	}
	m.messagesAnalyzed.WithLabelValues(role).Inc()
}

// RecommendationServed counts one served recommendation per contributing source.
func (m *Metrics) RecommendationServed(sources []string) {
	if m == nil {
		return
	}
	for _, s := range sources {
		m.recommendations.WithLabelValues(s).Inc()
	}
}

// ObserveModelCall records a model call latency with its outcome status.
func (m *Metrics) ObserveModelCall(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.modelLatency.WithLabelValues(status).Observe(d.Seconds())
}

// ModelFailure counts a failed or rejected model reply.
func (m *Metrics) ModelFailure(reason string) {
	if m == nil {
		return
	}
	m.modelFailures.WithLabelValues(reason).Inc()
}

// ToolUsed counts a recorded tool invocation.
func (m *Metrics) ToolUsed(tool string, successful bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if successful {
		outcome = "success"
	}
	m.toolUsage.WithLabelValues(tool, outcome).Inc()
}

// SetLiveSessions reports the number of in-memory sessions.
func (m *Metrics) SetLiveSessions(n int) {
	if m == nil {
		return
	}
	m.liveSessions.Set(float64(n))
}
