package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Attempt outcomes
const (
	OutcomeSuccess = "success"
	OutcomeStatus  = "status"
	OutcomeTimeout = "timeout"
	OutcomeNetwork = "network"
)

// Metrics is notified of request client events.
type Metrics interface {
	CacheHit()
	Attempt(outcome string)
	Exhausted()
	ObserveRequest(d time.Duration)
}

// NoopMetrics discards every event.
type NoopMetrics struct{}

func (NoopMetrics) CacheHit()                    {}
func (NoopMetrics) Attempt(string)               {}
func (NoopMetrics) Exhausted()                   {}
func (NoopMetrics) ObserveRequest(time.Duration) {}

// PrometheusMetrics holds the request client metrics.
type PrometheusMetrics struct {
	CacheHits       prometheus.Counter
	Attempts        *prometheus.CounterVec
	ExhaustedTotal  prometheus.Counter
	RequestDuration prometheus.Histogram
}

// NewPrometheusMetrics registers the client metrics on reg under namespace.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "cache_hits_total",
			Help:      "Total number of requests answered from the cache",
		}),
		Attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "attempts_total",
			Help:      "Total number of network attempts by outcome",
		}, []string{"outcome"}),
		ExhaustedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "exhausted_total",
			Help:      "Total number of requests that failed every attempt",
		}),
		RequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Duration of logical requests including retries and waits",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
	}
}

func (m *PrometheusMetrics) CacheHit()              { m.CacheHits.Inc() }
func (m *PrometheusMetrics) Attempt(outcome string) { m.Attempts.WithLabelValues(outcome).Inc() }
func (m *PrometheusMetrics) Exhausted()             { m.ExhaustedTotal.Inc() }
func (m *PrometheusMetrics) ObserveRequest(d time.Duration) {
	m.RequestDuration.Observe(d.Seconds())
}
