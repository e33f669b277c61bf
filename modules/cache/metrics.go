package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is notified of cache events.
type Metrics interface {
	// Hit is called when Get returns a live value.
	Hit()
	// Miss is called when Get finds nothing, including after an expired entry was dropped.
	Miss()
	// Eviction is called when Set removes the oldest entry to stay within MaxSize.
	Eviction()
	// Expire is called with the number of entries removed because they outlived MaxAge.
	Expire(n int)
}

// NoopMetrics ignores all events.
type NoopMetrics struct{}

func (NoopMetrics) Hit()       {}
func (NoopMetrics) Miss()      {}
func (NoopMetrics) Eviction()  {}
func (NoopMetrics) Expire(int) {}

// PrometheusMetrics counts cache events.
type PrometheusMetrics struct {
	Hits      prometheus.Counter
	Misses    prometheus.Counter
	Evictions prometheus.Counter
	Expired   prometheus.Counter
}

// NewPrometheusMetrics registers the cache counters on reg under namespace.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		Hits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache reads that returned a live entry",
		}),
		Misses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache reads that found no live entry",
		}),
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of entries evicted to respect the size limit",
		}),
		Expired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "expired_total",
			Help:      "Total number of entries removed after exceeding the max age",
		}),
	}
}

func (m *PrometheusMetrics) Hit()      { m.Hits.Inc() }
func (m *PrometheusMetrics) Miss()     { m.Misses.Inc() }
func (m *PrometheusMetrics) Eviction() { m.Evictions.Inc() }
func (m *PrometheusMetrics) Expire(n int) {
	m.Expired.Add(float64(n))
}
