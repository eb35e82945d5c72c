package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ModuleMetrics records JSON-RPC activity for the lending module.
type ModuleMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *ModuleMetrics
)

// Metrics returns the lazily-initialised metrics registry used to record RPC
// activity. Collectors are registered with the default prometheus registry on
// first use.
func Metrics() *ModuleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &ModuleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "p2plend",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "p2plend",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "p2plend",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(moduleRegistry.requests, moduleRegistry.errors, moduleRegistry.latency)
	})
	return moduleRegistry
}

// ObserveRequest records one completed RPC call.
func (m *ModuleMetrics) ObserveRequest(method, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveError records one failed RPC call with its error code label.
func (m *ModuleMetrics) ObserveError(method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(method, code).Inc()
}
