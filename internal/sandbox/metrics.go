package sandbox

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks tool execution outcomes and latency.
type Metrics struct {
	ExecutionsTotal *prometheus.CounterVec
	Duration        *prometheus.HistogramVec
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics returns the process-wide sandbox metrics.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			ExecutionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "assistant_tool_executions_total",
				Help: "Total tool executions by tool name and status",
			}, []string{"tool", "status"}),
			Duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "assistant_tool_duration_seconds",
				Help:    "Tool executor latency in seconds",
				Buckets: prometheus.DefBuckets,
			}, []string{"tool"}),
		}
	})
	return metricsInstance
}

func (m *Metrics) observe(tool, status string, seconds float64) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(tool, status).Inc()
	if seconds > 0 {
		m.Duration.WithLabelValues(tool).Observe(seconds)
	}
}
