package delivery

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for delivery runs.
type Metrics struct {
	RunsTotal   *prometheus.CounterVec
	LinesTotal  *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
	ActiveRuns  prometheus.Gauge
}

// NewMetrics registers delivery metrics with the default registry once.
//
// Metrics:
//   - eventforge_delivery_runs_total{transport,outcome}
//   - eventforge_delivery_lines_total{transport}
//   - eventforge_delivery_run_duration_seconds{transport}
//   - eventforge_delivery_active_runs
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "eventforge_delivery_runs_total",
					Help: "Total number of finished delivery runs",
				},
				[]string{"transport", "outcome"},
			),

			LinesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "eventforge_delivery_lines_total",
					Help: "Total number of lines delivered to destinations",
				},
				[]string{"transport"},
			),

			RunDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "eventforge_delivery_run_duration_seconds",
					Help:    "Duration of delivery runs in seconds",
					Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
				},
				[]string{"transport"},
			),

			ActiveRuns: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "eventforge_delivery_active_runs",
					Help: "Number of delivery runs currently streaming",
				},
			),
		}
	})

	return globalMetrics
}

func (m *Metrics) runStarted() {
	m.ActiveRuns.Inc()
}

func (m *Metrics) runFinished(transport, outcome string, delivered int, d time.Duration) {
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(transport, outcome).Inc()
	m.RunDuration.WithLabelValues(transport).Observe(d.Seconds())
	m.addLines(transport, delivered)
}

func (m *Metrics) addLines(transport string, n int) {
	if n > 0 {
		m.LinesTotal.WithLabelValues(transport).Add(float64(n))
	}
}
