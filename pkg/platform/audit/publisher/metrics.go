package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for audit delivery.
type Metrics struct {
	Published    prometheus.Counter
	Dropped      prometheus.Counter
	Failures     prometheus.Counter
	BreakerState prometheus.Gauge
}

// NewMetrics creates and registers audit delivery metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Published: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wealthcheck_audit_events_published_total",
			Help: "Total number of audit events delivered to the sink",
		}),
		Dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wealthcheck_audit_events_dropped_total",
			Help: "Total number of audit events dropped by the breaker, buffer or sink failures",
		}),
		Failures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wealthcheck_audit_sink_failures_total",
			Help: "Total number of failed sink writes",
		}),
		BreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wealthcheck_audit_sink_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
	}
}

func (m *Metrics) AddPublished(n int) {
	if m != nil {
		m.Published.Add(float64(n))
	}
}

func (m *Metrics) AddDropped(n int) {
	if m != nil {
		m.Dropped.Add(float64(n))
	}
}

func (m *Metrics) IncFailures() {
	if m != nil {
		m.Failures.Inc()
	}
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerState.Set(1)
		return
	}
	m.BreakerState.Set(0)
}
