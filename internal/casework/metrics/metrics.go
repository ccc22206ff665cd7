package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for case orchestration.
type Metrics struct {
	// Router directives by type (run_check, open_review, advance, fail)
	Directives *prometheus.CounterVec

	// Check execution latency by kind and result
	CheckLatency *prometheus.HistogramVec

	// Failed check attempts by kind and whether they were retryable
	AttemptFailures *prometheus.CounterVec

	ReviewsOpened   *prometheus.CounterVec
	ReviewsResolved *prometheus.CounterVec
	ResumeRejected  prometheus.Counter

	// Terminal outcomes by status and flag
	Outcomes *prometheus.CounterVec

	NotifyFailures prometheus.Counter
	LockWait       prometheus.Histogram
}

// New creates a new Metrics instance with all orchestration metrics registered.
func New() *Metrics {
	return &Metrics{
		Directives: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wealthcheck_case_directives_total",
			Help: "Total router directives issued by type",
		}, []string{"directive"}),

		CheckLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wealthcheck_check_duration_seconds",
			Help:    "Duration of check executions by kind and result",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind", "result"}), // result: "ok", "error"

		AttemptFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wealthcheck_check_attempt_failures_total",
			Help: "Total failed check attempts by kind",
		}, []string{"kind", "retryable"}),

		ReviewsOpened: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wealthcheck_reviews_opened_total",
			Help: "Total review requests opened by check kind",
		}, []string{"kind"}),

		ReviewsResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wealthcheck_reviews_resolved_total",
			Help: "Total review decisions applied by check kind and verdict",
		}, []string{"kind", "verdict"}),

		ResumeRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wealthcheck_resume_rejected_total",
			Help: "Total resume attempts rejected as stale, duplicate or mismatched",
		}),

		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wealthcheck_case_outcomes_total",
			Help: "Total cases reaching a terminal status",
		}, []string{"status", "flagged"}),

		NotifyFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wealthcheck_review_notify_failures_total",
			Help: "Total failed review notifications",
		}),

		LockWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "wealthcheck_case_lock_wait_seconds",
			Help:    "Time spent acquiring the per-case lock",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}
}

// IncrementDirective records one router decision.
func (m *Metrics) IncrementDirective(name string) {
	if m != nil {
		m.Directives.WithLabelValues(name).Inc()
	}
}

// ObserveCheckLatency records the duration of one check execution.
func (m *Metrics) ObserveCheckLatency(kind string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.CheckLatency.WithLabelValues(kind, result).Observe(d.Seconds())
}

func (m *Metrics) IncrementAttemptFailure(kind string, retryable bool) {
	if m == nil {
		return
	}
	label := "false"
	if retryable {
		label = "true"
	}
	m.AttemptFailures.WithLabelValues(kind, label).Inc()
}

func (m *Metrics) IncrementReviewOpened(kind string) {
	if m != nil {
		m.ReviewsOpened.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncrementReviewResolved(kind string, approved bool) {
	if m == nil {
		return
	}
	verdict := "rejected"
	if approved {
		verdict = "approved"
	}
	m.ReviewsResolved.WithLabelValues(kind, verdict).Inc()
}

func (m *Metrics) IncrementResumeRejected() {
	if m != nil {
		m.ResumeRejected.Inc()
	}
}

// IncrementOutcome records a case reaching completed or failed.
func (m *Metrics) IncrementOutcome(status string, flagged bool) {
	if m == nil {
		return
	}
	label := "false"
	if flagged {
		label = "true"
	}
	m.Outcomes.WithLabelValues(status, label).Inc()
}

func (m *Metrics) IncrementNotifyFailure() {
	if m != nil {
		m.NotifyFailures.Inc()
	}
}

func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m != nil {
		m.LockWait.Observe(d.Seconds())
	}
}
