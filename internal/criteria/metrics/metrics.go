package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for criterion evaluation and issuance.
type Metrics struct {
	// Evaluation outcomes by mode and result
	EvaluationOutcome *prometheus.CounterVec

	// Ledger insert attempts by result ("inserted", "duplicate")
	LedgerWrites *prometheus.CounterVec

	// Issuer call outcomes by result ("ok", "error", "fast_fail")
	IssuerCalls *prometheus.CounterVec

	// Full review latency, single-event and backlog
	ReviewLatency *prometheus.HistogramVec

	// Backlog sweep size (criteria visited per sweep)
	SweepSize prometheus.Histogram
}

// New creates a new Metrics instance with all criteria module metrics registered.
func New() *Metrics {
	return &Metrics{
		EvaluationOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "openbadger_criteria_evaluations_total",
			Help: "Total criterion evaluations by completion mode and result",
		}, []string{"mode", "result"}), // result: "met", "unmet", "error"

		LedgerWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "openbadger_criteria_ledger_writes_total",
			Help: "Ledger insert attempts by result",
		}, []string{"result"}), // result: "inserted", "duplicate"

		IssuerCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "openbadger_issuer_calls_total",
			Help: "Issuer API calls by result",
		}, []string{"result"}), // result: "ok", "error", "fast_fail"

		ReviewLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "openbadger_review_duration_seconds",
			Help:    "Duration of criterion review by trigger",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"trigger"}), // trigger: "event", "backlog"

		SweepSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "openbadger_backlog_sweep_criteria",
			Help:    "Criteria visited per backlog sweep",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
	}
}

// IncrementEvaluation records a criterion evaluation outcome.
func (m *Metrics) IncrementEvaluation(mode, result string) {
	if m != nil {
		m.EvaluationOutcome.WithLabelValues(mode, result).Inc()
	}
}

// IncrementLedgerWrite records a ledger insert attempt.
func (m *Metrics) IncrementLedgerWrite(inserted bool) {
	if m != nil {
		result := "duplicate"
		if inserted {
			result = "inserted"
		}
		m.LedgerWrites.WithLabelValues(result).Inc()
	}
}

// IncrementIssuerCall records the outcome of an issuer API call.
func (m *Metrics) IncrementIssuerCall(result string) {
	if m != nil {
		m.IssuerCalls.WithLabelValues(result).Inc()
	}
}

// ObserveReviewLatency records how long one review took.
func (m *Metrics) ObserveReviewLatency(trigger string, d time.Duration) {
	if m != nil {
		m.ReviewLatency.WithLabelValues(trigger).Observe(d.Seconds())
	}
}

// ObserveSweepSize records how many criteria a backlog sweep visited.
func (m *Metrics) ObserveSweepSize(n int) {
	if m != nil {
		m.SweepSize.Observe(float64(n))
	}
}
