package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics captures delivery-core health signals.
type Metrics struct {
	eventsIngested   *prometheus.CounterVec
	ingestFailures   *prometheus.CounterVec
	dispatchAttempts *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	sweepRuns        prometheus.Counter
	sweepClaimed     prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		eventsIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventcore",
			Name:      "payment_events_ingested_total",
			Help:      "Inbound provider events accepted, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ingestFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventcore",
			Name:      "payment_events_failed_total",
			Help:      "Inbound provider events rejected, by provider and reason.",
		}, []string{"provider", "reason"}),
		dispatchAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventcore",
			Name:      "webhook_dispatch_attempts_total",
			Help:      "Outbound delivery attempts, by resulting status.",
		}, []string{"status"}),
		dispatchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "eventcore",
			Name:      "webhook_dispatch_duration_seconds",
			Help:      "Outbound delivery attempt latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		sweepRuns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "eventcore",
			Name:      "sweep_runs_total",
			Help:      "Retry sweeper iterations.",
		}),
		sweepClaimed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "eventcore",
			Name:      "sweep_events_claimed_total",
			Help:      "Due webhook events claimed by the sweeper.",
		}),
	}
}

func (m *Metrics) IncEventIngested(provider, outcome string) {
	if m == nil {
		return
	}
	m.eventsIngested.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) IncIngestFailure(provider, reason string) {
	if m == nil {
		return
	}
	m.ingestFailures.WithLabelValues(provider, reason).Inc()
}

func (m *Metrics) ObserveDispatch(status string, seconds float64) {
	if m == nil {
		return
	}
	m.dispatchAttempts.WithLabelValues(status).Inc()
	m.dispatchDuration.WithLabelValues(status).Observe(seconds)
}

func (m *Metrics) IncSweepRun() {
	if m == nil {
		return
	}
	m.sweepRuns.Inc()
}

func (m *Metrics) AddSweepClaimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepClaimed.Add(float64(n))
}
