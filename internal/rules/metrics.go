// internal/rules/metrics.go
package rules

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Event outcomes reported by events_total.
const (
	OutcomeMatched   = "matched"
	OutcomeUnmatched = "unmatched"
	OutcomeFailed    = "failed"
)

// Metrics holds the engine's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	eventsTotal    *prometheus.CounterVec
	matchesTotal   *prometheus.CounterVec
	submitRejected prometheus.Counter
	sinkErrors     prometheus.Counter
	queueDepth     prometheus.Gauge
	rulesLoaded    prometheus.Gauge
	scanDuration   prometheus.Histogram
}

// NewMetrics creates the engine collectors and registers them with reg.
// reg may be nil to create unregistered collectors (tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bidkeeper",
			Name:      "events_total",
			Help:      "Bid requests processed by workers, by outcome",
		}, []string{"outcome"}),
		matchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bidkeeper",
			Name:      "matches_total",
			Help:      "Match notifications emitted, by rule",
		}, []string{"rule_id"}),
		submitRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bidkeeper",
			Name:      "submit_rejected_total",
			Help:      "Bid requests rejected because the dispatch queue was full",
		}),
		sinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bidkeeper",
			Name:      "sink_errors_total",
			Help:      "Match notifications the sink failed to record",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bidkeeper",
			Name:      "queue_depth",
			Help:      "Bid requests waiting in the dispatch queue",
		}),
		rulesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bidkeeper",
			Name:      "rules_loaded",
			Help:      "Rules in the active snapshot",
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bidkeeper",
			Name:      "scan_duration_seconds",
			Help:      "Time to scan the rule snapshot for one bid request",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 4, 10),
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.eventsTotal,
			m.matchesTotal,
			m.submitRejected,
			m.sinkErrors,
			m.queueDepth,
			m.rulesLoaded,
			m.scanDuration,
		)
	}
	return m
}

func (m *Metrics) observeEvent(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(outcome).Inc()
	m.scanDuration.Observe(took.Seconds())
}

func (m *Metrics) observeMatch(ruleID string) {
	if m == nil {
		return
	}
	m.matchesTotal.WithLabelValues(ruleID).Inc()
}

func (m *Metrics) observeSinkError() {
	if m == nil {
		return
	}
	m.sinkErrors.Inc()
}

func (m *Metrics) observeRejected() {
	if m == nil {
		return
	}
	m.submitRejected.Inc()
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) setRulesLoaded(n int) {
	if m == nil {
		return
	}
	m.rulesLoaded.Set(float64(n))
}
