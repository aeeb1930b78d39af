package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the engine's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	RulesLoaded      prometheus.Gauge
	RulesSkipped     *prometheus.CounterVec
	EventsEvaluated  prometheus.Counter
	RulesEvaluated   prometheus.Counter
	RulesPrefiltered prometheus.Counter
	Matches          *prometheus.CounterVec
	EvalErrors       prometheus.Counter
	EvalDuration     prometheus.Histogram
}

// NewMetrics registers the collectors with reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RulesLoaded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "sigma",
			Name:      "rules_loaded",
			Help:      "Rules compiled into the active engine.",
		}),
		RulesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sigma",
			Name:      "rules_skipped_total",
			Help:      "Rules left out at compile time, by failure kind.",
		}, []string{"kind"}),
		EventsEvaluated: f.NewCounter(prometheus.CounterOpts{
			Namespace: "sigma",
			Name:      "events_evaluated_total",
			Help:      "Events evaluated against the rule set.",
		}),
		RulesEvaluated: f.NewCounter(prometheus.CounterOpts{
			Namespace: "sigma",
			Name:      "rule_evaluations_total",
			Help:      "Rule conditions evaluated after prefiltering.",
		}),
		RulesPrefiltered: f.NewCounter(prometheus.CounterOpts{
			Namespace: "sigma",
			Name:      "rule_prefiltered_total",
			Help:      "Rule evaluations avoided by the literal prefilter.",
		}),
		Matches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sigma",
			Name:      "rule_matches_total",
			Help:      "Events matched, by rule.",
		}, []string{"rule_id"}),
		EvalErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "sigma",
			Name:      "evaluation_errors_total",
			Help:      "Events whose evaluation returned an error.",
		}),
		EvalDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sigma",
			Name:      "event_evaluation_seconds",
			Help:      "Time to evaluate one event against all rules.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
	}
}

func (m *Metrics) rulesCompiled(loaded int, skipped []SkippedRule) {
	if m == nil {
		return
	}
	m.RulesLoaded.Set(float64(loaded))
	for _, s := range skipped {
		m.RulesSkipped.WithLabelValues(s.Kind()).Inc()
	}
}

func (m *Metrics) eventEvaluated(total, candidates int, d time.Duration) {
	if m == nil {
		return
	}
	m.EventsEvaluated.Inc()
	m.RulesEvaluated.Add(float64(candidates))
	m.RulesPrefiltered.Add(float64(total - candidates))
	m.EvalDuration.Observe(d.Seconds())
}

func (m *Metrics) ruleMatched(id string) {
	if m == nil {
		return
	}
	m.Matches.WithLabelValues(id).Inc()
}

func (m *Metrics) evalFailed() {
	if m == nil {
		return
	}
	m.EvalErrors.Inc()
}
