package investigation

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the investigation subsystem.
type Metrics struct {
	PipelineStarts     *prometheus.CounterVec
	PipelineRuns       *prometheus.CounterVec
	PipelineDuration   *prometheus.HistogramVec
	StageFailures      *prometheus.CounterVec
	DecisionsTotal     *prometheus.CounterVec
	DecisionConfidence prometheus.Histogram
	MalfunctionsTotal  *prometheus.CounterVec
	SubmitsTotal       *prometheus.CounterVec
	ProofEvaluations   *prometheus.CounterVec
}

// NewMetrics registers and returns investigation metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PipelineStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_pipeline_starts_total",
			Help: "Total pipeline runs started by scenario.",
		}, []string{"scenario"}),
		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_pipeline_runs_total",
			Help: "Total pipeline runs by scenario and outcome.",
		}, []string{"scenario", "outcome"}),
		PipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arbiter_pipeline_duration_seconds",
			Help:    "Duration of pipeline runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s .. ~205s
		}, []string{"outcome"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_stage_failures_total",
			Help: "Total pipeline stage failures by stage.",
		}, []string{"stage"}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_decisions_total",
			Help: "Total decisions by recommendation and source.",
		}, []string{"recommendation", "source"}),
		DecisionConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arbiter_decision_confidence",
			Help:    "Confidence of recorded decisions.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 .. 1.0
		}),
		MalfunctionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_malfunctions_total",
			Help: "Total recorded malfunctions by type and severity.",
		}, []string{"type", "severity"}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_submits_total",
			Help: "Total alert submissions by result.",
		}, []string{"result"}),
		ProofEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_proof_evaluations_total",
			Help: "Total proof evaluations by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.PipelineStarts,
		m.PipelineRuns,
		m.PipelineDuration,
		m.StageFailures,
		m.DecisionsTotal,
		m.DecisionConfidence,
		m.MalfunctionsTotal,
		m.SubmitsTotal,
		m.ProofEvaluations,
	)

	return m
}

// Hooks returns a Hooks that increments the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnStarted: func(scenario string) {
			m.PipelineStarts.WithLabelValues(scenario).Inc()
		},
		OnDecision: func(recommendation, source string, confidence float64) {
			m.DecisionsTotal.WithLabelValues(recommendation, source).Inc()
			m.DecisionConfidence.Observe(confidence)
		},
		OnStageFailed: func(stage string) {
			m.StageFailures.WithLabelValues(stage).Inc()
		},
		OnMalfunction: func(mtype, severity string) {
			m.MalfunctionsTotal.WithLabelValues(mtype, severity).Inc()
		},
		OnComplete: func(e *CompleteEvent) {
			m.PipelineRuns.WithLabelValues(e.Scenario, e.Outcome).Inc()
			m.PipelineDuration.WithLabelValues(e.Outcome).Observe(e.Duration)
		},
	}
}
