package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lessonforge"

// Metrics holds the pipeline counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	generationRequests *prometheus.CounterVec
	generationTokens   *prometheus.CounterVec
	jobTransitions     *prometheus.CounterVec
	ratingSubmissions  *prometheus.CounterVec
	admissionChecks    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		generationRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Generation requests by artifact kind and outcome.",
		}, []string{"kind", "outcome"}),
		generationTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_tokens_total",
			Help:      "Tokens consumed by the generation provider.",
		}, []string{"kind"}),
		jobTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "Generation job status transitions.",
		}, []string{"status"}),
		ratingSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rating_submissions_total",
			Help:      "Rating submissions by outcome.",
		}, []string{"outcome"}),
		admissionChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_checks_total",
			Help:      "Usage admission checks by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.generationRequests,
		m.generationTokens,
		m.jobTransitions,
		m.ratingSubmissions,
		m.admissionChecks,
	)
	return m
}

func (m *Metrics) GenerationRequest(kind, outcome string) {
	if m == nil {
		return
	}
	m.generationRequests.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) GenerationTokens(kind string, tokens int64) {
	if m == nil || tokens <= 0 {
		return
	}
	m.generationTokens.WithLabelValues(kind).Add(float64(tokens))
}

func (m *Metrics) JobTransition(status string) {
	if m == nil {
		return
	}
	m.jobTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) RatingSubmission(outcome string) {
	if m == nil {
		return
	}
	m.ratingSubmissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AdmissionCheck(outcome string) {
	if m == nil {
		return
	}
	m.admissionChecks.WithLabelValues(outcome).Inc()
}
