package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersRecordByLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.GenerationRequest("path", "success")
	m.GenerationRequest("path", "success")
	m.GenerationRequest("lesson", "contract_violation")
	m.GenerationTokens("path", 1200)
	m.GenerationTokens("path", 0)
	m.JobTransition("completed")
	m.RatingSubmission("created")
	m.AdmissionCheck("denied")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.generationRequests.WithLabelValues("path", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generationRequests.WithLabelValues("lesson", "contract_violation")))
	assert.Equal(t, 1200.0, testutil.ToFloat64(m.generationTokens.WithLabelValues("path")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobTransitions.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ratingSubmissions.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissionChecks.WithLabelValues("denied")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.GenerationRequest("lesson", "success")
		m.GenerationTokens("lesson", 10)
		m.JobTransition("failed")
		m.RatingSubmission("updated")
		m.AdmissionCheck("allowed")
	})
}
