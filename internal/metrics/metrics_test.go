package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gzhole/mailshield/internal/engine"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRecorder(reg)
	require.NoError(t, err)

	r.ObserveAnalyzer("links", 20*time.Millisecond, engine.OutcomeScored)
	r.ObserveAnalyzer("links", 5*time.Millisecond, engine.OutcomeFailed)
	r.ObserveAnalyzer("sender", time.Millisecond, engine.OutcomeSkipped)

	r.ObserveVerdict(engine.Verdict{Score: 12, CriticalConcerns: []string{"links"}})
	r.ObserveVerdict(engine.Verdict{Score: 88, CriticalConcerns: []string{}})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.verdicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.criticalConcerns.WithLabelValues("links")))
	assert.Equal(t, 3, testutil.CollectAndCount(r.analyzerDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(r.verdictScore))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{
		"mailshield_analyzer_duration_seconds",
		"mailshield_verdict_score",
		"mailshield_critical_concerns_total",
		"mailshield_verdicts_total",
	}, names)
}

func TestNewRecorder_DoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewRecorder(reg)
	require.NoError(t, err)
	_, err = NewRecorder(reg)
	assert.Error(t, err)
}
