// Package metrics exports engine telemetry as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gzhole/mailshield/internal/engine"
)

const namespace = "mailshield"

// Recorder implements engine.Observer on top of Prometheus collectors.
type Recorder struct {
	analyzerDuration *prometheus.HistogramVec
	verdictScore     prometheus.Histogram
	criticalConcerns *prometheus.CounterVec
	verdicts         prometheus.Counter
}

// NewRecorder creates the collectors and registers them on reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		analyzerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analyzer_duration_seconds",
			Help:      "Time spent in each analyzer, by outcome.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"analyzer", "outcome"}),
		verdictScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verdict_score",
			Help:      "Distribution of final trust scores.",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}),
		criticalConcerns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "critical_concerns_total",
			Help:      "Number of verdicts in which an analyzer was critical.",
		}, []string{"analyzer"}),
		verdicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Number of verdicts produced.",
		}),
	}

	for _, c := range []prometheus.Collector{r.analyzerDuration, r.verdictScore, r.criticalConcerns, r.verdicts} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ObserveAnalyzer records one analyzer run.
func (r *Recorder) ObserveAnalyzer(name string, elapsed time.Duration, outcome engine.Outcome) {
	r.analyzerDuration.WithLabelValues(name, string(outcome)).Observe(elapsed.Seconds())
}

// ObserveVerdict records the final score and its critical concerns.
func (r *Recorder) ObserveVerdict(v engine.Verdict) {
	r.verdicts.Inc()
	r.verdictScore.Observe(v.Score)
	for _, name := range v.CriticalConcerns {
		r.criticalConcerns.WithLabelValues(name).Inc()
	}
}
