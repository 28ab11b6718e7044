package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gzhole/mailshield/internal/message"
)

type fakeAuditor struct {
	mu       sync.Mutex
	verdicts []Verdict
	err      error
}

func (a *fakeAuditor) Record(_ *message.Message, v Verdict) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.verdicts = append(a.verdicts, v)
	return a.err
}

func TestEngine_Analyze(t *testing.T) {
	reg, err := NewRegistry(defaultDescriptors(map[string]Unit{
		"sender": scored(95),
		"links":  &stubUnit{res: RawResult{Score: 10, Warnings: []string{"suspicious link(s):\n- http://198.51.100.7/login"}}},
		"tone":   failing("rule table missing"),
	})...)
	require.NoError(t, err)

	obs := newRecordingObserver()
	audit := &fakeAuditor{}
	e := New(reg, Options{Timeout: time.Second, Observer: obs, Auditor: audit})
	fixed := time.Date(2026, 5, 1, 9, 30, 0, 0, time.FixedZone("EST", -5*3600))
	e.now = func() time.Time { return fixed }

	v := e.Analyze(context.Background(), &message.Message{})

	assert.NotEmpty(t, v.ID)
	assert.Equal(t, fixed.UTC(), v.AnalyzedAt)
	assert.Equal(t, 12.0, v.Score)
	assert.Equal(t, []string{"links"}, v.CriticalConcerns)
	assert.Equal(t, []string{
		"Link warning: suspicious link(s):\n- http://198.51.100.7/login",
		"Analyzer error (tone): rule table missing",
	}, v.Warnings)
	assert.Contains(t, v.Recommendations, ReportRecommendation)
	assert.Len(t, v.PerAnalyzer, 2)

	require.Len(t, obs.verdicts, 1)
	assert.Equal(t, v.ID, obs.verdicts[0].ID)
	assert.Equal(t, OutcomeFailed, obs.outcomes["tone"])
	require.Len(t, audit.verdicts, 1)
	assert.Equal(t, v.ID, audit.verdicts[0].ID)
}

func TestEngine_AuditFailureIsLogged(t *testing.T) {
	reg, err := NewRegistry(desc("sender", FamilySender, 1, senderThresholds, scored(100)))
	require.NoError(t, err)

	core, logs := observer.New(zap.WarnLevel)
	e := New(reg, Options{Logger: zap.New(core), Auditor: &fakeAuditor{err: errors.New("disk full")}})

	v := e.Analyze(context.Background(), &message.Message{})
	assert.Equal(t, 100.0, v.Score)
	assert.Equal(t, 1, logs.FilterMessage("audit write failed").Len())
}

func TestEngine_NilMessageAndEmptyRegistry(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	v := New(reg, Options{}).Analyze(context.Background(), nil)
	assert.Equal(t, NeutralScore, v.Score)
	assert.Empty(t, v.Warnings)
	assert.Empty(t, v.Recommendations)
}

func TestEngine_HotReload(t *testing.T) {
	reg, err := NewRegistry(desc("sender", FamilySender, 1, senderThresholds, scored(40)))
	require.NoError(t, err)
	e := New(reg, Options{})

	assert.Equal(t, 40.0, e.Analyze(context.Background(), &message.Message{}).Score)

	require.NoError(t, e.Registry().Register(desc("tone", FamilyContent, 0.5, contentThresholds, scored(100))))
	v := e.Analyze(context.Background(), &message.Message{})
	assert.Len(t, v.PerAnalyzer, 2)
	assert.Greater(t, v.Score, 40.0)
}
