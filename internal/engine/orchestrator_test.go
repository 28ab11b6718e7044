package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gzhole/mailshield/internal/message"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes map[string]Outcome
	verdicts []Verdict
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{outcomes: make(map[string]Outcome)}
}

func (o *recordingObserver) ObserveAnalyzer(name string, _ time.Duration, outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[name] = outcome
}

func (o *recordingObserver) ObserveVerdict(v Verdict) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.verdicts = append(o.verdicts, v)
}

func TestRun_FaultIsolation(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	obs := newRecordingObserver()
	orch := NewOrchestrator(time.Second, zap.New(core))
	orch.Observer = obs

	snap := NewSnapshot(defaultDescriptors(map[string]Unit{
		"sender":    scored(90),
		"links":     failing("dns unavailable"),
		"tone":      &stubUnit{panicMsg: "nil map"},
		"sensitive": &stubUnit{skip: true},
		"cmdlure":   &stubUnit{res: RawResult{Score: 120}},
	})...)

	run := orch.Run(context.Background(), &message.Message{}, snap)

	require.Len(t, run.Results, 1)
	assert.Equal(t, 90.0, run.Results["sender"].Score)
	assert.Equal(t, []string{
		"Analyzer error (links): dns unavailable",
		"Analyzer error (tone): evaluate panicked: nil map",
		"Analyzer error (cmdlure): malformed result: score 120 outside 0-100",
	}, run.Warnings)
	assert.Len(t, run.Timings, 5)

	assert.Equal(t, map[string]Outcome{
		"sender":    OutcomeScored,
		"links":     OutcomeFailed,
		"tone":      OutcomeFailed,
		"sensitive": OutcomeSkipped,
		"cmdlure":   OutcomeFailed,
	}, obs.outcomes)
	assert.Equal(t, 3, logs.FilterMessage("analyzer failed").Len())
}

func TestRun_ExtractPanic(t *testing.T) {
	snap := NewSnapshot(desc("sender", FamilySender, 1, senderThresholds, &stubUnit{extractPanic: true}))
	run := NewOrchestrator(0, nil).Run(context.Background(), &message.Message{}, snap)

	assert.Empty(t, run.Results)
	assert.Equal(t, []string{"Analyzer error (sender): extract panicked: bad header"}, run.Warnings)
}

func TestRun_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	snap := NewSnapshot(
		desc("links", FamilyLinks, 0.4, linkThresholds, &stubUnit{wait: true}),
		desc("tone", FamilyContent, 0.3, contentThresholds, &stubUnit{release: release}),
		desc("sender", FamilySender, 0.3, senderThresholds, scored(80)),
	)

	start := time.Now()
	run := NewOrchestrator(50*time.Millisecond, nil).Run(context.Background(), &message.Message{}, snap)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, []string{
		"Analyzer error (links): timed out",
		"Analyzer error (tone): timed out",
	}, run.Warnings)
	assert.Contains(t, run.Results, "sender")
}

func TestRun_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap := NewSnapshot(desc("links", FamilyLinks, 1, linkThresholds, &stubUnit{wait: true}))
	run := NewOrchestrator(0, nil).Run(ctx, &message.Message{}, snap)

	assert.Equal(t, []string{"Analyzer error (links): context canceled"}, run.Warnings)
}

func TestRun_Concurrent(t *testing.T) {
	// Each unit waits until every other unit has started, which only
	// completes if they run at the same time.
	const n = 4
	var started sync.WaitGroup
	started.Add(n)
	barrier := func(ctx context.Context) (RawResult, error) {
		started.Done()
		done := make(chan struct{})
		go func() {
			started.Wait()
			close(done)
		}()
		select {
		case <-done:
			return RawResult{Score: 100}, nil
		case <-ctx.Done():
			<-done
			return RawResult{}, ctx.Err()
		}
	}

	var descs []Descriptor
	for _, name := range []string{"a", "b", "c", "d"} {
		descs = append(descs, desc(name, FamilyContent, 0.25, contentThresholds, &stubUnit{evaluate: barrier}))
	}

	run := NewOrchestrator(2*time.Second, nil).Run(context.Background(), &message.Message{}, NewSnapshot(descs...))
	assert.Empty(t, run.Warnings)
	assert.Len(t, run.Results, n)
}

func TestRun_Empty(t *testing.T) {
	run := NewOrchestrator(0, nil).Run(context.Background(), &message.Message{}, NewSnapshot())
	assert.Empty(t, run.Results)
	assert.Empty(t, run.Warnings)
}
