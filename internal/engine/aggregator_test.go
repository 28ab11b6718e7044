package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func results(scores map[string]float64) map[string]RawResult {
	out := make(map[string]RawResult, len(scores))
	for name, s := range scores {
		out[name] = RawResult{Score: s}
	}
	return out
}

func TestAggregate_NoResults(t *testing.T) {
	agg := Aggregate(nil, NewSnapshot(defaultDescriptors(nil)...))
	assert.Equal(t, NeutralScore, agg.Score)
	assert.NotNil(t, agg.CriticalConcerns)
	assert.Empty(t, agg.CriticalConcerns)
	assert.Empty(t, agg.Processed)
}

func TestAggregate(t *testing.T) {
	snap := NewSnapshot(defaultDescriptors(nil)...)

	tests := []struct {
		name     string
		scores   map[string]float64
		want     float64
		critical []string
	}{
		{
			name:   "all clean",
			scores: map[string]float64{"sender": 100, "links": 100, "tone": 100, "sensitive": 100, "cmdlure": 100},
			want:   100,
		},
		{
			// links boosted to 1.2; (30 + 96 + 20) / 1.7
			name:   "lowest score boosted",
			scores: map[string]float64{"sender": 100, "links": 80, "tone": 100},
			want:   85.9,
		},
		{
			// links critical below 70, capped at 1.2 * 10
			name:     "critical cap",
			scores:   map[string]float64{"sender": 100, "links": 10, "tone": 100},
			want:     12,
			critical: []string{"links"},
		},
		{
			name:     "critical cap with every analyzer",
			scores:   map[string]float64{"sender": 100, "links": 20, "tone": 100, "sensitive": 100, "cmdlure": 100},
			want:     24,
			critical: []string{"links"},
		},
		{
			// links .2, tone .8 after rescaling; 0.2*65 + 0.8*100 = 93, cap 78
			name:     "cap below blended score",
			scores:   map[string]float64{"links": 65, "tone": 100},
			want:     78,
			critical: []string{"links"},
		},
		{
			name:     "cap above score",
			scores:   map[string]float64{"links": 60},
			want:     60,
			critical: []string{"links"},
		},
		{
			// critical portion 0.4 split between sender and links
			name:     "two critical concerns",
			scores:   map[string]float64{"sender": 20, "links": 40, "tone": 100},
			want:     24,
			critical: []string{"sender", "links"},
		},
		{
			name:   "at threshold is not critical",
			scores: map[string]float64{"sender": 30},
			want:   30,
		},
		{
			name:   "single analyzer",
			scores: map[string]float64{"tone": 42.25},
			want:   42.3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := Aggregate(results(tt.scores), snap)
			assert.Equal(t, tt.want, agg.Score)
			if tt.critical == nil {
				assert.Empty(t, agg.CriticalConcerns)
			} else {
				assert.Equal(t, tt.critical, agg.CriticalConcerns)
			}
			assert.Len(t, agg.Processed, len(tt.scores))
			for _, name := range tt.critical {
				assert.True(t, agg.Processed[name].Critical, name)
			}
		})
	}
}

func TestAggregate_TieBreakUsesSnapshotOrder(t *testing.T) {
	snap := NewSnapshot(
		desc("a", FamilyContent, 0.5, Thresholds{}, scored(0)),
		desc("b", FamilyContent, 0.25, Thresholds{}, scored(0)),
		desc("c", FamilyContent, 0.25, Thresholds{}, scored(0)),
	)
	// Boosting a: (40*2 + 40*0.25 + 100*0.25) / 2.5 = 46. Boosting b would give 48.6.
	agg := Aggregate(results(map[string]float64{"a": 40, "b": 40, "c": 100}), snap)
	assert.Equal(t, 46.0, agg.Score)
}

func TestAggregate_CriticalPortionCapped(t *testing.T) {
	var descs []Descriptor
	scores := map[string]float64{}
	for i, name := range []string{"a", "b", "c", "d", "e"} {
		descs = append(descs, desc(name, FamilyContent, 0.2, Thresholds{Critical: 50}, scored(0)))
		if i < 4 {
			scores[name] = 40
		} else {
			scores[name] = 100
		}
	}
	// Four criticals claim 0.7 rather than 0.8: 0.7*40 + 0.3*100 = 58, cap 48.
	agg := Aggregate(results(scores), NewSnapshot(descs...))
	assert.Equal(t, 48.0, agg.Score)
	assert.Equal(t, []string{"a", "b", "c", "d"}, agg.CriticalConcerns)
}

func TestAggregate_DoesNotMutateSnapshot(t *testing.T) {
	snap := NewSnapshot(defaultDescriptors(nil)...)
	before := snap.Weights()
	Aggregate(results(map[string]float64{"sender": 10, "links": 20, "tone": 90}), snap)
	assert.Equal(t, before, snap.Weights())
}

func TestAggregate_Deterministic(t *testing.T) {
	snap := NewSnapshot(defaultDescriptors(nil)...)
	in := results(map[string]float64{"sender": 55, "links": 71, "tone": 62, "sensitive": 100, "cmdlure": 88})

	first := Aggregate(in, snap)
	for i := 0; i < 50; i++ {
		got := Aggregate(in, snap)
		require.Equal(t, first.Score, got.Score)
		require.Equal(t, first.CriticalConcerns, got.CriticalConcerns)
	}
}

func TestAggregate_ZeroWeights(t *testing.T) {
	snap := NewSnapshot(desc("a", FamilyContent, 0, Thresholds{}, scored(0)))
	agg := Aggregate(results(map[string]float64{"a": 10}), snap)
	assert.Equal(t, NeutralScore, agg.Score)
}

func TestAggregate_SenderLinksToneScenario(t *testing.T) {
	snap := NewSnapshot(
		desc("sender", FamilySender, 0.4, senderThresholds, scored(0)),
		desc("links", FamilyLinks, 0.3, linkThresholds, scored(0)),
		desc("tone", FamilyContent, 0.3, contentThresholds, scored(0)),
	)
	agg := Aggregate(results(map[string]float64{"sender": 80, "links": 20, "tone": 90}), snap)

	assert.Equal(t, []string{"links"}, agg.CriticalConcerns)
	assert.LessOrEqual(t, agg.Score, 24.0)
	assert.Equal(t, 24.0, agg.Score)
	assert.False(t, agg.Processed["sender"].Critical)
	assert.True(t, agg.Processed["links"].Critical)
}

func TestAggregate_CriticalThirtyCap(t *testing.T) {
	snap := NewSnapshot(
		desc("a", FamilyContent, 0.5, Thresholds{Critical: 30}, scored(0)),
		desc("b", FamilyContent, 0.5, Thresholds{Critical: 30}, scored(0)),
	)
	agg := Aggregate(results(map[string]float64{"a": 10, "b": 100}), snap)
	assert.LessOrEqual(t, agg.Score, 12.0)
	assert.Equal(t, []string{"a"}, agg.CriticalConcerns)
}
