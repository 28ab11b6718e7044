// Package engine combines independent analyzer units into a single trust
// verdict for an inbound message.
//
// Architecture:
//
//	Registry     : named descriptors (unit, weight, thresholds), weights sum to 1
//	Orchestrator : runs every unit of a Snapshot concurrently, isolates failures
//	Aggregate    : weighted score with lowest-score and critical escalation
//	BuildVerdict : merges warnings and advice into the final Verdict
//
// Scores are on a 0-100 scale where 100 is safest. Units normalize to that
// polarity before their results reach the engine.
package engine

import (
	"context"
	"time"

	"github.com/gzhole/mailshield/internal/message"
)

// Unit is the interface every analyzer implements.
type Unit interface {
	// Extract pulls the data this unit needs out of the message.
	// ok=false means the message carries nothing for this unit; the
	// analyzer is then skipped without a warning.
	Extract(msg *message.Message) (data any, ok bool)

	// Evaluate scores the extracted data. Implementations may block on
	// network I/O and should honor ctx cancellation.
	Evaluate(ctx context.Context, data any) (RawResult, error)
}

// Family groups analyzers whose warnings and advice share wording.
type Family string

const (
	FamilySender  Family = "sender"
	FamilyLinks   Family = "links"
	FamilyContent Family = "content"
)

// Thresholds are family-specific cut-offs on the 0-100 scale.
type Thresholds struct {
	Moderate float64 `yaml:"moderate" json:"moderate"`
	Severe   float64 `yaml:"severe" json:"severe"`
	Critical float64 `yaml:"critical" json:"critical"`
}

// Descriptor is a registry entry.
type Descriptor struct {
	Name       string
	Family     Family
	Weight     float64
	Thresholds Thresholds
	Unit       Unit
}

// RawResult is the output of one unit.
type RawResult struct {
	Score           float64  // 0-100, higher = safer
	Warnings        []string // in the order the unit produced them
	Recommendations []string // optional unit-specific advice
	Details         any      // opaque, passed through to the verdict
}

// ProcessedResult is the per-analyzer entry of a Verdict.
type ProcessedResult struct {
	Score    float64 `json:"score"`
	Critical bool    `json:"critical"`
	Details  any     `json:"details,omitempty"`
}

// Verdict is the output of one Analyze call.
type Verdict struct {
	ID               string                     `json:"id"`
	Score            float64                    `json:"score"`
	Warnings         []string                   `json:"warnings"`
	Recommendations  []string                   `json:"recommendations"`
	CriticalConcerns []string                   `json:"critical_concerns"`
	PerAnalyzer      map[string]ProcessedResult `json:"per_analyzer"`
	Timings          map[string]time.Duration   `json:"timings"`
	AnalyzedAt       time.Time                  `json:"analyzed_at"`
}

// Observer receives per-call telemetry. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveAnalyzer(name string, elapsed time.Duration, outcome Outcome)
	ObserveVerdict(v Verdict)
}

// Outcome classifies how a single analyzer run ended.
type Outcome string

const (
	OutcomeScored  Outcome = "scored"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)
