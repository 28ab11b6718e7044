package engine

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	// NeutralScore is returned when no analyzer produced a usable signal.
	NeutralScore = 50.0

	// lowestScoreBoost multiplies the weight of the weakest signal so many
	// neutral signals cannot average it away.
	lowestScoreBoost = 4.0

	// criticalShare is the weight portion each critical analyzer claims,
	// up to maxCriticalPortion for the critical subset as a whole.
	criticalShare      = 0.2
	maxCriticalPortion = 0.7

	// criticalCapFactor bounds the final score relative to the weakest
	// critical analyzer.
	criticalCapFactor = 1.2
)

// Aggregation is the outcome of scoring one partial result set.
type Aggregation struct {
	Score            float64
	CriticalConcerns []string
	Processed        map[string]ProcessedResult
}

// Aggregate computes the final score from the available results.
//
// Steps:
//  1. No available analyzer -> NeutralScore.
//  2. Mark analyzers scoring below their critical threshold.
//  3. Copy registry weights for the available analyzers.
//  4. Multiply the weight of the lowest-scoring analyzer (first in snapshot
//     order on ties) by lowestScoreBoost.
//  5. With critical concerns, rescale the critical subset to
//     min(0.7, 0.2*n) and the rest to the remainder.
//  6. Normalize; a non-positive total yields NeutralScore.
//  7. Weighted sum, rounded to one decimal.
//  8. With critical concerns, cap at 1.2 x the lowest critical score.
//
// The snapshot's stored weights are never modified.
func Aggregate(results map[string]RawResult, snap Snapshot) Aggregation {
	agg := Aggregation{
		Score:            NeutralScore,
		CriticalConcerns: []string{},
		Processed:        make(map[string]ProcessedResult, len(results)),
	}

	var available []Descriptor
	for _, d := range snap.descriptors {
		if _, ok := results[d.Name]; ok {
			available = append(available, d)
		}
	}
	if len(available) == 0 {
		return agg
	}

	critical := make(map[string]bool, len(available))
	for _, d := range available {
		r := results[d.Name]
		isCritical := r.Score < d.Thresholds.Critical
		agg.Processed[d.Name] = ProcessedResult{
			Score:    r.Score,
			Critical: isCritical,
			Details:  r.Details,
		}
		if isCritical {
			critical[d.Name] = true
			agg.CriticalConcerns = append(agg.CriticalConcerns, d.Name)
		}
	}

	weights := make(map[string]float64, len(available))
	for _, d := range available {
		weights[d.Name] = d.Weight
	}

	lowest := available[0].Name
	for _, d := range available[1:] {
		if results[d.Name].Score < results[lowest].Score {
			lowest = d.Name
		}
	}
	weights[lowest] *= lowestScoreBoost

	if len(agg.CriticalConcerns) > 0 {
		criticalPortion := math.Min(maxCriticalPortion, criticalShare*float64(len(agg.CriticalConcerns)))
		rescaleSubset(available, weights, func(name string) bool { return critical[name] }, criticalPortion)
		rescaleSubset(available, weights, func(name string) bool { return !critical[name] }, 1-criticalPortion)
	}

	var total float64
	for _, d := range available {
		total += weights[d.Name]
	}
	if total <= 0 {
		return agg
	}

	var sum float64
	for _, d := range available {
		sum += results[d.Name].Score * (weights[d.Name] / total)
	}
	score := roundScore(sum)

	if len(agg.CriticalConcerns) > 0 {
		minCritical := math.Inf(1)
		for _, name := range agg.CriticalConcerns {
			minCritical = math.Min(minCritical, results[name].Score)
		}
		score = roundScore(math.Min(score, minCritical*criticalCapFactor))
	}

	agg.Score = score
	return agg
}

// rescaleSubset scales the weights of the analyzers selected by member so
// they sum to portion. Empty or zero-weight subsets are left alone.
func rescaleSubset(available []Descriptor, weights map[string]float64, member func(string) bool, portion float64) {
	var total float64
	n := 0
	for _, d := range available {
		if member(d.Name) {
			total += weights[d.Name]
			n++
		}
	}
	if n == 0 || total <= 0 {
		return
	}
	for _, d := range available {
		if member(d.Name) {
			weights[d.Name] = weights[d.Name] / total * portion
		}
	}
}

// roundScore rounds to one decimal place.
func roundScore(v float64) float64 {
	return decimal.NewFromFloat(v).Round(1).InexactFloat64()
}
