package engine

import (
	"sort"
	"time"
)

// ReportRecommendation is appended whenever the final score falls below
// ReportThreshold.
const (
	ReportThreshold      = 50.0
	ReportRecommendation = "This email shows significant security concerns. Consider reporting it as suspicious."
)

// FamilyProfile holds the wording shared by all analyzers of one family.
type FamilyProfile struct {
	// WarningPrefix is prepended to every warning so provenance is visible.
	WarningPrefix string
	// SevereAdvice applies when an analyzer scores below its Severe threshold.
	SevereAdvice string
	// ModerateAdvice applies below the Moderate threshold.
	ModerateAdvice string
}

// DefaultProfiles returns the built-in wording per family.
func DefaultProfiles() map[Family]FamilyProfile {
	return map[Family]FamilyProfile{
		FamilySender: {
			WarningPrefix:  "Sender warning: ",
			SevereAdvice:   "Exercise caution with this sender. Verify their identity through other channels.",
			ModerateAdvice: "Be aware this email is from a potentially less trusted source.",
		},
		FamilyLinks: {
			WarningPrefix:  "Link warning: ",
			SevereAdvice:   "Do not click on links in this email. They appear to be suspicious.",
			ModerateAdvice: "Exercise caution when clicking links in this email.",
		},
		FamilyContent: {
			WarningPrefix:  "Content warning: ",
			SevereAdvice:   "Do not act on requests in this email without confirming them through a trusted channel.",
			ModerateAdvice: "Read this email carefully before responding to any request it makes.",
		},
	}
}

// BuildVerdict assembles the verdict for one call. It is a pure function of
// its inputs; ID and timestamp are left to the caller.
func BuildVerdict(snap Snapshot, run RunResult, agg Aggregation, profiles map[Family]FamilyProfile) Verdict {
	v := Verdict{
		Score:            agg.Score,
		Warnings:         []string{},
		CriticalConcerns: append([]string{}, agg.CriticalConcerns...),
		PerAnalyzer:      make(map[string]ProcessedResult, len(agg.Processed)),
		Timings:          make(map[string]time.Duration, len(run.Timings)),
	}
	for name, p := range agg.Processed {
		v.PerAnalyzer[name] = p
	}
	for name, d := range run.Timings {
		v.Timings[name] = d
	}

	seenWarning := make(map[string]struct{})
	addWarning := func(w string) {
		if _, dup := seenWarning[w]; dup {
			return
		}
		seenWarning[w] = struct{}{}
		v.Warnings = append(v.Warnings, w)
	}
	recs := make(map[string]struct{})

	for _, d := range snap.descriptors {
		res, ok := run.Results[d.Name]
		if !ok {
			continue
		}
		profile := profiles[d.Family]
		for _, w := range res.Warnings {
			addWarning(profile.WarningPrefix + w)
		}
		for _, r := range res.Recommendations {
			recs[r] = struct{}{}
		}
		switch {
		case res.Score < d.Thresholds.Severe && profile.SevereAdvice != "":
			recs[profile.SevereAdvice] = struct{}{}
		case res.Score < d.Thresholds.Moderate && profile.ModerateAdvice != "":
			recs[profile.ModerateAdvice] = struct{}{}
		}
	}
	for _, w := range run.Warnings {
		addWarning(w)
	}

	if v.Score < ReportThreshold {
		recs[ReportRecommendation] = struct{}{}
	}

	v.Recommendations = make([]string, 0, len(recs))
	for r := range recs {
		v.Recommendations = append(v.Recommendations, r)
	}
	sort.Strings(v.Recommendations)
	return v
}
