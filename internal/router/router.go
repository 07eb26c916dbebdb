// Package router implements the Deterministic Router (C3, spec §4.3):
// a regex-based, zero-external-call classifier that maps a free-text
// message to an analysis type plus a confidence score.
//
// The confidence-threshold architecture (score a candidate, act
// deterministically above a cutoff, otherwise escalate) is grounded on
// gomind's pkg/routing hybrid router, which tries a cheap workflow match
// before falling back to an LLM; here the two-list strong/weak pattern
// store and the scoring formula replace gomind's workflow-trigger
// matching, and analysis types replace agent workflows.
package router

import (
	"regexp"
	"sort"
	"strconv"
)

// AnalysisType is one of the five supported analyses, or None when no
// pattern matched with sufficient confidence.
type AnalysisType string

const (
	RowCount       AnalysisType = "row_count"
	Trend          AnalysisType = "trend"
	Outliers       AnalysisType = "outliers"
	TopCategories  AnalysisType = "top_categories"
	DataQuality    AnalysisType = "data_quality"
	None           AnalysisType = "none"
)

// orderedTypes is the fixed tie-break preference order (spec §4.3).
var orderedTypes = []AnalysisType{RowCount, Trend, Outliers, TopCategories, DataQuality}

// Band is the confidence band a score falls into (spec §4.3).
type Band string

const (
	BandHigh   Band = "high"
	BandMedium Band = "medium"
	BandLow    Band = "low"
)

// Params are the parameters extracted from the message alongside the
// analysis type.
type Params struct {
	TimePeriod string // "" when no time-period token matched
	Limit      int    // 0 when no "top N" token matched
}

// Result is the router's full classification of one message.
type Result struct {
	AnalysisType AnalysisType
	Confidence   float64
	Band         Band
	MatchedType  AnalysisType // highest-scoring type, even if AnalysisType ended up None (RowCount when nothing matched)
	Params       Params
}

type patternSet struct {
	strong []*regexp.Regexp
	weak   []*regexp.Regexp
}

// Router holds the compiled pattern store, built once at startup.
type Router struct {
	patterns map[AnalysisType]patternSet
}

func compileAll(exprs []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile("(?i)" + e)
	}
	return out
}

// New compiles the pattern store (spec §4.3 table).
func New() *Router {
	return &Router{
		patterns: map[AnalysisType]patternSet{
			RowCount: {
				strong: compileAll([]string{
					`\brow count\b`, `\bcount\s+(?:the\s+)?rows?\b`, `\bhow many rows?\b`,
					`\btotal rows?\b`, `\brecord count\b`, `\bhow many\s+\w+\s+records?\b`,
				}),
				weak: compileAll([]string{`\bhow many\b`, `\bcount\b`, `\btotal\b`, `\bsize\b`}),
			},
			Trend: {
				strong: compileAll([]string{
					`\btrend(?:s|ing)?\b`, `\bover time\b`, `\bmonthly\b`, `\bweekly\b`,
					`\bm[o0]m\b`, `\bw[o0]w\b`, `\bweek[- ]over[- ]week\b`,
				}),
				weak: compileAll([]string{`\bhistory\b`, `\bpattern\b`, `\bevolution\b`}),
			},
			Outliers: {
				strong: compileAll([]string{
					`\boutlier(?:s)?\b`, `\banomal(?:y|ies)\b`, `\bstd dev\b`, `\bz[- ]?score\b`,
					`\b2\s+standard deviations?\b`, `\bunusual\b`, `\babnorm?al\b`,
				}),
				weak: compileAll([]string{`\bextreme\b`, `\bspike(s)?\b`, `\bweird\b`}),
			},
			TopCategories: {
				strong: compileAll([]string{
					`\btop\s+\d+\b`, `\bbreakdown\b`, `\bby category\b`, `\bgroup(?:ed)?\s+by\b`,
					`\brank(?:ed|ing)?\b`, `\bhighest\b`,
				}),
				weak: compileAll([]string{`\btop\b`, `\bdistribution\b`, `\bcompare\b`}),
			},
			DataQuality: {
				strong: compileAll([]string{
					`\bmissing values\b`, `\bnulls\b`, `\bduplicates?\b`, `\bdata quality\b`,
					`\bcompleteness\b`, `\bvalidate\b`,
				}),
				weak: compileAll([]string{`\bempty\b`, `\bblank\b`, `\bquality\b`}),
			},
		},
	}
}

// Route classifies a free-text message (spec §4.3 contract).
func (r *Router) Route(message string) Result {
	type scored struct {
		t     AnalysisType
		score float64
	}

	var scores []scored
	for _, t := range orderedTypes {
		ps := r.patterns[t]
		s := countMatches(ps.strong, message)
		w := countMatches(ps.weak, message)
		scores = append(scores, scored{t: t, score: score(s, w)})
	}

	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	best := scores[0]

	res := Result{
		Confidence:  best.score,
		MatchedType: best.t,
		Params:      extractParams(message),
	}
	res.Band = bandFor(best.score)
	if best.score >= 0.5 {
		res.AnalysisType = best.t
	} else {
		res.AnalysisType = None
	}
	return res
}

func countMatches(patterns []*regexp.Regexp, message string) int {
	n := 0
	for _, p := range patterns {
		if p.MatchString(message) {
			n++
		}
	}
	return n
}

// score implements the spec §4.3 formula.
func score(strongMatches, weakMatches int) float64 {
	if strongMatches >= 1 {
		s := 0.9 + 0.05*float64(strongMatches-1)
		if weakMatches >= 1 {
			s += 0.05
		}
		if s > 1.0 {
			s = 1.0
		}
		return s
	}
	if weakMatches >= 1 {
		s := 0.6 + 0.1*float64(weakMatches-1)
		if s > 0.79 {
			s = 0.79
		}
		return s
	}
	return 0
}

func bandFor(score float64) Band {
	switch {
	case score >= 0.8:
		return BandHigh
	case score >= 0.5:
		return BandMedium
	default:
		return BandLow
	}
}

var (
	topNPattern = regexp.MustCompile(`(?i)\btop\s+(\d+)\b`)

	lastWeekPattern    = regexp.MustCompile(`(?i)\blast week\b`)
	lastMonthPattern   = regexp.MustCompile(`(?i)\b(?:last month|past month|last 30 days)\b`)
	lastQuarterPattern = regexp.MustCompile(`(?i)\b(?:last quarter|last 90 days)\b`)
	thisWeekPattern    = regexp.MustCompile(`(?i)\bthis week\b`)
	thisMonthPattern   = regexp.MustCompile(`(?i)\bthis month\b`)
	thisQuarterPattern = regexp.MustCompile(`(?i)\bthis quarter\b`)
	thisYearPattern    = regexp.MustCompile(`(?i)\bthis year\b`)
	allTimePattern     = regexp.MustCompile(`(?i)\b(?:all time|entire dataset)\b`)
)

// extractParams implements the spec §4.3 parameter extraction rules.
func extractParams(message string) Params {
	var p Params

	switch {
	case lastWeekPattern.MatchString(message):
		p.TimePeriod = "last_7_days"
	case lastMonthPattern.MatchString(message):
		p.TimePeriod = "last_30_days"
	case lastQuarterPattern.MatchString(message):
		p.TimePeriod = "last_90_days"
	case thisWeekPattern.MatchString(message):
		p.TimePeriod = "last_7_days"
	case thisMonthPattern.MatchString(message):
		p.TimePeriod = "last_30_days"
	case thisQuarterPattern.MatchString(message):
		p.TimePeriod = "last_90_days"
	case thisYearPattern.MatchString(message):
		p.TimePeriod = "all_time"
	case allTimePattern.MatchString(message):
		p.TimePeriod = "all_time"
	}

	if m := topNPattern.FindStringSubmatch(message); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			p.Limit = n
		}
	}

	return p
}
