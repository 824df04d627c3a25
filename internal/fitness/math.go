package fitness

import (
	"math"
	"sort"
)

// Exact Wilson score interval z-values for common confidence levels.
const (
	z95 = 1.959963984540054
	z90 = 1.6448536269514729
	z99 = 2.5758293035489004
)

// Wilson computes the Wilson score confidence interval lower and upper
// bound for successes out of trials, at significance level alpha
// (e.g. alpha=0.05 for a 95% interval).
func Wilson(successes, trials int, alpha float64) (lo, hi float64) {
	if trials <= 0 {
		return 0, 0
	}
	z := z95
	switch {
	case alpha <= 0.011:
		z = z99
	case alpha >= 0.099 && alpha <= 0.101:
		z = z90
	}

	n := float64(trials)
	p := float64(successes) / n
	z2 := z * z

	denom := 1 + z2/n
	center := p + z2/(2*n)
	margin := z * math.Sqrt(p*(1-p)/n+z2/(4*n*n))

	lo = (center - margin) / denom
	hi = (center + margin) / denom
	return clamp01(lo), clamp01(hi)
}

// WilsonScore is a coarser lower-bound-only variant used where only a
// handful of standard confidence levels are meaningful (e.g. the
// extended per-class TP/FN breakdown).
func WilsonScore(successes, failures int, confidence float64) float64 {
	trials := successes + failures
	if trials <= 0 {
		return 0
	}
	var z float64
	switch {
	case confidence >= 0.985:
		z = 2.575
	case confidence >= 0.94:
		z = 1.96
	case confidence >= 0.89:
		z = 1.645
	case confidence >= 0.79:
		z = 1.282
	default:
		z = 1.96
	}

	n := float64(trials)
	p := float64(successes) / n
	z2 := z * z

	denom := 1 + z2/n
	center := p + z2/(2*n)
	margin := z * math.Sqrt(p*(1-p)/n+z2/(4*n*n))
	return clamp01((center - margin) / denom)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var blastRingPenalty = map[string]float64{
	"ring-1": 1.0,
	"ring-2": 0.9,
	"ring-3": 0.7,
	"ring-4": 0.5,
	"ring-5": 0.3,
}

const (
	p95OKMs  = 500.0
	p95BadMs = 2000.0
)

// ComputeOverallFitness blends sample-size-gated detection confidence,
// environment stability, latency, and blast-radius penalty into a
// single [0,1] fitness score used for tournament ranking.
func ComputeOverallFitness(s FitnessSummary) float64 {
	base := s.ConfidenceLower
	if base == 0 && s.SampleSize > 0 {
		base = 0.5
	}

	latOK := 1.0
	if s.P95LatencyMs > p95OKMs {
		latOK = 1.0 - (s.P95LatencyMs-p95OKMs)/(p95BadMs-p95OKMs)
		latOK = clamp01(latOK)
	}

	blastPenalty := 1.0
	if p, ok := blastRingPenalty[s.BlastRadius]; ok {
		blastPenalty = p
	}

	score := 0.5*base + 0.2*s.StabilityScore + 0.2*latOK + 0.1*blastPenalty
	return clamp01(score)
}

// ComputeExtendedFitness blends the classification breakdown (F1 or
// precision/recall), a safety-violation decay term, latency, and
// stability into a single [0,1] score, computed from the per-class
// counts EvaluateFitness fills in.
func ComputeExtendedFitness(e FitnessSummary) float64 {
	f1 := e.F1Score
	if f1 == 0 && (e.Precision > 0 || e.Recall > 0) {
		if e.Precision+e.Recall > 0 {
			f1 = 2 * e.Precision * e.Recall / (e.Precision + e.Recall)
		}
	}

	wilson := WilsonScore(e.TP, e.FN, 0.95)
	detect := 0.7*f1 + 0.3*wilson

	safety := math.Exp(-0.7 * float64(e.SafetyViolations))

	latOK := 1.0
	if e.P95LatencyMs > p95OKMs {
		latOK = clamp01(1.0 - (e.P95LatencyMs-p95OKMs)/(p95BadMs-p95OKMs))
	}

	return clamp01(detect * safety * latOK * clamp01(e.StabilityScore))
}

// calculateP95 sorts latencies ascending and returns the value at the
// ceil(0.95*n)-1 index.
func calculateP95(latencies []float64) float64 {
	n := len(latencies)
	if n == 0 {
		return 0
	}
	sort.Float64s(latencies)
	idx := int(math.Ceil(0.95*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return latencies[idx]
}

func mapBlastRingToLabel(ring int) string {
	switch {
	case ring <= 1:
		return "ring-1"
	case ring <= 5:
		return "ring-2"
	case ring <= 15:
		return "ring-3"
	case ring <= 50:
		return "ring-4"
	default:
		return "ring-5"
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
