// Package fitness evaluates antibody variants via simulated combat trials
// and reduces the results to a promotion-grade statistical summary.
package fitness

import "time"

// ROCSummary captures a single operating point on the detector's ROC
// curve: the true-positive rate achieved at or below a target
// false-positive rate.
type ROCSummary struct {
	Threshold float64
	TPR       float64
	FPR       float64
}

// FitnessSummary is the single reconciled result of a fitness evaluation
// run: the core detection-rate/latency/ROC/stability metrics computed
// directly from a combat-trial batch, plus the confidence bounds and
// blast-radius/safety fields promotion safety checks depend on.
type FitnessSummary struct {
	VariantID   string
	Environment string
	EvaluatedAt time.Time

	SampleSize int

	DetectionRate float64
	AvgLatencyMs  float64
	P95LatencyMs  float64

	ROC    *ROCSummary
	HasROC bool

	ConfidenceLower float64
	ConfidenceUpper float64
	StabilityScore  float64

	AvgBlastRadius  float64
	BlastRadius     string
	ContainmentCost float64

	// Extended classification breakdown. EvaluateFitness fills TP, FP,
	// FN, Precision, Recall and F1Score from its attack/benign trials;
	// it leaves TN and SafetyViolations at zero.
	TP, FP, TN, FN   int
	Precision        float64
	Recall           float64
	F1Score          float64
	SafetyViolations int

	EvaluationTime time.Duration
}

// MeetsPromotionSLO reports whether this summary clears the minimum
// sample size, Wilson-lower-bound TPR, and FPR bar required to advance
// a phase.
func (f FitnessSummary) MeetsPromotionSLO(minTPRLowerBound, maxFPRUpperBound float64) bool {
	if f.SampleSize < 200 {
		return false
	}
	if f.ConfidenceLower < minTPRLowerBound {
		return false
	}
	if f.HasROC && f.ROC != nil && f.ROC.FPR > maxFPRUpperBound {
		return false
	}
	return true
}

// AttackResult is the outcome of launching one simulated attack.
type AttackResult struct {
	AttackID       string
	Pattern        string
	Success        bool
	Techniques     []string
	DurationMs     float64
	BlastRadiusIPs int
}

// DetectionResult is the outcome of monitoring for a detection following
// an attack or benign trial.
type DetectionResult struct {
	Detected   bool
	LatencyMs  float64
	Confidence float64
	RingLevel  int
	FalseAlarm bool
}

// Sample is a labeled detection score used for ROC analysis.
type Sample struct {
	Score float64
	Label int // 1=attack, 0=benign
}

// BattleRecord is one completed trial kept in the ring-buffer history
// used for environment-stability scoring.
type BattleRecord struct {
	AntibodyID      string
	AttackResult    AttackResult
	DetectionResult DetectionResult
	BattleID        string
	Timestamp       time.Time
	Environment     string
	MonotonicMs     float64
}

// BattleResult is the raw per-trial outcome streamed out of a worker.
type BattleResult struct {
	AttackResult    AttackResult
	DetectionResult DetectionResult
	MonotonicMs     float64
	Error           error
}
