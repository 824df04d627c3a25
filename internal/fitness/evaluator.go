package fitness

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	MaxBattleHistory = 50000
	MaxWorkers       = 20

	SingleEnvStability        = 0.8
	InsufficientDataStability = 0.5
)

// Evaluator orchestrates simulated attack-vs-detection combat trials for
// a variant and reduces the results to a FitnessSummary. Attack launch,
// detection monitoring, and benign-sample generation are injected as
// functions so tests can substitute deterministic fakes; cmd/evolutiond
// uses NewEvaluator as is, so it runs with the placeholder
// implementations.
type Evaluator struct {
	LaunchAttack         func(ctx context.Context, pattern, battleID string) (*AttackResult, error)
	MonitorDetection     func(ctx context.Context, battleID, variantID string, timeout time.Duration) (*DetectionResult, error)
	GenerateBenignSample func(ctx context.Context, variantID string) (*DetectionResult, error)

	log zerolog.Logger

	battleHistory []BattleRecord
	historyIndex  int
	historyFull   bool
	mu            sync.RWMutex
}

// NewEvaluator builds an evaluator with placeholder trial implementations;
// callers wire real attack-launch / detection-monitoring integrations by
// replacing the function fields.
func NewEvaluator(log zerolog.Logger) *Evaluator {
	return &Evaluator{
		LaunchAttack:         launchAttackPlaceholder,
		MonitorDetection:     monitorDetectionPlaceholder,
		GenerateBenignSample: generateBenignSamplePlaceholder,
		log:                  log,
		battleHistory:        make([]BattleRecord, MaxBattleHistory),
	}
}

type battleTask struct {
	Type  string
	Index int
}

// EvaluateFitness runs attackSamples+benignSamples combat trials against
// variantID in environment, using a bounded worker pool, and returns the
// reduced FitnessSummary.
func (e *Evaluator) EvaluateFitness(ctx context.Context, variantID string, attackSamples, benignSamples int, environment string) (FitnessSummary, error) {
	totalSamples := attackSamples + benignSamples
	if totalSamples < 30 {
		return FitnessSummary{}, fmt.Errorf("insufficient sample size: %d < 30 (statistical significance)", totalSamples)
	}
	if totalSamples > 1000 {
		return FitnessSummary{}, fmt.Errorf("excessive sample size: %d > 1000 (resource protection)", totalSamples)
	}

	workerCount := minInt(MaxWorkers, totalSamples)
	battleChan := make(chan battleTask, totalSamples)
	resultChan := make(chan BattleResult, workerCount)

	runCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go e.battleWorker(runCtx, &wg, battleChan, resultChan, variantID)
	}

	go func() {
		defer close(battleChan)
		for i := 0; i < attackSamples; i++ {
			select {
			case battleChan <- battleTask{Type: "attack", Index: i}:
			case <-runCtx.Done():
				return
			}
		}
		for i := 0; i < benignSamples; i++ {
			select {
			case battleChan <- battleTask{Type: "benign", Index: i}:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var samples []Sample
	truePositiveCount := 0
	falsePositiveCount := 0
	totalLatency := 0.0
	latencies := make([]float64, 0, attackSamples)
	blastRadiusSum := 0

	for i := 0; i < totalSamples; i++ {
		select {
		case result, ok := <-resultChan:
			if !ok {
				return FitnessSummary{}, fmt.Errorf("worker channel closed prematurely")
			}
			if result.Error != nil {
				return FitnessSummary{}, fmt.Errorf("battle %d failed: %w", i, result.Error)
			}

			label := 1
			if result.AttackResult.Pattern == "benign" {
				label = 0
			}
			samples = append(samples, Sample{Score: result.DetectionResult.Confidence, Label: label})

			if result.DetectionResult.Detected {
				if label == 1 {
					truePositiveCount++
				} else {
					falsePositiveCount++
				}
			} else if result.DetectionResult.FalseAlarm {
				falsePositiveCount++
			}

			if label == 1 {
				totalLatency += result.DetectionResult.LatencyMs
				latencies = append(latencies, result.DetectionResult.LatencyMs)
				blastRadiusSum += result.AttackResult.BlastRadiusIPs
			}

			e.addBattleHistory(BattleRecord{
				AntibodyID:      variantID,
				AttackResult:    result.AttackResult,
				DetectionResult: result.DetectionResult,
				BattleID:        fmt.Sprintf("battle-%s-%d", variantID, i),
				Timestamp:       time.Now(),
				Environment:     environment,
				MonotonicMs:     result.MonotonicMs,
			})

		case <-runCtx.Done():
			return FitnessSummary{}, runCtx.Err()
		}
	}

	detectionRate := float64(truePositiveCount) / float64(attackSamples)
	avgLatency := totalLatency / float64(attackSamples)

	confidenceLower, confidenceUpper := Wilson(truePositiveCount, attackSamples, 0.05)
	p95Latency := calculateP95(latencies)

	var rocSummary *ROCSummary
	hasROC := benignSamples > 0
	if hasROC {
		tpr, threshold, fpr := tprAtFPR(samples, 0.001)
		rocSummary = &ROCSummary{Threshold: threshold, TPR: tpr, FPR: fpr}
	}

	stabilityScore := e.calculateEnvironmentStability(variantID)
	avgBlast := float64(blastRadiusSum) / float64(attackSamples)

	summary := FitnessSummary{
		VariantID:       variantID,
		Environment:     environment,
		EvaluatedAt:     time.Now(),
		SampleSize:      totalSamples,
		DetectionRate:   detectionRate,
		AvgLatencyMs:    avgLatency,
		P95LatencyMs:    p95Latency,
		ROC:             rocSummary,
		HasROC:          hasROC,
		ConfidenceLower: confidenceLower,
		ConfidenceUpper: confidenceUpper,
		StabilityScore:  stabilityScore,
		AvgBlastRadius:  avgBlast,
		BlastRadius:     mapBlastRingToLabel(int(math.Round(avgBlast))),
		ContainmentCost: (avgLatency / 1000.0) * avgBlast,
		TP:              truePositiveCount,
		FP:              falsePositiveCount,
		FN:              attackSamples - truePositiveCount,
	}
	if tp, fp := summary.TP, summary.FP; tp+fp > 0 {
		summary.Precision = float64(tp) / float64(tp+fp)
	}
	summary.Recall = detectionRate
	if summary.Precision+summary.Recall > 0 {
		summary.F1Score = 2 * summary.Precision * summary.Recall / (summary.Precision + summary.Recall)
	}

	e.log.Debug().Str("variant_id", variantID).Int("samples", totalSamples).
		Float64("detection_rate", detectionRate).Msg("fitness evaluation complete")

	return summary, nil
}

func (e *Evaluator) battleWorker(ctx context.Context, wg *sync.WaitGroup, battles <-chan battleTask, results chan<- BattleResult, variantID string) {
	defer wg.Done()
	for task := range battles {
		select {
		case <-ctx.Done():
			return
		default:
			battleCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			var result BattleResult
			if task.Type == "attack" {
				result = e.executeAttackBattle(battleCtx, variantID, task.Index)
			} else {
				result = e.executeBenignBattle(battleCtx, variantID, task.Index)
			}
			cancel()

			select {
			case results <- result:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (e *Evaluator) executeAttackBattle(ctx context.Context, variantID string, battleNum int) BattleResult {
	battleID := fmt.Sprintf("attack-%s-%d", variantID, battleNum)

	start := time.Now()
	attackResult, err := e.LaunchAttack(ctx, "privilege-escalation", battleID)
	if err != nil {
		return BattleResult{Error: fmt.Errorf("attack launch failed: %w", err)}
	}

	detectionResult, err := e.MonitorDetection(ctx, battleID, variantID, 5*time.Second)
	if err != nil {
		return BattleResult{Error: fmt.Errorf("detection monitoring failed: %w", err)}
	}

	return BattleResult{
		AttackResult:    *attackResult,
		DetectionResult: *detectionResult,
		MonotonicMs:     float64(time.Since(start).Nanoseconds()) / 1e6,
	}
}

func (e *Evaluator) executeBenignBattle(ctx context.Context, variantID string, sampleNum int) BattleResult {
	start := time.Now()
	detectionResult, err := e.GenerateBenignSample(ctx, variantID)
	if err != nil {
		return BattleResult{Error: fmt.Errorf("benign sample failed: %w", err)}
	}

	return BattleResult{
		AttackResult: AttackResult{
			AttackID: fmt.Sprintf("benign-%d", sampleNum),
			Pattern:  "benign",
		},
		DetectionResult: *detectionResult,
		MonotonicMs:     float64(time.Since(start).Nanoseconds()) / 1e6,
	}
}

// tprAtFPR sweeps descending confidence thresholds, grouping ties, and
// returns the best TPR achieved at or below targetFPR.
func tprAtFPR(samples []Sample, targetFPR float64) (tpr, threshold, fpr float64) {
	if len(samples) == 0 {
		return 0, math.NaN(), 0
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].Score > samples[j].Score })

	var pos, neg int
	for _, s := range samples {
		if s.Label == 1 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0, math.NaN(), 0
	}

	var tp, fp int
	bestTPR, bestThreshold, bestFPR := 0.0, math.NaN(), 1.0

	for i := 0; i < len(samples); {
		currentThreshold := samples[i].Score
		j := i
		for j < len(samples) && samples[j].Score == currentThreshold {
			if samples[j].Label == 1 {
				tp++
			} else {
				fp++
			}
			j++
		}

		currFPR := float64(fp) / float64(maxInt(1, neg))
		currTPR := float64(tp) / float64(maxInt(1, pos))

		if currFPR <= targetFPR && currTPR >= bestTPR {
			bestTPR, bestThreshold, bestFPR = currTPR, currentThreshold, currFPR
		}
		i = j
	}

	return bestTPR, bestThreshold, bestFPR
}

func (e *Evaluator) addBattleHistory(record BattleRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.battleHistory[e.historyIndex] = record
	e.historyIndex = (e.historyIndex + 1) % MaxBattleHistory
	if e.historyIndex == 0 {
		e.historyFull = true
	}
}

func (e *Evaluator) calculateEnvironmentStability(variantID string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	recent := e.getRecentBattles(variantID, 100)
	if len(recent) < 10 {
		return InsufficientDataStability
	}

	envDetections := make(map[string][]float64)
	for _, battle := range recent {
		env := battle.Environment
		if env == "" {
			env = "unknown"
		}
		detected := 0.0
		if battle.DetectionResult.Detected {
			detected = 1.0
		}
		envDetections[env] = append(envDetections[env], detected)
	}

	if len(envDetections) < 2 {
		return SingleEnvStability
	}

	envMeans := make([]float64, 0, len(envDetections))
	for _, detections := range envDetections {
		sum := 0.0
		for _, d := range detections {
			sum += d
		}
		envMeans = append(envMeans, sum/float64(len(detections)))
	}

	overallMean := 0.0
	for _, m := range envMeans {
		overallMean += m
	}
	overallMean /= float64(len(envMeans))

	variance := 0.0
	for _, m := range envMeans {
		diff := m - overallMean
		variance += diff * diff
	}
	variance /= float64(len(envMeans))

	return clamp01(math.Exp(-4.0 * variance))
}

func (e *Evaluator) getRecentBattles(variantID string, maxCount int) []BattleRecord {
	recent := make([]BattleRecord, 0, maxCount)
	count := MaxBattleHistory
	if !e.historyFull {
		count = e.historyIndex
	}
	for i := 0; i < count && len(recent) < maxCount; i++ {
		idx := (e.historyIndex - 1 - i + MaxBattleHistory) % MaxBattleHistory
		battle := e.battleHistory[idx]
		if battle.AntibodyID == variantID {
			recent = append(recent, battle)
		}
	}
	return recent
}

// launchAttackPlaceholder, monitorDetectionPlaceholder, and
// generateBenignSamplePlaceholder stand in for the real Red/Blue
// integration (attack orchestration job, detection telemetry feed,
// benign traffic replay) that a production deployment would inject in
// their place.
func launchAttackPlaceholder(ctx context.Context, pattern, battleID string) (*AttackResult, error) {
	return &AttackResult{
		AttackID:       battleID,
		Pattern:        pattern,
		Success:        true,
		Techniques:     []string{"T1068", "T1055"},
		DurationMs:     250.0,
		BlastRadiusIPs: 3,
	}, nil
}

func monitorDetectionPlaceholder(ctx context.Context, battleID, variantID string, timeout time.Duration) (*DetectionResult, error) {
	return &DetectionResult{
		Detected:   true,
		LatencyMs:  95.0,
		Confidence: 0.87,
		RingLevel:  2,
		FalseAlarm: false,
	}, nil
}

func generateBenignSamplePlaceholder(ctx context.Context, variantID string) (*DetectionResult, error) {
	return &DetectionResult{
		Detected:   false,
		LatencyMs:  0,
		Confidence: 0.12,
		RingLevel:  0,
		FalseAlarm: false,
	}, nil
}
