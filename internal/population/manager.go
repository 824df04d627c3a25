package population

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/a-swarm/evolution-core/internal/antibody"
	"github.com/a-swarm/evolution-core/internal/fitness"
	"github.com/a-swarm/evolution-core/internal/mutation"
)

// SimpleManager implements Manager with tournament selection and
// diversity-aware breeding.
type SimpleManager struct {
	mu sync.RWMutex

	variants           map[string]*Variant
	fitness            map[string]*fitness.FitnessSummary
	parentPool         []string
	archivePool        []string
	activePoolsByPhase map[string][]string

	config Config
	engine MutationEngine
	log    zerolog.Logger

	generation  int
	diversity   float64
	bestFitness float64
	bestByGen   []float64
	lastUpdated int64

	rng   *rand.Rand
	rngMu sync.Mutex
}

// NewSimpleManager creates a population manager seeded from seed (pass a
// value derived from crypto/rand for production runs; a fixed seed for
// deterministic tests).
func NewSimpleManager(cfg Config, engine MutationEngine, seed int64, log zerolog.Logger) *SimpleManager {
	pm := &SimpleManager{
		variants:           make(map[string]*Variant),
		fitness:            make(map[string]*fitness.FitnessSummary),
		parentPool:         make([]string, 0, cfg.ShadowPoolSize),
		archivePool:        make([]string, 0, cfg.EliteSize*3),
		activePoolsByPhase: make(map[string][]string),
		config:             cfg,
		engine:             engine,
		log:                log,
		bestByGen:          make([]float64, 0, 50),
		lastUpdated:        time.Now().Unix(),
		rng:                rand.New(rand.NewSource(seed)),
	}
	pm.activePoolsByPhase["shadow"] = make([]string, 0, cfg.ShadowPoolSize)
	pm.activePoolsByPhase["staged"] = make([]string, 0, cfg.StagedPoolSize)
	return pm
}

func (pm *SimpleManager) rndFloat64() float64 {
	pm.rngMu.Lock()
	defer pm.rngMu.Unlock()
	return pm.rng.Float64()
}

func (pm *SimpleManager) rndIntn(n int) int {
	pm.rngMu.Lock()
	defer pm.rngMu.Unlock()
	return pm.rng.Intn(n)
}

// ProposeCohort generates size new candidate variants from parents via
// mutation or crossover.
func (pm *SimpleManager) ProposeCohort(ctx context.Context, parents []Variant, size int, environment string) ([]Variant, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if len(parents) == 0 {
		return nil, fmt.Errorf("no parents provided for cohort generation")
	}

	mutCfg := mutation.DefaultConfig()
	crossoverRate := 0.2
	if pm.config.CrossoverRate > 0 {
		crossoverRate = pm.config.CrossoverRate
	}

	var cohort []Variant
	for i := 0; i < size; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var child Variant
		doCrossover := len(parents) > 1 && pm.rndFloat64() < crossoverRate

		if doCrossover {
			p1 := parents[pm.rndIntn(len(parents))]
			p2 := parents[pm.rndIntn(len(parents))]
			attempts := 0
			for p1.ID == p2.ID && attempts < 10 && len(parents) > 1 {
				p2 = parents[pm.rndIntn(len(parents))]
				attempts++
			}
			if p1.ID == p2.ID {
				doCrossover = false
			} else {
				childSpec, err := pm.engine.CrossOver(ctx, []antibody.Spec{p1.Spec, p2.Spec}, mutCfg)
				if err != nil {
					continue
				}
				child = Variant{
					ID:         generateVariantID("crossover", pm.generation, i, p1.ID, p2.ID),
					SpecHash:   childSpec.ComputeHash(),
					ParentIDs:  []string{p1.ID, p2.ID},
					Generation: pm.generation + 1,
					Spec:       childSpec,
					ProposedBy: fmt.Sprintf("population-manager@gen-%d", pm.generation),
					CreatedAt:  time.Now().Unix(),
					Phase:      "pending",
				}
			}
		}

		if !doCrossover {
			parent := parents[pm.rndIntn(len(parents))]
			childSpec, err := pm.engine.Mutate(ctx, parent.Spec, mutCfg)
			if err != nil {
				continue
			}
			child = Variant{
				ID:         generateVariantID("mutation", pm.generation, i, parent.ID),
				SpecHash:   childSpec.ComputeHash(),
				ParentIDs:  []string{parent.ID},
				Generation: pm.generation + 1,
				Spec:       childSpec,
				ProposedBy: fmt.Sprintf("population-manager@gen-%d", pm.generation),
				CreatedAt:  time.Now().Unix(),
				Phase:      "pending",
			}
		}

		if environment != "" {
			hasEnv := false
			for _, env := range child.Spec.Scope.Environments {
				if env == environment {
					hasEnv = true
					break
				}
			}
			if !hasEnv {
				child.Spec.Scope.Environments = append(child.Spec.Scope.Environments, environment)
			}
		}

		if err := pm.engine.ValidateSpec(ctx, child.Spec, mutCfg); err != nil {
			continue
		}

		if sig, err := pm.engine.ComputeDiversitySignature(ctx, child.Spec); err == nil {
			child.DiversitySig = sig
		}

		cohort = append(cohort, child)
		c := child
		pm.variants[c.ID] = &c
	}

	if len(cohort) == 0 {
		return nil, fmt.Errorf("failed to generate any valid cohort members")
	}
	return cohort, nil
}

// IngestResults records fitness summaries and updates diversity and
// parent-pool state.
func (pm *SimpleManager) IngestResults(ctx context.Context, results map[string]fitness.FitnessSummary) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for variantID, summary := range results {
		if _, exists := pm.variants[variantID]; !exists {
			continue
		}
		clone := summary
		pm.fitness[variantID] = &clone

		if overall := fitness.ComputeOverallFitness(summary); overall > pm.bestFitness {
			pm.bestFitness = overall
		}
	}

	pm.updateDiversityMetrics()
	pm.updateParentPool()

	pm.generation++
	pm.lastUpdated = time.Now().Unix()
	return nil
}

// SelectNextParents runs diversity-aware tournament selection to pick k
// breeding parents.
func (pm *SimpleManager) SelectNextParents(ctx context.Context, k int) ([]Variant, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if len(pm.parentPool) == 0 {
		return nil, fmt.Errorf("no variants available for parent selection")
	}

	tournamentSize := minInt(5, len(pm.parentPool))
	seen := make(map[string]struct{})
	maxAttempts := k * 3

	var parents []Variant
	for len(parents) < k && maxAttempts > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		tournament := pm.selectTournamentCandidates(tournamentSize)
		winner := pm.runTournamentWithDiversity(tournament)
		if winner == "" {
			maxAttempts--
			continue
		}
		if _, already := seen[winner]; already {
			maxAttempts--
			continue
		}
		if variant, exists := pm.variants[winner]; exists {
			parents = append(parents, *variant)
			seen[winner] = struct{}{}
		}
		maxAttempts--
	}

	if len(parents) == 0 {
		return nil, fmt.Errorf("tournament selection failed to produce parents")
	}
	return parents, nil
}

// GetSpecs retrieves variants by ID.
func (pm *SimpleManager) GetSpecs(ctx context.Context, variantIDs []string) ([]Variant, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	var variants []Variant
	for _, id := range variantIDs {
		if v, exists := pm.variants[id]; exists {
			variants = append(variants, *v)
		}
	}
	return variants, nil
}

// Snapshot returns a copy of current population state.
func (pm *SimpleManager) Snapshot(ctx context.Context) (State, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	specHashes := make(map[string]string, len(pm.variants))
	for id, v := range pm.variants {
		specHashes[id] = v.SpecHash
	}

	activePools := make(map[string][]string, len(pm.activePoolsByPhase))
	for phase, pool := range pm.activePoolsByPhase {
		activePools[phase] = append([]string(nil), pool...)
	}

	return State{
		Generation:       pm.generation,
		ActivePools:      activePools,
		ParentPool:       append([]string(nil), pm.parentPool...),
		ArchivePool:      append([]string(nil), pm.archivePool...),
		SpecHashes:       specHashes,
		Diversity:        pm.diversity,
		BestFitness:      pm.bestFitness,
		BestFitnessByGen: append([]float64(nil), pm.bestByGen...),
		Params:           pm.config,
		LastUpdated:      pm.lastUpdated,
	}, nil
}

// UpdateConfig validates and applies new population parameters.
func (pm *SimpleManager) UpdateConfig(ctx context.Context, cfg Config) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if cfg.EliteSize > cfg.ShadowPoolSize {
		return fmt.Errorf("elite size (%d) cannot exceed shadow pool size (%d)", cfg.EliteSize, cfg.ShadowPoolSize)
	}
	if cfg.MutationRate < 0 || cfg.MutationRate > 1 {
		return fmt.Errorf("mutation rate must be in [0,1], got %f", cfg.MutationRate)
	}
	if cfg.CrossoverRate < 0 || cfg.CrossoverRate > 1 {
		return fmt.Errorf("crossover rate must be in [0,1], got %f", cfg.CrossoverRate)
	}
	if cfg.DiversityLambda < 0 {
		return fmt.Errorf("diversity lambda must be non-negative, got %f", cfg.DiversityLambda)
	}

	pm.config = cfg
	pm.lastUpdated = time.Now().Unix()
	return nil
}

// GetDiversityIndex returns the current population diversity metric.
func (pm *SimpleManager) GetDiversityIndex(ctx context.Context) (float64, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.diversity, nil
}

// Sweep retires active variants whose TTL has elapsed or whose Wilson
// lower bound has dropped below the minimum floor, setting their
// in-memory Phase to "retired" and returning the retired IDs. It writes
// no Antibody CRD status.
func (pm *SimpleManager) Sweep(ctx context.Context, now int64) ([]string, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	const minConfidenceFloor = 0.70
	var retired []string

	for id, v := range pm.variants {
		if v.Phase != "active" {
			continue
		}
		ttlElapsed := v.Spec.Controls.TTLHours > 0 &&
			now > v.CreatedAt+int64(v.Spec.Controls.TTLHours)*3600

		lowConfidence := false
		if f, ok := pm.fitness[id]; ok {
			lowConfidence = f.ConfidenceLower < minConfidenceFloor
		}

		if ttlElapsed || lowConfidence {
			v.Phase = "retired"
			retired = append(retired, id)
			pm.log.Info().Str("variant_id", id).Bool("ttl_elapsed", ttlElapsed).
				Bool("low_confidence", lowConfidence).Msg("variant swept for retirement")
		}
	}
	return retired, nil
}

func (pm *SimpleManager) updateDiversityMetrics() {
	if len(pm.parentPool) < 2 {
		pm.diversity = 1.0
		return
	}

	var similarities []float64
	for i := 0; i < len(pm.parentPool); i++ {
		for j := i + 1; j < len(pm.parentPool); j++ {
			v1 := pm.variants[pm.parentPool[i]]
			v2 := pm.variants[pm.parentPool[j]]
			if v1 == nil || v2 == nil {
				continue
			}
			sim, err := mutation.DiversitySimilarity(v1.DiversitySig, v2.DiversitySig)
			if err != nil {
				pm.log.Warn().Err(err).Msg("diversity similarity computation failed, treating as dissimilar")
				sim = 0
			}
			similarities = append(similarities, sim)
		}
	}

	if len(similarities) == 0 {
		pm.diversity = 1.0
		return
	}

	total := 0.0
	for _, s := range similarities {
		total += s
	}
	pm.diversity = 1.0 - total/float64(len(similarities))
}

func (pm *SimpleManager) updateParentPool() {
	type candidate struct {
		id      string
		fitness float64
	}

	var candidates []candidate
	for id, f := range pm.fitness {
		if _, exists := pm.variants[id]; exists {
			candidates = append(candidates, candidate{id: id, fitness: fitness.ComputeOverallFitness(*f)})
		}
	}
	if len(candidates) == 0 {
		return
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].fitness > candidates[j].fitness })

	pm.parentPool = pm.parentPool[:0]
	for i := 0; i < len(candidates) && i < pm.config.ShadowPoolSize; i++ {
		pm.parentPool = append(pm.parentPool, candidates[i].id)
	}

	archiveSet := make(map[string]struct{}, len(pm.archivePool))
	for _, id := range pm.archivePool {
		archiveSet[id] = struct{}{}
	}
	for i := 0; i < len(candidates) && i < pm.config.EliteSize; i++ {
		archiveSet[candidates[i].id] = struct{}{}
	}

	pm.archivePool = make([]string, 0, len(archiveSet))
	for id := range archiveSet {
		pm.archivePool = append(pm.archivePool, id)
		if len(pm.archivePool) >= pm.config.EliteSize*3 {
			break
		}
	}

	if len(candidates) > 0 {
		pm.bestByGen = append(pm.bestByGen, candidates[0].fitness)
		if len(pm.bestByGen) > 50 {
			pm.bestByGen = pm.bestByGen[1:]
		}
	}

	pm.activePoolsByPhase["shadow"] = pm.parentPool[:minInt(len(pm.parentPool), pm.config.ShadowPoolSize)]
	pm.activePoolsByPhase["staged"] = pm.archivePool[:minInt(len(pm.archivePool), pm.config.StagedPoolSize)]
}

func (pm *SimpleManager) selectTournamentCandidates(size int) []string {
	if len(pm.parentPool) <= size {
		return append([]string(nil), pm.parentPool...)
	}

	candidates := make([]string, 0, size)
	used := make(map[int]bool, size)
	for len(candidates) < size {
		idx := pm.rndIntn(len(pm.parentPool))
		if !used[idx] {
			candidates = append(candidates, pm.parentPool[idx])
			used[idx] = true
		}
	}
	return candidates
}

func (pm *SimpleManager) runTournamentWithDiversity(candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	if len(candidates) == 1 {
		return candidates[0]
	}

	bestScore := -1.0
	winner := candidates[0]

	for _, id := range candidates {
		variant := pm.variants[id]
		f := pm.fitness[id]
		if variant == nil || f == nil {
			continue
		}
		base := fitness.ComputeOverallFitness(*f)
		penalty := pm.computeDiversityPenalty(variant)
		score := base - pm.config.DiversityLambda*penalty
		if score > bestScore {
			bestScore = score
			winner = id
		}
	}
	return winner
}

func (pm *SimpleManager) computeDiversityPenalty(candidate *Variant) float64 {
	if candidate.DiversitySig == "" || len(pm.parentPool) <= 1 {
		return 0.0
	}

	var maxSimilarity float64
	for _, parentID := range pm.parentPool {
		if parentID == candidate.ID {
			continue
		}
		parent := pm.variants[parentID]
		if parent == nil || parent.DiversitySig == "" {
			continue
		}
		sim, err := mutation.DiversitySimilarity(candidate.DiversitySig, parent.DiversitySig)
		if err != nil {
			continue
		}
		if sim > maxSimilarity {
			maxSimilarity = sim
		}
	}
	return maxSimilarity
}

func generateVariantID(kind string, generation, index int, parents ...string) string {
	base := fmt.Sprintf("%s|g=%d|i=%d|p=%s", kind, generation, index, strings.Join(parents, ","))
	h := sha256.Sum256([]byte(base))
	return fmt.Sprintf("variant-%x", h[:8])
}
