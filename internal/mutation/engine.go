// Package mutation implements the genetic operators (mutation, crossover,
// diversity signatures) applied to antibody specs during population
// evolution.
package mutation

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/a-swarm/evolution-core/internal/antibody"
)

var nonBinaryFeaturesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "mutation_nonbinary_features_skipped_total",
	Help: "Count of rule features with a non-binary value encountered during toggle mutation, by feature name.",
}, []string{"feature"})

func init() {
	prometheus.MustRegister(nonBinaryFeaturesSkipped)
}

const (
	// DiversityBitsetSize is the bit width of a diversity signature (512
	// bits = 64 bytes).
	DiversityBitsetSize = 512

	// FeatureHashSalt prevents adversarial feature-name collisions from
	// shifting diversity signatures predictably.
	FeatureHashSalt = "aswarm-diversity-v1"

	// DiversitySigVersion prefixes every encoded bitset.
	DiversitySigVersion = "v1"
)

// Config controls mutation probabilities and magnitudes.
type Config struct {
	ParamJitterProb   float64
	ParamJitterSigma  float64
	ThresholdDelta    float64
	MaxComplexityHint int

	FeatureToggleProb float64
	FeatureAddProb    float64
	FeatureRemoveProb float64

	WeightShuffleProb float64
}

// DefaultConfig returns the mutation probabilities used in production.
func DefaultConfig() Config {
	return Config{
		ParamJitterProb:   0.6,
		ParamJitterSigma:  0.08,
		ThresholdDelta:    0.05,
		FeatureToggleProb: 0.05,
		FeatureAddProb:    0.02,
		FeatureRemoveProb: 0.02,
		WeightShuffleProb: 0.10,
		MaxComplexityHint: 0,
	}
}

// Diff records what a mutation pass changed, for audit trails.
type Diff struct {
	ThresholdBefore float64
	ThresholdAfter  float64
	Toggled         []string
	Added           []string
	Removed         []string
	HybridBefore    *antibody.HybridSpec
	HybridAfter     *antibody.HybridSpec
}

// Engine applies genetic operators to antibody specs with a deterministic,
// seedable RNG so offspring lineages can be replayed.
type Engine struct {
	rng *rand.Rand
	mu  sync.Mutex
}

// NewEngine creates a mutation engine with an explicit seed. Callers that
// need non-deterministic behavior should seed from a real entropy source
// themselves (e.g. crypto/rand read into an int64) — this constructor
// never substitutes a hidden default so lineages stay reproducible.
func NewEngine(seed int64) *Engine {
	return &Engine{rng: rand.New(rand.NewSource(seed))}
}

// WithSeed returns a new engine instance seeded independently, used to
// give each offspring in a burst its own deterministic lineage seed.
func (e *Engine) WithSeed(seed int64) *Engine {
	return &Engine{rng: rand.New(rand.NewSource(seed))}
}

// SeedForOffspring derives a deterministic seed from a parent ID and
// offspring index via SHA-256, so a given (parent, index) pair always
// mutates the same way.
func SeedForOffspring(parentID string, index int) int64 {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", parentID, index)))
	return int64(h[0])<<56 | int64(h[1])<<48 | int64(h[2])<<40 | int64(h[3])<<32 |
		int64(h[4])<<24 | int64(h[5])<<16 | int64(h[6])<<8 | int64(h[7])
}

func (e *Engine) float64() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Float64()
}

func (e *Engine) normFloat64() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.NormFloat64()
}

func (e *Engine) int31() int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Int31()
}

func (e *Engine) intn(n int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Intn(n)
}

func ctxDone(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// MutateWithDiff applies genetic operators to parent, returning the
// mutant and a diff of what changed.
func (e *Engine) MutateWithDiff(ctx context.Context, parent antibody.Spec, cfg Config) (antibody.Spec, *Diff, error) {
	if err := ctxDone(ctx); err != nil {
		return antibody.Spec{}, nil, err
	}

	diff := &Diff{ThresholdBefore: parent.Scope.ConfidenceThreshold}
	mutant := deepCopySpec(parent)

	if mutant.Detector.Hybrid != nil {
		diff.HybridBefore = &antibody.HybridSpec{
			RuleWeight:  mutant.Detector.Hybrid.RuleWeight,
			ModelWeight: mutant.Detector.Hybrid.ModelWeight,
		}
	}

	if e.float64() < cfg.ParamJitterProb {
		if err := ctxDone(ctx); err != nil {
			return antibody.Spec{}, nil, err
		}
		e.mutateParameters(&mutant, cfg)
	}

	switch mutant.Detector.Type {
	case "rule":
		if mutant.Detector.Rule != nil {
			if err := ctxDone(ctx); err != nil {
				return antibody.Spec{}, nil, err
			}
			e.mutateRuleFeatures(mutant.Detector.Rule, cfg, diff)
		}
	case "hybrid":
		if mutant.Detector.Hybrid != nil {
			if err := ctxDone(ctx); err != nil {
				return antibody.Spec{}, nil, err
			}
			e.mutateHybridWeights(mutant.Detector.Hybrid, cfg)
		}
		if mutant.Detector.Rule != nil {
			e.mutateRuleFeatures(mutant.Detector.Rule, cfg, diff)
		}
	case "model":
		// Model-detector mutation is intentionally a no-op: no model
		// mutation semantics have ever been specified for this engine.
	}

	e.mutateScope(&mutant.Scope, cfg)

	diff.ThresholdAfter = mutant.Scope.ConfidenceThreshold
	if mutant.Detector.Hybrid != nil {
		diff.HybridAfter = &antibody.HybridSpec{
			RuleWeight:  mutant.Detector.Hybrid.RuleWeight,
			ModelWeight: mutant.Detector.Hybrid.ModelWeight,
		}
	}

	sanitizeSpec(&mutant)

	if err := e.ValidateSpec(ctx, mutant, cfg); err != nil {
		return antibody.Spec{}, nil, fmt.Errorf("mutated spec failed validation: %w", err)
	}

	return mutant, diff, nil
}

// Mutate is MutateWithDiff without the diff return.
func (e *Engine) Mutate(ctx context.Context, parent antibody.Spec, cfg Config) (antibody.Spec, error) {
	v, _, err := e.MutateWithDiff(ctx, parent, cfg)
	return v, err
}

// MutateN produces n variants from a single parent, each with its own
// deterministic offspring seed.
func (e *Engine) MutateN(ctx context.Context, parent antibody.Spec, parentID string, cfg Config, n int) ([]antibody.Spec, error) {
	variants := make([]antibody.Spec, 0, n)
	for i := 0; i < n; i++ {
		if err := ctxDone(ctx); err != nil {
			return nil, err
		}
		child := e.WithSeed(SeedForOffspring(parentID, i))
		variant, err := child.Mutate(ctx, parent, cfg)
		if err != nil {
			return nil, fmt.Errorf("mutation %d failed: %w", i, err)
		}
		variants = append(variants, variant)
	}
	return variants, nil
}

// CrossOver combines features across parents[0]'s template with values
// drawn from all parents.
func (e *Engine) CrossOver(ctx context.Context, parents []antibody.Spec, cfg Config) (antibody.Spec, error) {
	if err := ctxDone(ctx); err != nil {
		return antibody.Spec{}, err
	}
	if len(parents) < 2 {
		return antibody.Spec{}, fmt.Errorf("crossover requires at least 2 parents, got %d", len(parents))
	}

	offspring := deepCopySpec(parents[0])

	if offspring.Detector.Type == "rule" && offspring.Detector.Rule != nil {
		e.crossoverRuleFeatures(offspring.Detector.Rule, parents)
	}
	if offspring.Detector.Type == "hybrid" && offspring.Detector.Hybrid != nil {
		e.crossoverHybridWeights(offspring.Detector.Hybrid, parents)
	}

	sanitizeSpec(&offspring)

	if err := e.ValidateSpec(ctx, offspring, cfg); err != nil {
		return antibody.Spec{}, fmt.Errorf("crossover offspring failed validation: %w", err)
	}
	return offspring, nil
}

// ValidateSpec applies the same acceptance rules as antibody.Spec.Validate,
// plus the engine's configurable complexity guardrail.
func (e *Engine) ValidateSpec(ctx context.Context, spec antibody.Spec, cfg Config) error {
	if err := ctxDone(ctx); err != nil {
		return err
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	if cfg.MaxComplexityHint > 0 {
		if c := computeComplexity(spec); c > cfg.MaxComplexityHint {
			return fmt.Errorf("spec complexity %d exceeds limit %d", c, cfg.MaxComplexityHint)
		}
	}
	return nil
}

// ComputeDiversitySignature hashes a spec's features into a 512-bit
// bitset, base64-encoded with a version prefix.
func (e *Engine) ComputeDiversitySignature(ctx context.Context, spec antibody.Spec) (string, error) {
	if err := ctxDone(ctx); err != nil {
		return "", err
	}
	bitset := make([]byte, DiversityBitsetSize/8)
	hashSpecToBitset(spec, bitset)
	encoded := base64.StdEncoding.EncodeToString(bitset)
	return fmt.Sprintf("%s:%s", DiversitySigVersion, encoded), nil
}

func sanitizeSpec(spec *antibody.Spec) {
	if spec.Detector.Rule != nil {
		spec.Detector.Rule.Pattern = strings.TrimSpace(spec.Detector.Rule.Pattern)
	}
	if len(spec.Scope.Labels) > 0 {
		normalized := make(map[string]string, len(spec.Scope.Labels))
		for k, v := range spec.Scope.Labels {
			normalized[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
		spec.Scope.Labels = normalized
	}
}

func deepCopySpec(spec antibody.Spec) antibody.Spec {
	cp := antibody.Spec{
		Detector: antibody.DetectorSpec{Type: spec.Detector.Type},
		Scope: antibody.ScopeSpec{
			Environments:        append([]string(nil), spec.Scope.Environments...),
			ConfidenceThreshold: spec.Scope.ConfidenceThreshold,
		},
		Lineage:  spec.Lineage,
		Controls: spec.Controls,
	}

	if len(spec.Scope.Namespaces) > 0 {
		cp.Scope.Namespaces = append([]string(nil), spec.Scope.Namespaces...)
	}
	if len(spec.Scope.Labels) > 0 {
		cp.Scope.Labels = make(map[string]string, len(spec.Scope.Labels))
		for k, v := range spec.Scope.Labels {
			cp.Scope.Labels[k] = v
		}
	}

	if r := spec.Detector.Rule; r != nil {
		cp.Detector.Rule = &antibody.RuleSpec{
			Pattern:    r.Pattern,
			EngineHint: r.EngineHint,
			Features:   make(map[string]string, len(r.Features)),
		}
		for k, v := range r.Features {
			cp.Detector.Rule.Features[k] = v
		}
	}

	if m := spec.Detector.Model; m != nil {
		cp.Detector.Model = &antibody.ModelSpec{
			TrainingData: m.TrainingData,
			Features:     make(map[string]antibody.FeatureValue, len(m.Features)),
		}
		for k, v := range m.Features {
			cp.Detector.Model.Features[k] = v
		}
	}

	if h := spec.Detector.Hybrid; h != nil {
		cp.Detector.Hybrid = &antibody.HybridSpec{RuleWeight: h.RuleWeight, ModelWeight: h.ModelWeight}
	}

	return cp
}

func (e *Engine) mutateParameters(spec *antibody.Spec, cfg Config) {
	if e.float64() < 0.5 {
		delta := e.normFloat64() * cfg.ThresholdDelta
		spec.Scope.ConfidenceThreshold = clampFloat64(spec.Scope.ConfidenceThreshold+delta, 0.0, 1.0)
	}
}

func (e *Engine) mutateRuleFeatures(rule *antibody.RuleSpec, cfg Config, diff *Diff) {
	for feature, value := range rule.Features {
		if e.float64() >= cfg.FeatureToggleProb {
			continue
		}
		switch value {
		case "0":
			rule.Features[feature] = "1"
			diff.Toggled = append(diff.Toggled, feature)
		case "1":
			rule.Features[feature] = "0"
			diff.Toggled = append(diff.Toggled, feature)
		default:
			// Non-binary features are counted, never toggled.
			nonBinaryFeaturesSkipped.WithLabelValues(feature).Inc()
		}
	}

	if e.float64() < cfg.FeatureAddProb {
		if rule.Features == nil {
			rule.Features = map[string]string{}
		}
		for {
			newFeature := fmt.Sprintf("mutated_feature_%d", e.int31())
			if _, exists := rule.Features[newFeature]; !exists {
				rule.Features[newFeature] = "1"
				diff.Added = append(diff.Added, newFeature)
				break
			}
		}
	}

	if e.float64() < cfg.FeatureRemoveProb && len(rule.Features) > 1 {
		keys := make([]string, 0, len(rule.Features))
		for k := range rule.Features {
			keys = append(keys, k)
		}
		removeKey := keys[e.intn(len(keys))]
		delete(rule.Features, removeKey)
		diff.Removed = append(diff.Removed, removeKey)
	}
}

func (e *Engine) mutateHybridWeights(hybrid *antibody.HybridSpec, cfg Config) {
	if e.float64() < cfg.WeightShuffleProb {
		ruleJitter := e.normFloat64() * cfg.ParamJitterSigma
		modelJitter := e.normFloat64() * cfg.ParamJitterSigma

		newRule := math.Max(0.0, hybrid.RuleWeight+ruleJitter)
		newModel := math.Max(0.0, hybrid.ModelWeight+modelJitter)

		sum := newRule + newModel
		if sum > 0 && !math.IsNaN(sum) && !math.IsInf(sum, 0) {
			hybrid.RuleWeight = newRule / sum
			hybrid.ModelWeight = newModel / sum
		}
	}
}

func (e *Engine) mutateScope(_ *antibody.ScopeSpec, _ Config) {
	// Conservative: confidence threshold mutation happens in mutateParameters.
}

func (e *Engine) crossoverRuleFeatures(offspring *antibody.RuleSpec, parents []antibody.Spec) {
	all := make(map[string][]string)
	for _, p := range parents {
		if p.Detector.Type == "rule" && p.Detector.Rule != nil {
			for feature, value := range p.Detector.Rule.Features {
				all[feature] = append(all[feature], value)
			}
		}
	}
	if offspring.Features == nil {
		offspring.Features = map[string]string{}
	}
	for feature, values := range all {
		if len(values) > 0 {
			offspring.Features[feature] = values[e.intn(len(values))]
		}
	}
}

func (e *Engine) crossoverHybridWeights(offspring *antibody.HybridSpec, parents []antibody.Spec) {
	var rw, mw []float64
	for _, p := range parents {
		if p.Detector.Type == "hybrid" && p.Detector.Hybrid != nil {
			rw = append(rw, p.Detector.Hybrid.RuleWeight)
			mw = append(mw, p.Detector.Hybrid.ModelWeight)
		}
	}
	if len(rw) > 0 && len(mw) > 0 {
		avgR, avgM := average(rw), average(mw)
		if sum := avgR + avgM; sum > 0 {
			offspring.RuleWeight = avgR / sum
			offspring.ModelWeight = avgM / sum
		}
	}
}

func computeComplexity(spec antibody.Spec) int {
	n := 0
	if r := spec.Detector.Rule; r != nil {
		n += len(r.Features)
		n += len(r.Pattern) / 10
	}
	if m := spec.Detector.Model; m != nil {
		n += len(m.Features)
	}
	if spec.Detector.Hybrid != nil {
		n += 2
	}
	return n
}

func hashSpecToBitset(spec antibody.Spec, bitset []byte) {
	hasher := sha256.New()
	hasher.Write([]byte(FeatureHashSalt))

	write := func(s string) {
		hasher.Write([]byte(s))
		h := hasher.Sum(nil)
		setBitFromHash(bitset, h)
		hasher.Reset()
		hasher.Write([]byte(FeatureHashSalt))
	}

	write(fmt.Sprintf("type:%s", spec.Detector.Type))

	if r := spec.Detector.Rule; r != nil {
		feats := make([]string, 0, len(r.Features))
		for k, v := range r.Features {
			feats = append(feats, fmt.Sprintf("%s=%s", k, v))
		}
		sort.Strings(feats)
		for _, f := range feats {
			write(f)
		}
	}

	if m := spec.Detector.Model; m != nil {
		feats := make([]string, 0, len(m.Features))
		for k, v := range m.Features {
			feats = append(feats, fmt.Sprintf("%s=%v", k, v))
		}
		sort.Strings(feats)
		for _, f := range feats {
			write(f)
		}
	}

	if h := spec.Detector.Hybrid; h != nil {
		write(fmt.Sprintf("rw:%d|mw:%d", int(h.RuleWeight*1000), int(h.ModelWeight*1000)))
	}

	write(fmt.Sprintf("conf:%d", int(spec.Scope.ConfidenceThreshold*1000)))
}

func setBitFromHash(bitset []byte, h []byte) {
	if len(h) < 2 || len(bitset) == 0 {
		return
	}
	idx := (int(h[0])<<8 | int(h[1])) % DiversityBitsetSize
	bitset[idx/8] |= 1 << (idx % 8)
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// ComputeBitsetJaccardSimilarity computes similarity between two encoded
// diversity signatures.
func ComputeBitsetJaccardSimilarity(sig1, sig2 string) (float64, error) {
	p1 := strings.SplitN(sig1, ":", 2)
	p2 := strings.SplitN(sig2, ":", 2)
	if len(p1) != 2 || len(p2) != 2 {
		return ComputeJaccardSimilarity(sig1, sig2), nil
	}
	if p1[0] != p2[0] {
		return 0, fmt.Errorf("diversity signature version mismatch: %s vs %s", p1[0], p2[0])
	}

	b1, err := base64.StdEncoding.DecodeString(p1[1])
	if err != nil {
		return 0, fmt.Errorf("failed to decode bitset1: %w", err)
	}
	b2, err := base64.StdEncoding.DecodeString(p2[1])
	if err != nil {
		return 0, fmt.Errorf("failed to decode bitset2: %w", err)
	}
	if len(b1) != len(b2) {
		return 0, fmt.Errorf("bitset length mismatch: %d vs %d", len(b1), len(b2))
	}

	intersection, union := 0, 0
	for i := range b1 {
		intersection += popcount(b1[i] & b2[i])
		union += popcount(b1[i] | b2[i])
	}
	if union == 0 {
		return 1.0, nil
	}
	return float64(intersection) / float64(union), nil
}

// DiversityDistance is 1 - similarity.
func DiversityDistance(sig1, sig2 string) (float64, error) {
	sim, err := ComputeBitsetJaccardSimilarity(sig1, sig2)
	if err != nil {
		return 0, err
	}
	return 1.0 - sim, nil
}

// DiversitySimilarity is an alias kept for readability at call sites.
func DiversitySimilarity(sig1, sig2 string) (float64, error) {
	return ComputeBitsetJaccardSimilarity(sig1, sig2)
}

// ComputeJaccardSimilarity is the exact-match-or-zero fallback used when
// signatures aren't in the versioned bitset form.
func ComputeJaccardSimilarity(a, b string) float64 {
	if a == b && a != "" {
		return 1.0
	}
	return 0.0
}

func popcount(b byte) int {
	n := 0
	for b != 0 {
		n += int(b & 1)
		b >>= 1
	}
	return n
}

func clampFloat64(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
