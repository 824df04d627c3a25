package mutation

import (
	"context"
	"strings"
	"testing"

	"github.com/a-swarm/evolution-core/internal/antibody"
)

func TestValidateSpecFailures(t *testing.T) {
	e := NewEngine(42)
	cfg := DefaultConfig()
	ctx := context.Background()

	tests := []struct {
		name    string
		spec    antibody.Spec
		wantErr string
	}{
		{
			name: "confidence_threshold_too_low",
			spec: antibody.Spec{
				Scope: antibody.ScopeSpec{ConfidenceThreshold: -0.1, Environments: []string{"test"}},
			},
			wantErr: "confidence_threshold -0.100 must be in [0,1]",
		},
		{
			name: "hybrid_without_weights",
			spec: antibody.Spec{
				Detector: antibody.DetectorSpec{Type: "hybrid"},
				Scope:    antibody.ScopeSpec{ConfidenceThreshold: 0.8, Environments: []string{"test"}},
			},
			wantErr: "hybrid detector requires hybrid weights",
		},
		{
			name: "negative_hybrid_weights",
			spec: antibody.Spec{
				Detector: antibody.DetectorSpec{
					Type:   "hybrid",
					Hybrid: &antibody.HybridSpec{RuleWeight: -0.1, ModelWeight: 1.1},
				},
				Scope: antibody.ScopeSpec{ConfidenceThreshold: 0.8, Environments: []string{"test"}},
			},
			wantErr: "hybrid weights must be non-negative",
		},
		{
			name: "hybrid_weights_dont_sum_to_1",
			spec: antibody.Spec{
				Detector: antibody.DetectorSpec{
					Type:   "hybrid",
					Hybrid: &antibody.HybridSpec{RuleWeight: 0.3, ModelWeight: 0.4},
				},
				Scope: antibody.ScopeSpec{ConfidenceThreshold: 0.8, Environments: []string{"test"}},
			},
			wantErr: "hybrid weights must sum to 1.0",
		},
		{
			name: "no_environments",
			spec: antibody.Spec{
				Scope: antibody.ScopeSpec{ConfidenceThreshold: 0.8},
			},
			wantErr: "at least one environment must be specified",
		},
		{
			name: "empty_rule_pattern",
			spec: antibody.Spec{
				Detector: antibody.DetectorSpec{Type: "rule", Rule: &antibody.RuleSpec{Pattern: ""}},
				Scope:    antibody.ScopeSpec{ConfidenceThreshold: 0.8, Environments: []string{"test"}},
			},
			wantErr: "rule pattern cannot be empty",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := e.ValidateSpec(ctx, tc.spec, cfg)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func ruleParent() antibody.Spec {
	return antibody.Spec{
		Detector: antibody.DetectorSpec{
			Type: "rule",
			Rule: &antibody.RuleSpec{
				Pattern:  "net.egress and proc.exec",
				Features: map[string]string{"f1": "1", "f2": "0"},
			},
		},
		Scope: antibody.ScopeSpec{ConfidenceThreshold: 0.8, Environments: []string{"shadow"}},
	}
}

func TestMutateDeterministicForFixedSeed(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	parent := ruleParent()

	e1 := NewEngine(7)
	e2 := NewEngine(7)

	v1, err := e1.Mutate(ctx, parent, cfg)
	if err != nil {
		t.Fatalf("mutate 1: %v", err)
	}
	v2, err := e2.Mutate(ctx, parent, cfg)
	if err != nil {
		t.Fatalf("mutate 2: %v", err)
	}
	if v1.ComputeHash() != v2.ComputeHash() {
		t.Fatalf("expected identical mutation outcomes for the same seed")
	}
}

func TestMutateNProducesDistinctOffspringSeeds(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(1)
	variants, err := e.MutateN(ctx, ruleParent(), "parent-1", DefaultConfig(), 5)
	if err != nil {
		t.Fatalf("MutateN: %v", err)
	}
	if len(variants) != 5 {
		t.Fatalf("expected 5 variants, got %d", len(variants))
	}
}

func TestCrossOverRequiresTwoParents(t *testing.T) {
	e := NewEngine(1)
	_, err := e.CrossOver(context.Background(), []antibody.Spec{ruleParent()}, DefaultConfig())
	if err == nil {
		t.Fatalf("expected error for single-parent crossover")
	}
}

func TestDiversitySignatureSimilarity(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(1)

	s1, err := e.ComputeDiversitySignature(ctx, ruleParent())
	if err != nil {
		t.Fatalf("sig1: %v", err)
	}
	s2, err := e.ComputeDiversitySignature(ctx, ruleParent())
	if err != nil {
		t.Fatalf("sig2: %v", err)
	}

	sim, err := DiversitySimilarity(s1, s2)
	if err != nil {
		t.Fatalf("similarity: %v", err)
	}
	if sim != 1.0 {
		t.Fatalf("expected identical specs to have similarity 1.0, got %f", sim)
	}

	different := ruleParent()
	different.Detector.Rule.Features = map[string]string{"f3": "1", "f4": "0"}
	s3, err := e.ComputeDiversitySignature(ctx, different)
	if err != nil {
		t.Fatalf("sig3: %v", err)
	}
	if sim2, _ := DiversitySimilarity(s1, s3); sim2 >= sim {
		t.Fatalf("expected different spec to have lower similarity")
	}
}
