package population

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/a-swarm/evolution-core/internal/antibody"
	"github.com/a-swarm/evolution-core/internal/fitness"
	"github.com/a-swarm/evolution-core/internal/mutation"
)

func baseSpec() antibody.Spec {
	return antibody.Spec{
		Detector: antibody.DetectorSpec{
			Type: "rule",
			Rule: &antibody.RuleSpec{Pattern: "proc.exec", Features: map[string]string{"f1": "1"}},
		},
		Scope: antibody.ScopeSpec{ConfidenceThreshold: 0.8, Environments: []string{"shadow"}},
	}
}

func newTestManager(t *testing.T) *SimpleManager {
	t.Helper()
	engine := mutation.NewEngine(1)
	return NewSimpleManager(DefaultConfig(), engine, 1, zerolog.Nop())
}

func TestProposeCohortGeneratesUniqueVariants(t *testing.T) {
	pm := newTestManager(t)
	parent := Variant{ID: "parent-1", Spec: baseSpec(), Generation: 0}

	cohort, err := pm.ProposeCohort(context.Background(), []Variant{parent}, 5, "shadow")
	if err != nil {
		t.Fatalf("ProposeCohort: %v", err)
	}
	if len(cohort) == 0 {
		t.Fatalf("expected at least one cohort member")
	}

	seen := make(map[string]bool)
	for _, v := range cohort {
		if seen[v.ID] {
			t.Fatalf("duplicate variant ID %s in cohort", v.ID)
		}
		seen[v.ID] = true
		if v.Generation != 1 {
			t.Fatalf("expected generation 1 for first cohort, got %d", v.Generation)
		}
		found := false
		for _, env := range v.Spec.Scope.Environments {
			if env == "shadow" {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected environment injection into cohort member spec")
		}
	}
}

func TestProposeCohortRequiresParents(t *testing.T) {
	pm := newTestManager(t)
	if _, err := pm.ProposeCohort(context.Background(), nil, 5, "shadow"); err == nil {
		t.Fatalf("expected error with no parents")
	}
}

func TestIngestResultsUpdatesParentPool(t *testing.T) {
	pm := newTestManager(t)
	parent := Variant{ID: "parent-1", Spec: baseSpec(), Generation: 0}
	cohort, err := pm.ProposeCohort(context.Background(), []Variant{parent}, 3, "shadow")
	if err != nil {
		t.Fatalf("ProposeCohort: %v", err)
	}

	results := make(map[string]fitness.FitnessSummary)
	for _, v := range cohort {
		results[v.ID] = fitness.FitnessSummary{SampleSize: 200, ConfidenceLower: 0.9, StabilityScore: 0.8}
	}
	if err := pm.IngestResults(context.Background(), results); err != nil {
		t.Fatalf("IngestResults: %v", err)
	}

	snap, err := pm.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Generation != 1 {
		t.Fatalf("expected generation to advance to 1, got %d", snap.Generation)
	}
	if len(snap.ParentPool) == 0 {
		t.Fatalf("expected non-empty parent pool after ingest")
	}
}

func TestDiversityCalculationIdenticalVariantsAreNotDiverse(t *testing.T) {
	pm := newTestManager(t)
	ctx := context.Background()
	spec := baseSpec()

	sig, err := pm.engine.ComputeDiversitySignature(ctx, spec)
	if err != nil {
		t.Fatalf("ComputeDiversitySignature: %v", err)
	}

	v1 := &Variant{ID: "v1", Spec: spec, DiversitySig: sig}
	v2 := &Variant{ID: "v2", Spec: spec, DiversitySig: sig}
	pm.variants["v1"] = v1
	pm.variants["v2"] = v2
	pm.parentPool = []string{"v1", "v2"}

	pm.updateDiversityMetrics()
	if pm.diversity > 0.01 {
		t.Fatalf("expected near-zero diversity for identical variants, got %f", pm.diversity)
	}
}

func TestUpdateConfigRejectsInvalidElite(t *testing.T) {
	pm := newTestManager(t)
	cfg := DefaultConfig()
	cfg.EliteSize = cfg.ShadowPoolSize + 1
	if err := pm.UpdateConfig(context.Background(), cfg); err == nil {
		t.Fatalf("expected error when elite size exceeds shadow pool size")
	}
}

func TestSweepRetiresExpiredVariant(t *testing.T) {
	pm := newTestManager(t)
	spec := baseSpec()
	spec.Controls.TTLHours = 1
	v := &Variant{ID: "v1", Spec: spec, Phase: "active", CreatedAt: 0}
	pm.variants["v1"] = v
	pm.fitness["v1"] = &fitness.FitnessSummary{ConfidenceLower: 0.95}

	retired, err := pm.Sweep(context.Background(), 3600*2)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(retired) != 1 || retired[0] != "v1" {
		t.Fatalf("expected v1 to be retired, got %v", retired)
	}
	if pm.variants["v1"].Phase != "retired" {
		t.Fatalf("expected phase to be retired")
	}
}

func TestSweepRetiresLowConfidenceVariant(t *testing.T) {
	pm := newTestManager(t)
	v := &Variant{ID: "v1", Spec: baseSpec(), Phase: "active", CreatedAt: 0}
	pm.variants["v1"] = v
	pm.fitness["v1"] = &fitness.FitnessSummary{ConfidenceLower: 0.5}

	retired, err := pm.Sweep(context.Background(), 10)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(retired) != 1 {
		t.Fatalf("expected low-confidence variant to be retired")
	}
}
