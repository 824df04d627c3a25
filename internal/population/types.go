// Package population manages the evolving pool of antibody variants:
// cohort proposal, diversity-aware tournament selection, and retirement.
package population

import (
	"context"

	"github.com/a-swarm/evolution-core/internal/antibody"
	"github.com/a-swarm/evolution-core/internal/fitness"
	"github.com/a-swarm/evolution-core/internal/mutation"
)

// Variant is one proposed or evaluated antibody in the population pool.
// It is the flat, in-memory shape used by cohort generation and
// selection; the promotion controller maps it onto a CRD object at the
// point a variant actually gets deployed.
type Variant struct {
	ID           string
	SpecHash     string
	ParentIDs    []string
	Generation   int
	Spec         antibody.Spec
	DiversitySig string
	ProposedBy   string
	CreatedAt    int64
	Phase        string
}

// Config tunes cohort size, breeding pool size, and selection pressure.
type Config struct {
	ShadowPoolSize  int
	StagedPoolSize  int
	EliteSize       int
	MutationRate    float64
	CrossoverRate   float64
	DiversityLambda float64
}

// DefaultConfig returns sane production defaults.
func DefaultConfig() Config {
	return Config{
		ShadowPoolSize:  32,
		StagedPoolSize:  8,
		EliteSize:       4,
		MutationRate:    0.8,
		CrossoverRate:   0.2,
		DiversityLambda: 0.3,
	}
}

// State is a point-in-time snapshot of population state for persistence
// or observability.
type State struct {
	Generation       int
	ActivePools      map[string][]string
	ParentPool       []string
	ArchivePool      []string
	SpecHashes       map[string]string
	Diversity        float64
	BestFitness      float64
	BestFitnessByGen []float64
	Params           Config
	LastUpdated      int64
}

// MutationEngine is the subset of mutation.Engine the population manager
// depends on, expressed as an interface so tests can substitute a fake.
type MutationEngine interface {
	Mutate(ctx context.Context, parent antibody.Spec, cfg mutation.Config) (antibody.Spec, error)
	CrossOver(ctx context.Context, parents []antibody.Spec, cfg mutation.Config) (antibody.Spec, error)
	ValidateSpec(ctx context.Context, spec antibody.Spec, cfg mutation.Config) error
	ComputeDiversitySignature(ctx context.Context, spec antibody.Spec) (string, error)
}

// Manager is the public population-manager contract.
type Manager interface {
	ProposeCohort(ctx context.Context, parents []Variant, size int, environment string) ([]Variant, error)
	IngestResults(ctx context.Context, results map[string]fitness.FitnessSummary) error
	SelectNextParents(ctx context.Context, k int) ([]Variant, error)
	GetSpecs(ctx context.Context, variantIDs []string) ([]Variant, error)
	Snapshot(ctx context.Context) (State, error)
	UpdateConfig(ctx context.Context, cfg Config) error
	GetDiversityIndex(ctx context.Context) (float64, error)
	Sweep(ctx context.Context, now int64) ([]string, error)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
