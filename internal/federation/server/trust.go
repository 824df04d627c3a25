package server

import (
	"sync"

	fpb "github.com/a-swarm/evolution-core/internal/federation/pb"
)

// TrustRegistry tracks a reputation score per peer cluster. Trust
// updates are a simple bounded increment/decrement on interaction
// outcome; spec.md leaves the scoring algorithm itself out of core
// scope, so this mirrors the one real draft of it in the corpus.
type TrustRegistry struct {
	mu     sync.Mutex
	scores map[string]*fpb.TrustScore
}

func NewTrustRegistry() *TrustRegistry {
	return &TrustRegistry{scores: make(map[string]*fpb.TrustScore)}
}

func (t *TrustRegistry) Get(clusterID string) fpb.TrustScore {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.scores[clusterID]; ok {
		return *s
	}
	s := &fpb.TrustScore{ReliabilityScore: 0.5, ResponseScore: 1.0, ConsensusScore: 1.0}
	t.scores[clusterID] = s
	return *s
}

// Update nudges a cluster's reliability/response scores based on
// whether its most recent interaction succeeded.
func (t *TrustRegistry) Update(clusterID string, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.scores[clusterID]
	if !ok {
		s = &fpb.TrustScore{ReliabilityScore: 0.5, ResponseScore: 1.0, ConsensusScore: 1.0}
		t.scores[clusterID] = s
	}
	if success {
		s.ReliabilityScore = minF(1.0, s.ReliabilityScore+0.01)
		s.ResponseScore = minF(1.0, s.ResponseScore+0.01)
	} else {
		s.ReliabilityScore = maxF(0.0, s.ReliabilityScore-0.05)
		s.ResponseScore = maxF(0.0, s.ResponseScore-0.02)
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Quorum enforces the Byzantine-tolerant acceptance rule: a sketch
// attestation is only merged into local state once at least MinVotes
// distinct, sufficiently-trusted clusters have attested to it.
type Quorum struct {
	MinVotes       int
	TrustThreshold float64
}

func DefaultQuorum() Quorum {
	return Quorum{MinVotes: 2, TrustThreshold: 0.3}
}

// Admit reports whether attesters, filtered to those above the trust
// threshold, reaches quorum.
func (q Quorum) Admit(attesters []string, trust *TrustRegistry) bool {
	seen := make(map[string]struct{}, len(attesters))
	votes := 0
	for _, clusterID := range attesters {
		if _, dup := seen[clusterID]; dup {
			continue
		}
		seen[clusterID] = struct{}{}
		if trust.Get(clusterID).ReliabilityScore >= q.TrustThreshold {
			votes++
		}
	}
	return votes >= q.MinVotes
}
