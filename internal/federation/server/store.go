package server

import (
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	fpb "github.com/a-swarm/evolution-core/internal/federation/pb"
)

// AttestationStore caches wire-level sketch attestations this cluster
// has produced or accepted from peers, answering RequestSketch calls
// and feeding ReportHealth's sketch count. The backing map is the
// source of truth for List/Count, which need full enumeration; a
// ristretto cache sits in front of single-id lookups, the hot path for
// a cluster repeatedly re-requesting the same antibody's coverage.
type AttestationStore struct {
	mu      sync.RWMutex
	entries map[string]storedAttestation
	hot     *ristretto.Cache[string, *fpb.SketchAttestation]
}

type storedAttestation struct {
	att      *fpb.SketchAttestation
	storedAt time.Time
}

func NewAttestationStore() *AttestationStore {
	hot, err := ristretto.NewCache(&ristretto.Config[string, *fpb.SketchAttestation]{
		NumCounters: 10000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		hot = nil
	}
	return &AttestationStore{entries: make(map[string]storedAttestation), hot: hot}
}

func (s *AttestationStore) Store(id string, att *fpb.SketchAttestation, storedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = storedAttestation{att: att, storedAt: storedAt}
	if s.hot != nil {
		s.hot.Set(id, att, 1)
	}
}

// Get returns the attestation stored under id, preferring the hot
// cache and falling back to the backing map on a cache miss.
func (s *AttestationStore) Get(id string) (*fpb.SketchAttestation, bool) {
	if s.hot != nil {
		if v, ok := s.hot.Get(id); ok {
			return v, true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.att, true
}

// List returns attestations stored at or after since, capped at limit
// (0 means unlimited).
func (s *AttestationStore) List(since time.Time, limit int) []*fpb.SketchAttestation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*fpb.SketchAttestation, 0, len(s.entries))
	for _, e := range s.entries {
		if !since.IsZero() && e.storedAt.Before(since) {
			continue
		}
		out = append(out, e.att)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (s *AttestationStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
