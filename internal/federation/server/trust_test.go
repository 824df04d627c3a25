package server

import (
	"testing"
	"time"

	fpb "github.com/a-swarm/evolution-core/internal/federation/pb"
)

func TestTrustRegistryDefaultsAndUpdates(t *testing.T) {
	reg := NewTrustRegistry()

	initial := reg.Get("cluster-a")
	if initial.ReliabilityScore != 0.5 {
		t.Fatalf("expected default reliability 0.5, got %f", initial.ReliabilityScore)
	}

	reg.Update("cluster-a", true)
	after := reg.Get("cluster-a")
	if after.ReliabilityScore <= initial.ReliabilityScore {
		t.Fatalf("expected reliability to improve after success")
	}

	reg.Update("cluster-a", false)
	reg.Update("cluster-a", false)
	afterFail := reg.Get("cluster-a")
	if afterFail.ReliabilityScore >= after.ReliabilityScore {
		t.Fatalf("expected reliability to drop after failures")
	}
}

func TestQuorumRequiresMinimumTrustedVotes(t *testing.T) {
	reg := NewTrustRegistry()
	q := DefaultQuorum()

	if q.Admit([]string{"cluster-a"}, reg) {
		t.Fatalf("single attester should not reach quorum")
	}

	if !q.Admit([]string{"cluster-a", "cluster-b"}, reg) {
		t.Fatalf("two default-trust attesters should reach quorum")
	}
}

func TestQuorumExcludesLowTrustAndDuplicateAttesters(t *testing.T) {
	reg := NewTrustRegistry()
	q := DefaultQuorum()

	for i := 0; i < 10; i++ {
		reg.Update("untrusted", false)
	}

	if q.Admit([]string{"cluster-a", "cluster-a", "untrusted"}, reg) {
		t.Fatalf("duplicate attester plus one untrusted cluster should not reach quorum")
	}
}

func TestAttestationStoreListFiltersAndLimits(t *testing.T) {
	store := NewAttestationStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	store.Store("a", &fpb.SketchAttestation{Metadata: &fpb.SketchMetadata{AntibodyId: "a"}}, base)
	store.Store("b", &fpb.SketchAttestation{Metadata: &fpb.SketchMetadata{AntibodyId: "b"}}, base.Add(time.Hour))

	if store.Count() != 2 {
		t.Fatalf("expected 2 stored attestations, got %d", store.Count())
	}

	recent := store.List(base.Add(30*time.Minute), 0)
	if len(recent) != 1 || recent[0].Metadata.AntibodyId != "b" {
		t.Fatalf("expected only the post-cutoff attestation, got %+v", recent)
	}

	limited := store.List(time.Time{}, 1)
	if len(limited) != 1 {
		t.Fatalf("expected limit to cap results at 1, got %d", len(limited))
	}
}

func TestAttestationStoreGetHitsHotCache(t *testing.T) {
	store := NewAttestationStore()
	att := &fpb.SketchAttestation{Metadata: &fpb.SketchMetadata{AntibodyId: "a"}}
	store.Store("a", att, time.Now())
	store.hot.Wait()

	got, ok := store.Get("a")
	if !ok || got.Metadata.AntibodyId != "a" {
		t.Fatalf("expected cached attestation for id a, got %+v ok=%v", got, ok)
	}

	if _, ok := store.Get("missing"); ok {
		t.Fatal("expected miss for unknown id")
	}
}
