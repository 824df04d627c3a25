package antibody

import "testing"

func validRuleSpec() Spec {
	return Spec{
		Detector: DetectorSpec{
			Type: "rule",
			Rule: &RuleSpec{Pattern: "proc.exec and net.egress", Features: map[string]string{"a": "1"}},
		},
		Scope: ScopeSpec{
			Environments:        []string{"shadow"},
			ConfidenceThreshold: 0.8,
		},
	}
}

func TestValidateRuleSpecOK(t *testing.T) {
	if err := validRuleSpec().Validate(); err != nil {
		t.Fatalf("expected valid spec, got %v", err)
	}
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	s := validRuleSpec()
	s.Scope.ConfidenceThreshold = 1.5
	if err := s.Validate(); err == nil {
		t.Fatalf("expected error for out-of-range threshold")
	}
}

func TestValidateRejectsEmptyEnvironments(t *testing.T) {
	s := validRuleSpec()
	s.Scope.Environments = nil
	if err := s.Validate(); err == nil {
		t.Fatalf("expected error for empty environments")
	}
}

func TestValidateRejectsEmptyRulePattern(t *testing.T) {
	s := validRuleSpec()
	s.Detector.Rule.Pattern = ""
	if err := s.Validate(); err == nil {
		t.Fatalf("expected error for empty rule pattern")
	}
}

func TestValidateHybridWeights(t *testing.T) {
	s := validRuleSpec()
	s.Detector.Type = "hybrid"
	s.Detector.Hybrid = &HybridSpec{RuleWeight: 0.5, ModelWeight: 0.6}
	if err := s.Validate(); err == nil {
		t.Fatalf("expected error for weights not summing to 1.0")
	}
	s.Detector.Hybrid = &HybridSpec{RuleWeight: 0.4, ModelWeight: 0.6}
	if err := s.Validate(); err != nil {
		t.Fatalf("expected valid hybrid weights, got %v", err)
	}
}

func TestComputeHashDeterministic(t *testing.T) {
	s1 := validRuleSpec()
	s2 := validRuleSpec()
	if s1.ComputeHash() != s2.ComputeHash() {
		t.Fatalf("expected identical hashes for structurally equal specs")
	}
	s2.Detector.Rule.Pattern = "different"
	if s1.ComputeHash() == s2.ComputeHash() {
		t.Fatalf("expected different hashes for different specs")
	}
}

func TestComputeHashMapOrderIndependent(t *testing.T) {
	s1 := validRuleSpec()
	s1.Detector.Rule.Features = map[string]string{"a": "1", "b": "2"}
	s2 := validRuleSpec()
	s2.Detector.Rule.Features = map[string]string{"b": "2", "a": "1"}
	if s1.ComputeHash() != s2.ComputeHash() {
		t.Fatalf("expected map order independence in hash")
	}
}
