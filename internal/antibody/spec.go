// Package antibody defines the detector specification shared by the
// mutation engine, population manager, and promotion controller.
package antibody

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// FeatureValueKind closes ModelSpec.Features over the three value shapes
// the evaluator and mutation engine actually handle.
type FeatureValueKind string

const (
	FeatureString FeatureValueKind = "string"
	FeatureNumber FeatureValueKind = "number"
	FeatureBool   FeatureValueKind = "bool"
)

// FeatureValue is a closed sum type over {string, number, bool}. Model
// feature maps use this instead of map[string]interface{} so canonical
// hashing and mutation never have to reflect on an unknown Go type.
type FeatureValue struct {
	Kind FeatureValueKind
	Str  string
	Num  float64
	Bool bool
}

func StringValue(s string) FeatureValue { return FeatureValue{Kind: FeatureString, Str: s} }
func NumberValue(n float64) FeatureValue { return FeatureValue{Kind: FeatureNumber, Num: n} }
func BoolValue(b bool) FeatureValue { return FeatureValue{Kind: FeatureBool, Bool: b} }

func (v FeatureValue) Validate() error {
	switch v.Kind {
	case FeatureString, FeatureNumber, FeatureBool:
		return nil
	default:
		return fmt.Errorf("feature value has unknown kind %q", v.Kind)
	}
}

func (v FeatureValue) canonical() string {
	switch v.Kind {
	case FeatureString:
		return "s:" + v.Str
	case FeatureNumber:
		return "n:" + strconv.FormatFloat(v.Num, 'g', -1, 64)
	case FeatureBool:
		if v.Bool {
			return "b:1"
		}
		return "b:0"
	default:
		return "?:"
	}
}

// RuleSpec describes a rule-based detector.
type RuleSpec struct {
	Pattern    string
	Features   map[string]string
	EngineHint string
}

// ModelSpec describes a model-based detector.
type ModelSpec struct {
	Features     map[string]FeatureValue
	TrainingData string
}

// HybridSpec blends a rule detector and a model detector.
type HybridSpec struct {
	RuleWeight  float64
	ModelWeight float64
}

// DetectorSpec is the tagged union of detector kinds. Type selects which
// of Rule/Model/Hybrid is populated.
type DetectorSpec struct {
	Type   string
	Rule   *RuleSpec
	Model  *ModelSpec
	Hybrid *HybridSpec
}

// ScopeSpec bounds where a variant is allowed to run.
type ScopeSpec struct {
	Environments        []string
	Namespaces          []string
	Labels              map[string]string
	ConfidenceThreshold float64
}

// LineageSpec records where a variant came from.
type LineageSpec struct {
	ParentID     string
	Generation   int
	MutationType string
	CreationTime time.Time
	Creator      string
}

// ControlsSpec bounds lifetime and blast radius.
type ControlsSpec struct {
	TTLHours    int
	ShadowHours int
	MaxRing     int
	AutoPromote bool
}

// Spec is the full detector specification carried by a variant.
type Spec struct {
	Detector DetectorSpec
	Scope    ScopeSpec
	Lineage  LineageSpec
	Controls ControlsSpec
}

const (
	maxRulePatternLen = 2048
	maxComplexity     = 256
)

// Validate applies the same acceptance rules the mutation engine uses
// when it generates offspring, so specs read back from storage can be
// rejected if they were corrupted in transit.
func (s Spec) Validate() error {
	if s.Scope.ConfidenceThreshold < 0 || s.Scope.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold %.3f must be in [0,1]", s.Scope.ConfidenceThreshold)
	}
	if len(s.Scope.Environments) == 0 {
		return fmt.Errorf("at least one environment must be specified")
	}

	switch s.Detector.Type {
	case "rule":
		if s.Detector.Rule == nil || s.Detector.Rule.Pattern == "" {
			return fmt.Errorf("rule pattern cannot be empty")
		}
		if len(s.Detector.Rule.Pattern) > maxRulePatternLen {
			return fmt.Errorf("rule pattern too long: %d > %d chars", len(s.Detector.Rule.Pattern), maxRulePatternLen)
		}
	case "model":
		if s.Detector.Model == nil {
			return fmt.Errorf("model spec required for model detector")
		}
		for k, v := range s.Detector.Model.Features {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("model feature %q: %w", k, err)
			}
		}
	case "hybrid":
		if s.Detector.Hybrid == nil {
			return fmt.Errorf("hybrid detector requires hybrid weights")
		}
		rw, mw := s.Detector.Hybrid.RuleWeight, s.Detector.Hybrid.ModelWeight
		if rw != rw || mw != mw { // NaN check
			return fmt.Errorf("hybrid weights contain NaN")
		}
		if rw < 0 || mw < 0 {
			return fmt.Errorf("hybrid weights must be non-negative: rule=%.3f, model=%.3f", rw, mw)
		}
		if sum := rw + mw; sum < 0.999999 || sum > 1.000001 {
			return fmt.Errorf("hybrid weights must sum to 1.0, got %.6f", sum)
		}
	default:
		return fmt.Errorf("unknown detector type %q", s.Detector.Type)
	}

	if c := s.Complexity(); c > maxComplexity {
		return fmt.Errorf("spec complexity %d exceeds limit %d", c, maxComplexity)
	}
	return nil
}

// Complexity is a rough proxy for spec size used to bound mutation
// blow-up (feature count plus rule pattern length).
func (s Spec) Complexity() int {
	n := 0
	if r := s.Detector.Rule; r != nil {
		n += len(r.Pattern) + len(r.Features)
	}
	if m := s.Detector.Model; m != nil {
		n += len(m.Features)
	}
	return n
}

// ComputeHash returns a deterministic SHA-256 hex digest of the spec,
// used as a content-addressed variant identity and as a tamper check
// when a spec round-trips through storage.
func (s Spec) ComputeHash() string {
	h := newSpecHasher()
	h.writeString(s.Detector.Type)
	if r := s.Detector.Rule; r != nil {
		h.writeString(r.Pattern)
		h.writeString(r.EngineHint)
		h.writeStringMap(r.Features)
	}
	if m := s.Detector.Model; m != nil {
		h.writeString(m.TrainingData)
		h.writeFeatureMap(m.Features)
	}
	if hy := s.Detector.Hybrid; hy != nil {
		h.writeFloat(hy.RuleWeight)
		h.writeFloat(hy.ModelWeight)
	}
	h.writeStrings(s.Scope.Environments)
	h.writeStrings(s.Scope.Namespaces)
	h.writeStringMap(s.Scope.Labels)
	h.writeFloat(s.Scope.ConfidenceThreshold)
	h.writeString(s.Lineage.ParentID)
	h.writeInt(s.Lineage.Generation)
	h.writeString(s.Lineage.MutationType)
	h.writeInt(s.Controls.TTLHours)
	h.writeInt(s.Controls.ShadowHours)
	h.writeInt(s.Controls.MaxRing)
	return h.sum()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedFeatureKeys(m map[string]FeatureValue) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
