package promotion

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/a-swarm/evolution-core/internal/antibody"
)

// DeepCopyObject satisfies runtime.Object so Antibody can be used with a
// controller-runtime client (including the fake client used in tests).
func (in *Antibody) DeepCopyObject() runtime.Object {
	if in == nil {
		return nil
	}
	out := new(Antibody)
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	out.Spec = deepCopySpec(in.Spec)
	out.Status = deepCopyStatus(in.Status)
	return out
}

// AntibodyList is the list kind the fake client's scheme registration
// requires alongside the item kind.
type AntibodyList struct {
	metav1.TypeMeta `json:",inline"`
	ListMeta        metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Antibody      `json:"items"`
}

// GetObjectKind and DeepCopyObject satisfy runtime.Object for AntibodyList.
func (in *AntibodyList) DeepCopyObject() runtime.Object {
	if in == nil {
		return nil
	}
	out := new(AntibodyList)
	out.TypeMeta = in.TypeMeta
	out.ListMeta = in.ListMeta
	out.Items = make([]Antibody, len(in.Items))
	for i := range in.Items {
		item := in.Items[i]
		copied := item.DeepCopyObject().(*Antibody)
		out.Items[i] = *copied
	}
	return out
}

func deepCopySpec(s antibody.Spec) antibody.Spec {
	out := s
	if s.Detector.Rule != nil {
		r := *s.Detector.Rule
		r.Features = copyStringMap(s.Detector.Rule.Features)
		out.Detector.Rule = &r
	}
	if s.Detector.Model != nil {
		m := *s.Detector.Model
		m.Features = copyFeatureMap(s.Detector.Model.Features)
		out.Detector.Model = &m
	}
	if s.Detector.Hybrid != nil {
		h := *s.Detector.Hybrid
		out.Detector.Hybrid = &h
	}
	out.Scope.Environments = append([]string(nil), s.Scope.Environments...)
	out.Scope.Namespaces = append([]string(nil), s.Scope.Namespaces...)
	out.Scope.Labels = copyStringMap(s.Scope.Labels)
	return out
}

func deepCopyStatus(s AntibodyStatus) AntibodyStatus {
	out := s
	out.Deployment.ClustersDeployed = append([]string(nil), s.Deployment.ClustersDeployed...)
	out.Evidence.ReplayTraces = append([]string(nil), s.Evidence.ReplayTraces...)
	out.Evidence.TestResults = append([]TestResult(nil), s.Evidence.TestResults...)
	out.Evidence.FalsePositives = append([]FPIncident(nil), s.Evidence.FalsePositives...)
	out.Conditions = append([]metav1.Condition(nil), s.Conditions...)
	return out
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyFeatureMap(m map[string]antibody.FeatureValue) map[string]antibody.FeatureValue {
	if m == nil {
		return nil
	}
	out := make(map[string]antibody.FeatureValue, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
