// Package promotion drives antibody variants through the deployment
// phase state machine (pending -> shadow -> staged -> canary -> active ->
// retired), gated on fitness-evaluation results and a handful of safety
// checks layered on top of the raw Wilson/ROC bar.
package promotion

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/a-swarm/evolution-core/internal/antibody"
)

// AntibodyStatus mirrors the status subresource of the Antibody CRD.
type AntibodyStatus struct {
	Fitness    FitnessStatus      `json:"fitness,omitempty"`
	Deployment DeploymentStatus   `json:"deployment,omitempty"`
	Evidence   EvidenceStatus     `json:"evidence,omitempty"`
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

type FitnessStatus struct {
	TPRAtFPR001    *float64 `json:"tpr_at_fpr_001,omitempty"`
	MTTDP95Ms      float64  `json:"mttd_p95_ms"`
	BlastRadius    string   `json:"blast_radius,omitempty"`
	StabilityScore float64  `json:"stability_score"`
	AdaptationRate float64  `json:"adaptation_rate,omitempty"`
}

type DeploymentStatus struct {
	Phase             string    `json:"phase,omitempty"`
	ClustersDeployed  []string  `json:"clusters_deployed,omitempty"`
	ShadowStart       time.Time `json:"shadow_start,omitempty"`
	PromotionEligible time.Time `json:"promotion_eligible,omitempty"`
	LastUpdate        time.Time `json:"last_update,omitempty"`
	LastPromotionAt   time.Time `json:"last_promotion_at,omitempty"`
	CanaryPercent     int       `json:"canary_percent,omitempty"`
}

type EvidenceStatus struct {
	ReplayTraces   []string     `json:"replay_traces,omitempty"`
	TestResults    []TestResult `json:"test_results,omitempty"`
	FalsePositives []FPIncident `json:"false_positives,omitempty"`
}

type TestResult struct {
	TestName  string    `json:"test_name"`
	Passed    bool      `json:"passed"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

type FPIncident struct {
	IncidentID string    `json:"incident_id"`
	Timestamp  time.Time `json:"timestamp"`
	Impact     string    `json:"impact"`
}

// Antibody is the CRD-shaped object the controller reconciles. Unlike
// population.Variant (the flat in-memory representation used by the
// evolution loop), this carries the full Kubernetes object metadata and
// status subresource.
type Antibody struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`
	Spec              antibody.Spec  `json:"spec"`
	Status            AntibodyStatus `json:"status,omitempty"`
}

// idempotencyAnnotation is stamped with the transition time whenever
// evaluatePromotion changes an antibody's phase. The controller does not
// read it back; a reconcile that leaves the phase unchanged writes
// nothing because evaluatePromotion only writes on a phase change.
const idempotencyAnnotation = "aswarm.io/last-evaluated-at"
