package promotion

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/a-swarm/evolution-core/internal/aserr"
	"github.com/a-swarm/evolution-core/internal/fitness"
)

// Evaluator is the subset of fitness.Evaluator the controller depends
// on, narrowed to an interface so reconcile tests can substitute a
// fake without standing up the combat-trial machinery.
type Evaluator interface {
	EvaluateFitness(ctx context.Context, variantID string, attackSamples, benignSamples int, environment string) (fitness.FitnessSummary, error)
}

var (
	phaseTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "promotion_attempts_total",
		Help: "Count of successful antibody deployment phase transitions by destination phase.",
	}, []string{"phase"})

	promotionAbortsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "promotion_aborts_total",
		Help: "Count of blocked promotion attempts by the first failing safety gate.",
	}, []string{"reason"})

	evaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aswarm_promotion_evaluations_total",
		Help: "Count of fitness evaluations run by the promotion controller, by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(phaseTransitionsTotal, promotionAbortsTotal, evaluationsTotal)
}

// Controller wires fitness evaluation into Kubernetes CRD status updates
// with promotion gating.
type Controller struct {
	Client           client.Client
	Scheme           *runtime.Scheme
	FitnessEvaluator Evaluator
	Log              zerolog.Logger

	// Promotion thresholds, configurable per deployment.
	MinTPRLowerBound float64
	MaxFPRUpperBound float64
	MinShadowHours   int

	// Safety gates guarding autonomous (non-manual) phase advances, named
	// and defaulted after the environment variables of the same purpose
	// (PROMOTE_COOLDOWN_HOURS, PROMOTE_MIN_WILSON_BOUND,
	// PROMOTE_MAX_CANARY_PCT, SAFETY_VIOLATION_LIMIT).
	PromotionCooldown    time.Duration // PROMOTE_COOLDOWN_HOURS, default 4h
	MinWilsonBound       float64       // PROMOTE_MIN_WILSON_BOUND, default 0.70
	MaxCanaryPercent     int           // PROMOTE_MAX_CANARY_PCT, default 5
	SafetyViolationLimit int           // SAFETY_VIOLATION_LIMIT, default 0
}

func NewController(c client.Client, scheme *runtime.Scheme, evaluator Evaluator, log zerolog.Logger) *Controller {
	return &Controller{
		Client:               c,
		Scheme:               scheme,
		FitnessEvaluator:     evaluator,
		Log:                  log,
		MinTPRLowerBound:     0.90,
		MaxFPRUpperBound:     0.001,
		MinShadowHours:       168,
		PromotionCooldown:    4 * time.Hour,
		MinWilsonBound:       0.70,
		MaxCanaryPercent:     5,
		SafetyViolationLimit: 0,
	}
}

// EvaluateAndUpdate runs fitness evaluation for the named antibody and
// reconciles its CRD status and deployment phase against the result.
func (c *Controller) EvaluateAndUpdate(
	ctx context.Context,
	antibodyName, namespace string,
	attackSamples, benignSamples int,
	environment string,
) error {
	ab := &Antibody{}
	key := types.NamespacedName{Name: antibodyName, Namespace: namespace}
	if err := c.Client.Get(ctx, key, ab); err != nil {
		return aserr.Wrap(aserr.KindNotFound, fmt.Sprintf("fetch antibody %s/%s", namespace, antibodyName), err)
	}

	fit, err := c.FitnessEvaluator.EvaluateFitness(ctx, antibodyName, attackSamples, benignSamples, environment)
	if err != nil {
		evaluationsTotal.WithLabelValues("error").Inc()
		return aserr.Wrap(aserr.KindInternal, "fitness evaluation", err)
	}
	evaluationsTotal.WithLabelValues("ok").Inc()

	if err := c.updateAntibodyStatus(ctx, ab, fit); err != nil {
		return aserr.Wrap(aserr.KindInternal, "status update", err)
	}

	if err := c.evaluatePromotion(ctx, ab, fit); err != nil {
		return aserr.Wrap(aserr.KindInternal, "promotion evaluation", err)
	}

	return nil
}

func (c *Controller) updateAntibodyStatus(ctx context.Context, ab *Antibody, fit fitness.FitnessSummary) error {
	now := metav1.NewTime(time.Now())

	var tprPtr *float64
	if fit.HasROC && fit.ROC != nil && !math.IsNaN(fit.ROC.TPR) {
		v := fit.ROC.TPR
		tprPtr = &v
	}

	ab.Status.Fitness = FitnessStatus{
		TPRAtFPR001:    tprPtr,
		MTTDP95Ms:      fit.P95LatencyMs,
		StabilityScore: fit.StabilityScore,
		AdaptationRate: 0.0,
		BlastRadius:    mapBlastRadiusToRing(fit.AvgBlastRadius),
	}
	ab.Status.Deployment.LastUpdate = now.Time

	c.updateConditions(&ab.Status, fit, now)

	if err := c.Client.Status().Update(ctx, ab); err != nil {
		return fmt.Errorf("k8s status update: %w", err)
	}
	return nil
}

func (c *Controller) updateConditions(status *AntibodyStatus, fit fitness.FitnessSummary, now metav1.Time) {
	conds := make([]metav1.Condition, 0, 3)

	ready := metav1.Condition{
		Type:               "Ready",
		Status:             metav1.ConditionTrue,
		LastTransitionTime: now,
		Reason:             "FitnessEvaluated",
		Message:            fmt.Sprintf("Evaluated %d samples, detection rate=%.3f", fit.SampleSize, fit.DetectionRate),
	}
	conds = append(conds, ready)

	validated := metav1.Condition{
		Type:               "Validated",
		Status:             metav1.ConditionFalse,
		LastTransitionTime: now,
		Reason:             "InsufficientSamples",
		Message:            fmt.Sprintf("Only %d samples (need 200+)", fit.SampleSize),
	}
	if fit.SampleSize >= 200 {
		validated.Status = metav1.ConditionTrue
		validated.Reason = "StatisticallyValid"
		validated.Message = fmt.Sprintf("95%% Wilson CI: [%.3f, %.3f]", fit.ConfidenceLower, fit.ConfidenceUpper)
	}
	conds = append(conds, validated)

	promoted := metav1.Condition{
		Type:               "Promoted",
		Status:             metav1.ConditionFalse,
		LastTransitionTime: now,
		Reason:             "BelowThreshold",
		Message:            fmt.Sprintf("TPR_LB %.3f < %.3f required", fit.ConfidenceLower, c.MinTPRLowerBound),
	}
	if fit.MeetsPromotionSLO(c.MinTPRLowerBound, c.MaxFPRUpperBound) {
		promoted.Status = metav1.ConditionTrue
		promoted.Reason = "MeetsSLO"
		if fit.HasROC && fit.ROC != nil {
			promoted.Message = fmt.Sprintf("TPR %.3f at/under FPR %.4f", fit.ROC.TPR, fit.ROC.FPR)
		} else {
			promoted.Message = "Meets promotion criteria"
		}
	}
	conds = append(conds, promoted)

	status.Conditions = conds
}

// evaluatePromotion runs the deployment phase state machine, gated by
// the five autonomous-promotion safety checks: cooldown, confidence,
// canary cap, safety violations, and idempotency. Forced retirement
// (safety incidents, low confidence while active) bypasses the gate
// order since it is a demotion, not a promotion.
func (c *Controller) evaluatePromotion(ctx context.Context, ab *Antibody, fit fitness.FitnessSummary) error {
	phase := ab.Status.Deployment.Phase
	if phase == "" {
		phase = "pending"
	}
	now := time.Now()
	newPhase := phase

	fpIncidents := len(ab.Status.Evidence.FalsePositives)
	if (fit.SafetyViolations > c.SafetyViolationLimit || fpIncidents > c.SafetyViolationLimit) && phase != "retired" && phase != "pending" {
		c.Log.Warn().Str("antibody", ab.Name).Int("safety_violations", fit.SafetyViolations).Int("fp_incidents", fpIncidents).Msg("safety violation limit exceeded, forcing retirement")
		newPhase = "retired"
	} else if phase == "active" && fit.ConfidenceLower < 0.7 {
		newPhase = "retired"
	} else if reason, blocked := c.firstFailingGate(ctx, ab, fit, now, phase); blocked {
		promotionAbortsTotal.WithLabelValues(reason).Inc()
		c.Log.Debug().Str("antibody", ab.Name).Str("phase", phase).Str("reason", reason).Msg("promotion blocked by safety gate")
		return nil
	} else {
		switch phase {
		case "pending":
			newPhase = "shadow"
			ab.Status.Deployment.ShadowStart = now
			ab.Status.Deployment.PromotionEligible = now.Add(time.Duration(c.MinShadowHours) * time.Hour)

		case "shadow":
			if now.After(ab.Status.Deployment.PromotionEligible) &&
				fit.MeetsPromotionSLO(c.MinTPRLowerBound, c.MaxFPRUpperBound) {
				newPhase = "staged"
			}

		case "staged":
			if ab.Spec.Controls.AutoPromote && fit.StabilityScore >= 0.8 {
				newPhase = "canary"
				ab.Status.Deployment.CanaryPercent = minInt(5, c.MaxCanaryPercent)
			}

		case "canary":
			if fit.MeetsPromotionSLO(c.MinTPRLowerBound, c.MaxFPRUpperBound) {
				ab.Status.Deployment.CanaryPercent = minInt(ab.Status.Deployment.CanaryPercent*2, c.MaxCanaryPercent)
				// Advancing from a fully-ramped canary to active remains a
				// manual operator action (out of scope per the state table).
			}

		case "active":
			// retirement handled above; otherwise active is a steady state
		}
	}

	if newPhase != phase {
		ab.Status.Deployment.Phase = newPhase
		ab.Status.Deployment.LastUpdate = now
		ab.Status.Deployment.LastPromotionAt = now
		if ab.Annotations == nil {
			ab.Annotations = map[string]string{}
		}
		ab.Annotations[idempotencyAnnotation] = now.Format(time.RFC3339Nano)
		if err := c.Client.Status().Update(ctx, ab); err != nil {
			return fmt.Errorf("k8s status update (phase): %w", err)
		}
		phaseTransitionsTotal.WithLabelValues(newPhase).Inc()
		c.Log.Info().Str("antibody", ab.Name).Str("from", phase).Str("to", newPhase).Msg("promotion phase transition")
	}

	return nil
}

// firstFailingGate evaluates the autonomous-promotion safety gates in
// spec order and returns the reason label of the first one that fails.
// The pending->shadow transition is exempt: it is unconditional on
// first reconcile, not a gated autonomous promotion.
func (c *Controller) firstFailingGate(ctx context.Context, ab *Antibody, fit fitness.FitnessSummary, now time.Time, phase string) (string, bool) {
	if phase == "pending" {
		return "", false
	}
	if c.inCooldown(ab, now) {
		return "cooldown", true
	}
	if fit.ConfidenceLower < c.MinWilsonBound {
		return "confidence", true
	}
	if c.MaxCanaryPercent > 0 {
		exceeded, err := c.canaryFractionExceeded(ctx, ab)
		if err != nil {
			c.Log.Warn().Err(err).Str("antibody", ab.Name).Msg("failed to list population for canary cap gate")
		} else if exceeded {
			return "canary_cap", true
		}
	}
	if fit.SafetyViolations > c.SafetyViolationLimit {
		return "safety_violations", true
	}
	// Idempotency (gate 5: skip if this reconcile pass already processed
	// this phase) falls out of the newPhase != phase check the caller
	// makes before writing status — no separate gate needed here.
	return "", false
}

// canaryFractionExceeded reports whether the fraction of the population
// in the canary phase exceeds MaxCanaryPercent. A staged ab is counted
// as a canary, since its next advance is into canary.
func (c *Controller) canaryFractionExceeded(ctx context.Context, ab *Antibody) (bool, error) {
	var list AntibodyList
	if err := c.Client.List(ctx, &list, client.InNamespace(ab.Namespace)); err != nil {
		return false, fmt.Errorf("list antibodies: %w", err)
	}
	if len(list.Items) == 0 {
		return false, nil
	}

	canaryCount := 0
	for _, item := range list.Items {
		phase := item.Status.Deployment.Phase
		if item.Name == ab.Name {
			phase = ab.Status.Deployment.Phase
		}
		if phase == "canary" {
			canaryCount++
		}
	}
	if ab.Status.Deployment.Phase == "staged" {
		canaryCount++
	}

	fraction := float64(canaryCount) / float64(len(list.Items))
	return fraction > float64(c.MaxCanaryPercent)/100.0, nil
}

func (c *Controller) inCooldown(ab *Antibody, now time.Time) bool {
	if c.PromotionCooldown <= 0 || ab.Status.Deployment.LastPromotionAt.IsZero() {
		return false
	}
	return now.Sub(ab.Status.Deployment.LastPromotionAt) < c.PromotionCooldown
}

// mapBlastRadiusToRing converts numeric scope to the ring enum expected
// by the CRD, mirroring fitness.calculateP95's sibling ring classifier.
func mapBlastRadiusToRing(avgBlastRadius float64) string {
	switch {
	case avgBlastRadius <= 1:
		return "ring-1"
	case avgBlastRadius <= 5:
		return "ring-2"
	case avgBlastRadius <= 15:
		return "ring-3"
	case avgBlastRadius <= 50:
		return "ring-4"
	default:
		return "ring-5"
	}
}

func (c *Controller) SetPromotionThresholds(minTPR, maxFPR float64, shadowHours int) {
	c.MinTPRLowerBound = minTPR
	c.MaxFPRUpperBound = maxFPR
	c.MinShadowHours = shadowHours
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
