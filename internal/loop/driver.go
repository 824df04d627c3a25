// Package loop implements the autonomous evolution loop driver: a
// ticker-driven cycle that pulls learning events, runs fitness
// evaluation and promotion on active antibodies, and proposes the next
// population cohort, all cancellable at every step boundary.
package loop

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/a-swarm/evolution-core/internal/eventbus"
	"github.com/a-swarm/evolution-core/internal/fitness"
	"github.com/a-swarm/evolution-core/internal/population"
)

const (
	envCircuitBreaker = "EVOLUTION_CIRCUIT_BREAKER"
	envMinEvents      = "EVOLVE_MIN_EVENTS"
	envLowConfidence  = "LEARN_LOW_CONF"
)

// CycleResult labels the outcome of one tick for metrics and tests.
type CycleResult string

const (
	ResultSuccess        CycleResult = "success"
	ResultError          CycleResult = "error"
	ResultCircuitBreaker CycleResult = "circuit_breaker"
	ResultBudgetLimit    CycleResult = "budget_limit"
)

var (
	cyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evolution_cycles_total",
		Help: "Count of autonomous loop ticks by outcome.",
	}, []string{"result"})

	cycleSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "evolution_cycle_seconds",
		Help:    "Wall-clock duration of one autonomous loop tick.",
		Buckets: prometheus.DefBuckets,
	})

	skippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evolution_skipped_total",
		Help: "Count of cycles skipped before doing any evolution work, by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(cyclesTotal, cycleSeconds, skippedTotal)
}

// PromotionController is the subset of promotion.Controller the loop
// depends on.
type PromotionController interface {
	EvaluateAndUpdate(ctx context.Context, antibodyName, namespace string, attackSamples, benignSamples int, environment string) error
}

// FitnessEvaluator is the subset of fitness.Evaluator the loop depends
// on when scoring newly-proposed cohort members directly (outside the
// CRD-backed promotion flow).
type FitnessEvaluator interface {
	EvaluateFitness(ctx context.Context, variantID string, attackSamples, benignSamples int, environment string) (fitness.FitnessSummary, error)
}

// BudgetCheck reports whether the current cycle has enough resource
// budget (CPU/memory hints) to proceed. No resource-monitoring
// integration exists anywhere in the corpus to ground a real
// implementation against, so the default always allows the cycle;
// callers running under real constraints supply their own.
type BudgetCheck func() (ok bool, reason string)

func alwaysWithinBudget() (bool, string) { return true, "" }

// Config tunes the loop's cadence and per-tick cohort-proposal
// parameters (distinct from population.Config, which tunes the
// manager's own pool sizing).
type Config struct {
	Namespace       string
	Environment     string
	TickInterval    time.Duration
	MinTickInterval time.Duration
	MaxTickInterval time.Duration
	PopulationSize  int
	EliteK          int
	BatchSize       int
	ConsumeTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Namespace:       "default",
		Environment:     "shadow",
		TickInterval:    1 * time.Minute,
		MinTickInterval: 1 * time.Minute,
		MaxTickInterval: 16 * time.Minute,
		PopulationSize:  50,
		EliteK:          10,
		BatchSize:       100,
		ConsumeTimeout:  60 * time.Second,
	}
}

// Driver wires the population manager, fitness evaluator, promotion
// controller, and event bus into the autonomous tick described in
// spec.md §4.6.
type Driver struct {
	Population population.Manager
	Evaluator  FitnessEvaluator
	Promotion  PromotionController
	Events     *eventbus.Bus
	Log        zerolog.Logger
	Budget     BudgetCheck

	cfg      Config
	interval time.Duration
}

func NewDriver(pm population.Manager, evaluator FitnessEvaluator, promotion PromotionController, events *eventbus.Bus, log zerolog.Logger, cfg Config) *Driver {
	return &Driver{
		Population: pm,
		Evaluator:  evaluator,
		Promotion:  promotion,
		Events:     events,
		Log:        log,
		Budget:     alwaysWithinBudget,
		cfg:        cfg,
		interval:   cfg.TickInterval,
	}
}

// Run blocks, executing one cycle per tick, until ctx is cancelled.
// The tick interval adapts to population diversity between cycles:
// low diversity backs off (doubling, capped), high diversity resets to
// the configured baseline.
func (d *Driver) Run(ctx context.Context) error {
	for {
		timer := time.NewTimer(d.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		result := d.RunCycle(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if result == ResultError {
			d.Log.Warn().Msg("autonomous loop cycle returned an error result")
		}

		d.adaptInterval(ctx)
	}
}

// RunCycle executes exactly one tick and returns its outcome. It is
// exported directly so tests and a manually-driven CLI can step the
// loop without waiting on a ticker.
func (d *Driver) RunCycle(ctx context.Context) CycleResult {
	start := time.Now()
	result := d.runCycleLocked(ctx)
	cycleSeconds.Observe(time.Since(start).Seconds())
	cyclesTotal.WithLabelValues(string(result)).Inc()
	return result
}

func (d *Driver) runCycleLocked(ctx context.Context) CycleResult {
	if circuitBreakerEnabled() {
		d.Log.Info().Msg("circuit breaker engaged, pausing new evolution cycles")
		select {
		case <-ctx.Done():
		case <-time.After(1 * time.Minute):
		}
		return ResultCircuitBreaker
	}

	if ok, reason := d.Budget(); !ok {
		skippedTotal.WithLabelValues(reason).Inc()
		d.Log.Warn().Str("reason", reason).Msg("skipping evolution cycle, over resource budget")
		return ResultBudgetLimit
	}

	batch, err := d.Events.Consume(ctx, d.cfg.BatchSize, d.cfg.ConsumeTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return ResultError
		}
		d.Log.Error().Err(err).Msg("event consume failed")
		return ResultError
	}

	if err := d.evaluateActiveAntibodies(ctx, batch); err != nil {
		d.Log.Error().Err(err).Msg("promotion evaluation pass failed")
		return ResultError
	}

	if batch.Len() >= minEvents() {
		if err := d.proposeNextCohort(ctx, batch); err != nil {
			d.Log.Error().Err(err).Msg("cohort proposal failed")
			return ResultError
		}
	}

	return ResultSuccess
}

// evaluateActiveAntibodies converts the pulled batch into a synthetic
// attack/benign sample split and runs fitness evaluation + promotion
// for every variant currently in the parent pool.
func (d *Driver) evaluateActiveAntibodies(ctx context.Context, batch eventbus.Batch) error {
	snap, err := d.Population.Snapshot(ctx)
	if err != nil {
		return err
	}

	attackSamples, benignSamples := sampleSplit(batch.Len())
	if attackSamples == 0 {
		return nil
	}

	for _, id := range snap.ParentPool {
		if err := ctxDone(ctx); err != nil {
			return err
		}
		if err := d.Promotion.EvaluateAndUpdate(ctx, id, d.cfg.Namespace, attackSamples, benignSamples, d.cfg.Environment); err != nil {
			d.Log.Warn().Err(err).Str("antibody", id).Msg("promotion evaluation failed for antibody")
		}
	}
	return nil
}

// proposeNextCohort pulls the current elite parents, asks the
// population manager for the next cohort, scores each new member, and
// feeds the scores back in so the next generation's parent pool
// reflects them.
func (d *Driver) proposeNextCohort(ctx context.Context, batch eventbus.Batch) error {
	parents, err := d.Population.SelectNextParents(ctx, d.cfg.EliteK)
	if err != nil {
		return err
	}
	if len(parents) == 0 {
		return nil
	}

	cohort, err := d.Population.ProposeCohort(ctx, parents, d.cfg.PopulationSize, d.cfg.Environment)
	if err != nil {
		return err
	}

	attackSamples, benignSamples := sampleSplit(batch.Len())
	if attackSamples == 0 {
		attackSamples, benignSamples = 30, 0
	}

	results := make(map[string]fitness.FitnessSummary, len(cohort))
	for _, v := range cohort {
		if err := ctxDone(ctx); err != nil {
			return err
		}
		summary, err := d.Evaluator.EvaluateFitness(ctx, v.ID, attackSamples, benignSamples, d.cfg.Environment)
		if err != nil {
			d.Log.Warn().Err(err).Str("variant", v.ID).Msg("cohort member evaluation failed, skipping")
			continue
		}
		results[v.ID] = summary
	}

	return d.Population.IngestResults(ctx, results)
}

// adaptInterval doubles the tick interval when diversity has collapsed
// and resets it to the baseline once diversity recovers, per spec.md
// §4.6's adaptive cadence rule.
func (d *Driver) adaptInterval(ctx context.Context) {
	diversity, err := d.Population.GetDiversityIndex(ctx)
	if err != nil {
		return
	}
	switch {
	case diversity < 0.2:
		next := d.interval * 2
		if next > d.cfg.MaxTickInterval {
			next = d.cfg.MaxTickInterval
		}
		if next != d.interval {
			d.Log.Info().Dur("interval", next).Float64("diversity", diversity).Msg("backing off tick interval, low diversity")
		}
		d.interval = next
	case diversity > 0.5:
		d.interval = d.cfg.MinTickInterval
	}
}

func sampleSplit(n int) (attack, benign int) {
	if n <= 0 {
		return 0, 0
	}
	attack = n
	benign = n / 2
	return attack, benign
}

func circuitBreakerEnabled() bool {
	v, _ := strconv.ParseBool(os.Getenv(envCircuitBreaker))
	return v
}

func minEvents() int {
	if s := os.Getenv(envMinEvents); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return 10
}

// lowConfidenceThreshold reads LEARN_LOW_CONF for documentation parity
// with the external sensor contract: the loop itself does not filter
// on it since event emission already happened upstream, but callers
// wiring the sensor-side emitter read this via the same env var.
func lowConfidenceThreshold() float64 {
	if s := os.Getenv(envLowConfidence); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return 0.5
}

func ctxDone(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
