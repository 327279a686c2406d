package evo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"athanor/internal/assembly"
	"athanor/internal/model"
	"athanor/internal/storage"
)

// Phase is the controller's observable position in the generational loop.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseEvaluating   Phase = "evaluating"
	PhaseSelecting    Phase = "selecting"
	PhaseVarying      Phase = "varying"
	PhaseReplacing    Phase = "replacing"
	PhaseTerminated   Phase = "terminated"
)

// MonitorCommand steers a running controller through its control channel.
// Commands are acted on between generations.
type MonitorCommand string

const (
	CommandPause    MonitorCommand = "pause"
	CommandContinue MonitorCommand = "continue"
	CommandStop     MonitorCommand = "stop"
)

// RunStatus is the terminal state of a run. Completed means a termination
// predicate held; the other values record why a run ended early.
type RunStatus string

const (
	StatusCompleted         RunStatus = "completed"
	StatusStarved           RunStatus = "starved"
	StatusEvaluationAborted RunStatus = "evaluation-aborted"
	StatusCancelled         RunStatus = "cancelled"
	StatusFailed            RunStatus = "failed"
)

// FailurePolicy decides what an individual's evaluation failure does to the
// run.
type FailurePolicy string

const (
	// FailureExclude assigns the individual minimal fitness and keeps it
	// out of parent selection. The run continues.
	FailureExclude FailurePolicy = "exclude"
	// FailureAbort ends the run with the evaluation error.
	FailureAbort FailurePolicy = "abort"
)

// Evaluation is one individual's evaluation outcome, with provenance.
type Evaluation struct {
	Artifact  model.Artifact
	FromCache bool
}

// Objective produces an individual's fitness artifact, typically by routing
// through the content-addressed cache.
type Objective interface {
	Name() string
	Evaluate(ctx context.Context, individual model.Individual) (Evaluation, error)
}

// ScoredIndividual carries an individual through normalization and selection.
// Fitness here is the selection-facing value and may be rescaled by
// normalizers; Individual.Fitness always keeps the raw evaluator output.
type ScoredIndividual struct {
	Individual model.Individual
	Fitness    float64
	Objectives map[string]float64
	FromCache  bool
	Excluded   bool
}

// GenerationDiagnostics summarizes one evaluated generation. Fitness figures
// are raw evaluator values over non-excluded individuals.
type GenerationDiagnostics struct {
	Generation         int     `json:"generation"`
	BestFitness        float64 `json:"best_fitness"`
	MeanFitness        float64 `json:"mean_fitness"`
	WorstFitness       float64 `json:"worst_fitness"`
	UniqueFingerprints int     `json:"unique_fingerprints"`
	UniqueTopologies   int     `json:"unique_topologies"`
	CacheHits          int     `json:"cache_hits"`
	CacheMisses        int     `json:"cache_misses"`
	EvaluationFailures int     `json:"evaluation_failures"`
	VariationAttempts  int     `json:"variation_attempts"`
	OperatorFailures   int     `json:"operator_failures"`
	EvaluateMillis     int64   `json:"evaluate_millis"`
	VaryMillis         int64   `json:"vary_millis"`
	DurationMillis     int64   `json:"duration_millis"`
}

// LineageRecord is one construction edge emitted by the loop.
type LineageRecord struct {
	IndividualID       string   `json:"individual_id"`
	Fingerprint        string   `json:"fingerprint"`
	Generation         int      `json:"generation"`
	Kind               string   `json:"kind"`
	Operator           string   `json:"operator,omitempty"`
	ParentFingerprints []string `json:"parent_fingerprints,omitempty"`
	Topology           string   `json:"topology,omitempty"`
}

// RunResult is everything a finished (or interrupted) run produced.
// FinalPopulation is the last evaluated generation; Population is the last
// committed one, which on normal termination is its unevaluated successor.
type RunResult struct {
	Status                RunStatus
	StopReason            string
	BestByGeneration      []float64
	GenerationDiagnostics []GenerationDiagnostics
	FinalPopulation       []ScoredIndividual
	Population            model.Population
	Lineage               []LineageRecord
	Evaluations           int
}

type ControllerConfig struct {
	RunID             string
	Objective         Objective
	Library           *assembly.Library
	Mutators          []WeightedMutator
	Crossers          []WeightedCrosser
	CrossoverRate     float64
	Selector          Selector
	Normalizer        Normalizer
	Terminators       []Terminator
	PopulationSize    int
	EliteCount        int
	Generations       int
	Workers           int
	Seed              int64
	AttemptMultiplier int
	FailurePolicy     FailurePolicy
	Control           <-chan MonitorCommand
	// Progress, when set, receives each evaluated generation's diagnostics.
	// Called from the run goroutine.
	Progress func(GenerationDiagnostics)
	Logger   *zap.Logger
}

// Controller runs the generational loop: evaluate, select, vary, replace,
// until a termination predicate holds.
type Controller struct {
	cfg    ControllerConfig
	rng    *rand.Rand
	logger *zap.Logger

	phaseMu sync.RWMutex
	phase   Phase
}

func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Objective == nil {
		return nil, fmt.Errorf("objective is required")
	}
	if cfg.Library == nil {
		return nil, fmt.Errorf("block library is required")
	}
	if len(cfg.Mutators) == 0 {
		return nil, fmt.Errorf("at least one mutator is required")
	}
	positiveWeight := false
	for i, item := range cfg.Mutators {
		if item.Mutator == nil {
			return nil, fmt.Errorf("mutator is required at index %d", i)
		}
		if item.Weight < 0 {
			return nil, fmt.Errorf("mutator weight must be >= 0 at index %d", i)
		}
		if item.Weight > 0 {
			positiveWeight = true
		}
	}
	if !positiveWeight {
		return nil, fmt.Errorf("mutators require at least one positive weight")
	}
	for i, item := range cfg.Crossers {
		if item.Crosser == nil {
			return nil, fmt.Errorf("crosser is required at index %d", i)
		}
		if item.Weight < 0 {
			return nil, fmt.Errorf("crosser weight must be >= 0 at index %d", i)
		}
	}
	if cfg.CrossoverRate < 0 || cfg.CrossoverRate > 1 {
		return nil, fmt.Errorf("crossover rate must be in [0, 1], got %g", cfg.CrossoverRate)
	}
	if cfg.CrossoverRate > 0 && len(cfg.Crossers) == 0 {
		return nil, fmt.Errorf("crossover rate %g needs at least one crosser", cfg.CrossoverRate)
	}
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	if cfg.Generations <= 0 {
		return nil, fmt.Errorf("generations must be > 0")
	}
	if cfg.EliteCount == 0 {
		cfg.EliteCount = cfg.PopulationSize / 5
		if cfg.EliteCount < 1 {
			cfg.EliteCount = 1
		}
	}
	if cfg.EliteCount < 0 || cfg.EliteCount > cfg.PopulationSize {
		return nil, fmt.Errorf("elite count must be in [1, population size]")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.AttemptMultiplier <= 0 {
		cfg.AttemptMultiplier = 10
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = FailureExclude
	}
	if cfg.FailurePolicy != FailureExclude && cfg.FailurePolicy != FailureAbort {
		return nil, fmt.Errorf("unsupported evaluation failure policy: %s", cfg.FailurePolicy)
	}
	if cfg.Selector == nil {
		cfg.Selector = TournamentSelector{}
	}
	if cfg.RunID == "" {
		cfg.RunID = "run"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Controller{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		logger: cfg.Logger,
		phase:  PhaseInitializing,
	}, nil
}

// Phase reports where the loop currently is.
func (c *Controller) Phase() Phase {
	c.phaseMu.RLock()
	defer c.phaseMu.RUnlock()
	return c.phase
}

func (c *Controller) setPhase(p Phase) {
	c.phaseMu.Lock()
	c.phase = p
	c.phaseMu.Unlock()
}

func (c *Controller) reportProgress(diagnostics []GenerationDiagnostics) {
	if c.cfg.Progress == nil || len(diagnostics) == 0 {
		return
	}
	c.cfg.Progress(diagnostics[len(diagnostics)-1])
}

// Run executes the loop over the given seed population. The returned result
// is populated with everything produced so far even when err is non-nil, so
// callers can persist partial runs.
func (c *Controller) Run(ctx context.Context, initial []model.Individual) (result RunResult, err error) {
	result.Status = StatusFailed
	if len(initial) != c.cfg.PopulationSize {
		return result, fmt.Errorf("initial population mismatch: got=%d want=%d", len(initial), c.cfg.PopulationSize)
	}

	c.setPhase(PhaseInitializing)
	population, err := model.NewPopulation(c.cfg.RunID, initial)
	if err != nil {
		return result, err
	}
	population.VersionedRecord = model.VersionedRecord{
		SchemaVersion: storage.CurrentSchemaVersion,
		CodecVersion:  storage.CurrentCodecVersion,
	}

	startedAt := time.Now()
	evaluations := 0
	bestHistory := make([]float64, 0, c.cfg.Generations)
	diagnostics := make([]GenerationDiagnostics, 0, c.cfg.Generations)
	lineage := make([]LineageRecord, 0, len(initial)*2)
	var lastRanked []ScoredIndividual

	defer func() {
		c.setPhase(PhaseTerminated)
		result.BestByGeneration = bestHistory
		result.GenerationDiagnostics = diagnostics
		result.FinalPopulation = lastRanked
		result.Population = population
		result.Lineage = lineage
		result.Evaluations = evaluations
	}()

	for _, individual := range initial {
		lineage = append(lineage, LineageRecord{
			IndividualID: individual.ID,
			Fingerprint:  individual.Fingerprint,
			Generation:   0,
			Kind:         string(model.ConstructionSeed),
			Topology:     individual.Recipe.Topology,
		})
	}

	for {
		if ctlErr := c.handleControl(ctx); ctlErr != nil {
			result.Status = StatusCancelled
			result.StopReason = stopReasonFor(ctlErr)
			return result, ctlErr
		}

		generation := population.Generation
		genStart := time.Now()

		c.setPhase(PhaseEvaluating)
		scored, eStats, evalErr := c.evaluatePopulation(ctx, population.Individuals)
		evaluations += len(population.Individuals)
		evalMillis := time.Since(genStart).Milliseconds()
		if evalErr != nil {
			if isCancellation(evalErr) {
				result.Status = StatusCancelled
			} else {
				result.Status = StatusEvaluationAborted
			}
			result.StopReason = stopReasonFor(evalErr)
			return result, evalErr
		}

		// Cancellation barrier between Evaluating and Selecting. Results
		// computed so far are already in the cache.
		if ctxErr := ctx.Err(); ctxErr != nil {
			result.Status = StatusCancelled
			result.StopReason = stopReasonFor(ctxErr)
			return result, ctxErr
		}

		c.setPhase(PhaseSelecting)
		if c.cfg.Normalizer != nil {
			scored = c.cfg.Normalizer.Process(scored)
		}
		ranked := rankScored(scored)
		lastRanked = ranked
		eligible := eligibleOf(ranked)
		if len(eligible) == 0 {
			result.Status = StatusEvaluationAborted
			result.StopReason = "all_evaluations_failed"
			diagnostics = append(diagnostics, summarizeGeneration(generation, ranked, eStats, varyStats{}, evalMillis, 0, time.Since(genStart).Milliseconds()))
			c.reportProgress(diagnostics)
			return result, fmt.Errorf("generation %d: all %d individuals failed evaluation", generation, len(ranked))
		}
		bestHistory = append(bestHistory, rawBestFitness(eligible))

		eliteCount := c.cfg.EliteCount
		if eliteCount > len(eligible) {
			eliteCount = len(eligible)
		}
		elites := make([]model.Individual, 0, eliteCount)
		for _, item := range eligible[:eliteCount] {
			elites = append(elites, item.Individual)
		}

		c.setPhase(PhaseVarying)
		varyStart := time.Now()
		offspring, offspringLineage, vStats, varyErr := c.varyPopulation(ctx, eligible, population, len(elites))
		varyMillis := time.Since(varyStart).Milliseconds()
		diagnostics = append(diagnostics, summarizeGeneration(generation, ranked, eStats, vStats, evalMillis, varyMillis, time.Since(genStart).Milliseconds()))
		c.reportProgress(diagnostics)
		if varyErr != nil {
			var starvation *GenerationStarvationError
			switch {
			case errors.As(varyErr, &starvation):
				result.Status = StatusStarved
			case isCancellation(varyErr):
				result.Status = StatusCancelled
			default:
				result.Status = StatusFailed
			}
			result.StopReason = stopReasonFor(varyErr)
			return result, varyErr
		}

		c.setPhase(PhaseReplacing)
		next := make([]model.Individual, 0, c.cfg.PopulationSize)
		next = append(next, elites...)
		next = append(next, offspring...)
		population, err = population.Advance(next)
		if err != nil {
			result.Status = StatusFailed
			result.StopReason = "population_size_violation"
			return result, err
		}
		lineage = append(lineage, offspringLineage...)

		c.logger.Info("generation complete",
			zap.String("run", c.cfg.RunID),
			zap.Int("generation", generation),
			zap.Float64("best_fitness", bestHistory[len(bestHistory)-1]),
			zap.Int("cache_hits", eStats.hits),
			zap.Int("cache_misses", eStats.misses),
			zap.Int("variation_attempts", vStats.attempts),
		)

		state := RunState{
			Generation:  population.Generation,
			BestFitness: bestHistory[len(bestHistory)-1],
			BestHistory: bestHistory,
			Evaluations: evaluations,
			StartedAt:   startedAt,
		}
		if population.Generation >= c.cfg.Generations {
			result.Status = StatusCompleted
			result.StopReason = "generation_limit"
			break
		}
		stopped := false
		for _, t := range c.cfg.Terminators {
			if t.ShouldStop(state) {
				result.Status = StatusCompleted
				result.StopReason = t.Name()
				stopped = true
				break
			}
		}
		if stopped {
			break
		}
	}

	return result, nil
}

type evalStats struct {
	hits     int
	misses   int
	failures int
}

func (c *Controller) evaluatePopulation(ctx context.Context, individuals []model.Individual) ([]ScoredIndividual, evalStats, error) {
	type job struct {
		idx        int
		individual model.Individual
	}
	type outcome struct {
		idx        int
		evaluation Evaluation
		err        error
	}

	jobs := make(chan job)
	outcomes := make(chan outcome, len(individuals))

	workerCount := c.cfg.Workers
	if workerCount > len(individuals) {
		workerCount = len(individuals)
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					outcomes <- outcome{idx: j.idx, err: err}
					continue
				}
				evaluation, err := c.cfg.Objective.Evaluate(ctx, j.individual)
				outcomes <- outcome{idx: j.idx, evaluation: evaluation, err: err}
			}
		}()
	}

	for i := range individuals {
		jobs <- job{idx: i, individual: individuals[i]}
	}
	close(jobs)

	wg.Wait()
	close(outcomes)

	evaluationsByIdx := make([]Evaluation, len(individuals))
	errsByIdx := make([]error, len(individuals))
	for out := range outcomes {
		evaluationsByIdx[out.idx] = out.evaluation
		errsByIdx[out.idx] = out.err
	}

	var stats evalStats
	scored := make([]ScoredIndividual, 0, len(individuals))
	for i, individual := range individuals {
		if evalErr := errsByIdx[i]; evalErr != nil {
			if isCancellation(evalErr) {
				return nil, stats, evalErr
			}
			if c.cfg.FailurePolicy == FailureAbort {
				return nil, stats, fmt.Errorf("evaluate %s: %w", individual.ID, evalErr)
			}
			stats.failures++
			c.logger.Warn("evaluation failed, excluding individual from selection",
				zap.String("individual", individual.ID),
				zap.String("fingerprint", individual.Fingerprint),
				zap.Error(evalErr),
			)
			scored = append(scored, ScoredIndividual{
				Individual: individual,
				Fitness:    math.Inf(-1),
				Excluded:   true,
			})
			continue
		}

		evaluation := evaluationsByIdx[i]
		if evaluation.FromCache {
			stats.hits++
		} else {
			stats.misses++
		}
		fitness := evaluation.Artifact.Fitness
		individual.Fitness = &fitness
		if len(evaluation.Artifact.Objectives) > 0 {
			individual.Objectives = evaluation.Artifact.Objectives
		}
		scored = append(scored, ScoredIndividual{
			Individual: individual,
			Fitness:    evaluation.Artifact.Fitness,
			Objectives: evaluation.Artifact.Objectives,
			FromCache:  evaluation.FromCache,
		})
	}
	return scored, stats, nil
}

type varyStats struct {
	attempts         int
	operatorFailures int
	duplicates       int
	malformed        int
}

type offspringCandidate struct {
	recipe       model.Recipe
	construction model.ConstructionRecord
}

// varyPopulation produces the non-elite remainder of the next generation.
// Every considered candidate consumes one attempt from the budget, as does
// every operator failure; running out of budget starves the generation.
func (c *Controller) varyPopulation(ctx context.Context, eligible []ScoredIndividual, population model.Population, eliteCount int) ([]model.Individual, []LineageRecord, varyStats, error) {
	var stats varyStats
	needed := c.cfg.PopulationSize - eliteCount
	if needed <= 0 {
		return nil, nil, stats, nil
	}
	budget := c.cfg.AttemptMultiplier * c.cfg.PopulationSize
	nextGen := population.Generation + 1

	seen := make(map[string]struct{}, c.cfg.PopulationSize*2)
	for _, individual := range population.Individuals {
		seen[individual.Fingerprint] = struct{}{}
	}

	offspring := make([]model.Individual, 0, needed)
	records := make([]LineageRecord, 0, needed)

	for len(offspring) < needed {
		if err := ctx.Err(); err != nil {
			return nil, nil, stats, err
		}
		if stats.attempts >= budget {
			return nil, nil, stats, &GenerationStarvationError{
				Generation:       nextGen,
				Produced:         len(offspring),
				Required:         needed,
				Attempts:         stats.attempts,
				OperatorFailures: stats.operatorFailures,
				Duplicates:       stats.duplicates,
				Malformed:        stats.malformed,
			}
		}

		candidates, err := c.produceCandidates(ctx, eligible)
		if err != nil {
			var opFail *OperatorFailure
			if errors.As(err, &opFail) {
				stats.attempts++
				stats.operatorFailures++
				c.logger.Debug("operator failed, retrying",
					zap.String("operator", opFail.Op),
					zap.String("reason", opFail.Reason),
				)
				continue
			}
			return nil, nil, stats, err
		}

		for _, candidate := range candidates {
			if len(offspring) >= needed || stats.attempts >= budget {
				break
			}
			stats.attempts++

			fingerprint, fpErr := assembly.FingerprintRecipe(c.cfg.Library, candidate.recipe)
			if fpErr != nil {
				stats.malformed++
				c.logger.Debug("offspring rejected as malformed",
					zap.String("operator", candidate.construction.Operator),
					zap.Error(fpErr),
				)
				continue
			}
			if _, dup := seen[fingerprint]; dup {
				stats.duplicates++
				continue
			}
			seen[fingerprint] = struct{}{}

			individual := model.Individual{
				VersionedRecord: model.VersionedRecord{
					SchemaVersion: storage.CurrentSchemaVersion,
					CodecVersion:  storage.CurrentCodecVersion,
				},
				ID:           fmt.Sprintf("%s-g%d-i%d", c.cfg.RunID, nextGen, len(offspring)),
				Fingerprint:  fingerprint,
				Recipe:       candidate.recipe,
				Construction: candidate.construction,
				Generation:   nextGen,
			}
			offspring = append(offspring, individual)
			records = append(records, LineageRecord{
				IndividualID:       individual.ID,
				Fingerprint:        fingerprint,
				Generation:         nextGen,
				Kind:               string(candidate.construction.Kind),
				Operator:           candidate.construction.Operator,
				ParentFingerprints: candidate.construction.ParentFingerprints,
				Topology:           candidate.recipe.Topology,
			})
		}
	}
	return offspring, records, stats, nil
}

func (c *Controller) produceCandidates(ctx context.Context, eligible []ScoredIndividual) ([]offspringCandidate, error) {
	// Crossover needs two eligible parents; below that, fall through to
	// mutation.
	if len(c.cfg.Crossers) > 0 && c.cfg.CrossoverRate > 0 && len(eligible) >= 2 && c.rng.Float64() < c.cfg.CrossoverRate {
		parents, err := c.cfg.Selector.Select(c.rng, eligible, 2)
		if err != nil {
			return nil, err
		}
		crosser := c.chooseCrosser()
		recipes, err := crosser.Cross(ctx, c.rng, c.cfg.Library, parents[0], parents[1])
		if err != nil {
			return nil, err
		}
		construction := model.ConstructionRecord{
			Kind:               model.ConstructionCrossed,
			ParentFingerprints: []string{parents[0].Fingerprint, parents[1].Fingerprint},
			Operator:           crosser.Name(),
		}
		candidates := make([]offspringCandidate, 0, len(recipes))
		for _, recipe := range recipes {
			candidates = append(candidates, offspringCandidate{recipe: recipe, construction: construction})
		}
		return candidates, nil
	}

	parents, err := c.cfg.Selector.Select(c.rng, eligible, 1)
	if err != nil {
		return nil, err
	}
	mutator := c.chooseMutator()
	recipe, err := mutator.Mutate(ctx, c.rng, c.cfg.Library, parents[0])
	if err != nil {
		return nil, err
	}
	return []offspringCandidate{{
		recipe: recipe,
		construction: model.ConstructionRecord{
			Kind:               model.ConstructionMutated,
			ParentFingerprints: []string{parents[0].Fingerprint},
			Operator:           mutator.Name(),
		},
	}}, nil
}

func (c *Controller) chooseMutator() Mutator {
	total := 0.0
	for _, item := range c.cfg.Mutators {
		total += item.Weight
	}
	if total <= 0 {
		return c.cfg.Mutators[0].Mutator
	}
	pick := c.rng.Float64() * total
	acc := 0.0
	for _, item := range c.cfg.Mutators {
		acc += item.Weight
		if pick <= acc {
			return item.Mutator
		}
	}
	return c.cfg.Mutators[len(c.cfg.Mutators)-1].Mutator
}

func (c *Controller) chooseCrosser() Crosser {
	total := 0.0
	for _, item := range c.cfg.Crossers {
		total += item.Weight
	}
	if total <= 0 {
		return c.cfg.Crossers[0].Crosser
	}
	pick := c.rng.Float64() * total
	acc := 0.0
	for _, item := range c.cfg.Crossers {
		acc += item.Weight
		if pick <= acc {
			return item.Crosser
		}
	}
	return c.cfg.Crossers[len(c.cfg.Crossers)-1].Crosser
}

func (c *Controller) handleControl(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.cfg.Control == nil {
		return nil
	}
	for {
		select {
		case cmd := <-c.cfg.Control:
			switch cmd {
			case CommandStop:
				c.logger.Info("run stopped by command", zap.String("run", c.cfg.RunID))
				return ErrRunStopped
			case CommandPause:
				c.logger.Info("run paused", zap.String("run", c.cfg.RunID))
				if err := c.waitResume(ctx); err != nil {
					return err
				}
				c.logger.Info("run resumed", zap.String("run", c.cfg.RunID))
			case CommandContinue:
			default:
				c.logger.Warn("unknown control command", zap.String("command", string(cmd)))
			}
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
}

func (c *Controller) waitResume(ctx context.Context) error {
	for {
		select {
		case cmd := <-c.cfg.Control:
			switch cmd {
			case CommandContinue:
				return nil
			case CommandStop:
				return ErrRunStopped
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func summarizeGeneration(generation int, ranked []ScoredIndividual, eStats evalStats, vStats varyStats, evalMillis, varyMillis, totalMillis int64) GenerationDiagnostics {
	diag := GenerationDiagnostics{
		Generation:         generation,
		CacheHits:          eStats.hits,
		CacheMisses:        eStats.misses,
		EvaluationFailures: eStats.failures,
		VariationAttempts:  vStats.attempts,
		OperatorFailures:   vStats.operatorFailures,
		EvaluateMillis:     evalMillis,
		VaryMillis:         varyMillis,
		DurationMillis:     totalMillis,
	}

	fingerprints := make(map[string]struct{}, len(ranked))
	topologies := make(map[string]struct{}, 4)
	for _, item := range ranked {
		fingerprints[item.Individual.Fingerprint] = struct{}{}
		topologies[item.Individual.Recipe.Topology] = struct{}{}
	}
	diag.UniqueFingerprints = len(fingerprints)
	diag.UniqueTopologies = len(topologies)

	eligible := eligibleOf(ranked)
	if len(eligible) == 0 {
		return diag
	}
	best := math.Inf(-1)
	worst := math.Inf(1)
	total := 0.0
	for _, item := range eligible {
		raw := rawFitness(item)
		if raw > best {
			best = raw
		}
		if raw < worst {
			worst = raw
		}
		total += raw
	}
	diag.BestFitness = best
	diag.WorstFitness = worst
	diag.MeanFitness = total / float64(len(eligible))
	return diag
}

// rawFitness is the evaluator-reported fitness, untouched by normalizers.
func rawFitness(item ScoredIndividual) float64 {
	if item.Individual.Fitness != nil {
		return *item.Individual.Fitness
	}
	return item.Fitness
}

func rawBestFitness(eligible []ScoredIndividual) float64 {
	best := math.Inf(-1)
	for _, item := range eligible {
		if raw := rawFitness(item); raw > best {
			best = raw
		}
	}
	return best
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func stopReasonFor(err error) string {
	switch {
	case errors.Is(err, ErrRunStopped):
		return "stop_command"
	case errors.Is(err, context.Canceled):
		return "context_cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	default:
		var starvation *GenerationStarvationError
		if errors.As(err, &starvation) {
			return "starvation"
		}
		return "error"
	}
}
