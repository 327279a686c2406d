package evo

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"athanor/internal/assembly"
	"athanor/internal/chem"
	"athanor/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubObjective assembles the recipe and scores it by molecular weight. It
// reports FromCache on repeat evaluations of a fingerprint and can be told to
// fail specific fingerprints.
type stubObjective struct {
	lib  *assembly.Library
	fail map[string]bool

	mu    sync.Mutex
	calls map[string]int
}

func newStubObjective(lib *assembly.Library) *stubObjective {
	return &stubObjective{lib: lib, fail: map[string]bool{}, calls: map[string]int{}}
}

func (s *stubObjective) Name() string { return "molecular_weight" }

func (s *stubObjective) Evaluate(_ context.Context, individual model.Individual) (Evaluation, error) {
	s.mu.Lock()
	s.calls[individual.Fingerprint]++
	seen := s.calls[individual.Fingerprint]
	s.mu.Unlock()

	if s.fail[individual.Fingerprint] {
		return Evaluation{}, fmt.Errorf("simulated evaluator failure")
	}

	graph, err := assembly.Build(s.lib, individual.Recipe)
	if err != nil {
		return Evaluation{}, err
	}
	weight := chem.MolecularWeight(graph)
	return Evaluation{
		Artifact: model.Artifact{
			Fitness: weight,
			Objectives: map[string]float64{
				"molecular_weight": weight,
				"heavy_atoms":      float64(chem.HeavyAtomCount(graph)),
			},
		},
		FromCache: seen > 1,
	}, nil
}

func seedPopulation(t *testing.T, lib *assembly.Library, n int, seed int64) []model.Individual {
	t.Helper()
	individuals, err := Seeder{Library: lib}.Seed(rand.New(rand.NewSource(seed)), n)
	if err != nil {
		t.Fatalf("seed population: %v", err)
	}
	return individuals
}

func newTestControllerConfig(lib *assembly.Library, objective Objective) ControllerConfig {
	return ControllerConfig{
		RunID:     "test",
		Objective: objective,
		Library:   lib,
		Mutators: []WeightedMutator{
			{Mutator: SubstituteBlock{}, Weight: 3},
			{Mutator: SwapTopology{}, Weight: 1},
			{Mutator: ShuffleBlocks{}, Weight: 1},
			{Mutator: GrowChain{}, Weight: 1},
		},
		Crossers: []WeightedCrosser{
			{Crosser: RecombineBlocks{}, Weight: 1},
			{Crosser: ExchangeTopology{}, Weight: 1},
		},
		CrossoverRate:  0.3,
		PopulationSize: 4,
		EliteCount:     1,
		Generations:    3,
		Workers:        2,
		Seed:           11,
	}
}

func TestControllerRunsToGenerationLimit(t *testing.T) {
	lib := testLibrary(t)
	objective := newStubObjective(lib)
	cfg := newTestControllerConfig(lib, objective)
	var progressed []int
	cfg.Progress = func(diag GenerationDiagnostics) {
		progressed = append(progressed, diag.Generation)
	}
	controller, err := NewController(cfg)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	result, err := controller.Run(context.Background(), seedPopulation(t, lib, 4, 101))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(progressed) != 3 || progressed[0] != 0 || progressed[2] != 2 {
		t.Fatalf("expected progress for generations 0..2, got %v", progressed)
	}

	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if result.StopReason != "generation_limit" {
		t.Fatalf("unexpected stop reason %q", result.StopReason)
	}
	if controller.Phase() != PhaseTerminated {
		t.Fatalf("expected terminated phase, got %s", controller.Phase())
	}
	if result.Population.Generation != 3 {
		t.Fatalf("expected committed generation 3, got %d", result.Population.Generation)
	}
	if len(result.Population.Individuals) != 4 {
		t.Fatalf("population size drifted to %d", len(result.Population.Individuals))
	}
	if len(result.BestByGeneration) != 3 {
		t.Fatalf("expected 3 best-fitness entries, got %d", len(result.BestByGeneration))
	}
	if len(result.GenerationDiagnostics) != 3 {
		t.Fatalf("expected 3 diagnostics, got %d", len(result.GenerationDiagnostics))
	}
	if result.Evaluations != 12 {
		t.Fatalf("expected 12 evaluations, got %d", result.Evaluations)
	}

	// 4 seed records plus 3 offspring per generation for 3 generations.
	if len(result.Lineage) != 13 {
		t.Fatalf("expected 13 lineage records, got %d", len(result.Lineage))
	}
	for _, record := range result.Lineage {
		if record.Generation == 0 {
			if record.Kind != string(model.ConstructionSeed) {
				t.Fatalf("generation 0 record has kind %s", record.Kind)
			}
			continue
		}
		if record.Operator == "" {
			t.Fatalf("offspring record %s has no operator", record.IndividualID)
		}
		if len(record.ParentFingerprints) == 0 {
			t.Fatalf("offspring record %s has no parents", record.IndividualID)
		}
	}

	if len(result.FinalPopulation) != 4 {
		t.Fatalf("expected 4 evaluated individuals, got %d", len(result.FinalPopulation))
	}
	best := result.FinalPopulation[0]
	if best.Individual.Fitness == nil {
		t.Fatal("evaluated individual is missing raw fitness")
	}
	if *best.Individual.Fitness != best.Fitness {
		t.Fatalf("raw and selection fitness diverged without a normalizer: %v vs %v", *best.Individual.Fitness, best.Fitness)
	}

	// The elite survives each commit, so later generations see cache hits.
	hits := 0
	for _, diag := range result.GenerationDiagnostics[1:] {
		hits += diag.CacheHits
	}
	if hits == 0 {
		t.Fatal("expected cache hits from re-evaluated elites")
	}
}

func TestControllerKeepsEliteInNextGeneration(t *testing.T) {
	lib := testLibrary(t)
	cfg := newTestControllerConfig(lib, newStubObjective(lib))
	cfg.Generations = 1
	controller, err := NewController(cfg)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	result, err := controller.Run(context.Background(), seedPopulation(t, lib, 4, 101))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	bestFingerprint := result.FinalPopulation[0].Individual.Fingerprint
	for _, individual := range result.Population.Individuals {
		if individual.Fingerprint == bestFingerprint {
			return
		}
	}
	t.Fatalf("best individual %s was not carried into the next generation", bestFingerprint)
}

func TestControllerDeterministicAcrossRuns(t *testing.T) {
	lib := testLibrary(t)

	runOnce := func() RunResult {
		cfg := newTestControllerConfig(lib, newStubObjective(lib))
		cfg.Normalizer = NormalizerChain{
			MinMaxNormalizer{},
			WeightedSumNormalizer{Weights: map[string]float64{"molecular_weight": 0.8, "heavy_atoms": 0.2}},
		}
		controller, err := NewController(cfg)
		if err != nil {
			t.Fatalf("new controller: %v", err)
		}
		result, err := controller.Run(context.Background(), seedPopulation(t, lib, 4, 101))
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return result
	}

	first := runOnce()
	second := runOnce()

	if len(first.Lineage) != len(second.Lineage) {
		t.Fatalf("lineage lengths diverged: %d vs %d", len(first.Lineage), len(second.Lineage))
	}
	for i := range first.Lineage {
		a, b := first.Lineage[i], second.Lineage[i]
		if a.Fingerprint != b.Fingerprint || a.Operator != b.Operator || a.Generation != b.Generation {
			t.Fatalf("lineage record %d diverged: %+v vs %+v", i, a, b)
		}
	}
	for i := range first.BestByGeneration {
		if first.BestByGeneration[i] != second.BestByGeneration[i] {
			t.Fatalf("best fitness diverged at generation %d: %v vs %v", i, first.BestByGeneration[i], second.BestByGeneration[i])
		}
		// History keeps raw evaluator fitness even when a normalizer
		// rescales selection to [0, 1].
		if first.BestByGeneration[i] < 5 {
			t.Fatalf("best history looks normalized: %v", first.BestByGeneration[i])
		}
	}
	firstFinal := first.Population.Fingerprints()
	secondFinal := second.Population.Fingerprints()
	for i := range firstFinal {
		if firstFinal[i] != secondFinal[i] {
			t.Fatalf("final population diverged at %d: %s vs %s", i, firstFinal[i], secondFinal[i])
		}
	}
}

func TestControllerExcludesFailedEvaluations(t *testing.T) {
	lib := testLibrary(t)
	seeds := seedPopulation(t, lib, 4, 101)
	objective := newStubObjective(lib)
	objective.fail[seeds[0].Fingerprint] = true

	controller, err := NewController(newTestControllerConfig(lib, objective))
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	result, err := controller.Run(context.Background(), seeds)
	if err != nil {
		t.Fatalf("run should survive a single failing individual: %v", err)
	}

	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if result.GenerationDiagnostics[0].EvaluationFailures != 1 {
		t.Fatalf("expected 1 evaluation failure in generation 0, got %d", result.GenerationDiagnostics[0].EvaluationFailures)
	}
	for _, record := range result.Lineage {
		for _, parent := range record.ParentFingerprints {
			if parent == seeds[0].Fingerprint {
				t.Fatalf("excluded individual %s became a parent", parent)
			}
		}
	}
}

func TestControllerAbortPolicyStopsOnFailure(t *testing.T) {
	lib := testLibrary(t)
	seeds := seedPopulation(t, lib, 4, 101)
	objective := newStubObjective(lib)
	objective.fail[seeds[0].Fingerprint] = true

	cfg := newTestControllerConfig(lib, objective)
	cfg.FailurePolicy = FailureAbort
	cfg.Workers = 1
	controller, err := NewController(cfg)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	result, err := controller.Run(context.Background(), seeds)
	if err == nil {
		t.Fatal("expected the run to abort")
	}
	if result.Status != StatusEvaluationAborted {
		t.Fatalf("expected evaluation-aborted, got %s", result.Status)
	}
	if result.Evaluations != 4 {
		t.Fatalf("dispatched evaluations should still be counted, got %d", result.Evaluations)
	}
	// Seed lineage survives for partial persistence.
	if len(result.Lineage) != 4 {
		t.Fatalf("expected 4 seed lineage records, got %d", len(result.Lineage))
	}
}

func TestControllerAbortsWhenEveryEvaluationFails(t *testing.T) {
	lib := testLibrary(t)
	seeds := seedPopulation(t, lib, 4, 101)
	objective := newStubObjective(lib)
	for _, seed := range seeds {
		objective.fail[seed.Fingerprint] = true
	}

	controller, err := NewController(newTestControllerConfig(lib, objective))
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	result, err := controller.Run(context.Background(), seeds)
	if err == nil {
		t.Fatal("expected error when no individual survives evaluation")
	}

	if result.Status != StatusEvaluationAborted {
		t.Fatalf("expected evaluation-aborted, got %s", result.Status)
	}
	if result.StopReason != "all_evaluations_failed" {
		t.Fatalf("unexpected stop reason %q", result.StopReason)
	}
	if len(result.GenerationDiagnostics) != 1 {
		t.Fatalf("expected diagnostics for the failed generation, got %d", len(result.GenerationDiagnostics))
	}
	if result.GenerationDiagnostics[0].EvaluationFailures != 4 {
		t.Fatalf("expected 4 failures, got %d", result.GenerationDiagnostics[0].EvaluationFailures)
	}
	if len(result.FinalPopulation) != 4 {
		t.Fatalf("expected the excluded individuals in the final snapshot, got %d", len(result.FinalPopulation))
	}
	for _, item := range result.FinalPopulation {
		if !item.Excluded {
			t.Fatalf("individual %s should be excluded", item.Individual.ID)
		}
		if item.Individual.Fitness != nil {
			t.Fatal("excluded individuals must not carry a fitness value")
		}
	}
}

type failingMutator struct{}

func (failingMutator) Name() string { return "always_fail" }

func (failingMutator) Mutate(_ context.Context, _ *rand.Rand, _ *assembly.Library, _ model.Individual) (model.Recipe, error) {
	return model.Recipe{}, operatorFailuref("always_fail", "nothing to do")
}

type identityMutator struct{}

func (identityMutator) Name() string { return "identity" }

func (identityMutator) Mutate(_ context.Context, _ *rand.Rand, _ *assembly.Library, parent model.Individual) (model.Recipe, error) {
	return cloneRecipe(parent.Recipe), nil
}

func TestControllerStarvesWhenOperatorsAlwaysFail(t *testing.T) {
	lib := testLibrary(t)
	cfg := newTestControllerConfig(lib, newStubObjective(lib))
	cfg.Mutators = []WeightedMutator{{Mutator: failingMutator{}, Weight: 1}}
	cfg.Crossers = nil
	cfg.CrossoverRate = 0
	cfg.AttemptMultiplier = 2
	controller, err := NewController(cfg)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	result, err := controller.Run(context.Background(), seedPopulation(t, lib, 4, 101))

	var starved *GenerationStarvationError
	if !errors.As(err, &starved) {
		t.Fatalf("expected starvation, got %v", err)
	}
	if result.Status != StatusStarved {
		t.Fatalf("expected starved, got %s", result.Status)
	}
	if result.StopReason != "starvation" {
		t.Fatalf("unexpected stop reason %q", result.StopReason)
	}
	if starved.Generation != 1 || starved.Produced != 0 || starved.Required != 3 {
		t.Fatalf("unexpected starvation detail: %+v", starved)
	}
	if starved.Attempts != 2*4 {
		t.Fatalf("expected the full attempt budget, got %d", starved.Attempts)
	}
	if starved.OperatorFailures != starved.Attempts {
		t.Fatalf("every attempt should be an operator failure, got %d of %d", starved.OperatorFailures, starved.Attempts)
	}
	if len(result.GenerationDiagnostics) != 1 {
		t.Fatalf("starved generation should still report diagnostics, got %d", len(result.GenerationDiagnostics))
	}
	if result.GenerationDiagnostics[0].OperatorFailures != starved.OperatorFailures {
		t.Fatalf("diagnostics disagree on operator failures: %d vs %d", result.GenerationDiagnostics[0].OperatorFailures, starved.OperatorFailures)
	}
}

func TestControllerStarvesOnDuplicateOffspring(t *testing.T) {
	lib := testLibrary(t)
	cfg := newTestControllerConfig(lib, newStubObjective(lib))
	cfg.Mutators = []WeightedMutator{{Mutator: identityMutator{}, Weight: 1}}
	cfg.Crossers = nil
	cfg.CrossoverRate = 0
	cfg.AttemptMultiplier = 1
	controller, err := NewController(cfg)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	_, err = controller.Run(context.Background(), seedPopulation(t, lib, 4, 101))

	var starved *GenerationStarvationError
	if !errors.As(err, &starved) {
		t.Fatalf("expected starvation, got %v", err)
	}
	if starved.Duplicates != starved.Attempts {
		t.Fatalf("identity offspring should all be duplicates: %+v", starved)
	}
	if starved.Attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", starved.Attempts)
	}
}

func TestControllerStopCommand(t *testing.T) {
	lib := testLibrary(t)
	control := make(chan MonitorCommand, 1)
	control <- CommandStop

	cfg := newTestControllerConfig(lib, newStubObjective(lib))
	cfg.Control = control
	controller, err := NewController(cfg)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	result, err := controller.Run(context.Background(), seedPopulation(t, lib, 4, 101))
	if !errors.Is(err, ErrRunStopped) {
		t.Fatalf("expected ErrRunStopped, got %v", err)
	}
	if result.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", result.Status)
	}
	if result.StopReason != "stop_command" {
		t.Fatalf("unexpected stop reason %q", result.StopReason)
	}
	if result.Evaluations != 0 {
		t.Fatalf("stop before the first generation should skip evaluation, got %d", result.Evaluations)
	}
}

func TestControllerPauseThenContinue(t *testing.T) {
	lib := testLibrary(t)
	control := make(chan MonitorCommand, 2)
	control <- CommandPause
	control <- CommandContinue

	cfg := newTestControllerConfig(lib, newStubObjective(lib))
	cfg.Control = control
	controller, err := NewController(cfg)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	result, err := controller.Run(context.Background(), seedPopulation(t, lib, 4, 101))
	if err != nil {
		t.Fatalf("paused and resumed run should complete: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
}

func TestControllerPauseThenStop(t *testing.T) {
	lib := testLibrary(t)
	control := make(chan MonitorCommand, 2)
	control <- CommandPause
	control <- CommandStop

	cfg := newTestControllerConfig(lib, newStubObjective(lib))
	cfg.Control = control
	controller, err := NewController(cfg)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	result, err := controller.Run(context.Background(), seedPopulation(t, lib, 4, 101))
	if !errors.Is(err, ErrRunStopped) {
		t.Fatalf("expected ErrRunStopped, got %v", err)
	}
	if result.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", result.Status)
	}
}

func TestControllerContextCancelledBeforeStart(t *testing.T) {
	lib := testLibrary(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	controller, err := NewController(newTestControllerConfig(lib, newStubObjective(lib)))
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	result, err := controller.Run(ctx, seedPopulation(t, lib, 4, 101))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", result.Status)
	}
	if result.StopReason != "context_cancelled" {
		t.Fatalf("unexpected stop reason %q", result.StopReason)
	}
}

// cancellingObjective cancels the run context from inside the first
// evaluation, as an external deadline would mid-generation.
type cancellingObjective struct {
	inner  Objective
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancellingObjective) Name() string { return c.inner.Name() }

func (c *cancellingObjective) Evaluate(ctx context.Context, individual model.Individual) (Evaluation, error) {
	c.once.Do(c.cancel)
	return c.inner.Evaluate(ctx, individual)
}

func TestControllerContextCancelledDuringEvaluation(t *testing.T) {
	lib := testLibrary(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := newTestControllerConfig(lib, nil)
	cfg.Objective = &cancellingObjective{inner: newStubObjective(lib), cancel: cancel}
	cfg.Workers = 1
	controller, err := NewController(cfg)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	result, err := controller.Run(ctx, seedPopulation(t, lib, 4, 101))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", result.Status)
	}
	if controller.Phase() != PhaseTerminated {
		t.Fatalf("expected terminated phase, got %s", controller.Phase())
	}
}

func TestControllerGoalTerminatorShortCircuits(t *testing.T) {
	lib := testLibrary(t)
	cfg := newTestControllerConfig(lib, newStubObjective(lib))
	cfg.Generations = 10
	cfg.Terminators = []Terminator{GoalFitness{Goal: 1}}
	controller, err := NewController(cfg)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	result, err := controller.Run(context.Background(), seedPopulation(t, lib, 4, 101))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if result.StopReason != "goal_fitness" {
		t.Fatalf("unexpected stop reason %q", result.StopReason)
	}
	if result.Population.Generation != 1 {
		t.Fatalf("goal should stop after the first commit, got generation %d", result.Population.Generation)
	}
}

func TestNewControllerValidation(t *testing.T) {
	lib := testLibrary(t)
	objective := newStubObjective(lib)
	valid := newTestControllerConfig(lib, objective)

	if _, err := NewController(valid); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(cfg *ControllerConfig)
	}{
		{"missing objective", func(cfg *ControllerConfig) { cfg.Objective = nil }},
		{"missing library", func(cfg *ControllerConfig) { cfg.Library = nil }},
		{"no mutators", func(cfg *ControllerConfig) { cfg.Mutators = nil }},
		{"nil mutator", func(cfg *ControllerConfig) { cfg.Mutators = []WeightedMutator{{}} }},
		{"negative weight", func(cfg *ControllerConfig) {
			cfg.Mutators = []WeightedMutator{{Mutator: SubstituteBlock{}, Weight: -1}}
		}},
		{"all zero weights", func(cfg *ControllerConfig) {
			cfg.Mutators = []WeightedMutator{{Mutator: SubstituteBlock{}, Weight: 0}}
		}},
		{"crossover rate out of range", func(cfg *ControllerConfig) { cfg.CrossoverRate = 1.5 }},
		{"crossover without crossers", func(cfg *ControllerConfig) { cfg.Crossers = nil }},
		{"zero population", func(cfg *ControllerConfig) { cfg.PopulationSize = 0 }},
		{"zero generations", func(cfg *ControllerConfig) { cfg.Generations = 0 }},
		{"elite beyond population", func(cfg *ControllerConfig) { cfg.EliteCount = 9 }},
		{"unknown failure policy", func(cfg *ControllerConfig) { cfg.FailurePolicy = "panic" }},
	}
	for _, tc := range cases {
		cfg := newTestControllerConfig(lib, objective)
		tc.mutate(&cfg)
		if _, err := NewController(cfg); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestControllerRejectsMismatchedInitialPopulation(t *testing.T) {
	lib := testLibrary(t)
	controller, err := NewController(newTestControllerConfig(lib, newStubObjective(lib)))
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	result, err := controller.Run(context.Background(), seedPopulation(t, lib, 3, 101))
	if err == nil {
		t.Fatal("expected error for undersized initial population")
	}
	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
}
