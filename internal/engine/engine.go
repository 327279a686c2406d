// Package engine orchestrates evolution runs: it owns the run store and the
// evaluation cache, registers the builtin operators and evaluators, drives
// the generational controller, and persists everything a run produces,
// including partial results of interrupted runs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"athanor/internal/assembly"
	"athanor/internal/cache"
	"athanor/internal/evaluator"
	"athanor/internal/evo"
	"athanor/internal/genealogy"
	"athanor/internal/model"
	"athanor/internal/stats"
	"athanor/internal/storage"
)

const (
	// StatusRunning marks a run summary written at start, before the run
	// has a terminal status.
	StatusRunning = "running"

	topIndividualCount = 5

	metricsShutdownTimeout = 5 * time.Second
)

type Config struct {
	Store storage.Store
	Cache *cache.Cache
	// Sink receives per-generation progress reports. Report failures are
	// logged and never interrupt a run. Optional.
	Sink stats.Sink
	// GraphExporter mirrors each finished run's lineage into the graph
	// database. Export failures are logged, not fatal. Optional.
	GraphExporter *genealogy.GraphExporter
	// MetricsAddr, when set, serves Prometheus metrics on /metrics.
	MetricsAddr string
	// Registry collects the engine and cache metrics. A fresh registry is
	// created when nil.
	Registry *prometheus.Registry
	Logger   *zap.Logger
}

type StopReason string

const (
	StopReasonNormal   StopReason = "normal"
	StopReasonShutdown StopReason = "shutdown"
)

// RunConfig carries one run's resolved strategy objects. Name-to-strategy
// resolution happens in the client layer; the engine only wires and executes.
type RunConfig struct {
	RunID             string
	Library           *assembly.Library
	Evaluator         evaluator.Evaluator
	Mutators          []evo.WeightedMutator
	Crossers          []evo.WeightedCrosser
	CrossoverRate     float64
	Selector          evo.Selector
	Normalizer        evo.Normalizer
	Terminators       []evo.Terminator
	PopulationSize    int
	Generations       int
	EliteCount        int
	Workers           int
	Seed              int64
	AttemptMultiplier int
	FailurePolicy     evo.FailurePolicy
	// Topologies, MinBlocks and MaxBlocks bound the seeded population.
	// Ignored when Initial is provided.
	Topologies []string
	MinBlocks  int
	MaxBlocks  int
	Control    chan evo.MonitorCommand
	// Initial, when set, must match PopulationSize exactly. Empty means
	// the engine seeds the population itself.
	Initial []model.Individual
}

// RunResult is the engine's view of a finished or interrupted run, already
// converted to the persistable record types.
type RunResult struct {
	RunID                 string
	Status                evo.RunStatus
	StopReason            string
	BestByGeneration      []float64
	FinalBestFitness      float64
	GenerationDiagnostics []model.GenerationDiagnostics
	TopIndividuals        []model.TopIndividualRecord
	Lineage               []model.LineageRecord
	Evaluations           int
}

type Engine struct {
	store    storage.Store
	cache    *cache.Cache
	sink     stats.Sink
	exporter *genealogy.GraphExporter
	registry *prometheus.Registry
	metrics  *Metrics
	logger   *zap.Logger

	mu             sync.RWMutex
	started        bool
	lastStopReason StopReason
	runs           map[string]chan evo.MonitorCommand
	metricsServer  *http.Server

	config Config
}

func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &Engine{
		store:          cfg.Store,
		cache:          cfg.Cache,
		sink:           cfg.Sink,
		exporter:       cfg.GraphExporter,
		registry:       registry,
		metrics:        NewMetrics(registry),
		logger:         logger,
		runs:           make(map[string]chan evo.MonitorCommand),
		lastStopReason: StopReasonNormal,
		config:         cfg,
	}
}

// Init prepares the engine for runs: store schema, builtin operator and
// evaluator registries, and the metrics listener. Calling Init on a started
// engine is a no-op.
func (e *Engine) Init(ctx context.Context) error {
	if e.store == nil {
		return fmt.Errorf("store is required")
	}
	if e.cache == nil {
		return fmt.Errorf("cache is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	if err := e.store.Init(ctx); err != nil {
		return err
	}
	if err := evo.RegisterBuiltinOperators(); err != nil {
		return err
	}
	if err := evaluator.RegisterBuiltins(); err != nil && !errors.Is(err, evaluator.ErrEvaluatorExists) {
		return err
	}

	if e.config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: e.config.MetricsAddr, Handler: mux}
		e.metricsServer = server
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Warn("metrics listener failed",
					zap.String("addr", server.Addr),
					zap.Error(err))
			}
		}()
	}

	e.started = true
	return nil
}

// Reset stops the engine, drops all persisted run data where the store
// supports it, and re-initializes.
func (e *Engine) Reset(ctx context.Context) error {
	_ = e.StopWithReason(StopReasonShutdown)
	if resetter, ok := e.store.(storage.Resetter); ok {
		if err := resetter.Reset(ctx); err != nil {
			return err
		}
	}
	return e.Init(ctx)
}

func (e *Engine) Stop() {
	_ = e.StopWithReason(StopReasonNormal)
}

func (e *Engine) Shutdown() {
	_ = e.StopWithReason(StopReasonShutdown)
}

// StopWithReason signals every active run to stop, halts the metrics
// listener, and marks the engine stopped. Runs drain on their own; their
// results are still persisted by the goroutines driving them.
func (e *Engine) StopWithReason(reason StopReason) error {
	if reason == "" {
		reason = StopReasonNormal
	}
	if !isValidStopReason(reason) {
		return fmt.Errorf("unsupported stop reason: %s", reason)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, control := range e.runs {
		select {
		case control <- evo.CommandStop:
		default:
		}
	}
	if e.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		_ = e.metricsServer.Shutdown(shutdownCtx)
		cancel()
		e.metricsServer = nil
	}

	e.started = false
	e.lastStopReason = reason
	e.runs = make(map[string]chan evo.MonitorCommand)
	return nil
}

// RunEvolution executes one run to termination and persists its outcome.
// The returned RunResult is populated even when err is non-nil: interrupted
// runs keep whatever they produced, and the stored summary records why they
// ended.
func (e *Engine) RunEvolution(ctx context.Context, cfg RunConfig) (RunResult, error) {
	if cfg.Library == nil {
		return RunResult{}, fmt.Errorf("library is required")
	}
	if cfg.Evaluator == nil {
		return RunResult{}, fmt.Errorf("evaluator is required")
	}
	if len(cfg.Initial) > 0 && len(cfg.Initial) != cfg.PopulationSize {
		return RunResult{}, fmt.Errorf("initial population mismatch: got=%d want=%d", len(cfg.Initial), cfg.PopulationSize)
	}
	if !e.Started() {
		return RunResult{}, fmt.Errorf("engine is not initialized")
	}

	runID := cfg.RunID
	if runID == "" {
		runID = fmt.Sprintf("evo:%s:%d", cfg.Library.Name(), cfg.Seed)
	}
	control := cfg.Control
	if control == nil {
		control = make(chan evo.MonitorCommand, 16)
	}
	if err := e.registerRunControl(runID, control); err != nil {
		return RunResult{}, err
	}
	defer e.unregisterRunControl(runID)

	controller, err := evo.NewController(evo.ControllerConfig{
		RunID: runID,
		Objective: &cachedObjective{
			library:   cfg.Library,
			evaluator: cfg.Evaluator,
			cache:     e.cache,
		},
		Library:           cfg.Library,
		Mutators:          cfg.Mutators,
		Crossers:          cfg.Crossers,
		CrossoverRate:     cfg.CrossoverRate,
		Selector:          cfg.Selector,
		Normalizer:        cfg.Normalizer,
		Terminators:       cfg.Terminators,
		PopulationSize:    cfg.PopulationSize,
		EliteCount:        cfg.EliteCount,
		Generations:       cfg.Generations,
		Workers:           cfg.Workers,
		Seed:              cfg.Seed,
		AttemptMultiplier: cfg.AttemptMultiplier,
		FailurePolicy:     cfg.FailurePolicy,
		Control:           control,
		Progress:          e.progressFor(ctx, runID),
		Logger:            e.logger,
	})
	if err != nil {
		return RunResult{}, err
	}

	initial := cfg.Initial
	if len(initial) == 0 {
		seeder := evo.Seeder{
			Library:    cfg.Library,
			Topologies: cfg.Topologies,
			MinBlocks:  cfg.MinBlocks,
			MaxBlocks:  cfg.MaxBlocks,
		}
		initial, err = seeder.Seed(rand.New(rand.NewSource(cfg.Seed+1000)), cfg.PopulationSize)
		if err != nil {
			return RunResult{RunID: runID}, fmt.Errorf("seed population: %w", err)
		}
	}

	summary := model.RunSummary{
		VersionedRecord: versionStamp(),
		RunID:           runID,
		CreatedAtUTC:    time.Now().UTC(),
		Library:         cfg.Library.Name(),
		Evaluator:       cfg.Evaluator.Name(),
		PopulationSize:  cfg.PopulationSize,
		Generations:     cfg.Generations,
		Seed:            cfg.Seed,
		Status:          StatusRunning,
	}
	if err := e.store.SaveRunSummary(ctx, summary); err != nil {
		return RunResult{RunID: runID}, fmt.Errorf("save run summary: %w", err)
	}
	e.metrics.runStarted()
	e.logger.Info("run started",
		zap.String("run", runID),
		zap.String("library", summary.Library),
		zap.String("evaluator", summary.Evaluator),
		zap.Int("population_size", cfg.PopulationSize),
		zap.Int("generations", cfg.Generations),
		zap.Int64("seed", cfg.Seed),
	)

	result, runErr := controller.Run(ctx, initial)

	out := buildRunResult(runID, result)
	persistErr := e.persistRun(ctx, summary, out, result)
	if persistErr != nil {
		e.logger.Error("run persistence failed",
			zap.String("run", runID),
			zap.Error(persistErr))
	}
	e.metrics.runFinished(string(out.Status))

	if e.exporter != nil && len(out.Lineage) > 0 {
		if err := e.exporter.Export(context.WithoutCancel(ctx), runID, out.Lineage); err != nil {
			e.logger.Warn("lineage graph export failed",
				zap.String("run", runID),
				zap.Error(err))
		}
	}

	e.logger.Info("run finished",
		zap.String("run", runID),
		zap.String("status", string(out.Status)),
		zap.String("stop_reason", out.StopReason),
		zap.Float64("final_best_fitness", out.FinalBestFitness),
		zap.Int("evaluations", out.Evaluations),
	)

	if runErr != nil {
		return out, runErr
	}
	return out, persistErr
}

// persistRun writes every artifact of the run. It runs on a detached
// context: a cancelled run still lands in the store.
func (e *Engine) persistRun(ctx context.Context, summary model.RunSummary, out RunResult, result evo.RunResult) error {
	ctx = context.WithoutCancel(ctx)

	if len(result.FinalPopulation) > 0 {
		individuals := make([]model.Individual, 0, len(result.FinalPopulation))
		for _, scored := range result.FinalPopulation {
			individuals = append(individuals, scored.Individual)
		}
		generation := 0
		if n := len(out.GenerationDiagnostics); n > 0 {
			generation = out.GenerationDiagnostics[n-1].Generation
		}
		population := model.Population{
			VersionedRecord: versionStamp(),
			ID:              out.RunID,
			Generation:      generation,
			Individuals:     individuals,
		}
		if err := e.store.SavePopulationSnapshot(ctx, out.RunID, population); err != nil {
			return fmt.Errorf("save population snapshot: %w", err)
		}
	}
	if err := e.store.SaveFitnessHistory(ctx, out.RunID, out.BestByGeneration); err != nil {
		return fmt.Errorf("save fitness history: %w", err)
	}
	if err := e.store.SaveGenerationDiagnostics(ctx, out.RunID, out.GenerationDiagnostics); err != nil {
		return fmt.Errorf("save generation diagnostics: %w", err)
	}
	if err := e.store.SaveLineage(ctx, out.RunID, out.Lineage); err != nil {
		return fmt.Errorf("save lineage: %w", err)
	}
	if err := e.store.SaveTopIndividuals(ctx, out.RunID, out.TopIndividuals); err != nil {
		return fmt.Errorf("save top individuals: %w", err)
	}

	summary.Status = string(out.Status)
	summary.FinalBestFitness = out.FinalBestFitness
	if err := e.store.SaveRunSummary(ctx, summary); err != nil {
		return fmt.Errorf("save run summary: %w", err)
	}
	return nil
}

func (e *Engine) progressFor(ctx context.Context, runID string) func(evo.GenerationDiagnostics) {
	return func(d evo.GenerationDiagnostics) {
		e.metrics.generationDone(d.BestFitness, d.CacheHits+d.CacheMisses+d.EvaluationFailures)
		if e.sink == nil {
			return
		}
		report := stats.GenerationSummary{
			RunID:              runID,
			Generation:         d.Generation,
			BestFitness:        d.BestFitness,
			MeanFitness:        d.MeanFitness,
			WorstFitness:       d.WorstFitness,
			UniqueFingerprints: d.UniqueFingerprints,
			UniqueTopologies:   d.UniqueTopologies,
			CacheHits:          d.CacheHits,
			CacheMisses:        d.CacheMisses,
			EvaluationFailures: d.EvaluationFailures,
			DurationMillis:     d.DurationMillis,
			ReportedAtUTC:      time.Now().UTC(),
		}
		if err := e.sink.Report(ctx, report); err != nil {
			e.logger.Warn("generation report dropped",
				zap.String("run", runID),
				zap.Int("generation", d.Generation),
				zap.Error(err))
		}
	}
}

func (e *Engine) PauseRun(runID string) error {
	return e.sendRunCommand(runID, evo.CommandPause)
}

func (e *Engine) ContinueRun(runID string) error {
	return e.sendRunCommand(runID, evo.CommandContinue)
}

func (e *Engine) StopRun(runID string) error {
	return e.sendRunCommand(runID, evo.CommandStop)
}

func (e *Engine) registerRunControl(runID string, control chan evo.MonitorCommand) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return fmt.Errorf("engine is not initialized")
	}
	if _, exists := e.runs[runID]; exists {
		return fmt.Errorf("run already active: %s", runID)
	}
	e.runs[runID] = control
	return nil
}

func (e *Engine) unregisterRunControl(runID string) {
	if runID == "" {
		return
	}
	e.mu.Lock()
	delete(e.runs, runID)
	e.mu.Unlock()
}

func (e *Engine) sendRunCommand(runID string, cmd evo.MonitorCommand) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	e.mu.RLock()
	control, ok := e.runs[runID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("run not active: %s", runID)
	}
	select {
	case control <- cmd:
		return nil
	default:
		return fmt.Errorf("run control channel is full: %s", runID)
	}
}

// ActiveRuns lists the ids of runs currently executing, sorted.
func (e *Engine) ActiveRuns() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.runs))
	for id := range e.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) Started() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.started
}

func (e *Engine) LastStopReason() StopReason {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastStopReason
}

// Store exposes the run store for read paths layered on the engine.
func (e *Engine) Store() storage.Store {
	return e.store
}

// CacheExport dumps every evaluation record for offline audit.
func (e *Engine) CacheExport(ctx context.Context) ([]model.CacheRecord, error) {
	if e.cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	return e.cache.Export(ctx)
}

func buildRunResult(runID string, result evo.RunResult) RunResult {
	top := rankTopIndividuals(result.FinalPopulation, topIndividualCount)
	finalBest := 0.0
	if len(top) > 0 {
		finalBest = top[0].Fitness
	}
	return RunResult{
		RunID:                 runID,
		Status:                result.Status,
		StopReason:            result.StopReason,
		BestByGeneration:      result.BestByGeneration,
		FinalBestFitness:      finalBest,
		GenerationDiagnostics: toModelDiagnostics(result.GenerationDiagnostics),
		TopIndividuals:        top,
		Lineage:               toModelLineage(result.Lineage),
		Evaluations:           result.Evaluations,
	}
}

// rankTopIndividuals builds the final leaderboard from the last evaluated
// population: raw fitness descending, id ascending on ties, excluded
// individuals skipped.
func rankTopIndividuals(final []evo.ScoredIndividual, limit int) []model.TopIndividualRecord {
	eligible := make([]evo.ScoredIndividual, 0, len(final))
	for _, item := range final {
		if item.Excluded {
			continue
		}
		eligible = append(eligible, item)
	}
	sort.Slice(eligible, func(i, j int) bool {
		fi, fj := rawFitnessOf(eligible[i]), rawFitnessOf(eligible[j])
		if fi != fj {
			return fi > fj
		}
		return eligible[i].Individual.ID < eligible[j].Individual.ID
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	out := make([]model.TopIndividualRecord, 0, len(eligible))
	for i, item := range eligible {
		var objectives map[string]float64
		if len(item.Individual.Objectives) > 0 {
			objectives = make(map[string]float64, len(item.Individual.Objectives))
			for k, v := range item.Individual.Objectives {
				objectives[k] = v
			}
		}
		out = append(out, model.TopIndividualRecord{
			VersionedRecord: versionStamp(),
			Rank:            i + 1,
			Fitness:         rawFitnessOf(item),
			IndividualID:    item.Individual.ID,
			Fingerprint:     item.Individual.Fingerprint,
			Topology:        item.Individual.Recipe.Topology,
			BlockCount:      len(item.Individual.Recipe.BlockIDs),
			Objectives:      objectives,
		})
	}
	return out
}

// rawFitnessOf is the evaluator-reported fitness, untouched by normalizers.
func rawFitnessOf(item evo.ScoredIndividual) float64 {
	if item.Individual.Fitness != nil {
		return *item.Individual.Fitness
	}
	return item.Fitness
}

func toModelDiagnostics(diags []evo.GenerationDiagnostics) []model.GenerationDiagnostics {
	out := make([]model.GenerationDiagnostics, 0, len(diags))
	for _, d := range diags {
		out = append(out, model.GenerationDiagnostics{
			VersionedRecord:    versionStamp(),
			Generation:         d.Generation,
			BestFitness:        d.BestFitness,
			MeanFitness:        d.MeanFitness,
			WorstFitness:       d.WorstFitness,
			UniqueFingerprints: d.UniqueFingerprints,
			UniqueTopologies:   d.UniqueTopologies,
			CacheHits:          d.CacheHits,
			CacheMisses:        d.CacheMisses,
			EvaluationFailures: d.EvaluationFailures,
			VariationAttempts:  d.VariationAttempts,
			OperatorFailures:   d.OperatorFailures,
			DurationMillis:     d.DurationMillis,
		})
	}
	return out
}

func toModelLineage(lineage []evo.LineageRecord) []model.LineageRecord {
	out := make([]model.LineageRecord, 0, len(lineage))
	for _, rec := range lineage {
		out = append(out, model.LineageRecord{
			VersionedRecord:    versionStamp(),
			IndividualID:       rec.IndividualID,
			Fingerprint:        rec.Fingerprint,
			Generation:         rec.Generation,
			Kind:               rec.Kind,
			Operator:           rec.Operator,
			ParentFingerprints: append([]string(nil), rec.ParentFingerprints...),
			Summary:            rec.Topology,
		})
	}
	return out
}

func versionStamp() model.VersionedRecord {
	return model.VersionedRecord{
		SchemaVersion: storage.CurrentSchemaVersion,
		CodecVersion:  storage.CurrentCodecVersion,
	}
}

func isValidStopReason(reason StopReason) bool {
	switch reason {
	case StopReasonNormal, StopReasonShutdown:
		return true
	default:
		return false
	}
}
