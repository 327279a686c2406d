package athanor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"athanor/internal/assembly"
	"athanor/internal/cache"
	"athanor/internal/config"
	"athanor/internal/engine"
	"athanor/internal/evaluator"
	"athanor/internal/evo"
	"athanor/internal/genealogy"
	"athanor/internal/model"
	"athanor/internal/stats"
	"athanor/internal/storage"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "athanor.db"
)

type Options struct {
	StoreKind    string
	StorePath    string
	CacheURI     string
	ArtifactsDir string
	ExportsDir   string
	// MetricsAddr, when set, serves Prometheus metrics on /metrics.
	MetricsAddr string
	Sinks       config.SinksSpec
	Genealogy   config.GenealogySpec
	Archive     config.ArchiveSpec
	Logger      *zap.Logger
}

type Client struct {
	store      storage.Store
	cacheStore cache.Store
	evalCache  *cache.Cache
	engine     *engine.Engine

	registry     *prometheus.Registry
	cacheMetrics *cache.Metrics
	sink         stats.Sink
	exporter     *genealogy.GraphExporter
	archiver     *stats.Archiver
	logger       *zap.Logger

	storeKind    string
	storePath    string
	cacheURI     string
	artifactsDir string
	exportsDir   string
	metricsAddr  string
}

type RunRequest struct {
	RunID     string
	Library   string
	Evaluator string

	Population  int
	Generations int
	Seed        int64
	Workers     int
	// EliteCount of zero applies a fifth of the population, at least one.
	EliteCount int

	Selection         string
	TournamentSize    int
	SelectionPressure float64

	Normalizers      []string
	ObjectiveWeights map[string]float64
	PowerExponent    float64
	// GlobalFitnessWindow scales min_max against bounds observed across the
	// whole run instead of the current generation only.
	GlobalFitnessWindow bool

	MutatorWeights map[string]float64
	CrosserWeights map[string]float64
	// CrossoverRate of zero applies the default of 0.25. Disable crossover
	// by setting every crosser weight to zero.
	CrossoverRate float64

	Topologies []string
	MinBlocks  int
	MaxBlocks  int

	FailurePolicy     string
	AttemptMultiplier int

	// Termination predicates. Zero disables a predicate; the generation
	// limit always applies.
	FitnessGoal      float64
	PlateauWindow    int
	PlateauMinDelta  float64
	MaxWallClock     time.Duration
	EvaluationBudget int

	// StartPaused queues a pause ahead of the first generation. The run
	// then waits for ContinueRun or the AutoContinueAfter timer.
	StartPaused       bool
	AutoContinueAfter time.Duration
}

type RunSummary struct {
	RunID            string
	ArtifactsDir     string
	Status           string
	StopReason       string
	BestByGeneration []float64
	FinalBestFitness float64
	Evaluations      int
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID            string
	CreatedAtUTC     string
	Library          string
	Evaluator        string
	Seed             int64
	Population       int
	Generations      int
	Status           string
	FinalBestFitness float64
}

type RunRecordRequest struct {
	RunID  string
	Latest bool
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type LineageRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type FitnessHistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type DiagnosticsRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type TopIndividualsRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type AncestryRequest struct {
	RunID       string
	Latest      bool
	Fingerprint string
	// Depth bounds the walk in construction steps. Zero or below removes
	// the limit.
	Depth int
}

type AncestrySummary struct {
	RunID       string
	Fingerprint string
	Record      model.LineageRecord
	Ancestors   []string
	Descendants []string
}

type CacheExportRequest struct {
	RunID  string
	Latest bool
}

type CacheExportSummary struct {
	RunID   string
	Path    string
	Records int
}

type RunControlRequest struct {
	RunID string
}

type Capabilities struct {
	Libraries     []string
	Topologies    []string
	Evaluators    []string
	Selectors     []string
	Normalizers   []string
	Mutators      []string
	Crossers      []string
	StoreKinds    []string
	CacheBackends []string
}

func New(opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = "memory"
	}
	storePath := opts.StorePath
	if storePath == "" {
		storePath = defaultDBPath
	}
	cacheURI := opts.CacheURI
	if cacheURI == "" {
		cacheURI = "memory"
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, storePath)
	if err != nil {
		return nil, err
	}
	cacheStore, err := cache.NewStoreFromURI(cacheURI)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	cacheMetrics := cache.NewMetrics(registry)

	sinks := []stats.Sink{stats.NewZapSink(logger)}
	if opts.Sinks.JSONLPath != "" {
		jsonlSink, err := stats.NewJSONLSink(opts.Sinks.JSONLPath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, jsonlSink)
	}
	if len(opts.Sinks.Kafka.Brokers) > 0 || opts.Sinks.Kafka.Topic != "" {
		kafkaSink, err := stats.NewKafkaSink(stats.KafkaSinkConfig{
			Brokers: opts.Sinks.Kafka.Brokers,
			Topic:   opts.Sinks.Kafka.Topic,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, kafkaSink)
	}
	var sink stats.Sink = sinks[0]
	if len(sinks) > 1 {
		sink = stats.NewMultiSink(sinks...)
	}

	var exporter *genealogy.GraphExporter
	if opts.Genealogy.URI != "" {
		exporter, err = genealogy.NewGraphExporter(genealogy.ExporterConfig{
			URI:      opts.Genealogy.URI,
			Username: opts.Genealogy.Username,
			Password: opts.Genealogy.Password,
			Database: opts.Genealogy.Database,
		}, logger)
		if err != nil {
			return nil, err
		}
	}

	var archiver *stats.Archiver
	if opts.Archive.Endpoint != "" {
		archiver, err = stats.NewArchiver(stats.ArchiverConfig{
			Endpoint:  opts.Archive.Endpoint,
			AccessKey: opts.Archive.AccessKey,
			SecretKey: opts.Archive.SecretKey,
			UseSSL:    opts.Archive.UseSSL,
			Region:    opts.Archive.Region,
			Bucket:    opts.Archive.Bucket,
		}, logger)
		if err != nil {
			return nil, err
		}
	}

	return &Client{
		store:        store,
		cacheStore:   cacheStore,
		registry:     registry,
		cacheMetrics: cacheMetrics,
		sink:         sink,
		exporter:     exporter,
		archiver:     archiver,
		logger:       logger,
		storeKind:    storeKind,
		storePath:    storePath,
		cacheURI:     cacheURI,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
		metricsAddr:  opts.MetricsAddr,
	}, nil
}

func (c *Client) Close() error {
	if c.engine != nil {
		c.engine.Shutdown()
	}
	var errs []error
	if c.sink != nil {
		errs = append(errs, c.sink.Close())
	}
	if c.evalCache != nil {
		errs = append(errs, c.evalCache.Close())
	} else if c.cacheStore != nil {
		errs = append(errs, c.cacheStore.Close())
	}
	errs = append(errs, storage.CloseIfSupported(c.store))
	return errors.Join(errs...)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensureEngine(ctx)
	return err
}

// Reset drops every persisted run where the store supports it and restarts
// the engine. Artifact directories on disk are left alone.
func (c *Client) Reset(ctx context.Context) error {
	eng, err := c.ensureEngine(ctx)
	if err != nil {
		return err
	}
	return eng.Reset(ctx)
}

// Run executes one evolution run and writes its artifact directory. A run
// stopped by command still returns its summary with status cancelled; every
// other run error is returned without artifacts.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.Library == "" {
		req.Library = "standard"
	}
	if req.Evaluator == "" {
		req.Evaluator = "composite"
	}
	if req.Population <= 0 {
		req.Population = 32
	}
	if req.Generations <= 0 {
		req.Generations = 25
	}
	if req.Workers <= 0 {
		req.Workers = 4
	}
	if req.Selection == "" {
		req.Selection = "tournament"
	}
	if req.TournamentSize <= 0 {
		req.TournamentSize = 3
	}
	if len(req.Normalizers) == 0 {
		req.Normalizers = []string{"shift_to_positive"}
	}
	if len(req.MutatorWeights) == 0 {
		req.MutatorWeights = map[string]float64{
			"substitute_block": 5,
			"swap_topology":    1,
			"shuffle_blocks":   2,
			"grow_chain":       2,
		}
	}
	if len(req.CrosserWeights) == 0 {
		req.CrosserWeights = map[string]float64{
			"recombine_blocks":  3,
			"exchange_topology": 1,
		}
	}
	if req.CrossoverRate == 0 {
		req.CrossoverRate = 0.25
	}
	if req.MinBlocks == 0 {
		req.MinBlocks = 2
	}
	if req.MaxBlocks == 0 {
		req.MaxBlocks = 6
	}
	if req.FailurePolicy == "" {
		req.FailurePolicy = "exclude"
	}
	if req.AttemptMultiplier <= 0 {
		req.AttemptMultiplier = 10
	}
	if req.FitnessGoal < 0 {
		return RunSummary{}, errors.New("fitness goal must be >= 0")
	}
	if req.MaxWallClock < 0 {
		return RunSummary{}, errors.New("max wall clock must be >= 0")
	}
	if err := c.runSpecFromRequest(req).Validate(); err != nil {
		return RunSummary{}, err
	}

	library, err := assembly.BuiltinLibrary(req.Library)
	if err != nil {
		return RunSummary{}, err
	}
	selector, err := evo.SelectorFromSpec(evo.SelectorSpec{
		Name:           req.Selection,
		TournamentSize: req.TournamentSize,
		Pressure:       req.SelectionPressure,
	})
	if err != nil {
		return RunSummary{}, err
	}
	normalizer, err := normalizersFromRequest(req)
	if err != nil {
		return RunSummary{}, err
	}
	mutators, err := mutatorsFromRequest(req)
	if err != nil {
		return RunSummary{}, err
	}
	crossers, err := crossersFromRequest(req)
	if err != nil {
		return RunSummary{}, err
	}

	eng, err := c.ensureEngine(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	eval, err := evaluator.Resolve(req.Evaluator)
	if err != nil {
		return RunSummary{}, err
	}

	eliteCount := req.EliteCount
	if eliteCount <= 0 {
		eliteCount = req.Population / 5
		if eliteCount < 1 {
			eliteCount = 1
		}
	}
	now := time.Now().UTC()
	runID := req.RunID
	if runID == "" {
		runID = fmt.Sprintf("%s-%d-%d", req.Library, req.Seed, now.Unix())
	}

	var control chan evo.MonitorCommand
	if req.StartPaused {
		control = make(chan evo.MonitorCommand, 16)
		control <- evo.CommandPause
		if req.AutoContinueAfter > 0 {
			timer := time.AfterFunc(req.AutoContinueAfter, func() { control <- evo.CommandContinue })
			defer timer.Stop()
		}
	}

	result, runErr := eng.RunEvolution(ctx, engine.RunConfig{
		RunID:             runID,
		Library:           library,
		Evaluator:         eval,
		Mutators:          mutators,
		Crossers:          crossers,
		CrossoverRate:     req.CrossoverRate,
		Selector:          selector,
		Normalizer:        normalizer,
		Terminators:       terminatorsFromRequest(req),
		PopulationSize:    req.Population,
		Generations:       req.Generations,
		EliteCount:        eliteCount,
		Workers:           req.Workers,
		Seed:              req.Seed,
		AttemptMultiplier: req.AttemptMultiplier,
		FailurePolicy:     evo.FailurePolicy(req.FailurePolicy),
		Topologies:        req.Topologies,
		MinBlocks:         req.MinBlocks,
		MaxBlocks:         req.MaxBlocks,
		Control:           control,
	})
	if runErr != nil && !errors.Is(runErr, evo.ErrRunStopped) {
		return RunSummary{}, runErr
	}

	summary, ok, err := c.store.GetRunSummary(ctx, runID)
	if err != nil {
		return RunSummary{}, err
	}
	if !ok {
		return RunSummary{}, fmt.Errorf("run summary not found for run id: %s", runID)
	}
	summary.ArtifactsDir = filepath.Clean(filepath.Join(c.artifactsDir, runID))

	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Config:                c.runConfigRecord(runID, eliteCount, req),
		Summary:               summary,
		BestByGeneration:      result.BestByGeneration,
		FinalBestFitness:      result.FinalBestFitness,
		GenerationDiagnostics: result.GenerationDiagnostics,
		TopIndividuals:        result.TopIndividuals,
		Lineage:               result.Lineage,
	})
	if err != nil {
		return RunSummary{}, err
	}
	if err := stats.WriteFitnessSeries(runDir, result.BestByGeneration); err != nil {
		return RunSummary{}, err
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:            runID,
		Library:          req.Library,
		Evaluator:        req.Evaluator,
		PopulationSize:   req.Population,
		Generations:      req.Generations,
		Seed:             req.Seed,
		Workers:          req.Workers,
		EliteCount:       eliteCount,
		Status:           string(result.Status),
		FinalBestFitness: result.FinalBestFitness,
		CreatedAtUTC:     now.Format(time.RFC3339Nano),
	}); err != nil {
		return RunSummary{}, err
	}
	if err := c.store.SaveRunSummary(ctx, summary); err != nil {
		return RunSummary{}, err
	}

	if c.archiver != nil {
		if err := c.archiveRun(ctx, runDir); err != nil {
			c.logger.Warn("run archive failed",
				zap.String("run", runID),
				zap.Error(err))
		}
	}

	return RunSummary{
		RunID:            runID,
		ArtifactsDir:     filepath.Clean(runDir),
		Status:           string(result.Status),
		StopReason:       result.StopReason,
		BestByGeneration: append([]float64(nil), result.BestByGeneration...),
		FinalBestFitness: result.FinalBestFitness,
		Evaluations:      result.Evaluations,
	}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:            e.RunID,
			CreatedAtUTC:     e.CreatedAtUTC,
			Library:          e.Library,
			Evaluator:        e.Evaluator,
			Seed:             e.Seed,
			Population:       e.PopulationSize,
			Generations:      e.Generations,
			Status:           e.Status,
			FinalBestFitness: e.FinalBestFitness,
		})
	}
	return out, nil
}

func (c *Client) RunRecord(ctx context.Context, req RunRecordRequest) (model.RunSummary, error) {
	if req.RunID != "" && req.Latest {
		return model.RunSummary{}, errors.New("use either run id or latest")
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return model.RunSummary{}, err
		}
		if len(entries) == 0 {
			return model.RunSummary{}, errors.New("no runs available")
		}
		runID = entries[0].RunID
	}
	if runID == "" {
		return model.RunSummary{}, errors.New("run record requires run id or latest")
	}

	if _, err := c.ensureEngine(ctx); err != nil {
		return model.RunSummary{}, err
	}
	summary, ok, err := c.store.GetRunSummary(ctx, runID)
	if err != nil {
		return model.RunSummary{}, err
	}
	if !ok {
		return model.RunSummary{}, fmt.Errorf("run not found for run id: %s", runID)
	}
	return summary, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(entries) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = entries[0].RunID
	}

	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) Lineage(ctx context.Context, req LineageRequest) ([]model.LineageRecord, error) {
	if req.RunID != "" && req.Latest {
		return nil, errors.New("use either run id or latest")
	}
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return nil, errors.New("no runs available")
		}
		runID = entries[0].RunID
	}
	if runID == "" {
		return nil, errors.New("lineage requires run id or latest")
	}

	if _, err := c.ensureEngine(ctx); err != nil {
		return nil, err
	}
	lineage, ok, err := c.store.GetLineage(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("lineage not found for run id: %s", runID)
	}

	if req.Limit > 0 && len(lineage) > req.Limit {
		lineage = lineage[:req.Limit]
	}
	out := make([]model.LineageRecord, len(lineage))
	copy(out, lineage)
	return out, nil
}

func (c *Client) FitnessHistory(ctx context.Context, req FitnessHistoryRequest) ([]float64, error) {
	if req.RunID != "" && req.Latest {
		return nil, errors.New("use either run id or latest")
	}
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return nil, errors.New("no runs available")
		}
		runID = entries[0].RunID
	}
	if runID == "" {
		return nil, errors.New("fitness history requires run id or latest")
	}

	if _, err := c.ensureEngine(ctx); err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetFitnessHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("fitness history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return append([]float64(nil), history...), nil
}

func (c *Client) Diagnostics(ctx context.Context, req DiagnosticsRequest) ([]model.GenerationDiagnostics, error) {
	if req.RunID != "" && req.Latest {
		return nil, errors.New("use either run id or latest")
	}
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return nil, errors.New("no runs available")
		}
		runID = entries[0].RunID
	}
	if runID == "" {
		return nil, errors.New("diagnostics requires run id or latest")
	}

	if _, err := c.ensureEngine(ctx); err != nil {
		return nil, err
	}
	diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	out := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(out, diagnostics)
	return out, nil
}

func (c *Client) TopIndividuals(ctx context.Context, req TopIndividualsRequest) ([]model.TopIndividualRecord, error) {
	if req.RunID != "" && req.Latest {
		return nil, errors.New("use either run id or latest")
	}
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return nil, errors.New("no runs available")
		}
		runID = entries[0].RunID
	}
	if runID == "" {
		return nil, errors.New("top individuals requires run id or latest")
	}

	if _, err := c.ensureEngine(ctx); err != nil {
		return nil, err
	}
	top, ok, err := c.store.GetTopIndividuals(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("top individuals not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(top) > req.Limit {
		top = top[:req.Limit]
	}
	out := make([]model.TopIndividualRecord, len(top))
	copy(out, top)
	return out, nil
}

// Ancestry reconstructs the construction DAG of a run and reports the
// ancestors and descendants of one fingerprint, nearest first.
func (c *Client) Ancestry(ctx context.Context, req AncestryRequest) (AncestrySummary, error) {
	if req.Fingerprint == "" {
		return AncestrySummary{}, errors.New("fingerprint is required")
	}
	if req.RunID != "" && req.Latest {
		return AncestrySummary{}, errors.New("use either run id or latest")
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return AncestrySummary{}, err
		}
		if len(entries) == 0 {
			return AncestrySummary{}, errors.New("no runs available")
		}
		runID = entries[0].RunID
	}
	if runID == "" {
		return AncestrySummary{}, errors.New("ancestry requires run id or latest")
	}

	if _, err := c.ensureEngine(ctx); err != nil {
		return AncestrySummary{}, err
	}
	lineage, ok, err := c.store.GetLineage(ctx, runID)
	if err != nil {
		return AncestrySummary{}, err
	}
	if !ok {
		return AncestrySummary{}, fmt.Errorf("lineage not found for run id: %s", runID)
	}

	arena := genealogy.NewArena()
	arena.AddAll(lineage)
	record, ok := arena.Lookup(req.Fingerprint)
	if !ok {
		return AncestrySummary{}, fmt.Errorf("fingerprint not found in run %s: %s", runID, req.Fingerprint)
	}

	return AncestrySummary{
		RunID:       runID,
		Fingerprint: req.Fingerprint,
		Record:      record,
		Ancestors:   arena.Ancestors(req.Fingerprint, req.Depth),
		Descendants: arena.Descendants(req.Fingerprint, req.Depth),
	}, nil
}

func (c *Client) CacheRecords(ctx context.Context) ([]model.CacheRecord, error) {
	eng, err := c.ensureEngine(ctx)
	if err != nil {
		return nil, err
	}
	return eng.CacheExport(ctx)
}

// ExportCache dumps the evaluation cache into a run's artifact directory.
// The run must have been executed through this client or another client
// sharing the same artifacts directory.
func (c *Client) ExportCache(ctx context.Context, req CacheExportRequest) (CacheExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return CacheExportSummary{}, errors.New("use either run id or latest")
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return CacheExportSummary{}, err
		}
		if len(entries) == 0 {
			return CacheExportSummary{}, errors.New("no runs available")
		}
		runID = entries[0].RunID
	}
	if runID == "" {
		return CacheExportSummary{}, errors.New("cache export requires run id or latest")
	}

	eng, err := c.ensureEngine(ctx)
	if err != nil {
		return CacheExportSummary{}, err
	}
	records, err := eng.CacheExport(ctx)
	if err != nil {
		return CacheExportSummary{}, err
	}

	runDir := filepath.Join(c.artifactsDir, runID)
	if _, err := os.Stat(runDir); err != nil {
		return CacheExportSummary{}, fmt.Errorf("run artifacts not found for run id: %s", runID)
	}
	if err := stats.WriteCacheExport(runDir, records); err != nil {
		return CacheExportSummary{}, err
	}
	return CacheExportSummary{
		RunID:   runID,
		Path:    filepath.Join(runDir, "cache_export.json"),
		Records: len(records),
	}, nil
}

func (c *Client) PauseRun(_ context.Context, req RunControlRequest) error {
	if req.RunID == "" {
		return errors.New("run id is required")
	}
	if c.engine == nil {
		return fmt.Errorf("run not active: %s", req.RunID)
	}
	return c.engine.PauseRun(req.RunID)
}

func (c *Client) ContinueRun(_ context.Context, req RunControlRequest) error {
	if req.RunID == "" {
		return errors.New("run id is required")
	}
	if c.engine == nil {
		return fmt.Errorf("run not active: %s", req.RunID)
	}
	return c.engine.ContinueRun(req.RunID)
}

func (c *Client) StopRun(_ context.Context, req RunControlRequest) error {
	if req.RunID == "" {
		return errors.New("run id is required")
	}
	if c.engine == nil {
		return fmt.Errorf("run not active: %s", req.RunID)
	}
	return c.engine.StopRun(req.RunID)
}

func (c *Client) ActiveRuns() []string {
	if c.engine == nil {
		return nil
	}
	return c.engine.ActiveRuns()
}

func (c *Client) Capabilities(ctx context.Context) (Capabilities, error) {
	if _, err := c.ensureEngine(ctx); err != nil {
		return Capabilities{}, err
	}
	return Capabilities{
		Libraries:     assembly.ListLibraries(),
		Topologies:    assembly.ListTopologies(),
		Evaluators:    evaluator.List(),
		Selectors:     evo.ListSelectors(),
		Normalizers:   append([]string(nil), config.ValidNormalizers...),
		Mutators:      evo.ListMutators(),
		Crossers:      evo.ListCrossers(),
		StoreKinds:    storage.ListStoreKinds(),
		CacheBackends: append([]string(nil), config.ValidCacheSchemes...),
	}, nil
}

func (c *Client) ensureEngine(ctx context.Context) (*engine.Engine, error) {
	if c.engine != nil {
		return c.engine, nil
	}
	if err := c.cacheStore.Init(ctx); err != nil {
		return nil, fmt.Errorf("init cache store: %w", err)
	}
	evalCache, err := cache.New(c.cacheStore, cache.Options{
		Logger:  c.logger,
		Metrics: c.cacheMetrics,
	})
	if err != nil {
		return nil, err
	}
	eng := engine.New(engine.Config{
		Store:         c.store,
		Cache:         evalCache,
		Sink:          c.sink,
		GraphExporter: c.exporter,
		MetricsAddr:   c.metricsAddr,
		Registry:      c.registry,
		Logger:        c.logger,
	})
	if err := eng.Init(ctx); err != nil {
		return nil, err
	}
	c.evalCache = evalCache
	c.engine = eng
	return c.engine, nil
}

func (c *Client) archiveRun(ctx context.Context, runDir string) error {
	if err := c.archiver.EnsureBucket(ctx); err != nil {
		return err
	}
	_, err := c.archiver.ArchiveRunDir(ctx, runDir)
	return err
}

// runSpecFromRequest maps an already defaulted request onto the canonical
// spec so one validator covers the YAML and the programmatic surface.
func (c *Client) runSpecFromRequest(req RunRequest) config.RunSpec {
	spec := config.RunSpec{
		RunID:     req.RunID,
		Library:   req.Library,
		Evaluator: req.Evaluator,

		PopulationSize: req.Population,
		Generations:    req.Generations,
		Seed:           req.Seed,
		Workers:        req.Workers,
		EliteCount:     req.EliteCount,

		Selection: config.SelectionSpec{
			Strategy:       req.Selection,
			TournamentSize: req.TournamentSize,
			Pressure:       req.SelectionPressure,
		},
		Normalization: config.NormalizationSpec{
			Chain:            req.Normalizers,
			ObjectiveWeights: req.ObjectiveWeights,
			PowerExponent:    req.PowerExponent,
			GlobalWindow:     req.GlobalFitnessWindow,
		},
		Operators: config.OperatorsSpec{
			Mutators:      req.MutatorWeights,
			Crossers:      req.CrosserWeights,
			CrossoverRate: req.CrossoverRate,
		},
		Seeding: config.SeedingSpec{
			Topologies: req.Topologies,
			MinBlocks:  req.MinBlocks,
			MaxBlocks:  req.MaxBlocks,
		},
		Termination: config.TerminationSpec{
			FitnessGoal:      req.FitnessGoal,
			PlateauWindow:    req.PlateauWindow,
			PlateauMinDelta:  req.PlateauMinDelta,
			EvaluationBudget: req.EvaluationBudget,
		},

		FailurePolicy:     req.FailurePolicy,
		AttemptMultiplier: req.AttemptMultiplier,

		Cache:     config.CacheSpec{URI: c.cacheURI},
		Storage:   config.StorageSpec{Kind: c.storeKind, Path: c.storePath},
		Artifacts: config.ArtifactsSpec{Dir: c.artifactsDir},
	}
	if req.MaxWallClock > 0 {
		spec.Termination.MaxWallClock = req.MaxWallClock.String()
	}
	return spec
}

func (c *Client) runConfigRecord(runID string, eliteCount int, req RunRequest) stats.RunConfig {
	return stats.RunConfig{
		RunID:             runID,
		Library:           req.Library,
		Evaluator:         req.Evaluator,
		PopulationSize:    req.Population,
		Generations:       req.Generations,
		Seed:              req.Seed,
		Workers:           req.Workers,
		EliteCount:        eliteCount,
		Selection:         req.Selection,
		TournamentSize:    req.TournamentSize,
		SelectionPressure: req.SelectionPressure,
		Normalizers:       req.Normalizers,
		ObjectiveWeights:  req.ObjectiveWeights,
		MutatorWeights:    req.MutatorWeights,
		CrosserWeights:    req.CrosserWeights,
		CrossoverRate:     req.CrossoverRate,
		AttemptMultiplier: req.AttemptMultiplier,
		FailurePolicy:     req.FailurePolicy,
		FitnessGoal:       req.FitnessGoal,
		PlateauWindow:     req.PlateauWindow,
		PlateauMinDelta:   req.PlateauMinDelta,
		MaxWallClockMS:    req.MaxWallClock.Milliseconds(),
		EvaluationBudget:  req.EvaluationBudget,
		CacheURI:          c.cacheURI,
		StoreKind:         c.storeKind,
		Topologies:        req.Topologies,
		MinBlocks:         req.MinBlocks,
		MaxBlocks:         req.MaxBlocks,
	}
}

func normalizersFromRequest(req RunRequest) (evo.Normalizer, error) {
	var window *evo.FitnessWindow
	if req.GlobalFitnessWindow {
		window = evo.NewFitnessWindow()
	}

	chain := make(evo.NormalizerChain, 0, len(req.Normalizers))
	for _, name := range req.Normalizers {
		switch name {
		case "min_max":
			chain = append(chain, evo.MinMaxNormalizer{Window: window})
		case "power":
			chain = append(chain, evo.PowerNormalizer{Exponent: req.PowerExponent})
		case "shift_to_positive":
			chain = append(chain, evo.ShiftToPositiveNormalizer{})
		case "weighted_sum":
			chain = append(chain, evo.WeightedSumNormalizer{Weights: req.ObjectiveWeights})
		default:
			return nil, fmt.Errorf("unsupported normalizer: %s", name)
		}
	}
	if len(chain) == 0 {
		return nil, nil
	}
	return chain, nil
}

// mutatorsFromRequest orders operators by sorted name so equal seeds pick the
// same operator sequence regardless of map iteration order.
func mutatorsFromRequest(req RunRequest) ([]evo.WeightedMutator, error) {
	out := make([]evo.WeightedMutator, 0, len(req.MutatorWeights))
	for _, name := range sortedWeightNames(req.MutatorWeights) {
		var mutator evo.Mutator
		switch name {
		case "substitute_block":
			mutator = evo.SubstituteBlock{}
		case "shuffle_blocks":
			mutator = evo.ShuffleBlocks{}
		case "grow_chain":
			mutator = evo.GrowChain{}
		case "swap_topology":
			mutator = evo.SwapTopology{Topologies: req.Topologies}
		default:
			return nil, fmt.Errorf("unsupported mutator: %s", name)
		}
		out = append(out, evo.WeightedMutator{Mutator: mutator, Weight: req.MutatorWeights[name]})
	}
	return out, nil
}

func crossersFromRequest(req RunRequest) ([]evo.WeightedCrosser, error) {
	out := make([]evo.WeightedCrosser, 0, len(req.CrosserWeights))
	for _, name := range sortedWeightNames(req.CrosserWeights) {
		var crosser evo.Crosser
		switch name {
		case "recombine_blocks":
			crosser = evo.RecombineBlocks{}
		case "exchange_topology":
			crosser = evo.ExchangeTopology{}
		default:
			return nil, fmt.Errorf("unsupported crosser: %s", name)
		}
		out = append(out, evo.WeightedCrosser{Crosser: crosser, Weight: req.CrosserWeights[name]})
	}
	return out, nil
}

func terminatorsFromRequest(req RunRequest) []evo.Terminator {
	var out []evo.Terminator
	if req.FitnessGoal > 0 {
		out = append(out, evo.GoalFitness{Goal: req.FitnessGoal})
	}
	if req.PlateauWindow > 0 {
		out = append(out, evo.Plateau{Window: req.PlateauWindow, MinDelta: req.PlateauMinDelta})
	}
	if req.MaxWallClock > 0 {
		out = append(out, evo.WallClock{Budget: req.MaxWallClock})
	}
	if req.EvaluationBudget > 0 {
		out = append(out, evo.EvaluationBudget{Limit: req.EvaluationBudget})
	}
	return out
}

func sortedWeightNames(weights map[string]float64) []string {
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
