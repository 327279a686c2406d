package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"athanor/internal/assembly"
	"athanor/internal/config"
	"athanor/internal/evaluator"
	"athanor/internal/evo"
	"athanor/internal/stats"
	"athanor/internal/storage"
	"athanor/pkg/athanor"
)

const (
	artifactsDir = "runs"
	exportsDir   = "exports"
	defaultDB    = "athanor.db"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "show-run":
		return runShowRun(ctx, args[1:])
	case "lineage":
		return runLineage(ctx, args[1:])
	case "fitness":
		return runFitness(ctx, args[1:])
	case "diagnostics":
		return runDiagnostics(ctx, args[1:])
	case "top":
		return runTop(ctx, args[1:])
	case "ancestry":
		return runAncestry(ctx, args[1:])
	case "export-run":
		return runExportRun(ctx, args[1:])
	case "cache-export":
		return runCacheExport(ctx, args[1:])
	case "cache-stats":
		return runCacheStats(ctx, args[1:])
	case "monitor":
		return runMonitor(ctx, args[1:])
	case "profiles":
		return runProfiles(ctx, args[1:])
	case "libraries":
		return runLibraries(ctx, args[1:])
	case "operators":
		return runOperators(ctx, args[1:])
	case "evaluators":
		return runEvaluators(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "run store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDB, "sqlite run store path")
	cacheURI := fs.String("cache", "memory", "evaluation cache URI")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := athanor.New(athanor.Options{
		StoreKind:    *storeKind,
		StorePath:    *dbPath,
		CacheURI:     *cacheURI,
		ArtifactsDir: artifactsDir,
		ExportsDir:   exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s cache=%s\n", *storeKind, *cacheURI)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "run store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDB, "sqlite run store path")
	cacheURI := fs.String("cache", "memory", "evaluation cache URI")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := athanor.New(athanor.Options{
		StoreKind:    *storeKind,
		StorePath:    *dbPath,
		CacheURI:     *cacheURI,
		ArtifactsDir: artifactsDir,
		ExportsDir:   exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Reset(ctx); err != nil {
		return err
	}

	fmt.Printf("reset store=%s\n", *storeKind)
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional YAML run spec path")
	profileName := fs.String("profile", "", "named preset: quick|thorough|diverse")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	libraryName := fs.String("library", "standard", "building block library: minimal|standard")
	evaluatorName := fs.String("evaluator", "composite", "fitness evaluator: composite|heteroatom_diversity|molecular_weight|ring_richness")
	population := fs.Int("pop", 32, "population size")
	generations := fs.Int("gens", 25, "generation count")
	seed := fs.Int64("seed", 1, "rng seed")
	workers := fs.Int("workers", 4, "evaluation worker count")
	eliteCount := fs.Int("elite", 0, "elites carried unchanged per generation (0 derives a fifth of the population)")
	selectionName := fs.String("selection", "tournament", "parent selection strategy: elite|rank|roulette|tournament")
	tournamentSize := fs.Int("tournament-size", 3, "tournament size for tournament selection")
	selectionPressure := fs.Float64("selection-pressure", 0, "rank selection pressure in (1, 2] (0 applies 1.5)")
	normalizerChain := fs.String("normalizers", "", "comma-separated normalizer chain: min_max|power|shift_to_positive|weighted_sum")
	objectiveWeights := fs.String("objective-weights", "", "weighted_sum objective weights as name=value pairs")
	powerExponent := fs.Float64("power-exponent", 0, "power normalizer exponent (0 applies 2)")
	globalWindow := fs.Bool("global-window", false, "scale min_max against bounds observed across the whole run")
	mutatorWeights := fs.String("mutators", "", "mutator weights as name=value pairs, e.g. substitute_block=5,grow_chain=2")
	crosserWeights := fs.String("crossers", "", "crosser weights as name=value pairs, e.g. recombine_blocks=3")
	crossoverRate := fs.Float64("crossover-rate", 0.25, "fraction of offspring bred by crossover, in [0, 1]")
	topologies := fs.String("topologies", "", "comma-separated seeding topology whitelist: linear_chain|ring|star (empty allows all)")
	minBlocks := fs.Int("min-blocks", 2, "minimum building blocks per seeded recipe")
	maxBlocks := fs.Int("max-blocks", 6, "maximum building blocks per seeded recipe")
	failurePolicy := fs.String("failure-policy", "exclude", "evaluation failure policy: abort|exclude")
	attemptMultiplier := fs.Int("attempt-multiplier", 10, "variation attempt budget as a multiple of the population size")
	fitnessGoal := fs.Float64("fitness-goal", 0, "early-stop best fitness goal (0 disables)")
	plateauWindow := fs.Int("plateau-window", 8, "early-stop plateau window in generations (0 disables)")
	plateauMinDelta := fs.Float64("plateau-min-delta", 0.0005, "minimum best fitness gain that resets the plateau window")
	maxWallClock := fs.String("max-wall-clock", "", "wall clock budget as a duration string such as 90s (empty disables)")
	evaluationBudget := fs.Int("evaluation-budget", 0, "early-stop total evaluation limit (0 disables)")
	startPaused := fs.Bool("start-paused", false, "queue a pause ahead of the first generation (requires continue)")
	autoContinueMS := fs.Int("auto-continue-ms", 0, "auto-send continue after N milliseconds when start-paused is set (0 disables)")
	cacheURI := fs.String("cache", "memory", "evaluation cache URI: memory|sqlite:PATH|badger:PATH|redis:ADDR|postgres:DSN")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "run store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDB, "sqlite run store path")
	jsonlPath := fs.String("jsonl", "", "append per-generation progress as JSON lines to this path")
	kafkaBrokers := fs.String("kafka-brokers", "", "comma-separated Kafka brokers for the progress sink")
	kafkaTopic := fs.String("kafka-topic", "", "Kafka topic for the progress sink")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
	verbose := fs.Bool("verbose", false, "log engine progress to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})
	if *configPath != "" && *profileName != "" {
		return errors.New("use either --config or --profile, not both")
	}

	spec := config.Default()
	var err error
	if *configPath != "" {
		spec, err = config.Load(*configPath)
		if err != nil {
			return err
		}
	}
	if *profileName != "" {
		spec, err = config.Profile(*profileName)
		if err != nil {
			return err
		}
	}
	err = overrideSpecFromFlags(&spec, setFlags, map[string]any{
		"run-id":             *runID,
		"library":            *libraryName,
		"evaluator":          *evaluatorName,
		"pop":                *population,
		"gens":               *generations,
		"seed":               *seed,
		"workers":            *workers,
		"elite":              *eliteCount,
		"selection":          *selectionName,
		"tournament-size":    *tournamentSize,
		"selection-pressure": *selectionPressure,
		"normalizers":        *normalizerChain,
		"objective-weights":  *objectiveWeights,
		"power-exponent":     *powerExponent,
		"global-window":      *globalWindow,
		"mutators":           *mutatorWeights,
		"crossers":           *crosserWeights,
		"crossover-rate":     *crossoverRate,
		"topologies":         *topologies,
		"min-blocks":         *minBlocks,
		"max-blocks":         *maxBlocks,
		"failure-policy":     *failurePolicy,
		"attempt-multiplier": *attemptMultiplier,
		"fitness-goal":       *fitnessGoal,
		"plateau-window":     *plateauWindow,
		"plateau-min-delta":  *plateauMinDelta,
		"max-wall-clock":     *maxWallClock,
		"evaluation-budget":  *evaluationBudget,
		"cache":              *cacheURI,
		"store":              *storeKind,
		"db-path":            *dbPath,
		"jsonl":              *jsonlPath,
		"kafka-brokers":      *kafkaBrokers,
		"kafka-topic":        *kafkaTopic,
		"metrics-addr":       *metricsAddr,
	})
	if err != nil {
		return err
	}

	opts := optionsFromSpec(spec)
	if *verbose {
		logger, lerr := zap.NewDevelopment()
		if lerr != nil {
			return lerr
		}
		defer func() {
			_ = logger.Sync()
		}()
		opts.Logger = logger
	}

	client, err := athanor.New(opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	req := requestFromSpec(spec)
	req.StartPaused = *startPaused
	req.AutoContinueAfter = time.Duration(*autoContinueMS) * time.Millisecond

	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("run completed run_id=%s library=%s evaluator=%s pop=%d gens=%d seed=%d\n",
		summary.RunID, spec.Library, spec.Evaluator, spec.PopulationSize, spec.Generations, spec.Seed)
	for i, best := range summary.BestByGeneration {
		fmt.Printf("generation=%d best_fitness=%.6f\n", i, best)
	}
	fmt.Printf("final_best_fitness=%.6f\n", summary.FinalBestFitness)
	fmt.Printf("status=%s stop_reason=%s evaluations=%d\n", summary.Status, summary.StopReason, summary.Evaluations)
	fmt.Printf("artifacts_dir=%s\n", filepath.Clean(summary.ArtifactsDir))
	return nil
}

func runRuns(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	entries, err := stats.ListRunIndex(artifactsDir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	if len(entries) > *limit {
		entries = entries[:*limit]
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	for _, e := range entries {
		fmt.Printf("run_id=%s created_at=%s library=%s evaluator=%s seed=%d pop=%d gens=%d status=%s final_best_fitness=%.6f\n",
			e.RunID,
			e.CreatedAtUTC,
			e.Library,
			e.Evaluator,
			e.Seed,
			e.PopulationSize,
			e.Generations,
			e.Status,
			e.FinalBestFitness,
		)
	}
	return nil
}

func runShowRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show-run", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show the most recent run from the run index")
	jsonOut := fs.Bool("json", false, "emit the run record as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "run store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDB, "sqlite run store path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("show-run requires --run-id or --latest")
	}

	client, err := athanor.New(athanor.Options{
		StoreKind:    *storeKind,
		StorePath:    *dbPath,
		ArtifactsDir: artifactsDir,
		ExportsDir:   exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	record, err := client.RunRecord(ctx, athanor.RunRecordRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	}

	fmt.Printf("run_id=%s created_at=%s library=%s evaluator=%s pop=%d gens=%d seed=%d status=%s final_best_fitness=%.6f artifacts_dir=%s\n",
		record.RunID,
		record.CreatedAtUTC.UTC().Format(time.RFC3339),
		record.Library,
		record.Evaluator,
		record.PopulationSize,
		record.Generations,
		record.Seed,
		record.Status,
		record.FinalBestFitness,
		record.ArtifactsDir,
	)
	return nil
}

func runLineage(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("lineage", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show lineage for the most recent run from the run index")
	limit := fs.Int("limit", 50, "max lineage rows to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit lineage rows as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "run store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDB, "sqlite run store path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("lineage requires --run-id or --latest")
	}

	client, err := athanor.New(athanor.Options{
		StoreKind:    *storeKind,
		StorePath:    *dbPath,
		ArtifactsDir: artifactsDir,
		ExportsDir:   exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	lineage, err := client.Lineage(ctx, athanor.LineageRequest{
		RunID:  *runID,
		Latest: *latest,
		Limit:  *limit,
	})
	if err != nil {
		return err
	}
	if len(lineage) == 0 {
		fmt.Println("no lineage records")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(lineage)
	}

	for _, rec := range lineage {
		fmt.Printf("gen=%d individual_id=%s kind=%s operator=%s fingerprint=%s parents=%s summary=%s\n",
			rec.Generation,
			rec.IndividualID,
			rec.Kind,
			rec.Operator,
			rec.Fingerprint,
			strings.Join(rec.ParentFingerprints, ","),
			rec.Summary,
		)
	}
	return nil
}

func runFitness(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fitness", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show fitness history for the most recent run from the run index")
	limit := fs.Int("limit", 50, "max generations to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit fitness history as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "run store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDB, "sqlite run store path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("fitness requires --run-id or --latest")
	}

	client, err := athanor.New(athanor.Options{
		StoreKind:    *storeKind,
		StorePath:    *dbPath,
		ArtifactsDir: artifactsDir,
		ExportsDir:   exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.FitnessHistory(ctx, athanor.FitnessHistoryRequest{
		RunID:  *runID,
		Latest: *latest,
		Limit:  *limit,
	})
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Println("no fitness history")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(history)
	}

	for i, best := range history {
		fmt.Printf("generation=%d best_fitness=%.6f\n", i, best)
	}
	return nil
}

func runDiagnostics(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("diagnostics", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show diagnostics for the most recent run from the run index")
	limit := fs.Int("limit", 50, "max generations to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit diagnostics as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "run store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDB, "sqlite run store path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("diagnostics requires --run-id or --latest")
	}

	client, err := athanor.New(athanor.Options{
		StoreKind:    *storeKind,
		StorePath:    *dbPath,
		ArtifactsDir: artifactsDir,
		ExportsDir:   exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	diagnostics, err := client.Diagnostics(ctx, athanor.DiagnosticsRequest{
		RunID:  *runID,
		Latest: *latest,
		Limit:  *limit,
	})
	if err != nil {
		return err
	}
	if len(diagnostics) == 0 {
		fmt.Println("no diagnostics")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(diagnostics)
	}

	for _, d := range diagnostics {
		fmt.Printf("generation=%d best=%.6f mean=%.6f worst=%.6f fingerprints=%d topologies=%d cache_hits=%d cache_misses=%d evaluation_failures=%d variation_attempts=%d operator_failures=%d duration_ms=%d\n",
			d.Generation,
			d.BestFitness,
			d.MeanFitness,
			d.WorstFitness,
			d.UniqueFingerprints,
			d.UniqueTopologies,
			d.CacheHits,
			d.CacheMisses,
			d.EvaluationFailures,
			d.VariationAttempts,
			d.OperatorFailures,
			d.DurationMillis,
		)
	}
	return nil
}

func runTop(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("top", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show the leaderboard for the most recent run from the run index")
	limit := fs.Int("limit", 5, "max leaderboard rows to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit the leaderboard as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "run store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDB, "sqlite run store path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("top requires --run-id or --latest")
	}

	client, err := athanor.New(athanor.Options{
		StoreKind:    *storeKind,
		StorePath:    *dbPath,
		ArtifactsDir: artifactsDir,
		ExportsDir:   exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	top, err := client.TopIndividuals(ctx, athanor.TopIndividualsRequest{
		RunID:  *runID,
		Latest: *latest,
		Limit:  *limit,
	})
	if err != nil {
		return err
	}
	if len(top) == 0 {
		fmt.Println("no top individuals")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(top)
	}

	for _, item := range top {
		fmt.Printf("rank=%d fitness=%.6f individual_id=%s fingerprint=%s topology=%s blocks=%d\n",
			item.Rank,
			item.Fitness,
			item.IndividualID,
			item.Fingerprint,
			item.Topology,
			item.BlockCount,
		)
	}
	return nil
}

func runAncestry(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ancestry", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "walk ancestry in the most recent run from the run index")
	fingerprint := fs.String("fingerprint", "", "structure fingerprint to walk from")
	depth := fs.Int("depth", 0, "max construction steps to walk (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit the ancestry as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "run store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDB, "sqlite run store path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("ancestry requires --run-id or --latest")
	}
	if *fingerprint == "" {
		return errors.New("ancestry requires --fingerprint")
	}

	client, err := athanor.New(athanor.Options{
		StoreKind:    *storeKind,
		StorePath:    *dbPath,
		ArtifactsDir: artifactsDir,
		ExportsDir:   exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	ancestry, err := client.Ancestry(ctx, athanor.AncestryRequest{
		RunID:       *runID,
		Latest:      *latest,
		Fingerprint: *fingerprint,
		Depth:       *depth,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ancestry)
	}

	fmt.Printf("run_id=%s fingerprint=%s gen=%d kind=%s operator=%s ancestors=%d descendants=%d\n",
		ancestry.RunID,
		ancestry.Fingerprint,
		ancestry.Record.Generation,
		ancestry.Record.Kind,
		ancestry.Record.Operator,
		len(ancestry.Ancestors),
		len(ancestry.Descendants),
	)
	for _, fp := range ancestry.Ancestors {
		fmt.Printf("ancestor=%s\n", fp)
	}
	for _, fp := range ancestry.Descendants {
		fmt.Printf("descendant=%s\n", fp)
	}
	return nil
}

func runExportRun(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("export-run", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from the run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export-run requires --run-id or --latest")
	}
	if *latest {
		entries, err := stats.ListRunIndex(artifactsDir)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return errors.New("no runs available to export")
		}
		*runID = entries[0].RunID
	}

	exportedDir, err := stats.ExportRunArtifacts(artifactsDir, *runID, *outDir)
	if err != nil {
		return err
	}

	fmt.Printf("exported run_id=%s to=%s\n", *runID, filepath.Clean(exportedDir))
	return nil
}

func runCacheExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cache-export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export into the most recent run from the run index")
	cacheURI := fs.String("cache", "memory", "evaluation cache URI")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "run store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDB, "sqlite run store path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("cache-export requires --run-id or --latest")
	}

	client, err := athanor.New(athanor.Options{
		StoreKind:    *storeKind,
		StorePath:    *dbPath,
		CacheURI:     *cacheURI,
		ArtifactsDir: artifactsDir,
		ExportsDir:   exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.ExportCache(ctx, athanor.CacheExportRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}

	fmt.Printf("cache exported run_id=%s records=%d path=%s\n", summary.RunID, summary.Records, filepath.Clean(summary.Path))
	return nil
}

func runCacheStats(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cache-stats", flag.ContinueOnError)
	cacheURI := fs.String("cache", "memory", "evaluation cache URI")
	jsonOut := fs.Bool("json", false, "emit cache stats as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := athanor.New(athanor.Options{
		CacheURI:     *cacheURI,
		ArtifactsDir: artifactsDir,
		ExportsDir:   exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	records, err := client.CacheRecords(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no cache records")
		return nil
	}

	type cacheStat struct {
		Evaluator string `json:"evaluator"`
		Version   string `json:"version"`
		Records   int    `json:"records"`
	}
	counts := make(map[cacheStat]int)
	for _, rec := range records {
		counts[cacheStat{Evaluator: rec.EvaluatorName, Version: rec.EvaluatorVersion}]++
	}
	groups := make([]cacheStat, 0, len(counts))
	for key, n := range counts {
		key.Records = n
		groups = append(groups, key)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Evaluator != groups[j].Evaluator {
			return groups[i].Evaluator < groups[j].Evaluator
		}
		return groups[i].Version < groups[j].Version
	})

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Records    int         `json:"records"`
			Evaluators []cacheStat `json:"evaluators"`
		}{Records: len(records), Evaluators: groups})
	}

	fmt.Printf("cache_records=%d\n", len(records))
	for _, group := range groups {
		fmt.Printf("evaluator=%s version=%s records=%d\n", group.Evaluator, group.Version, group.Records)
	}
	return nil
}

func runMonitor(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("monitor requires an action: pause|continue|stop")
	}
	action := args[0]
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "run store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDB, "sqlite run store path")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *runID == "" {
		return errors.New("monitor requires --run-id")
	}

	client, err := athanor.New(athanor.Options{
		StoreKind:    *storeKind,
		StorePath:    *dbPath,
		ArtifactsDir: artifactsDir,
		ExportsDir:   exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	req := athanor.RunControlRequest{RunID: *runID}
	switch action {
	case "pause":
		err = client.PauseRun(ctx, req)
	case "continue":
		err = client.ContinueRun(ctx, req)
	case "stop":
		err = client.StopRun(ctx, req)
	default:
		return fmt.Errorf("unknown monitor action: %s", action)
	}
	if err != nil {
		return err
	}

	fmt.Printf("monitor action=%s run_id=%s\n", action, *runID)
	return nil
}

func runProfiles(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("profiles", flag.ContinueOnError)
	id := fs.String("id", "", "print one profile in full")
	jsonOut := fs.Bool("json", false, "emit profiles as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *id != "" {
		spec, err := config.Profile(*id)
		if err != nil {
			return err
		}
		if *jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(spec)
		}
		fmt.Printf("id=%s library=%s evaluator=%s pop=%d gens=%d workers=%d selection=%s crossover_rate=%.2f cache=%s store=%s\n",
			*id,
			spec.Library,
			spec.Evaluator,
			spec.PopulationSize,
			spec.Generations,
			spec.Workers,
			spec.Selection.Strategy,
			spec.Operators.CrossoverRate,
			spec.Cache.URI,
			spec.Storage.Kind,
		)
		for _, name := range sortedWeightNames(spec.Operators.Mutators) {
			fmt.Printf("mutator=%s weight=%.2f\n", name, spec.Operators.Mutators[name])
		}
		for _, name := range sortedWeightNames(spec.Operators.Crossers) {
			fmt.Printf("crosser=%s weight=%.2f\n", name, spec.Operators.Crossers[name])
		}
		return nil
	}

	names := config.ListProfiles()
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(names)
	}
	for _, name := range names {
		spec, err := config.Profile(name)
		if err != nil {
			return err
		}
		fmt.Printf("id=%s pop=%d gens=%d workers=%d selection=%s crossover_rate=%.2f cache=%s store=%s\n",
			name,
			spec.PopulationSize,
			spec.Generations,
			spec.Workers,
			spec.Selection.Strategy,
			spec.Operators.CrossoverRate,
			spec.Cache.URI,
			spec.Storage.Kind,
		)
	}
	return nil
}

func runLibraries(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("libraries", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "emit libraries as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	type libraryItem struct {
		Name     string   `json:"name"`
		Blocks   int      `json:"blocks"`
		BlockIDs []string `json:"block_ids"`
	}
	items := make([]libraryItem, 0, 2)
	for _, name := range assembly.ListLibraries() {
		lib, err := assembly.BuiltinLibrary(name)
		if err != nil {
			return err
		}
		items = append(items, libraryItem{Name: lib.Name(), Blocks: lib.Size(), BlockIDs: lib.BlockIDs()})
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Libraries  []libraryItem `json:"libraries"`
			Topologies []string      `json:"topologies"`
		}{Libraries: items, Topologies: assembly.ListTopologies()})
	}

	for _, item := range items {
		fmt.Printf("library=%s blocks=%d ids=%s\n", item.Name, item.Blocks, strings.Join(item.BlockIDs, ","))
	}
	fmt.Printf("topologies=%s\n", strings.Join(assembly.ListTopologies(), ","))
	return nil
}

func runOperators(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("operators", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "emit operators as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := evo.RegisterBuiltinOperators(); err != nil {
		return err
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Mutators  []string `json:"mutators"`
			Crossers  []string `json:"crossers"`
			Selectors []string `json:"selectors"`
		}{Mutators: evo.ListMutators(), Crossers: evo.ListCrossers(), Selectors: evo.ListSelectors()})
	}

	for _, name := range evo.ListMutators() {
		fmt.Printf("mutator=%s\n", name)
	}
	for _, name := range evo.ListCrossers() {
		fmt.Printf("crosser=%s\n", name)
	}
	for _, name := range evo.ListSelectors() {
		fmt.Printf("selector=%s\n", name)
	}
	return nil
}

func runEvaluators(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("evaluators", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "emit evaluators as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := evaluator.RegisterBuiltins(); err != nil && !errors.Is(err, evaluator.ErrEvaluatorExists) {
		return err
	}

	type evaluatorItem struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	items := make([]evaluatorItem, 0, 4)
	for _, name := range evaluator.List() {
		ev, err := evaluator.Resolve(name)
		if err != nil {
			return err
		}
		items = append(items, evaluatorItem{Name: ev.Name(), Version: ev.Version()})
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}
	for _, item := range items {
		fmt.Printf("evaluator=%s version=%s\n", item.Name, item.Version)
	}
	return nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: athanorctl <init|reset|run|runs|show-run|lineage|fitness|diagnostics|top|ancestry|export-run|cache-export|cache-stats|monitor|profiles|libraries|operators|evaluators> [flags]", msg)
}
