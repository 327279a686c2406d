package stats

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"athanor/internal/model"
)

func sampleArtifacts(runID string) RunArtifacts {
	return RunArtifacts{
		Config: RunConfig{
			RunID:          runID,
			Library:        "standard",
			Evaluator:      "molecular_weight",
			PopulationSize: 4,
			Generations:    3,
			Seed:           11,
			Workers:        2,
			EliteCount:     1,
			Selection:      "tournament",
			TournamentSize: 3,
			CrossoverRate:  0.3,
			FailurePolicy:  "exclude",
		},
		Summary: model.RunSummary{
			RunID:            runID,
			CreatedAtUTC:     time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC),
			Library:          "standard",
			Evaluator:        "molecular_weight",
			PopulationSize:   4,
			Generations:      3,
			Seed:             11,
			Status:           "completed",
			FinalBestFitness: 203.4,
		},
		BestByGeneration: []float64{118.2, 141.0, 203.4},
		FinalBestFitness: 203.4,
		GenerationDiagnostics: []model.GenerationDiagnostics{
			{Generation: 0, BestFitness: 118.2, CacheMisses: 4},
			{Generation: 1, BestFitness: 141.0, CacheHits: 1, CacheMisses: 3},
			{Generation: 2, BestFitness: 203.4, CacheHits: 2, CacheMisses: 2},
		},
		TopIndividuals: []model.TopIndividualRecord{
			{Rank: 1, Fitness: 203.4, IndividualID: "ind-9", Fingerprint: "fp-9", Topology: "ring", BlockCount: 4},
		},
		Lineage: []model.LineageRecord{
			{IndividualID: "ind-1", Fingerprint: "fp-1", Generation: 0, Kind: "seed", Summary: "linear_chain"},
			{IndividualID: "ind-9", Fingerprint: "fp-9", Generation: 2, Kind: "mutated", Operator: "substitute_block", ParentFingerprints: []string{"fp-1"}, Summary: "ring"},
		},
	}
}

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")
	runID := "run-123"

	runDir, err := WriteRunArtifacts(baseDir, sampleArtifacts(runID))
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	required := []string{"config.json", "summary.json", "fitness_history.json", "top_individuals.json", "lineage.json", "generation_diagnostics.json"}
	for _, file := range required {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}

	cfg, ok, err := ReadRunConfig(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read config: ok=%t err=%v", ok, err)
	}
	if cfg.Selection != "tournament" || cfg.PopulationSize != 4 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	summary, ok, err := ReadRunSummary(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read summary: ok=%t err=%v", ok, err)
	}
	if summary.Status != "completed" || summary.FinalBestFitness != 203.4 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	history, ok, err := ReadFitnessHistory(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read history: ok=%t err=%v", ok, err)
	}
	if len(history.BestByGeneration) != 3 || history.FinalBestFitness != 203.4 {
		t.Fatalf("unexpected history: %+v", history)
	}

	top, ok, err := ReadTopIndividuals(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read top: ok=%t err=%v", ok, err)
	}
	if len(top) != 1 || top[0].Fingerprint != "fp-9" {
		t.Fatalf("unexpected top: %+v", top)
	}

	lineage, ok, err := ReadLineage(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read lineage: ok=%t err=%v", ok, err)
	}
	if len(lineage) != 2 || lineage[1].Operator != "substitute_block" {
		t.Fatalf("unexpected lineage: %+v", lineage)
	}

	diagnostics, ok, err := ReadGenerationDiagnostics(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read diagnostics: ok=%t err=%v", ok, err)
	}
	if len(diagnostics) != 3 || diagnostics[2].CacheHits != 2 {
		t.Fatalf("unexpected diagnostics: %+v", diagnostics)
	}

	exportedDir, err := ExportRunArtifacts(baseDir, runID, outDir)
	if err != nil {
		t.Fatalf("export artifacts: %v", err)
	}
	for _, file := range required {
		if _, err := os.Stat(filepath.Join(exportedDir, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}
	if _, err := os.Stat(filepath.Join(exportedDir, "cache_export.json")); !os.IsNotExist(err) {
		t.Fatalf("cache export should be absent, got err=%v", err)
	}

	if err := WriteCacheExport(runDir, []model.CacheRecord{{Fingerprint: "fp-9", EvaluatorName: "molecular_weight", EvaluatorVersion: "v1"}}); err != nil {
		t.Fatalf("write cache export: %v", err)
	}
	if err := WriteFitnessSeries(runDir, []float64{118.2, 141.0, 203.4}); err != nil {
		t.Fatalf("write series: %v", err)
	}

	exportedDir, err = ExportRunArtifacts(baseDir, runID, outDir)
	if err != nil {
		t.Fatalf("export artifacts with optional files: %v", err)
	}
	for _, file := range []string{"cache_export.json", "fitness_series.csv"} {
		if _, err := os.Stat(filepath.Join(exportedDir, file)); err != nil {
			t.Fatalf("expected exported optional file %s: %v", file, err)
		}
	}

	records, ok, err := ReadCacheExport(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read cache export: ok=%t err=%v", ok, err)
	}
	if len(records) != 1 || records[0].Fingerprint != "fp-9" {
		t.Fatalf("unexpected cache export: %+v", records)
	}
}

func TestReadMissingRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()

	if _, ok, err := ReadRunConfig(baseDir, "nope"); err != nil || ok {
		t.Fatalf("missing config: ok=%t err=%v", ok, err)
	}
	if _, ok, err := ReadRunSummary(baseDir, "nope"); err != nil || ok {
		t.Fatalf("missing summary: ok=%t err=%v", ok, err)
	}
	if _, ok, err := ReadFitnessHistory(baseDir, "nope"); err != nil || ok {
		t.Fatalf("missing history: ok=%t err=%v", ok, err)
	}
	if _, ok, err := ReadTopIndividuals(baseDir, "nope"); err != nil || ok {
		t.Fatalf("missing top: ok=%t err=%v", ok, err)
	}
	if _, ok, err := ReadLineage(baseDir, "nope"); err != nil || ok {
		t.Fatalf("missing lineage: ok=%t err=%v", ok, err)
	}
	if _, ok, err := ReadFitnessSeries(baseDir, "nope"); err != nil || ok {
		t.Fatalf("missing series: ok=%t err=%v", ok, err)
	}
}

func TestWriteRunArtifactsRequiresRunID(t *testing.T) {
	if _, err := WriteRunArtifacts(t.TempDir(), RunArtifacts{}); err == nil {
		t.Fatal("expected missing run id error")
	}
}

func TestRunIndexNewestFirst(t *testing.T) {
	baseDir := t.TempDir()

	entries := []RunIndexEntry{
		{RunID: "run-old", Status: "completed", CreatedAtUTC: "2026-08-20T10:00:00Z"},
		{RunID: "run-new", Status: "completed", CreatedAtUTC: "2026-08-20T12:00:00Z"},
		{RunID: "run-mid", Status: "starved", CreatedAtUTC: "2026-08-20T11:00:00Z"},
	}
	for _, entry := range entries {
		if err := AppendRunIndex(baseDir, entry); err != nil {
			t.Fatalf("append %s: %v", entry.RunID, err)
		}
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	got := make([]string, 0, len(index))
	for _, entry := range index {
		got = append(got, entry.RunID)
	}
	want := []string{"run-new", "run-mid", "run-old"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected order: got=%v want=%v", got, want)
	}

	// Re-appending the same run replaces its entry instead of duplicating it.
	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-mid", Status: "completed", CreatedAtUTC: "2026-08-20T11:00:00Z"}); err != nil {
		t.Fatalf("replace run-mid: %v", err)
	}
	index, err = ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list after replace: %v", err)
	}
	if len(index) != 3 {
		t.Fatalf("expected 3 entries after replace, got %d", len(index))
	}
	if index[1].RunID != "run-mid" || index[1].Status != "completed" {
		t.Fatalf("replace did not win: %+v", index[1])
	}
}

func TestListRunIndexEmptyBase(t *testing.T) {
	index, err := ListRunIndex(t.TempDir())
	if err != nil {
		t.Fatalf("list empty index: %v", err)
	}
	if len(index) != 0 {
		t.Fatalf("expected empty index, got %+v", index)
	}
}

func TestWriteRunConfigValidatesRunID(t *testing.T) {
	baseDir := t.TempDir()

	if err := WriteRunConfig(baseDir, "run-1", RunConfig{RunID: "run-2"}); err == nil {
		t.Fatal("expected run id mismatch error")
	}
	if err := WriteRunConfig(baseDir, "", RunConfig{}); err == nil {
		t.Fatal("expected missing run id error")
	}

	// A blank config run id inherits the directory's.
	if err := WriteRunConfig(baseDir, "run-1", RunConfig{Library: "standard"}); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, ok, err := ReadRunConfig(baseDir, "run-1")
	if err != nil || !ok {
		t.Fatalf("read config: ok=%t err=%v", ok, err)
	}
	if cfg.RunID != "run-1" {
		t.Fatalf("run id was not inherited: %+v", cfg)
	}
}

func TestFitnessSeriesRoundTrip(t *testing.T) {
	baseDir := t.TempDir()
	runDir := filepath.Join(baseDir, "run-1")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	series := []float64{118.2, 141, 141, 203.4}
	if err := WriteFitnessSeries(runDir, series); err != nil {
		t.Fatalf("write series: %v", err)
	}

	loaded, ok, err := ReadFitnessSeries(baseDir, "run-1")
	if err != nil || !ok {
		t.Fatalf("read series: ok=%t err=%v", ok, err)
	}
	if !reflect.DeepEqual(loaded, series) {
		t.Fatalf("series mismatch: got=%v want=%v", loaded, series)
	}
}
