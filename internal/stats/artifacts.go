package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"athanor/internal/model"
)

const runIndexFile = "run_index.json"

// RunConfig is the input side of a run, written next to its outputs so an
// artifact directory is self-describing.
type RunConfig struct {
	RunID             string             `json:"run_id"`
	Library           string             `json:"library"`
	Evaluator         string             `json:"evaluator"`
	PopulationSize    int                `json:"population_size"`
	Generations       int                `json:"generations"`
	Seed              int64              `json:"seed"`
	Workers           int                `json:"workers"`
	EliteCount        int                `json:"elite_count"`
	Selection         string             `json:"selection"`
	TournamentSize    int                `json:"tournament_size,omitempty"`
	SelectionPressure float64            `json:"selection_pressure,omitempty"`
	Normalizers       []string           `json:"normalizers,omitempty"`
	ObjectiveWeights  map[string]float64 `json:"objective_weights,omitempty"`
	MutatorWeights    map[string]float64 `json:"mutator_weights,omitempty"`
	CrosserWeights    map[string]float64 `json:"crosser_weights,omitempty"`
	CrossoverRate     float64            `json:"crossover_rate"`
	AttemptMultiplier int                `json:"attempt_multiplier"`
	FailurePolicy     string             `json:"failure_policy"`
	FitnessGoal       float64            `json:"fitness_goal,omitempty"`
	PlateauWindow     int                `json:"plateau_window,omitempty"`
	PlateauMinDelta   float64            `json:"plateau_min_delta,omitempty"`
	MaxWallClockMS    int64              `json:"max_wall_clock_ms,omitempty"`
	EvaluationBudget  int                `json:"evaluation_budget,omitempty"`
	CacheURI          string             `json:"cache_uri,omitempty"`
	StoreKind         string             `json:"store_kind,omitempty"`
	Topologies        []string           `json:"topologies,omitempty"`
	MinBlocks         int                `json:"min_blocks,omitempty"`
	MaxBlocks         int                `json:"max_blocks,omitempty"`
}

// FitnessHistory is the wire shape of fitness_history.json.
type FitnessHistory struct {
	BestByGeneration []float64 `json:"best_by_generation"`
	FinalBestFitness float64   `json:"final_best_fitness"`
}

// RunArtifacts is everything a finished run writes to its directory.
type RunArtifacts struct {
	Config                RunConfig
	Summary               model.RunSummary
	BestByGeneration      []float64
	FinalBestFitness      float64
	GenerationDiagnostics []model.GenerationDiagnostics
	TopIndividuals        []model.TopIndividualRecord
	Lineage               []model.LineageRecord
}

// RunIndexEntry is one row of run_index.json, the cross-run ledger.
type RunIndexEntry struct {
	RunID            string  `json:"run_id"`
	Library          string  `json:"library"`
	Evaluator        string  `json:"evaluator"`
	PopulationSize   int     `json:"population_size"`
	Generations      int     `json:"generations"`
	Seed             int64   `json:"seed"`
	Workers          int     `json:"workers"`
	EliteCount       int     `json:"elite_count"`
	Status           string  `json:"status"`
	FinalBestFitness float64 `json:"final_best_fitness"`
	CreatedAtUTC     string  `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "summary.json"), artifacts.Summary); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "fitness_history.json"), FitnessHistory{
		BestByGeneration: artifacts.BestByGeneration,
		FinalBestFitness: artifacts.FinalBestFitness,
	}); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "top_individuals.json"), artifacts.TopIndividuals); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "lineage.json"), artifacts.Lineage); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "generation_diagnostics.json"), artifacts.GenerationDiagnostics); err != nil {
		return "", err
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	files := []string{"config.json", "summary.json", "fitness_history.json", "top_individuals.json", "lineage.json", "generation_diagnostics.json"}
	for _, file := range files {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range []string{"cache_export.json", "fitness_series.csv"} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err == nil {
			if err := copyFile(path, filepath.Join(dst, file)); err != nil {
				return "", err
			}
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	path := filepath.Join(baseDir, runID, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, "config.json"), cfg)
}

func ReadRunSummary(baseDir, runID string) (model.RunSummary, bool, error) {
	path := filepath.Join(baseDir, runID, "summary.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.RunSummary{}, false, nil
		}
		return model.RunSummary{}, false, err
	}

	var summary model.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.RunSummary{}, false, err
	}
	return summary, true, nil
}

func ReadFitnessHistory(baseDir, runID string) (FitnessHistory, bool, error) {
	path := filepath.Join(baseDir, runID, "fitness_history.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FitnessHistory{}, false, nil
		}
		return FitnessHistory{}, false, err
	}

	var history FitnessHistory
	if err := json.Unmarshal(data, &history); err != nil {
		return FitnessHistory{}, false, err
	}
	return history, true, nil
}

func ReadTopIndividuals(baseDir, runID string) ([]model.TopIndividualRecord, bool, error) {
	path := filepath.Join(baseDir, runID, "top_individuals.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var top []model.TopIndividualRecord
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, false, err
	}
	return top, true, nil
}

func ReadLineage(baseDir, runID string) ([]model.LineageRecord, bool, error) {
	path := filepath.Join(baseDir, runID, "lineage.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var lineage []model.LineageRecord
	if err := json.Unmarshal(data, &lineage); err != nil {
		return nil, false, err
	}
	return lineage, true, nil
}

func ReadGenerationDiagnostics(baseDir, runID string) ([]model.GenerationDiagnostics, bool, error) {
	path := filepath.Join(baseDir, runID, "generation_diagnostics.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var diagnostics []model.GenerationDiagnostics
	if err := json.Unmarshal(data, &diagnostics); err != nil {
		return nil, false, err
	}
	return diagnostics, true, nil
}

func WriteCacheExport(runDir string, records []model.CacheRecord) error {
	return writeJSON(filepath.Join(runDir, "cache_export.json"), records)
}

func ReadCacheExport(baseDir, runID string) ([]model.CacheRecord, bool, error) {
	path := filepath.Join(baseDir, runID, "cache_export.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var records []model.CacheRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, false, err
	}
	return records, true, nil
}

func WriteFitnessSeries(runDir string, bestByGeneration []float64) error {
	path := filepath.Join(runDir, "fitness_series.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"generation", "best_fitness"}); err != nil {
		return err
	}
	for i, best := range bestByGeneration {
		if err := writer.Write([]string{
			strconv.Itoa(i),
			strconv.FormatFloat(best, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadFitnessSeries(baseDir, runID string) ([]float64, bool, error) {
	path := filepath.Join(baseDir, runID, "fitness_series.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("fitness series header must have at least 2 columns")
	}

	series := make([]float64, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 2 {
			return nil, false, fmt.Errorf("fitness series row must have at least 2 columns")
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
