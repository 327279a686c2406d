package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"athanor/internal/assembly"
	"athanor/internal/evaluator"
	"athanor/internal/evo"
	"athanor/internal/storage"
)

func writeSpecFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write spec file: %v", err)
	}
	return path
}

func TestDefaultSpecIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default spec invalid: %v", err)
	}
}

func TestLoadRunSpec(t *testing.T) {
	path := writeSpecFile(t, `
run_id: demo-7
library: minimal
evaluator: molecular_weight
population_size: 12
generations: 9
seed: 99
workers: 2
elite_count: 3
selection:
  strategy: rank
  pressure: 1.4
normalization:
  chain: [min_max, weighted_sum]
  objective_weights:
    molecular_weight: 1.0
  global_window: true
operators:
  mutators:
    substitute_block: 4
    grow_chain: 1
  crossers:
    recombine_blocks: 1
  crossover_rate: 0.5
seeding:
  topologies: [ring]
  min_blocks: 3
  max_blocks: 5
termination:
  fitness_goal: 0.9
  max_wall_clock: 90s
cache:
  uri: sqlite:cache.db
storage:
  kind: sqlite
  path: runs.db
sinks:
  jsonl_path: progress.jsonl
  kafka:
    brokers: [localhost:9092]
    topic: athanor-progress
metrics:
  listen_addr: 127.0.0.1:9102
`)

	spec, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := spec.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if spec.RunID != "demo-7" || spec.Library != "minimal" || spec.Evaluator != "molecular_weight" {
		t.Fatalf("identity fields wrong: %+v", spec)
	}
	if spec.PopulationSize != 12 || spec.Generations != 9 || spec.Seed != 99 || spec.Workers != 2 || spec.EliteCount != 3 {
		t.Fatalf("run shape wrong: %+v", spec)
	}
	if spec.Selection.Strategy != "rank" || spec.Selection.Pressure != 1.4 {
		t.Fatalf("selection wrong: %+v", spec.Selection)
	}
	if !reflect.DeepEqual(spec.Normalization.Chain, []string{"min_max", "weighted_sum"}) || !spec.Normalization.GlobalWindow {
		t.Fatalf("normalization wrong: %+v", spec.Normalization)
	}
	if spec.Operators.Mutators["substitute_block"] != 4 || spec.Operators.CrossoverRate != 0.5 {
		t.Fatalf("operators wrong: %+v", spec.Operators)
	}
	if !reflect.DeepEqual(spec.Seeding.Topologies, []string{"ring"}) || spec.Seeding.MaxBlocks != 5 {
		t.Fatalf("seeding wrong: %+v", spec.Seeding)
	}
	if spec.Termination.FitnessGoal != 0.9 || spec.Termination.WallClockBudget() != 90*time.Second {
		t.Fatalf("termination wrong: %+v", spec.Termination)
	}
	if spec.Cache.URI != "sqlite:cache.db" || spec.Storage.Kind != "sqlite" || spec.Storage.Path != "runs.db" {
		t.Fatalf("backend selection wrong: cache=%+v storage=%+v", spec.Cache, spec.Storage)
	}
	if spec.Sinks.JSONLPath != "progress.jsonl" || spec.Sinks.Kafka.Topic != "athanor-progress" {
		t.Fatalf("sinks wrong: %+v", spec.Sinks)
	}
	if spec.Metrics.ListenAddr != "127.0.0.1:9102" {
		t.Fatalf("metrics wrong: %+v", spec.Metrics)
	}
}

func TestLoadKeepsDefaultsForOmittedFields(t *testing.T) {
	path := writeSpecFile(t, "population_size: 10\n")

	spec, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if spec.PopulationSize != 10 {
		t.Fatalf("population_size = %d, want 10", spec.PopulationSize)
	}
	want := Default()
	if spec.Library != want.Library || spec.Evaluator != want.Evaluator || spec.Generations != want.Generations {
		t.Fatalf("omitted fields lost defaults: %+v", spec)
	}
	if !reflect.DeepEqual(spec.Operators, want.Operators) {
		t.Fatalf("operator defaults lost: %+v", spec.Operators)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeSpecFile(t, "selektion:\n  strategy: tournament\n")

	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("ATHANOR_CACHE_URI", "redis:localhost:6379")
	t.Setenv("ATHANOR_MINIO_ACCESS_KEY", "env-access")
	t.Setenv("ATHANOR_MINIO_SECRET_KEY", "env-secret")
	t.Setenv("ATHANOR_NEO4J_PASSWORD", "env-pass")

	path := writeSpecFile(t, `
cache:
  uri: memory
archive:
  endpoint: localhost:9000
  bucket: athanor-runs
genealogy:
  uri: neo4j://localhost:7687
  username: neo4j
`)
	spec, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if spec.Cache.URI != "redis:localhost:6379" {
		t.Fatalf("cache URI not overridden: %q", spec.Cache.URI)
	}
	if spec.Archive.AccessKey != "env-access" || spec.Archive.SecretKey != "env-secret" {
		t.Fatalf("archive credentials not overridden: %+v", spec.Archive)
	}
	if spec.Genealogy.Password != "env-pass" {
		t.Fatalf("neo4j password not overridden: %+v", spec.Genealogy)
	}
	// Non-secret fields never come from the environment.
	if spec.Genealogy.Username != "neo4j" || spec.Archive.Bucket != "athanor-runs" {
		t.Fatalf("file-only fields changed: %+v %+v", spec.Genealogy, spec.Archive)
	}
}

func TestValidateRejectsUnknownNames(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*RunSpec)
		wantErr string
	}{
		{"library", func(s *RunSpec) { s.Library = "exotic" }, "unsupported library: exotic"},
		{"evaluator", func(s *RunSpec) { s.Evaluator = "docking_score" }, "unsupported evaluator: docking_score"},
		{"selection", func(s *RunSpec) { s.Selection.Strategy = "best_half" }, "unsupported selection strategy: best_half"},
		{"normalizer", func(s *RunSpec) { s.Normalization.Chain = []string{"zscore"} }, "unsupported normalizer: zscore"},
		{"mutator", func(s *RunSpec) { s.Operators.Mutators = map[string]float64{"frobnicate": 1} }, "unsupported mutator: frobnicate"},
		{"crosser", func(s *RunSpec) { s.Operators.Crossers = map[string]float64{"splice": 1} }, "unsupported crosser: splice"},
		{"topology", func(s *RunSpec) { s.Seeding.Topologies = []string{"lattice"} }, "unsupported topology: lattice"},
		{"failure policy", func(s *RunSpec) { s.FailurePolicy = "retry" }, "unsupported failure policy: retry"},
		{"store kind", func(s *RunSpec) { s.Storage.Kind = "unknown" }, "unsupported store kind: unknown"},
		{"cache scheme", func(s *RunSpec) { s.Cache.URI = "etcd:localhost:2379" }, "unsupported cache backend: etcd"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := Default()
			tc.mutate(&spec)
			err := spec.Validate()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidateCrossFieldRules(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*RunSpec)
		wantErr string
	}{
		{"population", func(s *RunSpec) { s.PopulationSize = 0 }, "population_size"},
		{"generations", func(s *RunSpec) { s.Generations = -1 }, "generations"},
		{"elite above population", func(s *RunSpec) { s.EliteCount = s.PopulationSize + 1 }, "elite_count"},
		{"pressure out of range", func(s *RunSpec) { s.Selection.Pressure = 2.5 }, "pressure"},
		{"weighted_sum without weights", func(s *RunSpec) {
			s.Normalization.Chain = []string{"weighted_sum"}
			s.Normalization.ObjectiveWeights = nil
		}, "objective_weights"},
		{"no mutators", func(s *RunSpec) { s.Operators.Mutators = nil }, "at least one mutator"},
		{"all-zero mutator weights", func(s *RunSpec) {
			s.Operators.Mutators = map[string]float64{"grow_chain": 0}
		}, "positive weight"},
		{"crossover without crossers", func(s *RunSpec) {
			s.Operators.Crossers = nil
			s.Operators.CrossoverRate = 0.3
		}, "needs at least one crosser"},
		{"crossover rate range", func(s *RunSpec) { s.Operators.CrossoverRate = 1.5 }, "crossover_rate"},
		{"block bounds", func(s *RunSpec) {
			s.Seeding.MinBlocks = 6
			s.Seeding.MaxBlocks = 2
		}, "max_blocks"},
		{"bad wall clock", func(s *RunSpec) { s.Termination.MaxWallClock = "ninety seconds" }, "max_wall_clock"},
		{"sqlite store without path", func(s *RunSpec) { s.Storage = StorageSpec{Kind: "sqlite"} }, "sqlite store requires a path"},
		{"sqlite cache without path", func(s *RunSpec) { s.Cache.URI = "sqlite:" }, "requires an address or path"},
		{"kafka brokers without topic", func(s *RunSpec) {
			s.Sinks.Kafka = KafkaSpec{Brokers: []string{"localhost:9092"}}
		}, "requires a topic"},
		{"kafka topic without brokers", func(s *RunSpec) {
			s.Sinks.Kafka = KafkaSpec{Topic: "progress"}
		}, "requires at least one broker"},
		{"archive without bucket", func(s *RunSpec) {
			s.Archive = ArchiveSpec{Endpoint: "localhost:9000"}
		}, "archive requires a bucket"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := Default()
			tc.mutate(&spec)
			err := spec.Validate()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	spec := Default()
	spec.RunID = "saved-run"
	spec.Seed = 1234
	spec.Sinks.JSONLPath = "progress.jsonl"

	path := filepath.Join(t.TempDir(), "nested", "run.yaml")
	if err := spec.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.RunID != "saved-run" || loaded.Seed != 1234 || loaded.Sinks.JSONLPath != "progress.jsonl" {
		t.Fatalf("round trip lost fields: %+v", loaded)
	}
	// Nil and empty collections marshal identically, so compare the
	// serialized forms rather than the structs.
	want, err := yaml.Marshal(spec)
	if err != nil {
		t.Fatalf("marshal original: %v", err)
	}
	got, err := yaml.Marshal(loaded)
	if err != nil {
		t.Fatalf("marshal loaded: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("round trip mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestWallClockBudget(t *testing.T) {
	if got := (TerminationSpec{}).WallClockBudget(); got != 0 {
		t.Fatalf("empty budget = %v, want 0", got)
	}
	if got := (TerminationSpec{MaxWallClock: "2m30s"}).WallClockBudget(); got != 150*time.Second {
		t.Fatalf("budget = %v, want 2m30s", got)
	}
}

// Option lists must track what the registries actually serve, or a spec that
// validates here would still fail to start.
func TestOptionListsMatchRegistries(t *testing.T) {
	if err := evo.RegisterBuiltinOperators(); err != nil {
		t.Fatalf("register operators: %v", err)
	}
	if err := evaluator.RegisterBuiltins(); err != nil {
		t.Fatalf("register evaluators: %v", err)
	}

	if got := assembly.ListLibraries(); !reflect.DeepEqual(got, ValidLibraries) {
		t.Fatalf("libraries drifted: config=%v registry=%v", ValidLibraries, got)
	}
	if got := assembly.ListTopologies(); !reflect.DeepEqual(got, ValidTopologies) {
		t.Fatalf("topologies drifted: config=%v registry=%v", ValidTopologies, got)
	}
	if got := evo.ListSelectors(); !reflect.DeepEqual(got, ValidSelections) {
		t.Fatalf("selections drifted: config=%v registry=%v", ValidSelections, got)
	}
	if got := evo.ListMutators(); !reflect.DeepEqual(got, ValidMutators) {
		t.Fatalf("mutators drifted: config=%v registry=%v", ValidMutators, got)
	}
	if got := evo.ListCrossers(); !reflect.DeepEqual(got, ValidCrossers) {
		t.Fatalf("crossers drifted: config=%v registry=%v", ValidCrossers, got)
	}
	if got := evaluator.List(); !reflect.DeepEqual(got, ValidEvaluators) {
		t.Fatalf("evaluators drifted: config=%v registry=%v", ValidEvaluators, got)
	}
	if got := storage.ListStoreKinds(); !reflect.DeepEqual(got, ValidStoreKinds) {
		t.Fatalf("store kinds drifted: config=%v registry=%v", ValidStoreKinds, got)
	}
}
