package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// ConstructionKind tags how an individual came to exist.
type ConstructionKind string

const (
	ConstructionSeed    ConstructionKind = "seed"
	ConstructionMutated ConstructionKind = "mutated"
	ConstructionCrossed ConstructionKind = "crossed"
)

// ConstructionRecord is written once when an individual is created and never
// mutated afterwards. Parent references are fingerprints, not pointers, so
// lineage forms a DAG without ownership edges.
type ConstructionRecord struct {
	Kind               ConstructionKind `json:"kind"`
	ParentFingerprints []string         `json:"parent_fingerprints,omitempty"`
	Operator           string           `json:"operator,omitempty"`
}

// Individual is one candidate structure: its assembly recipe, the graph the
// recipe materialized into, identity, lineage and fitness. Fields are set at
// creation and treated as immutable from then on. A nil Fitness means the
// individual has not been evaluated yet.
type Individual struct {
	VersionedRecord
	ID           string             `json:"id"`
	Fingerprint  string             `json:"fingerprint"`
	Recipe       Recipe             `json:"recipe"`
	Construction ConstructionRecord `json:"construction"`
	Generation   int                `json:"generation"`
	Fitness      *float64           `json:"fitness,omitempty"`
	Objectives   map[string]float64 `json:"objectives,omitempty"`
}

// Recipe is the evolvable genotype: a topology name plus the ordered building
// blocks to assemble on it.
type Recipe struct {
	Topology string   `json:"topology"`
	BlockIDs []string `json:"block_ids"`
}

// Population is the fixed-size working set for one generation.
type Population struct {
	VersionedRecord
	ID          string       `json:"id"`
	Generation  int          `json:"generation"`
	Individuals []Individual `json:"individuals"`
}

// Artifact is what an evaluation produces and what the cache stores per
// fingerprint: the scalar fitness, per-objective scores and any structural
// descriptors the evaluator reported.
type Artifact struct {
	Fitness     float64            `json:"fitness"`
	Objectives  map[string]float64 `json:"objectives,omitempty"`
	Descriptors map[string]float64 `json:"descriptors,omitempty"`
}

// CacheRecord is the append-only unit of the content-addressed store. At most
// one record exists per (fingerprint, evaluator version).
type CacheRecord struct {
	VersionedRecord
	Fingerprint      string    `json:"fingerprint"`
	EvaluatorName    string    `json:"evaluator_name"`
	EvaluatorVersion string    `json:"evaluator_version"`
	Artifact         Artifact  `json:"artifact"`
	CreatedAtUTC     time.Time `json:"created_at_utc"`
}

// LineageRecord is the flat, persistable projection of one construction edge.
type LineageRecord struct {
	VersionedRecord
	IndividualID       string   `json:"individual_id"`
	Fingerprint        string   `json:"fingerprint"`
	Generation         int      `json:"generation"`
	Kind               string   `json:"kind"`
	Operator           string   `json:"operator,omitempty"`
	ParentFingerprints []string `json:"parent_fingerprints,omitempty"`
	Summary            string   `json:"summary,omitempty"`
}

// RunSummary records the outcome of one evolution run.
type RunSummary struct {
	VersionedRecord
	RunID            string    `json:"run_id"`
	CreatedAtUTC     time.Time `json:"created_at_utc"`
	Library          string    `json:"library"`
	Evaluator        string    `json:"evaluator"`
	PopulationSize   int       `json:"population_size"`
	Generations      int       `json:"generations"`
	Seed             int64     `json:"seed"`
	Status           string    `json:"status"`
	FinalBestFitness float64   `json:"final_best_fitness"`
	ArtifactsDir     string    `json:"artifacts_dir,omitempty"`
}

// GenerationDiagnostics is the persistable per-generation summary.
type GenerationDiagnostics struct {
	VersionedRecord
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
	DurationMillis     int64   `json:"duration_millis"`
}

// TopIndividualRecord is one entry of a run's final leaderboard.
type TopIndividualRecord struct {
	VersionedRecord
	Rank         int                `json:"rank"`
	Fitness      float64            `json:"fitness"`
	IndividualID string             `json:"individual_id"`
	Fingerprint  string             `json:"fingerprint"`
	Topology     string             `json:"topology"`
	BlockCount   int                `json:"block_count"`
	Objectives   map[string]float64 `json:"objectives,omitempty"`
}
