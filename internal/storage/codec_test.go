package storage

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"athanor/internal/model"
)

func TestDecodeIndividualFixture(t *testing.T) {
	individual := decodeIndividualFixture(t, "minimal_individual_v1.json")
	if individual.ID != "individual-minimal-1" {
		t.Fatalf("unexpected individual id: %s", individual.ID)
	}
	if individual.Fingerprint != "3f8a1c9d2b7e6054" {
		t.Fatalf("unexpected fingerprint: %s", individual.Fingerprint)
	}
	if individual.Recipe.Topology != "linear_chain" {
		t.Fatalf("unexpected topology: %s", individual.Recipe.Topology)
	}
	if len(individual.Recipe.BlockIDs) != 3 || individual.Recipe.BlockIDs[1] != "ether" {
		t.Fatalf("unexpected block ids: %+v", individual.Recipe.BlockIDs)
	}
	if individual.Construction.Kind != model.ConstructionSeed {
		t.Fatalf("unexpected construction kind: %s", individual.Construction.Kind)
	}
	if individual.Fitness != nil {
		t.Fatalf("expected unevaluated individual, got fitness %v", *individual.Fitness)
	}
}

func TestDecodePopulationFixture(t *testing.T) {
	path := fixturePath("minimal_population_v1.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	population, err := DecodePopulation(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if population.ID != "population-minimal-1" {
		t.Fatalf("unexpected population id: %s", population.ID)
	}
	if len(population.Individuals) != 1 || population.Individuals[0].ID != "individual-minimal-1" {
		t.Fatalf("unexpected population individuals: %+v", population.Individuals)
	}
}

func TestDecodeRunSummaryFixture(t *testing.T) {
	path := fixturePath("minimal_run_summary_v1.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	summary, err := DecodeRunSummary(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if summary.RunID != "run-minimal-1" {
		t.Fatalf("unexpected run id: %s", summary.RunID)
	}
	if summary.Status != "completed" {
		t.Fatalf("unexpected status: %s", summary.Status)
	}
	if summary.FinalBestFitness != 172.5 {
		t.Fatalf("unexpected best fitness: %f", summary.FinalBestFitness)
	}
	want := time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC)
	if !summary.CreatedAtUTC.Equal(want) {
		t.Fatalf("unexpected created at: %s", summary.CreatedAtUTC)
	}
}

func TestIndividualCodecRoundTrip(t *testing.T) {
	fitness := 118.2
	input := model.Individual{
		VersionedRecord: stampedRecord(),
		ID:              "ind-1",
		Fingerprint:     "fp-1",
		Recipe: model.Recipe{
			Topology: "ring",
			BlockIDs: []string{"methylene", "ether", "amine"},
		},
		Construction: model.ConstructionRecord{
			Kind:               model.ConstructionMutated,
			ParentFingerprints: []string{"fp-0"},
			Operator:           "substitute_block",
		},
		Generation: 2,
		Fitness:    &fitness,
		Objectives: map[string]float64{"molecular_weight": 118.2, "heavy_atoms": 7},
	}

	encoded, err := EncodeIndividual(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeIndividual(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, input) {
		t.Fatalf("roundtrip mismatch\nactual=%+v\nexpected=%+v", decoded, input)
	}
}

func TestPopulationCodecRoundTripFixtureEquality(t *testing.T) {
	path := fixturePath("minimal_population_v1.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	expected, err := DecodePopulation(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}

	encoded, err := EncodePopulation(expected)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	actual, err := DecodePopulation(encoded)
	if err != nil {
		t.Fatalf("decode roundtrip: %v", err)
	}

	if !reflect.DeepEqual(actual, expected) {
		t.Fatalf("roundtrip mismatch\nactual=%+v\nexpected=%+v", actual, expected)
	}
}

func TestRunSummaryCodecRoundTrip(t *testing.T) {
	input := model.RunSummary{
		VersionedRecord:  stampedRecord(),
		RunID:            "run-1",
		CreatedAtUTC:     time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC),
		Library:          "standard",
		Evaluator:        "molecular_weight",
		PopulationSize:   16,
		Generations:      10,
		Seed:             7,
		Status:           "completed",
		FinalBestFitness: 203.4,
		ArtifactsDir:     "runs/run-1",
	}

	encoded, err := EncodeRunSummary(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeRunSummary(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.RunID != input.RunID || decoded.Status != input.Status {
		t.Fatalf("decoded summary mismatch: got=%+v want=%+v", decoded, input)
	}
	if decoded.FinalBestFitness != input.FinalBestFitness || decoded.ArtifactsDir != input.ArtifactsDir {
		t.Fatalf("decoded summary mismatch: got=%+v want=%+v", decoded, input)
	}
	if !decoded.CreatedAtUTC.Equal(input.CreatedAtUTC) {
		t.Fatalf("created at mismatch: got=%s want=%s", decoded.CreatedAtUTC, input.CreatedAtUTC)
	}
}

func TestLineageCodecRoundTrip(t *testing.T) {
	input := []model.LineageRecord{
		{
			VersionedRecord: stampedRecord(),
			IndividualID:    "ind-1",
			Fingerprint:     "fp-1",
			Generation:      0,
			Kind:            "seed",
			Summary:         "linear_chain",
		},
		{
			VersionedRecord:    stampedRecord(),
			IndividualID:       "ind-2",
			Fingerprint:        "fp-2",
			Generation:         1,
			Kind:               "crossed",
			Operator:           "recombine_blocks",
			ParentFingerprints: []string{"fp-0", "fp-1"},
			Summary:            "ring",
		},
	}

	encoded, err := EncodeLineage(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeLineage(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, input) {
		t.Fatalf("decoded lineage mismatch: got=%+v want=%+v", decoded, input)
	}
}

func TestLineageCodecVersionMismatch(t *testing.T) {
	input := []model.LineageRecord{
		{
			VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion + 1},
			IndividualID:    "ind-1",
		},
	}
	encoded, err := EncodeLineage(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err = DecodeLineage(encoded)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got: %v", err)
	}
}

func TestFitnessHistoryCodecRoundTrip(t *testing.T) {
	input := []float64{12.1, 14.8, 14.8, 19.3}
	encoded, err := EncodeFitnessHistory(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeFitnessHistory(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, input) {
		t.Fatalf("decoded history mismatch: got=%+v want=%+v", decoded, input)
	}
}

func TestGenerationDiagnosticsCodecRoundTrip(t *testing.T) {
	input := []model.GenerationDiagnostics{
		{
			VersionedRecord:    stampedRecord(),
			Generation:         0,
			BestFitness:        14.2,
			MeanFitness:        9.8,
			WorstFitness:       3.1,
			UniqueFingerprints: 8,
			UniqueTopologies:   3,
			CacheMisses:        8,
			VariationAttempts:  0,
			DurationMillis:     120,
		},
		{
			VersionedRecord:    stampedRecord(),
			Generation:         1,
			BestFitness:        16.0,
			MeanFitness:        11.3,
			WorstFitness:       4.4,
			UniqueFingerprints: 7,
			UniqueTopologies:   2,
			CacheHits:          3,
			CacheMisses:        5,
			EvaluationFailures: 1,
			VariationAttempts:  12,
			OperatorFailures:   2,
			DurationMillis:     95,
		},
	}
	encoded, err := EncodeGenerationDiagnostics(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeGenerationDiagnostics(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, input) {
		t.Fatalf("decoded diagnostics mismatch: got=%+v want=%+v", decoded, input)
	}
}

func TestGenerationDiagnosticsVersionMismatch(t *testing.T) {
	input := []model.GenerationDiagnostics{
		{VersionedRecord: stampedRecord(), Generation: 0},
		{VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion + 1, CodecVersion: CurrentCodecVersion}, Generation: 1},
	}
	encoded, err := EncodeGenerationDiagnostics(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err = DecodeGenerationDiagnostics(encoded)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got: %v", err)
	}
}

func TestTopIndividualsCodecRoundTrip(t *testing.T) {
	input := []model.TopIndividualRecord{
		{
			VersionedRecord: stampedRecord(),
			Rank:            1,
			Fitness:         203.4,
			IndividualID:    "ind-9",
			Fingerprint:     "fp-9",
			Topology:        "ring",
			BlockCount:      5,
			Objectives:      map[string]float64{"molecular_weight": 203.4},
		},
		{
			VersionedRecord: stampedRecord(),
			Rank:            2,
			Fitness:         188.0,
			IndividualID:    "ind-4",
			Fingerprint:     "fp-4",
			Topology:        "linear_chain",
			BlockCount:      4,
		},
	}
	encoded, err := EncodeTopIndividuals(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeTopIndividuals(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, input) {
		t.Fatalf("decoded top individuals mismatch: got=%+v want=%+v", decoded, input)
	}
}

func TestTopIndividualsVersionMismatch(t *testing.T) {
	input := []model.TopIndividualRecord{{Rank: 1, Fitness: 1.0, IndividualID: "ind-1"}}
	encoded, err := EncodeTopIndividuals(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err = DecodeTopIndividuals(encoded)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch for unstamped record, got: %v", err)
	}
}

func TestDecodeIndividualVersionMismatch(t *testing.T) {
	individual := decodeIndividualFixture(t, "minimal_individual_v1.json")
	individual.CodecVersion++

	encoded, err := EncodeIndividual(individual)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err = DecodeIndividual(encoded)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got: %v", err)
	}
}

func TestDecodePopulationVersionMismatch(t *testing.T) {
	path := fixturePath("minimal_population_v1.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	population, err := DecodePopulation(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	population.SchemaVersion++

	encoded, err := EncodePopulation(population)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err = DecodePopulation(encoded)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got: %v", err)
	}
}

func TestDecodeRunSummaryVersionMismatch(t *testing.T) {
	path := fixturePath("minimal_run_summary_v1.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	summary, err := DecodeRunSummary(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	summary.CodecVersion++

	encoded, err := EncodeRunSummary(summary)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err = DecodeRunSummary(encoded)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got: %v", err)
	}
}

func fixturePath(name string) string {
	return filepath.Join("..", "..", "testdata", "fixtures", name)
}

func decodeIndividualFixture(t *testing.T, name string) model.Individual {
	t.Helper()

	path := fixturePath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	individual, err := DecodeIndividual(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}

	return individual
}
