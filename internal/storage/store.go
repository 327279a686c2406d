package storage

import (
	"context"

	"athanor/internal/model"
)

// Store persists the durable artifacts of evolution runs: the run ledger, the
// last evaluated population, fitness history, per-generation diagnostics, the
// final leaderboard and lineage. Every Get reports presence explicitly; a
// missing record is not an error.
type Store interface {
	Init(ctx context.Context) error
	SaveRunSummary(ctx context.Context, summary model.RunSummary) error
	GetRunSummary(ctx context.Context, runID string) (model.RunSummary, bool, error)
	ListRunSummaries(ctx context.Context) ([]model.RunSummary, error)
	SavePopulationSnapshot(ctx context.Context, runID string, population model.Population) error
	GetPopulationSnapshot(ctx context.Context, runID string) (model.Population, bool, error)
	SaveFitnessHistory(ctx context.Context, runID string, history []float64) error
	GetFitnessHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error
	GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error)
	SaveTopIndividuals(ctx context.Context, runID string, top []model.TopIndividualRecord) error
	GetTopIndividuals(ctx context.Context, runID string) ([]model.TopIndividualRecord, bool, error)
	SaveLineage(ctx context.Context, runID string, lineage []model.LineageRecord) error
	GetLineage(ctx context.Context, runID string) ([]model.LineageRecord, bool, error)
}

// Resetter is implemented by stores that can drop every persisted record.
// After Reset the store is still initialized and usable, just empty.
type Resetter interface {
	Reset(ctx context.Context) error
}
