package evo

import (
	"fmt"
	"math/rand"

	"athanor/internal/assembly"
	"athanor/internal/model"
	"athanor/internal/storage"
)

const seedAttemptsPerIndividual = 20

// Seeder draws random viable recipes from a library to build the initial
// population. Seeds are deduplicated by fingerprint; recipes that fail to
// assemble consume attempts.
type Seeder struct {
	Library *assembly.Library
	// Topologies limits which topologies are drawn. Empty means all.
	Topologies []string
	// MinBlocks and MaxBlocks bound recipe length. Zero values apply the
	// defaults 2 and 6.
	MinBlocks int
	MaxBlocks int
}

// Seed produces n distinct individuals at generation zero.
func (s Seeder) Seed(rng *rand.Rand, n int) ([]model.Individual, error) {
	if s.Library == nil {
		return nil, fmt.Errorf("library is required")
	}
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if n <= 0 {
		return nil, fmt.Errorf("seed count must be > 0, got %d", n)
	}

	topologies := s.Topologies
	if len(topologies) == 0 {
		topologies = assembly.ListTopologies()
	}
	minBlocks := s.MinBlocks
	if minBlocks <= 0 {
		minBlocks = 2
	}
	maxBlocks := s.MaxBlocks
	if maxBlocks < minBlocks {
		maxBlocks = minBlocks + 4
	}
	blockIDs := s.Library.BlockIDs()

	budget := seedAttemptsPerIndividual * n
	seen := make(map[string]struct{}, n)
	out := make([]model.Individual, 0, n)
	attempts := 0
	malformed := 0
	duplicates := 0

	for len(out) < n && attempts < budget {
		attempts++

		count := minBlocks + rng.Intn(maxBlocks-minBlocks+1)
		recipe := model.Recipe{
			Topology: topologies[rng.Intn(len(topologies))],
			BlockIDs: make([]string, count),
		}
		for i := range recipe.BlockIDs {
			recipe.BlockIDs[i] = blockIDs[rng.Intn(len(blockIDs))]
		}

		fingerprint, err := assembly.FingerprintRecipe(s.Library, recipe)
		if err != nil {
			malformed++
			continue
		}
		if _, dup := seen[fingerprint]; dup {
			duplicates++
			continue
		}
		seen[fingerprint] = struct{}{}

		individual := model.Individual{
			VersionedRecord: model.VersionedRecord{
				SchemaVersion: storage.CurrentSchemaVersion,
				CodecVersion:  storage.CurrentCodecVersion,
			},
			ID:           fmt.Sprintf("seed-%03d", len(out)),
			Fingerprint:  fingerprint,
			Recipe:       recipe,
			Construction: model.ConstructionRecord{Kind: model.ConstructionSeed},
		}
		out = append(out, individual)
	}

	if len(out) < n {
		return nil, &GenerationStarvationError{
			Generation: 0,
			Produced:   len(out),
			Required:   n,
			Attempts:   attempts,
			Duplicates: duplicates,
			Malformed:  malformed,
		}
	}
	return out, nil
}
