package config

import (
	"fmt"
	"sort"
)

// Profile resolves a named preset. Presets are complete specs; callers may
// still override fields before validating.
func Profile(name string) (RunSpec, error) {
	switch name {
	case "quick":
		return quickProfile(), nil
	case "thorough":
		return thoroughProfile(), nil
	case "diverse":
		return diverseProfile(), nil
	default:
		return RunSpec{}, fmt.Errorf("profile not found: %s", name)
	}
}

// ListProfiles returns the preset names, sorted.
func ListProfiles() []string {
	names := []string{"quick", "thorough", "diverse"}
	sort.Strings(names)
	return names
}

// quickProfile trades search quality for turnaround. Small population, few
// generations, everything in memory.
func quickProfile() RunSpec {
	spec := Default()
	spec.PopulationSize = 16
	spec.Generations = 10
	spec.Workers = 4
	spec.Termination.PlateauWindow = 0
	spec.Operators.CrossoverRate = 0.2
	return spec
}

// thoroughProfile runs long with persistent backends, for searches whose
// results should survive the process.
func thoroughProfile() RunSpec {
	spec := Default()
	spec.PopulationSize = 64
	spec.Generations = 60
	spec.Workers = 8
	spec.Selection.TournamentSize = 4
	spec.AttemptMultiplier = 20
	spec.Termination.PlateauWindow = 12
	spec.Termination.PlateauMinDelta = 0.0001
	spec.Cache = CacheSpec{URI: "sqlite:athanor-cache.db"}
	spec.Storage = StorageSpec{Kind: "sqlite", Path: "athanor-runs.db"}
	return spec
}

// diverseProfile lowers selection pressure and leans on crossover and
// topology swaps so the population spreads over the search space instead of
// converging early.
func diverseProfile() RunSpec {
	spec := Default()
	spec.PopulationSize = 48
	spec.Generations = 40
	spec.Workers = 4
	spec.Selection = SelectionSpec{Strategy: "rank", Pressure: 1.2}
	spec.Operators.CrossoverRate = 0.4
	spec.Operators.Mutators = map[string]float64{
		"substitute_block": 3,
		"swap_topology":    3,
		"shuffle_blocks":   2,
		"grow_chain":       3,
	}
	spec.Seeding = SeedingSpec{MinBlocks: 2, MaxBlocks: 8}
	spec.Normalization = NormalizationSpec{Chain: []string{"min_max", "weighted_sum"}, ObjectiveWeights: map[string]float64{
		"molecular_weight": 1,
		"cycle_rank":       0.5,
		"heteroatom_kinds": 0.5,
	}, GlobalWindow: true}
	return spec
}
