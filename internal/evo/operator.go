package evo

import (
	"context"
	"math/rand"

	"athanor/internal/assembly"
	"athanor/internal/model"
)

// Mutator derives one offspring recipe from a single parent. Implementations
// draw randomness only from the supplied source and never mutate the parent's
// recipe in place.
type Mutator interface {
	Name() string
	Mutate(ctx context.Context, rng *rand.Rand, lib *assembly.Library, parent model.Individual) (model.Recipe, error)
}

// Crosser derives offspring recipes from two parents. At least one recipe is
// returned on success.
type Crosser interface {
	Name() string
	Cross(ctx context.Context, rng *rand.Rand, lib *assembly.Library, a, b model.Individual) ([]model.Recipe, error)
}

// WeightedMutator pairs a mutator with its relative application weight.
type WeightedMutator struct {
	Mutator Mutator
	Weight  float64
}

// WeightedCrosser pairs a crosser with its relative application weight.
type WeightedCrosser struct {
	Crosser Crosser
	Weight  float64
}

func cloneRecipe(recipe model.Recipe) model.Recipe {
	out := model.Recipe{Topology: recipe.Topology}
	if len(recipe.BlockIDs) > 0 {
		out.BlockIDs = append([]string(nil), recipe.BlockIDs...)
	}
	return out
}
