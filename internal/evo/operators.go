package evo

import (
	"context"
	"math/rand"

	"athanor/internal/assembly"
	"athanor/internal/model"
)

const defaultMaxChainBlocks = 12

// SubstituteBlock replaces one block of the parent recipe with a different
// block drawn from the library.
type SubstituteBlock struct{}

func (SubstituteBlock) Name() string { return "substitute_block" }

func (m SubstituteBlock) Mutate(_ context.Context, rng *rand.Rand, lib *assembly.Library, parent model.Individual) (model.Recipe, error) {
	if lib.Size() < 2 {
		return model.Recipe{}, operatorFailuref(m.Name(), "library %s has %d blocks, need at least 2", lib.Name(), lib.Size())
	}
	recipe := cloneRecipe(parent.Recipe)
	if len(recipe.BlockIDs) == 0 {
		return model.Recipe{}, operatorFailuref(m.Name(), "parent recipe has no blocks")
	}

	idx := rng.Intn(len(recipe.BlockIDs))
	current := recipe.BlockIDs[idx]
	candidates := make([]string, 0, lib.Size()-1)
	for _, id := range lib.BlockIDs() {
		if id != current {
			candidates = append(candidates, id)
		}
	}
	recipe.BlockIDs[idx] = candidates[rng.Intn(len(candidates))]
	return recipe, nil
}

// SwapTopology reassembles the parent's blocks on a different topology.
type SwapTopology struct {
	// Topologies limits the candidate set. Empty means all registered
	// topologies.
	Topologies []string
}

func (SwapTopology) Name() string { return "swap_topology" }

func (m SwapTopology) Mutate(_ context.Context, rng *rand.Rand, lib *assembly.Library, parent model.Individual) (model.Recipe, error) {
	names := m.Topologies
	if len(names) == 0 {
		names = assembly.ListTopologies()
	}
	candidates := make([]string, 0, len(names))
	for _, name := range names {
		if name != parent.Recipe.Topology {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return model.Recipe{}, operatorFailuref(m.Name(), "no alternative topology for %s", parent.Recipe.Topology)
	}

	// Candidates are tried in a shuffled order so the first assemblable
	// one wins but the choice still follows the run's random source.
	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	for _, name := range candidates {
		recipe := cloneRecipe(parent.Recipe)
		recipe.Topology = name
		if _, err := assembly.Build(lib, recipe); err != nil {
			continue
		}
		return recipe, nil
	}
	return model.Recipe{}, operatorFailuref(m.Name(), "no candidate topology accepts %d blocks", len(parent.Recipe.BlockIDs))
}

// ShuffleBlocks permutes the order of the parent's blocks.
type ShuffleBlocks struct{}

func (ShuffleBlocks) Name() string { return "shuffle_blocks" }

func (m ShuffleBlocks) Mutate(_ context.Context, rng *rand.Rand, _ *assembly.Library, parent model.Individual) (model.Recipe, error) {
	recipe := cloneRecipe(parent.Recipe)
	if len(recipe.BlockIDs) < 2 {
		return model.Recipe{}, operatorFailuref(m.Name(), "recipe has %d blocks, need at least 2", len(recipe.BlockIDs))
	}
	distinct := false
	for _, id := range recipe.BlockIDs[1:] {
		if id != recipe.BlockIDs[0] {
			distinct = true
			break
		}
	}
	if !distinct {
		return model.Recipe{}, operatorFailuref(m.Name(), "all blocks are %s, shuffle cannot change the recipe", recipe.BlockIDs[0])
	}

	rng.Shuffle(len(recipe.BlockIDs), func(i, j int) {
		recipe.BlockIDs[i], recipe.BlockIDs[j] = recipe.BlockIDs[j], recipe.BlockIDs[i]
	})
	if equalBlockIDs(recipe.BlockIDs, parent.Recipe.BlockIDs) {
		swapFirstDistinct(recipe.BlockIDs)
	}
	return recipe, nil
}

// GrowChain inserts one random library block at a random position.
type GrowChain struct {
	// MaxBlocks caps recipe growth. Zero applies the default cap.
	MaxBlocks int
}

func (GrowChain) Name() string { return "grow_chain" }

func (m GrowChain) Mutate(_ context.Context, rng *rand.Rand, lib *assembly.Library, parent model.Individual) (model.Recipe, error) {
	maxBlocks := m.MaxBlocks
	if maxBlocks <= 0 {
		maxBlocks = defaultMaxChainBlocks
	}
	recipe := cloneRecipe(parent.Recipe)
	if len(recipe.BlockIDs) >= maxBlocks {
		return model.Recipe{}, operatorFailuref(m.Name(), "recipe already at %d blocks (cap %d)", len(recipe.BlockIDs), maxBlocks)
	}

	ids := lib.BlockIDs()
	block := ids[rng.Intn(len(ids))]
	pos := rng.Intn(len(recipe.BlockIDs) + 1)
	recipe.BlockIDs = append(recipe.BlockIDs, "")
	copy(recipe.BlockIDs[pos+1:], recipe.BlockIDs[pos:])
	recipe.BlockIDs[pos] = block
	return recipe, nil
}

// RecombineBlocks performs one-point recombination of two parents' block
// sequences. Both offspring recipes keep their respective parent's topology,
// so parents must share one.
type RecombineBlocks struct{}

func (RecombineBlocks) Name() string { return "recombine_blocks" }

func (c RecombineBlocks) Cross(_ context.Context, rng *rand.Rand, _ *assembly.Library, a, b model.Individual) ([]model.Recipe, error) {
	if a.Recipe.Topology != b.Recipe.Topology {
		return nil, operatorFailuref(c.Name(), "topology mismatch: %s vs %s", a.Recipe.Topology, b.Recipe.Topology)
	}
	if len(a.Recipe.BlockIDs) < 2 || len(b.Recipe.BlockIDs) < 2 {
		return nil, operatorFailuref(c.Name(), "both parents need at least 2 blocks, got %d and %d",
			len(a.Recipe.BlockIDs), len(b.Recipe.BlockIDs))
	}

	shorter := len(a.Recipe.BlockIDs)
	if len(b.Recipe.BlockIDs) < shorter {
		shorter = len(b.Recipe.BlockIDs)
	}
	cut := 1 + rng.Intn(shorter-1)

	first := model.Recipe{
		Topology: a.Recipe.Topology,
		BlockIDs: append(append([]string(nil), a.Recipe.BlockIDs[:cut]...), b.Recipe.BlockIDs[cut:]...),
	}
	second := model.Recipe{
		Topology: b.Recipe.Topology,
		BlockIDs: append(append([]string(nil), b.Recipe.BlockIDs[:cut]...), a.Recipe.BlockIDs[cut:]...),
	}
	return []model.Recipe{first, second}, nil
}

// ExchangeTopology swaps the parents' topologies while keeping each parent's
// block sequence.
type ExchangeTopology struct{}

func (ExchangeTopology) Name() string { return "exchange_topology" }

func (c ExchangeTopology) Cross(_ context.Context, _ *rand.Rand, _ *assembly.Library, a, b model.Individual) ([]model.Recipe, error) {
	if a.Recipe.Topology == b.Recipe.Topology {
		return nil, operatorFailuref(c.Name(), "parents share topology %s", a.Recipe.Topology)
	}
	first := cloneRecipe(a.Recipe)
	first.Topology = b.Recipe.Topology
	second := cloneRecipe(b.Recipe)
	second.Topology = a.Recipe.Topology
	return []model.Recipe{first, second}, nil
}

func equalBlockIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func swapFirstDistinct(ids []string) {
	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[0] {
			ids[0], ids[i] = ids[i], ids[0]
			return
		}
	}
}
