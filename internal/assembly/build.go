package assembly

import (
	"fmt"

	"athanor/internal/chem"
	"athanor/internal/model"
)

// Build materializes a recipe into a validated molecular graph.
func Build(lib *Library, recipe model.Recipe) (chem.Graph, error) {
	if lib == nil {
		return chem.Graph{}, fmt.Errorf("library is required")
	}
	topology, err := TopologyFromName(recipe.Topology)
	if err != nil {
		return chem.Graph{}, err
	}
	if len(recipe.BlockIDs) == 0 {
		return chem.Graph{}, fmt.Errorf("recipe has no blocks")
	}
	blocks := make([]BuildingBlock, 0, len(recipe.BlockIDs))
	for _, id := range recipe.BlockIDs {
		b, ok := lib.Block(id)
		if !ok {
			return chem.Graph{}, fmt.Errorf("library %q has no block %q", lib.Name(), id)
		}
		blocks = append(blocks, b)
	}
	g, err := topology.Assemble(blocks)
	if err != nil {
		return chem.Graph{}, fmt.Errorf("assemble %s: %w", recipe.Topology, err)
	}
	if err := chem.Validate(g); err != nil {
		return chem.Graph{}, err
	}
	return g, nil
}

// FingerprintRecipe builds the recipe and fingerprints the result.
func FingerprintRecipe(lib *Library, recipe model.Recipe) (string, error) {
	g, err := Build(lib, recipe)
	if err != nil {
		return "", err
	}
	return chem.Fingerprint(g)
}
