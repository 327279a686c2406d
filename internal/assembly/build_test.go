package assembly

import (
	"strings"
	"testing"

	"athanor/internal/chem"
	"athanor/internal/model"
)

func TestBuildLinearChain(t *testing.T) {
	lib := DefaultLibrary()
	g, err := Build(lib, model.Recipe{
		Topology: "linear_chain",
		BlockIDs: []string{"methylene", "ether", "methylene"},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(g.Atoms) != 3 {
		t.Fatalf("expected 3 atoms, got %d", len(g.Atoms))
	}
	if len(g.Bonds) != 2 {
		t.Fatalf("expected 2 bonds, got %d", len(g.Bonds))
	}
	if r := chem.CycleRank(g); r != 0 {
		t.Fatalf("chain cycle rank: got %d", r)
	}
}

func TestBuildRing(t *testing.T) {
	lib := DefaultLibrary()
	g, err := Build(lib, model.Recipe{
		Topology: "ring",
		BlockIDs: []string{"methylene", "ether", "methylene", "amine"},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(g.Atoms) != 4 {
		t.Fatalf("expected 4 atoms, got %d", len(g.Atoms))
	}
	if len(g.Bonds) != 4 {
		t.Fatalf("expected 4 bonds, got %d", len(g.Bonds))
	}
	if r := chem.CycleRank(g); r != 1 {
		t.Fatalf("ring cycle rank: got %d", r)
	}
}

func TestBuildStar(t *testing.T) {
	lib := DefaultLibrary()
	g, err := Build(lib, model.Recipe{
		Topology: "star",
		BlockIDs: []string{"silane", "fluoro_cap", "fluoro_cap", "bromo_cap"},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(g.Atoms) != 4 {
		t.Fatalf("expected 4 atoms, got %d", len(g.Atoms))
	}
	if len(g.Bonds) != 3 {
		t.Fatalf("expected 3 bonds, got %d", len(g.Bonds))
	}
}

func TestBuildDeterministicFingerprint(t *testing.T) {
	lib := DefaultLibrary()
	recipe := model.Recipe{
		Topology: "linear_chain",
		BlockIDs: []string{"phenylene", "ether", "carbonyl", "methylene"},
	}
	first, err := FingerprintRecipe(lib, recipe)
	if err != nil {
		t.Fatalf("FingerprintRecipe failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := FingerprintRecipe(lib, recipe)
		if err != nil {
			t.Fatalf("FingerprintRecipe failed: %v", err)
		}
		if again != first {
			t.Fatalf("same recipe produced different fingerprints: %s != %s", again, first)
		}
	}
}

func TestBuildRejectsIncompatibleRecipes(t *testing.T) {
	lib := DefaultLibrary()
	cases := map[string]model.Recipe{
		"unknown topology": {Topology: "helix", BlockIDs: []string{"methylene"}},
		"unknown block":    {Topology: "linear_chain", BlockIDs: []string{"unobtainium"}},
		"empty recipe":     {Topology: "linear_chain"},
		"short ring":       {Topology: "ring", BlockIDs: []string{"methylene", "ether"}},
		"capped ring":      {Topology: "ring", BlockIDs: []string{"methylene", "ether", "fluoro_cap"}},
		"starved hub":      {Topology: "star", BlockIDs: []string{"methylene", "fluoro_cap", "fluoro_cap", "bromo_cap"}},
		"capped middle":    {Topology: "linear_chain", BlockIDs: []string{"methylene", "fluoro_cap", "methylene"}},
	}
	for name, recipe := range cases {
		if _, err := Build(lib, recipe); err == nil {
			t.Fatalf("%s: expected Build error", name)
		}
	}
}

func TestBuiltinLibraries(t *testing.T) {
	for _, name := range ListLibraries() {
		lib, err := BuiltinLibrary(name)
		if err != nil {
			t.Fatalf("BuiltinLibrary(%q) failed: %v", name, err)
		}
		if lib.Size() == 0 {
			t.Fatalf("library %q is empty", name)
		}
		for _, id := range lib.BlockIDs() {
			b, ok := lib.Block(id)
			if !ok {
				t.Fatalf("library %q lost block %q", name, id)
			}
			if err := chem.Validate(b.Graph); err != nil {
				t.Fatalf("library %q block %q invalid: %v", name, id, err)
			}
		}
	}
	if _, err := BuiltinLibrary("fictional"); err == nil || !strings.Contains(err.Error(), "unsupported library") {
		t.Fatalf("expected unsupported library error, got %v", err)
	}
}

func TestListTopologies(t *testing.T) {
	names := ListTopologies()
	if len(names) != 3 {
		t.Fatalf("expected 3 topologies, got %v", names)
	}
	for _, name := range names {
		topo, err := TopologyFromName(name)
		if err != nil {
			t.Fatalf("TopologyFromName(%q) failed: %v", name, err)
		}
		if topo.Name() != name {
			t.Fatalf("topology name mismatch: %q != %q", topo.Name(), name)
		}
	}
}
