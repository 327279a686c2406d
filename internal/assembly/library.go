// Package assembly turns recipes (building blocks arranged on a topology)
// into concrete molecular graphs.
package assembly

import (
	"fmt"
	"sort"

	"athanor/internal/chem"
)

// BuildingBlock is a molecular fragment with open attachment sites. Sites
// lists atom indexes, one entry per free slot; the same atom may appear more
// than once when it can host several new bonds.
type BuildingBlock struct {
	ID    string
	Graph chem.Graph
	Sites []int
}

// Library is an immutable, named set of building blocks.
type Library struct {
	name   string
	order  []string
	blocks map[string]BuildingBlock
}

// NewLibrary validates every block and returns the library. Block graphs
// must be well formed and every site must point at an existing atom.
func NewLibrary(name string, blocks []BuildingBlock) (*Library, error) {
	if name == "" {
		return nil, fmt.Errorf("library name is required")
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("library %q has no blocks", name)
	}
	lib := &Library{
		name:   name,
		order:  make([]string, 0, len(blocks)),
		blocks: make(map[string]BuildingBlock, len(blocks)),
	}
	for _, b := range blocks {
		if b.ID == "" {
			return nil, fmt.Errorf("library %q contains a block without an id", name)
		}
		if _, dup := lib.blocks[b.ID]; dup {
			return nil, fmt.Errorf("library %q has duplicate block %q", name, b.ID)
		}
		if err := chem.Validate(b.Graph); err != nil {
			return nil, fmt.Errorf("library %q block %q: %w", name, b.ID, err)
		}
		if len(b.Sites) == 0 {
			return nil, fmt.Errorf("library %q block %q has no attachment sites", name, b.ID)
		}
		for _, s := range b.Sites {
			if s < 0 || s >= len(b.Graph.Atoms) {
				return nil, fmt.Errorf("library %q block %q site %d out of range", name, b.ID, s)
			}
		}
		lib.order = append(lib.order, b.ID)
		lib.blocks[b.ID] = b
	}
	return lib, nil
}

func (l *Library) Name() string { return l.name }

// Block looks up a building block by id.
func (l *Library) Block(id string) (BuildingBlock, bool) {
	b, ok := l.blocks[id]
	return b, ok
}

// BlockIDs returns all block ids in sorted order.
func (l *Library) BlockIDs() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	sort.Strings(out)
	return out
}

// Size returns the number of blocks.
func (l *Library) Size() int { return len(l.order) }

func atom(el string) chem.Atom { return chem.Atom{Element: el} }

// BuiltinLibrary resolves a named reference library.
func BuiltinLibrary(name string) (*Library, error) {
	switch name {
	case "standard":
		return NewLibrary("standard", []BuildingBlock{
			{ID: "methylene", Graph: chem.Graph{Atoms: []chem.Atom{atom("C")}}, Sites: []int{0, 0}},
			{ID: "ethylene_unit", Graph: chem.Graph{
				Atoms: []chem.Atom{atom("C"), atom("C")},
				Bonds: []chem.Bond{{A: 0, B: 1, Order: 1}},
			}, Sites: []int{0, 1}},
			{ID: "ether", Graph: chem.Graph{Atoms: []chem.Atom{atom("O")}}, Sites: []int{0, 0}},
			{ID: "amine", Graph: chem.Graph{Atoms: []chem.Atom{atom("N")}}, Sites: []int{0, 0}},
			{ID: "thioether", Graph: chem.Graph{Atoms: []chem.Atom{atom("S")}}, Sites: []int{0, 0}},
			{ID: "carbonyl", Graph: chem.Graph{
				Atoms: []chem.Atom{atom("C"), atom("O")},
				Bonds: []chem.Bond{{A: 0, B: 1, Order: 2}},
			}, Sites: []int{0, 0}},
			{ID: "phenylene", Graph: chem.Graph{
				Atoms: []chem.Atom{atom("C"), atom("C"), atom("C"), atom("C"), atom("C"), atom("C")},
				Bonds: []chem.Bond{
					{A: 0, B: 1, Order: 2}, {A: 1, B: 2, Order: 1}, {A: 2, B: 3, Order: 2},
					{A: 3, B: 4, Order: 1}, {A: 4, B: 5, Order: 2}, {A: 5, B: 0, Order: 1},
				},
			}, Sites: []int{0, 3}},
			{ID: "silane", Graph: chem.Graph{Atoms: []chem.Atom{atom("Si")}}, Sites: []int{0, 0, 0, 0}},
			{ID: "fluoro_cap", Graph: chem.Graph{Atoms: []chem.Atom{atom("F")}}, Sites: []int{0}},
			{ID: "bromo_cap", Graph: chem.Graph{Atoms: []chem.Atom{atom("Br")}}, Sites: []int{0}},
		})
	case "minimal":
		return NewLibrary("minimal", []BuildingBlock{
			{ID: "methylene", Graph: chem.Graph{Atoms: []chem.Atom{atom("C")}}, Sites: []int{0, 0}},
			{ID: "ether", Graph: chem.Graph{Atoms: []chem.Atom{atom("O")}}, Sites: []int{0, 0}},
			{ID: "amine", Graph: chem.Graph{Atoms: []chem.Atom{atom("N")}}, Sites: []int{0, 0}},
		})
	default:
		return nil, fmt.Errorf("unsupported library: %s", name)
	}
}

// DefaultLibrary returns the standard reference library.
func DefaultLibrary() *Library {
	lib, err := BuiltinLibrary("standard")
	if err != nil {
		panic(err)
	}
	return lib
}

// ListLibraries returns the builtin library names, sorted.
func ListLibraries() []string {
	return []string{"minimal", "standard"}
}
