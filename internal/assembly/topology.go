package assembly

import (
	"fmt"
	"sort"

	"athanor/internal/chem"
)

// Topology arranges building blocks into one connected graph. Assemble fails
// when the blocks are structurally incompatible with the arrangement, for
// example too few free attachment sites.
type Topology interface {
	Name() string
	Assemble(blocks []BuildingBlock) (chem.Graph, error)
}

// placed tracks one block instance during assembly: its atoms have been
// merged into the output graph and its free sites rewritten to global atom
// indexes. Sites are consumed front to back.
type placed struct {
	id    string
	sites []int
}

func (p *placed) takeFirst() (int, error) {
	if len(p.sites) == 0 {
		return 0, fmt.Errorf("block %q has no free attachment site", p.id)
	}
	s := p.sites[0]
	p.sites = p.sites[1:]
	return s, nil
}

func (p *placed) takeLast() (int, error) {
	if len(p.sites) == 0 {
		return 0, fmt.Errorf("block %q has no free attachment site", p.id)
	}
	s := p.sites[len(p.sites)-1]
	p.sites = p.sites[:len(p.sites)-1]
	return s, nil
}

// merge concatenates block graphs into one graph, offsetting atom indexes.
func merge(blocks []BuildingBlock) (chem.Graph, []*placed) {
	var g chem.Graph
	instances := make([]*placed, 0, len(blocks))
	for _, b := range blocks {
		offset := len(g.Atoms)
		g.Atoms = append(g.Atoms, b.Graph.Atoms...)
		for _, bond := range b.Graph.Bonds {
			g.Bonds = append(g.Bonds, chem.Bond{A: bond.A + offset, B: bond.B + offset, Order: bond.Order})
		}
		sites := make([]int, len(b.Sites))
		for i, s := range b.Sites {
			sites[i] = s + offset
		}
		instances = append(instances, &placed{id: b.ID, sites: sites})
	}
	return g, instances
}

// LinearChain bonds consecutive blocks end to end.
type LinearChain struct{}

func (LinearChain) Name() string { return "linear_chain" }

func (LinearChain) Assemble(blocks []BuildingBlock) (chem.Graph, error) {
	if len(blocks) == 0 {
		return chem.Graph{}, fmt.Errorf("linear_chain requires at least one block")
	}
	g, inst := merge(blocks)
	for i := 1; i < len(inst); i++ {
		tail, err := inst[i-1].takeLast()
		if err != nil {
			return chem.Graph{}, err
		}
		head, err := inst[i].takeFirst()
		if err != nil {
			return chem.Graph{}, err
		}
		g.Bonds = append(g.Bonds, chem.Bond{A: tail, B: head, Order: 1})
	}
	return g, nil
}

// Ring closes a linear chain back onto its first block. Every block needs
// two free sites, so a ring takes at least three multi-site blocks.
type Ring struct{}

func (Ring) Name() string { return "ring" }

func (Ring) Assemble(blocks []BuildingBlock) (chem.Graph, error) {
	if len(blocks) < 3 {
		return chem.Graph{}, fmt.Errorf("ring requires at least three blocks, got %d", len(blocks))
	}
	g, inst := merge(blocks)
	for i := 1; i < len(inst); i++ {
		tail, err := inst[i-1].takeLast()
		if err != nil {
			return chem.Graph{}, err
		}
		head, err := inst[i].takeFirst()
		if err != nil {
			return chem.Graph{}, err
		}
		g.Bonds = append(g.Bonds, chem.Bond{A: tail, B: head, Order: 1})
	}
	tail, err := inst[len(inst)-1].takeLast()
	if err != nil {
		return chem.Graph{}, err
	}
	head, err := inst[0].takeFirst()
	if err != nil {
		return chem.Graph{}, err
	}
	g.Bonds = append(g.Bonds, chem.Bond{A: tail, B: head, Order: 1})
	return g, nil
}

// Star bonds every remaining block onto the first one, the hub. The hub
// needs one free site per spoke.
type Star struct{}

func (Star) Name() string { return "star" }

func (Star) Assemble(blocks []BuildingBlock) (chem.Graph, error) {
	if len(blocks) < 2 {
		return chem.Graph{}, fmt.Errorf("star requires a hub and at least one spoke, got %d blocks", len(blocks))
	}
	g, inst := merge(blocks)
	hub := inst[0]
	if len(hub.sites) < len(inst)-1 {
		return chem.Graph{}, fmt.Errorf("star hub %q has %d sites for %d spokes", hub.id, len(hub.sites), len(inst)-1)
	}
	for i := 1; i < len(inst); i++ {
		hubSite, err := hub.takeFirst()
		if err != nil {
			return chem.Graph{}, err
		}
		spokeSite, err := inst[i].takeFirst()
		if err != nil {
			return chem.Graph{}, err
		}
		g.Bonds = append(g.Bonds, chem.Bond{A: hubSite, B: spokeSite, Order: 1})
	}
	return g, nil
}

// TopologyFromName resolves a topology by its registered name.
func TopologyFromName(name string) (Topology, error) {
	switch name {
	case "linear_chain":
		return LinearChain{}, nil
	case "ring":
		return Ring{}, nil
	case "star":
		return Star{}, nil
	default:
		return nil, fmt.Errorf("unsupported topology: %s", name)
	}
}

// ListTopologies returns the supported topology names, sorted.
func ListTopologies() []string {
	names := []string{LinearChain{}.Name(), Ring{}.Name(), Star{}.Name()}
	sort.Strings(names)
	return names
}
