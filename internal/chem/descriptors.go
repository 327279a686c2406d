package chem

// MolecularWeight sums the atomic masses of every atom. Validate guarantees
// all elements are recognized.
func MolecularWeight(g Graph) float64 {
	total := 0.0
	for _, a := range g.Atoms {
		total += atomicMasses[a.Element]
	}
	return total
}

// HeavyAtomCount counts non-hydrogen atoms.
func HeavyAtomCount(g Graph) int {
	n := 0
	for _, a := range g.Atoms {
		if a.Element != "H" {
			n++
		}
	}
	return n
}

// ElementCounts returns the per-element atom counts.
func ElementCounts(g Graph) map[string]int {
	counts := make(map[string]int)
	for _, a := range g.Atoms {
		counts[a.Element]++
	}
	return counts
}

// CycleRank is the number of independent cycles: bonds - atoms + components.
// A tree scores 0, a single ring 1.
func CycleRank(g Graph) int {
	if len(g.Atoms) == 0 {
		return 0
	}
	parent := make([]int, len(g.Atoms))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	components := len(g.Atoms)
	for _, b := range g.Bonds {
		ra, rb := find(b.A), find(b.B)
		if ra != rb {
			parent[ra] = rb
			components--
		}
	}
	return len(g.Bonds) - len(g.Atoms) + components
}
