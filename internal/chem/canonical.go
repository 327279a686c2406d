package chem

import (
	"fmt"
	"sort"
	"strings"
)

// Canonicalize returns g with atoms and bonds relabeled into a canonical
// order that depends only on the structure, never on input enumeration
// order. Two graphs that differ by an atom or bond permutation canonicalize
// to identical values.
func Canonicalize(g Graph) (Graph, error) {
	if err := Validate(g); err != nil {
		return Graph{}, err
	}
	order := canonicalOrder(g)
	return relabel(g, order), nil
}

type halfBond struct {
	to    int
	order int
}

func adjacency(g Graph) [][]halfBond {
	adj := make([][]halfBond, len(g.Atoms))
	for _, b := range g.Bonds {
		adj[b.A] = append(adj[b.A], halfBond{to: b.B, order: b.Order})
		adj[b.B] = append(adj[b.B], halfBond{to: b.A, order: b.Order})
	}
	return adj
}

// canonicalOrder returns the atoms' canonical positions: order[i] is the old
// index of the atom placed at canonical position i. Ranks come from
// iterative neighborhood refinement; remaining ties are resolved by
// individualizing one candidate at a time and keeping the ordering whose
// serialized form is lexicographically smallest.
func canonicalOrder(g Graph) []int {
	adj := adjacency(g)
	ranks := refine(g, adj, initialRanks(g, adj))
	order, _ := resolve(g, adj, ranks)
	return order
}

// initialRanks seeds each atom with an invariant built from its element,
// charge, degree and sorted incident bond orders.
func initialRanks(g Graph, adj [][]halfBond) []int {
	keys := make([]string, len(g.Atoms))
	for i, a := range g.Atoms {
		orders := make([]int, 0, len(adj[i]))
		for _, h := range adj[i] {
			orders = append(orders, h.order)
		}
		sort.Ints(orders)
		keys[i] = fmt.Sprintf("%s|%d|%d|%v", a.Element, a.Charge, len(adj[i]), orders)
	}
	return denseRanks(keys)
}

// refine iterates neighborhood refinement until the rank partition stops
// splitting. Refinement only ever splits classes, so a stable class count
// means a stable partition.
func refine(g Graph, adj [][]halfBond, ranks []int) []int {
	current := ranks
	for {
		keys := make([]string, len(current))
		for i := range current {
			nb := make([]string, 0, len(adj[i]))
			for _, h := range adj[i] {
				nb = append(nb, fmt.Sprintf("%d:%d", h.order, current[h.to]))
			}
			sort.Strings(nb)
			keys[i] = fmt.Sprintf("%d|%s", current[i], strings.Join(nb, ","))
		}
		next := denseRanks(keys)
		if classCount(next) == classCount(current) {
			return next
		}
		current = next
	}
}

// resolve turns a (possibly tied) rank partition into a total order. When
// ties remain it tries each member of the smallest tied class as the next
// distinguished atom and keeps the branch with the smallest serialization.
func resolve(g Graph, adj [][]halfBond, ranks []int) ([]int, string) {
	class := smallestTiedClass(ranks)
	if len(class) == 0 {
		order := orderFromRanks(ranks)
		return order, Serialize(relabel(g, order))
	}

	var bestOrder []int
	var bestSer string
	for _, atom := range class {
		branch := make([]int, len(ranks))
		copy(branch, ranks)
		branch[atom] = -1
		order, ser := resolve(g, adj, refine(g, adj, branch))
		if bestOrder == nil || ser < bestSer {
			bestOrder, bestSer = order, ser
		}
	}
	return bestOrder, bestSer
}

// smallestTiedClass returns the members of the lowest rank shared by more
// than one atom, or nil when every rank is unique.
func smallestTiedClass(ranks []int) []int {
	byRank := make(map[int][]int)
	for i, r := range ranks {
		byRank[r] = append(byRank[r], i)
	}
	tied := make([]int, 0, len(byRank))
	for r, members := range byRank {
		if len(members) > 1 {
			tied = append(tied, r)
		}
	}
	if len(tied) == 0 {
		return nil
	}
	sort.Ints(tied)
	return byRank[tied[0]]
}

func orderFromRanks(ranks []int) []int {
	order := make([]int, len(ranks))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return ranks[order[a]] < ranks[order[b]] })
	return order
}

func denseRanks(keys []string) []int {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			uniq = append(uniq, k)
		}
	}
	sort.Strings(uniq)
	pos := make(map[string]int, len(uniq))
	for i, k := range uniq {
		pos[k] = i
	}
	ranks := make([]int, len(keys))
	for i, k := range keys {
		ranks[i] = pos[k]
	}
	return ranks
}

func classCount(ranks []int) int {
	seen := make(map[int]struct{}, len(ranks))
	for _, r := range ranks {
		seen[r] = struct{}{}
	}
	return len(seen)
}

// relabel rebuilds g with atoms placed in the given order and bonds rewritten
// against the new indexes, endpoint-normalized and sorted.
func relabel(g Graph, order []int) Graph {
	newIndex := make([]int, len(order))
	for pos, old := range order {
		newIndex[old] = pos
	}
	out := Graph{
		Atoms: make([]Atom, len(g.Atoms)),
		Bonds: make([]Bond, len(g.Bonds)),
	}
	for pos, old := range order {
		out.Atoms[pos] = g.Atoms[old]
	}
	for i, b := range g.Bonds {
		a, bb := newIndex[b.A], newIndex[b.B]
		if a > bb {
			a, bb = bb, a
		}
		out.Bonds[i] = Bond{A: a, B: bb, Order: b.Order}
	}
	sort.Slice(out.Bonds, func(i, j int) bool {
		bi, bj := out.Bonds[i], out.Bonds[j]
		if bi.A != bj.A {
			return bi.A < bj.A
		}
		if bi.B != bj.B {
			return bi.B < bj.B
		}
		return bi.Order < bj.Order
	})
	return out
}

// Serialize renders a graph into the compact textual form that fingerprints
// hash. It is only stable for canonicalized graphs.
func Serialize(g Graph) string {
	parts := make([]string, 0, len(g.Atoms)+len(g.Bonds)+2)
	parts = append(parts, fmt.Sprintf("a=%d", len(g.Atoms)))
	for _, a := range g.Atoms {
		parts = append(parts, fmt.Sprintf("%s,%d", a.Element, a.Charge))
	}
	parts = append(parts, fmt.Sprintf("b=%d", len(g.Bonds)))
	for _, b := range g.Bonds {
		parts = append(parts, fmt.Sprintf("%d-%d:%d", b.A, b.B, b.Order))
	}
	return strings.Join(parts, "|")
}
