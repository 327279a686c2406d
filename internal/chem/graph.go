// Package chem holds the molecular graph model and its canonical identity.
package chem

import "fmt"

// Atom is one vertex of a molecular graph.
type Atom struct {
	Element string `json:"element"`
	Charge  int    `json:"charge,omitempty"`
}

// Bond is an undirected edge between the atoms at indexes A and B.
type Bond struct {
	A     int `json:"a"`
	B     int `json:"b"`
	Order int `json:"order"`
}

// Graph is a molecular graph. Identity is connectivity only: elements,
// charges and bond orders. Atom and bond enumeration order carries no
// meaning; Canonicalize and Fingerprint erase it.
type Graph struct {
	Atoms []Atom `json:"atoms"`
	Bonds []Bond `json:"bonds"`
}

// MalformedStructureError reports a graph that violates structural
// well-formedness. The individual carrying the graph is discarded; the run
// continues.
type MalformedStructureError struct {
	Reason string
}

func (e *MalformedStructureError) Error() string {
	return fmt.Sprintf("malformed structure: %s", e.Reason)
}

func malformedf(format string, args ...any) *MalformedStructureError {
	return &MalformedStructureError{Reason: fmt.Sprintf(format, args...)}
}

// Validate checks structural well-formedness: at least one atom, recognized
// element symbols, bond endpoints in range and distinct, positive bond
// orders, no duplicate bonds. It must pass before a graph is fingerprinted.
func Validate(g Graph) error {
	if len(g.Atoms) == 0 {
		return malformedf("graph has no atoms")
	}
	for i, a := range g.Atoms {
		if _, ok := atomicMasses[a.Element]; !ok {
			return malformedf("atom %d has unknown element %q", i, a.Element)
		}
	}
	seen := make(map[[2]int]struct{}, len(g.Bonds))
	for i, b := range g.Bonds {
		if b.A < 0 || b.A >= len(g.Atoms) || b.B < 0 || b.B >= len(g.Atoms) {
			return malformedf("bond %d endpoint out of range (%d-%d, %d atoms)", i, b.A, b.B, len(g.Atoms))
		}
		if b.A == b.B {
			return malformedf("bond %d connects atom %d to itself", i, b.A)
		}
		if b.Order < 1 || b.Order > 4 {
			return malformedf("bond %d has order %d", i, b.Order)
		}
		key := bondKey(b.A, b.B)
		if _, dup := seen[key]; dup {
			return malformedf("duplicate bond between atoms %d and %d", key[0], key[1])
		}
		seen[key] = struct{}{}
	}
	return nil
}

func bondKey(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

// Clone returns a deep copy of g.
func (g Graph) Clone() Graph {
	out := Graph{
		Atoms: make([]Atom, len(g.Atoms)),
		Bonds: make([]Bond, len(g.Bonds)),
	}
	copy(out.Atoms, g.Atoms)
	copy(out.Bonds, g.Bonds)
	return out
}

// atomicMasses covers the elements the block libraries use. Recognition
// doubles as element validation.
var atomicMasses = map[string]float64{
	"H":  1.008,
	"B":  10.811,
	"C":  12.011,
	"N":  14.007,
	"O":  15.999,
	"F":  18.998,
	"Si": 28.086,
	"P":  30.974,
	"S":  32.06,
	"Cl": 35.45,
	"Br": 79.904,
	"I":  126.904,
}

// AtomicMass returns the mass of a recognized element.
func AtomicMass(element string) (float64, bool) {
	m, ok := atomicMasses[element]
	return m, ok
}
