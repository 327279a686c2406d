package evaluator

import (
	"context"
	"errors"
	"math"
	"testing"

	"athanor/internal/chem"
)

func chainGraph(elements ...string) chem.Graph {
	g := chem.Graph{}
	for i, el := range elements {
		g.Atoms = append(g.Atoms, chem.Atom{Element: el})
		if i > 0 {
			g.Bonds = append(g.Bonds, chem.Bond{A: i - 1, B: i, Order: 1})
		}
	}
	return g
}

func ringGraph(n int) chem.Graph {
	g := chem.Graph{}
	for i := 0; i < n; i++ {
		g.Atoms = append(g.Atoms, chem.Atom{Element: "C"})
		g.Bonds = append(g.Bonds, chem.Bond{A: i, B: (i + 1) % n, Order: 1})
	}
	return g
}

func TestMolecularWeightEvaluator(t *testing.T) {
	ctx := context.Background()
	g := chainGraph("C", "C", "O")
	mw := chem.MolecularWeight(g)

	exact := MolecularWeight{Target: mw}
	res, err := exact.Evaluate(ctx, g)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if math.Abs(res.Fitness-1.0) > 1e-9 {
		t.Fatalf("exact target should score 1.0, got %f", res.Fitness)
	}
	if res.Objectives["molecular_weight"] != mw {
		t.Fatalf("objective mismatch: %v", res.Objectives)
	}

	far := MolecularWeight{Target: mw + 100}
	resFar, err := far.Evaluate(ctx, g)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if resFar.Fitness >= res.Fitness {
		t.Fatalf("distant target should score lower: %f >= %f", resFar.Fitness, res.Fitness)
	}
}

func TestRingRichnessEvaluator(t *testing.T) {
	ctx := context.Background()
	chain, err := RingRichness{}.Evaluate(ctx, chainGraph("C", "C", "C"))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if chain.Fitness != 0 {
		t.Fatalf("chain should have zero rings, got %f", chain.Fitness)
	}
	ring, err := RingRichness{}.Evaluate(ctx, ringGraph(5))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if ring.Fitness != 1 {
		t.Fatalf("single ring should score 1, got %f", ring.Fitness)
	}
}

func TestHeteroatomDiversityEvaluator(t *testing.T) {
	ctx := context.Background()
	res, err := HeteroatomDiversity{}.Evaluate(ctx, chainGraph("C", "O", "N", "S", "O"))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res.Fitness != 3 {
		t.Fatalf("expected 3 heteroatom kinds, got %f", res.Fitness)
	}
}

func TestCompositeEvaluator(t *testing.T) {
	ctx := context.Background()
	g := ringGraph(6)

	composite, err := NewComposite([]Evaluator{RingRichness{}, HeteroatomDiversity{}}, []float64{2, 1})
	if err != nil {
		t.Fatalf("NewComposite failed: %v", err)
	}
	res, err := composite.Evaluate(ctx, g)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if math.Abs(res.Fitness-2.0) > 1e-9 {
		t.Fatalf("expected weighted fitness 2.0, got %f", res.Fitness)
	}
	if _, ok := res.Objectives["cycle_rank"]; !ok {
		t.Fatalf("composite lost sub-objective: %v", res.Objectives)
	}

	if _, err := NewComposite(nil, nil); err == nil {
		t.Fatalf("expected error for empty composite")
	}
	if _, err := NewComposite([]Evaluator{RingRichness{}}, []float64{1, 2}); err == nil {
		t.Fatalf("expected error for weight count mismatch")
	}
}

func TestCompositeVersionFoldsParts(t *testing.T) {
	a, err := NewComposite([]Evaluator{RingRichness{}, MolecularWeight{}}, []float64{1, 1})
	if err != nil {
		t.Fatalf("NewComposite failed: %v", err)
	}
	b, err := NewComposite([]Evaluator{MolecularWeight{}, RingRichness{}}, []float64{1, 1})
	if err != nil {
		t.Fatalf("NewComposite failed: %v", err)
	}
	if a.Version() != b.Version() {
		t.Fatalf("composite version should not depend on part order: %s != %s", a.Version(), b.Version())
	}
	c, err := NewComposite([]Evaluator{RingRichness{}}, []float64{1})
	if err != nil {
		t.Fatalf("NewComposite failed: %v", err)
	}
	if a.Version() == c.Version() {
		t.Fatalf("different part sets must change the version tag")
	}
}

func TestRegistry(t *testing.T) {
	resetRegistryForTests()
	t.Cleanup(resetRegistryForTests)

	if err := RegisterBuiltins(); err != nil {
		t.Fatalf("RegisterBuiltins failed: %v", err)
	}
	names := List()
	if len(names) != 4 {
		t.Fatalf("expected 4 builtin evaluators, got %v", names)
	}
	ev, err := Resolve("molecular_weight")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if ev.Name() != "molecular_weight" {
		t.Fatalf("resolved wrong evaluator: %s", ev.Name())
	}

	if err := Register(MolecularWeight{}); !errors.Is(err, ErrEvaluatorExists) {
		t.Fatalf("expected ErrEvaluatorExists, got %v", err)
	}
	if _, err := Resolve("missing"); !errors.Is(err, ErrEvaluatorNotFound) {
		t.Fatalf("expected ErrEvaluatorNotFound, got %v", err)
	}
}

func TestEvaluationFailureUnwrap(t *testing.T) {
	cause := errors.New("geometry did not converge")
	failure := &EvaluationFailure{Evaluator: "molecular_weight", Fingerprint: "abc", Err: cause}
	if !errors.Is(failure, cause) {
		t.Fatalf("EvaluationFailure should unwrap to its cause")
	}
	if failure.Error() == "" {
		t.Fatalf("empty error string")
	}
}
