package evaluator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"athanor/internal/chem"
)

// MolecularWeight scores proximity to a target molecular weight on (0, 1].
type MolecularWeight struct {
	Target float64
}

func (MolecularWeight) Name() string    { return "molecular_weight" }
func (MolecularWeight) Version() string { return "v1" }

func (e MolecularWeight) Evaluate(_ context.Context, g chem.Graph) (Result, error) {
	target := e.Target
	if target <= 0 {
		target = 250
	}
	mw := chem.MolecularWeight(g)
	fitness := 1.0 / (1.0 + math.Abs(mw-target))
	return Result{
		Fitness:    fitness,
		Objectives: map[string]float64{"molecular_weight": mw},
		Descriptors: map[string]float64{
			"molecular_weight": mw,
			"heavy_atoms":      float64(chem.HeavyAtomCount(g)),
		},
	}, nil
}

// RingRichness rewards independent cycles.
type RingRichness struct{}

func (RingRichness) Name() string    { return "ring_richness" }
func (RingRichness) Version() string { return "v1" }

func (RingRichness) Evaluate(_ context.Context, g chem.Graph) (Result, error) {
	rank := float64(chem.CycleRank(g))
	return Result{
		Fitness:    rank,
		Objectives: map[string]float64{"cycle_rank": rank},
		Descriptors: map[string]float64{
			"cycle_rank": rank,
			"atoms":      float64(len(g.Atoms)),
		},
	}, nil
}

// HeteroatomDiversity counts distinct elements other than carbon and
// hydrogen.
type HeteroatomDiversity struct{}

func (HeteroatomDiversity) Name() string    { return "heteroatom_diversity" }
func (HeteroatomDiversity) Version() string { return "v1" }

func (HeteroatomDiversity) Evaluate(_ context.Context, g chem.Graph) (Result, error) {
	distinct := 0
	for element := range chem.ElementCounts(g) {
		if element != "C" && element != "H" {
			distinct++
		}
	}
	d := float64(distinct)
	return Result{
		Fitness:    d,
		Objectives: map[string]float64{"heteroatom_kinds": d},
	}, nil
}

// Composite combines sub-evaluator fitnesses with fixed weights. Objectives
// are merged under each sub-evaluator's own objective names; its Version tag
// folds in every sub version so cache keys change when any part changes.
type Composite struct {
	Parts   []Evaluator
	Weights []float64
}

// NewComposite pairs each evaluator with a weight.
func NewComposite(parts []Evaluator, weights []float64) (Composite, error) {
	if len(parts) == 0 {
		return Composite{}, fmt.Errorf("composite requires at least one evaluator")
	}
	if len(weights) != len(parts) {
		return Composite{}, fmt.Errorf("composite has %d evaluators but %d weights", len(parts), len(weights))
	}
	for i, w := range weights {
		if w < 0 {
			return Composite{}, fmt.Errorf("composite weight %d is negative", i)
		}
	}
	return Composite{Parts: parts, Weights: weights}, nil
}

func (Composite) Name() string { return "composite" }

func (c Composite) Version() string {
	tags := make([]string, 0, len(c.Parts))
	for _, p := range c.Parts {
		tags = append(tags, p.Name()+"="+p.Version())
	}
	sort.Strings(tags)
	return "v1(" + strings.Join(tags, ",") + ")"
}

func (c Composite) Evaluate(ctx context.Context, g chem.Graph) (Result, error) {
	combined := Result{
		Objectives:  make(map[string]float64),
		Descriptors: make(map[string]float64),
	}
	for i, part := range c.Parts {
		res, err := part.Evaluate(ctx, g)
		if err != nil {
			return Result{}, fmt.Errorf("composite part %s: %w", part.Name(), err)
		}
		combined.Fitness += c.Weights[i] * res.Fitness
		for k, v := range res.Objectives {
			combined.Objectives[k] = v
		}
		for k, v := range res.Descriptors {
			combined.Descriptors[k] = v
		}
	}
	return combined, nil
}

// RegisterBuiltins installs the reference evaluators in the registry. Safe
// to call once per process.
func RegisterBuiltins() error {
	composite, err := NewComposite(
		[]Evaluator{MolecularWeight{}, RingRichness{}, HeteroatomDiversity{}},
		[]float64{1, 0.5, 0.25},
	)
	if err != nil {
		return err
	}
	for _, ev := range []Evaluator{MolecularWeight{}, RingRichness{}, HeteroatomDiversity{}, composite} {
		if err := Register(ev); err != nil {
			return err
		}
	}
	return nil
}
