package evo

import (
	"math"
	"sort"
	"strings"
)

// Normalizer adjusts objective values and fitness after evaluation and before
// ranking and selection. Individuals excluded by the evaluation failure policy
// pass through untouched and never contribute to observed bounds.
type Normalizer interface {
	Name() string
	Process(scored []ScoredIndividual) []ScoredIndividual
}

// FitnessWindow tracks running per-objective bounds across generations. A
// MinMaxNormalizer holding a window scales against everything observed so far
// instead of the current generation only, which keeps fitness values
// comparable across generations at the cost of early-generation compression.
type FitnessWindow struct {
	min map[string]float64
	max map[string]float64
}

func NewFitnessWindow() *FitnessWindow {
	return &FitnessWindow{
		min: make(map[string]float64),
		max: make(map[string]float64),
	}
}

func (w *FitnessWindow) observe(key string, value float64) {
	lo, ok := w.min[key]
	if !ok || value < lo {
		w.min[key] = value
	}
	hi, ok := w.max[key]
	if !ok || value > hi {
		w.max[key] = value
	}
}

func (w *FitnessWindow) bounds(key string) (float64, float64, bool) {
	lo, ok := w.min[key]
	if !ok {
		return 0, 0, false
	}
	return lo, w.max[key], true
}

// MinMaxNormalizer rescales every objective to [0, 1]. With a nil Window the
// bounds come from the current generation alone, so absolute fitness scale
// drifts between generations and values from different generations are not
// comparable. Attach a shared FitnessWindow for a global window.
type MinMaxNormalizer struct {
	Window *FitnessWindow
}

func (MinMaxNormalizer) Name() string { return "min_max" }

func (n MinMaxNormalizer) Process(scored []ScoredIndividual) []ScoredIndividual {
	out := cloneScored(scored)

	keys := map[string]struct{}{}
	for _, item := range out {
		if item.Excluded {
			continue
		}
		for key := range item.Objectives {
			keys[key] = struct{}{}
		}
	}
	ordered := make([]string, 0, len(keys))
	for key := range keys {
		ordered = append(ordered, key)
	}
	sort.Strings(ordered)

	window := n.Window
	if window == nil {
		window = NewFitnessWindow()
	}
	for _, item := range out {
		if item.Excluded {
			continue
		}
		for _, key := range ordered {
			if value, ok := item.Objectives[key]; ok {
				window.observe(key, value)
			}
		}
	}

	for i := range out {
		if out[i].Excluded {
			continue
		}
		scaled := make(map[string]float64, len(out[i].Objectives))
		for key, value := range out[i].Objectives {
			lo, hi, ok := window.bounds(key)
			switch {
			case !ok:
				scaled[key] = value
			case hi == lo:
				scaled[key] = 0.5
			default:
				scaled[key] = (value - lo) / (hi - lo)
			}
		}
		out[i].Objectives = scaled
	}
	return out
}

// WeightedSumNormalizer folds objectives into the scalar fitness. Objectives
// absent from an individual contribute nothing. Empty weights leave fitness
// as the evaluator reported it.
type WeightedSumNormalizer struct {
	Weights map[string]float64
}

func (WeightedSumNormalizer) Name() string { return "weighted_sum" }

func (n WeightedSumNormalizer) Process(scored []ScoredIndividual) []ScoredIndividual {
	out := cloneScored(scored)
	if len(n.Weights) == 0 {
		return out
	}

	ordered := make([]string, 0, len(n.Weights))
	for key := range n.Weights {
		ordered = append(ordered, key)
	}
	sort.Strings(ordered)

	for i := range out {
		if out[i].Excluded {
			continue
		}
		total := 0.0
		for _, key := range ordered {
			if value, ok := out[i].Objectives[key]; ok {
				total += n.Weights[key] * value
			}
		}
		out[i].Fitness = total
	}
	return out
}

// ShiftToPositiveNormalizer shifts all fitness values so the minimum lands
// just above zero, which proportional selection requires.
type ShiftToPositiveNormalizer struct{}

func (ShiftToPositiveNormalizer) Name() string { return "shift_to_positive" }

func (ShiftToPositiveNormalizer) Process(scored []ScoredIndividual) []ScoredIndividual {
	out := cloneScored(scored)
	lowest := math.Inf(1)
	for _, item := range out {
		if item.Excluded {
			continue
		}
		if item.Fitness < lowest {
			lowest = item.Fitness
		}
	}
	if math.IsInf(lowest, 1) || lowest > 0 {
		return out
	}
	shift := -lowest + 1e-9
	for i := range out {
		if out[i].Excluded {
			continue
		}
		out[i].Fitness += shift
	}
	return out
}

// PowerNormalizer raises positive fitness values to a fixed exponent,
// sharpening or flattening selection pressure.
type PowerNormalizer struct {
	Exponent float64
}

func (PowerNormalizer) Name() string { return "power" }

func (n PowerNormalizer) Process(scored []ScoredIndividual) []ScoredIndividual {
	out := cloneScored(scored)
	exponent := n.Exponent
	if exponent == 0 {
		exponent = 1
	}
	for i := range out {
		if out[i].Excluded || out[i].Fitness <= 0 {
			continue
		}
		out[i].Fitness = math.Pow(out[i].Fitness, exponent)
	}
	return out
}

// NormalizerChain applies normalizers in order.
type NormalizerChain []Normalizer

func (c NormalizerChain) Name() string {
	names := make([]string, 0, len(c))
	for _, n := range c {
		names = append(names, n.Name())
	}
	return strings.Join(names, "+")
}

func (c NormalizerChain) Process(scored []ScoredIndividual) []ScoredIndividual {
	out := cloneScored(scored)
	for _, n := range c {
		out = n.Process(out)
	}
	return out
}

func cloneScored(scored []ScoredIndividual) []ScoredIndividual {
	out := make([]ScoredIndividual, len(scored))
	copy(out, scored)
	return out
}
