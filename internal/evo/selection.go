package evo

import (
	"fmt"
	"math/rand"
	"sort"

	"athanor/internal/model"
)

// Selector picks k parents from a scored population. Individuals excluded by
// the evaluation failure policy are never picked. Picks are with replacement
// unless a strategy says otherwise.
type Selector interface {
	Name() string
	Select(rng *rand.Rand, scored []ScoredIndividual, k int) ([]model.Individual, error)
}

// SelectorSpec names a selection strategy with its tunables.
type SelectorSpec struct {
	Name           string
	TournamentSize int
	Pressure       float64
}

// SelectorFromSpec builds the named strategy.
func SelectorFromSpec(spec SelectorSpec) (Selector, error) {
	switch spec.Name {
	case "elite":
		return EliteSelector{}, nil
	case "tournament":
		return TournamentSelector{TournamentSize: spec.TournamentSize}, nil
	case "roulette":
		return RouletteSelector{}, nil
	case "rank":
		return RankSelector{Pressure: spec.Pressure}, nil
	default:
		return nil, fmt.Errorf("unsupported selection strategy: %s", spec.Name)
	}
}

// ListSelectors returns the supported strategy names.
func ListSelectors() []string {
	return []string{"elite", "rank", "roulette", "tournament"}
}

func eligibleOf(scored []ScoredIndividual) []ScoredIndividual {
	out := make([]ScoredIndividual, 0, len(scored))
	for _, item := range scored {
		if !item.Excluded {
			out = append(out, item)
		}
	}
	return out
}

// rankScored orders by fitness descending with individual ID as the tie
// break, so equal-fitness populations still rank deterministically.
func rankScored(scored []ScoredIndividual) []ScoredIndividual {
	out := cloneScored(scored)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Fitness != out[j].Fitness {
			return out[i].Fitness > out[j].Fitness
		}
		return out[i].Individual.ID < out[j].Individual.ID
	})
	return out
}

// EliteSelector deterministically returns the top k by fitness.
type EliteSelector struct{}

func (EliteSelector) Name() string { return "elite" }

func (EliteSelector) Select(_ *rand.Rand, scored []ScoredIndividual, k int) ([]model.Individual, error) {
	eligible := rankScored(eligibleOf(scored))
	if k <= 0 || k > len(eligible) {
		return nil, fmt.Errorf("invalid selection count: %d of %d eligible", k, len(eligible))
	}
	out := make([]model.Individual, 0, k)
	for _, item := range eligible[:k] {
		out = append(out, item.Individual)
	}
	return out, nil
}

// TournamentSelector repeatedly samples a small group and keeps its best.
type TournamentSelector struct {
	TournamentSize int
}

func (TournamentSelector) Name() string { return "tournament" }

func (s TournamentSelector) Select(rng *rand.Rand, scored []ScoredIndividual, k int) ([]model.Individual, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	eligible := rankScored(eligibleOf(scored))
	if len(eligible) == 0 {
		return nil, fmt.Errorf("no eligible parents")
	}
	if k <= 0 {
		return nil, fmt.Errorf("invalid selection count: %d", k)
	}

	size := s.TournamentSize
	if size <= 0 {
		size = 3
	}
	if size > len(eligible) {
		size = len(eligible)
	}

	out := make([]model.Individual, 0, k)
	for n := 0; n < k; n++ {
		// Eligible is ranked best-first, so the lowest sampled index
		// wins the tournament.
		best := rng.Intn(len(eligible))
		for i := 1; i < size; i++ {
			if candidate := rng.Intn(len(eligible)); candidate < best {
				best = candidate
			}
		}
		out = append(out, eligible[best].Individual)
	}
	return out, nil
}

// RouletteSelector picks with probability proportional to fitness after a
// shift to positive values.
type RouletteSelector struct{}

func (RouletteSelector) Name() string { return "roulette" }

func (RouletteSelector) Select(rng *rand.Rand, scored []ScoredIndividual, k int) ([]model.Individual, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	eligible := rankScored(eligibleOf(scored))
	if len(eligible) == 0 {
		return nil, fmt.Errorf("no eligible parents")
	}
	if k <= 0 {
		return nil, fmt.Errorf("invalid selection count: %d", k)
	}

	weights := make([]float64, len(eligible))
	lowest := eligible[len(eligible)-1].Fitness
	shift := 0.0
	if lowest <= 0 {
		shift = -lowest + 1e-9
	}
	total := 0.0
	for i, item := range eligible {
		weights[i] = item.Fitness + shift
		total += weights[i]
	}

	out := make([]model.Individual, 0, k)
	for n := 0; n < k; n++ {
		if total <= 0 {
			out = append(out, eligible[rng.Intn(len(eligible))].Individual)
			continue
		}
		pick := rng.Float64() * total
		acc := 0.0
		chosen := len(eligible) - 1
		for i, w := range weights {
			acc += w
			if pick <= acc {
				chosen = i
				break
			}
		}
		out = append(out, eligible[chosen].Individual)
	}
	return out, nil
}

// RankSelector applies linear ranking: weights depend on rank position, not
// fitness magnitude, so outliers cannot dominate the draw.
type RankSelector struct {
	// Pressure in (1, 2]. Higher values favor the top ranks more. Zero
	// applies the default of 1.5.
	Pressure float64
}

func (RankSelector) Name() string { return "rank" }

func (s RankSelector) Select(rng *rand.Rand, scored []ScoredIndividual, k int) ([]model.Individual, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	eligible := rankScored(eligibleOf(scored))
	if len(eligible) == 0 {
		return nil, fmt.Errorf("no eligible parents")
	}
	if k <= 0 {
		return nil, fmt.Errorf("invalid selection count: %d", k)
	}

	pressure := s.Pressure
	if pressure == 0 {
		pressure = 1.5
	}
	if pressure <= 1 || pressure > 2 {
		return nil, fmt.Errorf("rank pressure must be in (1, 2], got %g", pressure)
	}

	n := len(eligible)
	weights := make([]float64, n)
	total := 0.0
	for i := range eligible {
		if n == 1 {
			weights[i] = 1
		} else {
			weights[i] = (2 - pressure) + 2*(pressure-1)*float64(n-1-i)/float64(n-1)
		}
		total += weights[i]
	}

	out := make([]model.Individual, 0, k)
	for picks := 0; picks < k; picks++ {
		pick := rng.Float64() * total
		acc := 0.0
		chosen := n - 1
		for i, w := range weights {
			acc += w
			if pick <= acc {
				chosen = i
				break
			}
		}
		out = append(out, eligible[chosen].Individual)
	}
	return out, nil
}
