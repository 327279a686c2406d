package model

import "fmt"

// PopulationSizeError reports a wholesale-replacement attempt whose offspring
// count does not match the configured population size. It indicates a
// controller or operator contract breach and is never retried.
type PopulationSizeError struct {
	Expected   int
	Actual     int
	Generation int
}

func (e *PopulationSizeError) Error() string {
	return fmt.Sprintf("population size violation at generation %d: expected %d individuals, got %d",
		e.Generation, e.Expected, e.Actual)
}

// NewPopulation builds the generation-zero population. The individual count
// fixes the population size for the rest of the run.
func NewPopulation(id string, individuals []Individual) (Population, error) {
	if id == "" {
		return Population{}, fmt.Errorf("population id is required")
	}
	if len(individuals) == 0 {
		return Population{}, fmt.Errorf("population requires at least one individual")
	}
	members := make([]Individual, len(individuals))
	copy(members, individuals)
	for i := range members {
		members[i].Generation = 0
	}
	return Population{
		ID:          id,
		Generation:  0,
		Individuals: members,
	}, nil
}

// Advance replaces the population wholesale with offspring, incrementing the
// generation counter by exactly one. The offspring count must equal the
// current population size; anything else fails with *PopulationSizeError.
func (p Population) Advance(offspring []Individual) (Population, error) {
	if len(offspring) != len(p.Individuals) {
		return Population{}, &PopulationSizeError{
			Expected:   len(p.Individuals),
			Actual:     len(offspring),
			Generation: p.Generation + 1,
		}
	}
	next := make([]Individual, len(offspring))
	copy(next, offspring)
	for i := range next {
		next[i].Generation = p.Generation + 1
	}
	return Population{
		VersionedRecord: p.VersionedRecord,
		ID:              p.ID,
		Generation:      p.Generation + 1,
		Individuals:     next,
	}, nil
}

// Size returns the fixed population size.
func (p Population) Size() int { return len(p.Individuals) }

// Fingerprints returns member fingerprints in population order.
func (p Population) Fingerprints() []string {
	out := make([]string, len(p.Individuals))
	for i, ind := range p.Individuals {
		out[i] = ind.Fingerprint
	}
	return out
}
