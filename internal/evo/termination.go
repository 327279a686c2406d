package evo

import (
	"time"
)

// RunState is the snapshot terminators see after each replacement.
type RunState struct {
	// Generation is the committed population counter.
	Generation int
	// BestFitness is the best fitness of the last evaluated generation.
	BestFitness float64
	// BestHistory holds the best fitness of every evaluated generation in
	// order.
	BestHistory []float64
	// Evaluations counts individual evaluations dispatched so far.
	Evaluations int
	// StartedAt is when the run entered its first evaluation.
	StartedAt time.Time
}

// Terminator decides whether a run should stop after a replacement commit.
type Terminator interface {
	Name() string
	ShouldStop(state RunState) bool
}

// GoalFitness stops once the best fitness reaches the goal.
type GoalFitness struct {
	Goal float64
}

func (GoalFitness) Name() string { return "goal_fitness" }

func (t GoalFitness) ShouldStop(state RunState) bool {
	return len(state.BestHistory) > 0 && state.BestFitness >= t.Goal
}

// Plateau stops when the best fitness has not improved by more than MinDelta
// over the last Window evaluated generations.
type Plateau struct {
	Window   int
	MinDelta float64
}

func (Plateau) Name() string { return "plateau" }

func (t Plateau) ShouldStop(state RunState) bool {
	window := t.Window
	if window <= 0 {
		window = 5
	}
	history := state.BestHistory
	if len(history) <= window {
		return false
	}
	baseline := history[len(history)-1-window]
	improvement := state.BestFitness - baseline
	return improvement <= t.MinDelta
}

// WallClock stops once the run has consumed its time budget.
type WallClock struct {
	Budget time.Duration
}

func (WallClock) Name() string { return "wall_clock" }

func (t WallClock) ShouldStop(state RunState) bool {
	if t.Budget <= 0 {
		return false
	}
	return time.Since(state.StartedAt) >= t.Budget
}

// EvaluationBudget stops once the run has dispatched its share of individual
// evaluations.
type EvaluationBudget struct {
	Limit int
}

func (EvaluationBudget) Name() string { return "evaluation_budget" }

func (t EvaluationBudget) ShouldStop(state RunState) bool {
	return t.Limit > 0 && state.Evaluations >= t.Limit
}
