package evaluator

import (
	"context"
	"fmt"

	"athanor/internal/chem"
)

// Result carries everything one evaluation produced: the scalar fitness the
// selection layer consumes, named per-objective scores, and structural
// descriptors for reporting.
type Result struct {
	Fitness     float64            `json:"fitness"`
	Objectives  map[string]float64 `json:"objectives,omitempty"`
	Descriptors map[string]float64 `json:"descriptors,omitempty"`
}

// Evaluator scores a molecular graph. Implementations must be pure with
// respect to their Version tag: the same graph under the same version always
// yields the same Result. The content-addressed cache keys on that contract.
type Evaluator interface {
	Name() string
	Version() string
	Evaluate(ctx context.Context, g chem.Graph) (Result, error)
}

// EvaluationFailure wraps an evaluator fault with the individual it hit.
// Policy decides whether it excludes the individual from selection or aborts
// the run.
type EvaluationFailure struct {
	Evaluator   string
	Fingerprint string
	Err         error
}

func (e *EvaluationFailure) Error() string {
	return fmt.Sprintf("evaluation failed: evaluator=%s fingerprint=%s: %v", e.Evaluator, e.Fingerprint, e.Err)
}

func (e *EvaluationFailure) Unwrap() error { return e.Err }
