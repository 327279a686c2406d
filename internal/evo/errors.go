package evo

import (
	"errors"
	"fmt"
)

// ErrRunStopped reports an orderly stop requested through the control channel.
var ErrRunStopped = errors.New("run stopped by command")

// OperatorFailure reports a structural incompatibility between an operator and
// its operands. It is recoverable: the controller retries with different
// operands or a different operator and never aborts the run on it.
type OperatorFailure struct {
	Op     string
	Reason string
}

func (e *OperatorFailure) Error() string {
	return fmt.Sprintf("operator %s failed: %s", e.Op, e.Reason)
}

func operatorFailuref(op, format string, args ...any) *OperatorFailure {
	return &OperatorFailure{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// GenerationStarvationError reports that the variation phase could not produce
// enough viable offspring within its attempt budget. It is fatal to the run
// and carries the attempt breakdown for the operator log.
type GenerationStarvationError struct {
	Generation       int
	Produced         int
	Required         int
	Attempts         int
	OperatorFailures int
	Duplicates       int
	Malformed        int
}

func (e *GenerationStarvationError) Error() string {
	return fmt.Sprintf(
		"generation %d starved: produced %d of %d offspring in %d attempts (operator failures=%d duplicates=%d malformed=%d)",
		e.Generation, e.Produced, e.Required, e.Attempts, e.OperatorFailures, e.Duplicates, e.Malformed,
	)
}
