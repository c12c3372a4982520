package engine

import "errors"

var (
	// ErrConsistency is returned when the distributed shares do not sum
	// back to the pool total. It indicates a logic defect, never a
	// transient condition; the run transaction is aborted and nothing is
	// persisted.
	ErrConsistency = errors.New("engine: share sum violates pool total invariant")

	// ErrRunInProgress is returned when a pool row for the day exists in
	// a non-terminal state, meaning another invocation holds the day.
	ErrRunInProgress = errors.New("engine: run already in progress for day")
)
