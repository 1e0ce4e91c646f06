package worker

import "errors"

// Worker errors.
var (
	// ErrRetriesExhausted reports a recomputation that lost every
	// compare-and-commit race within its attempt budget.
	ErrRetriesExhausted = errors.New("stale write retries exhausted")
	// ErrPanic reports a processor panic recovered by a partition.
	ErrPanic = errors.New("processor panic")
)
