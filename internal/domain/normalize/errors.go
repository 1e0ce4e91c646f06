package normalize

import "errors"

// Sentinel kinds for normalization errors.
var (
	// ErrConfigMismatch reports a response that the weight table cannot score.
	ErrConfigMismatch = errors.New("config mismatch")
	// ErrInvalidWeightTable reports a weight table that failed validation.
	ErrInvalidWeightTable = errors.New("invalid weight table")
)
