package model

import "errors"

// Sentinel kinds for model validation errors.
var (
	ErrUnknownCategory       = errors.New("unknown category")
	ErrUnknownAssessmentType = errors.New("unknown assessment type")
	ErrScoreOutOfRange       = errors.New("score out of range")
	ErrEmptyCoverage         = errors.New("empty source coverage")
	ErrInvalidAssignment     = errors.New("invalid assignment")
	ErrInvalidSubmission     = errors.New("invalid submission")
)
