package repository

import "errors"

// Store errors.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStaleWrite is returned when another update committed first.
	ErrStaleWrite = errors.New("stale write")
	// ErrAlreadyApplied is returned when the trigger submission already
	// produced a version.
	ErrAlreadyApplied = errors.New("submission already applied")
	// ErrDuplicateSubmission is returned when a submission ID already exists.
	ErrDuplicateSubmission = errors.New("duplicate submission")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
)

// ignoreDuplicate drops ErrDuplicateSubmission for metrics purposes.
func ignoreDuplicate(err error) error {
	if errors.Is(err, ErrDuplicateSubmission) {
		return nil
	}
	return err
}

// ignoreStale drops compare-and-commit conflicts for metrics purposes.
func ignoreStale(err error) error {
	if errors.Is(err, ErrStaleWrite) || errors.Is(err, ErrAlreadyApplied) {
		return nil
	}
	return err
}

// ErrUnknownDialect is returned for unsupported SQL drivers.
var ErrUnknownDialect = errors.New("unknown sql dialect")

// ignoreNotFound drops ErrNotFound for metrics purposes.
func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
