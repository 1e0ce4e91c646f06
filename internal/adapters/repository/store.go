// Package repository persists submissions, classification versions and
// failure records.
package repository

import (
	"context"

	"github.com/okian/profiler/internal/domain/model"
)

// VersionRange selects history entries with From <= version <= To.
// Zero bounds are open.
type VersionRange struct {
	From int
	To   int
}

// Contains reports whether v falls inside the range.
func (r VersionRange) Contains(v int) bool {
	if r.From > 0 && v < r.From {
		return false
	}
	if r.To > 0 && v > r.To {
		return false
	}
	return true
}

// Stats summarizes stored state.
type Stats struct {
	Students     int `json:"students"`
	Submissions  int `json:"submissions"`
	OpenFailures int `json:"open_failures"`
}

// Store provides access to classification state. Reads reflect a consistent
// snapshot; writes are atomic.
type Store interface {
	// SaveSubmission appends sub and assigns its Sequence. A repeated ID
	// returns the stored record together with ErrDuplicateSubmission.
	SaveSubmission(ctx context.Context, sub model.Submission) (model.Submission, error)
	// GetSubmission returns ErrNotFound for unknown IDs.
	GetSubmission(ctx context.Context, id string) (model.Submission, error)
	// ListSubmissions returns the student's unflagged submissions in
	// arrival order.
	ListSubmissions(ctx context.Context, studentID string) ([]model.Submission, error)
	// FlagSubmission excludes a submission from recomputation.
	FlagSubmission(ctx context.Context, id, reason string) error
	// UnflagSubmission makes a flagged submission eligible again.
	UnflagSubmission(ctx context.Context, id string) error

	// RecordAssignment commits candidate as version expectedVersion+1 if the
	// student's current version still equals expectedVersion. Otherwise it
	// fails with ErrStaleWrite and nothing is written. A trigger that already
	// produced a version fails with ErrAlreadyApplied.
	RecordAssignment(ctx context.Context, expectedVersion int, candidate model.Assignment) (model.Assignment, error)
	// GetCurrent returns ErrNotFound before the first assignment.
	GetCurrent(ctx context.Context, studentID string) (model.Assignment, error)
	// GetHistory returns every committed version in range, ascending. The
	// current version is included.
	GetHistory(ctx context.Context, studentID string, r VersionRange) ([]model.Assignment, error)
	// AssignmentForSubmission returns the version triggered by submissionID.
	AssignmentForSubmission(ctx context.Context, submissionID string) (model.Assignment, error)

	// RecordFailure stores or replaces the open failure for a submission.
	RecordFailure(ctx context.Context, f model.Failure) (model.Failure, error)
	// ListFailures returns unresolved failures, most recent first.
	ListFailures(ctx context.Context, limit int) ([]model.Failure, error)
	// ResolveFailure marks the submission's failure resolved.
	ResolveFailure(ctx context.Context, submissionID string) error

	Stats(ctx context.Context) (Stats, error)
	Close() error
}
