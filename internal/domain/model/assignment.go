package model

import (
	"fmt"
	"time"
)

// TieBreakProcessingSpeed marks assignments whose primary/secondary order
// was decided by processing speed.
const TieBreakProcessingSpeed = "processing_speed"

// Assignment is a versioned CategoryAssignment for one student.
type Assignment struct {
	StudentID           string      `json:"student_id"`
	Version             int         `json:"version"`
	Primary             Category    `json:"primary_category"`
	Secondary           *Category   `json:"secondary_category,omitempty"`
	Vector              ScoreVector `json:"score_vector"`
	LowConfidence       bool        `json:"low_confidence"`
	TieBreak            string      `json:"tie_break,omitempty"`
	ConfigVersion       string      `json:"config_version"`
	TriggerSubmissionID string      `json:"trigger_submission_id"`
	ProducedAt          time.Time   `json:"produced_at"`
}

// HasSecondary reports whether a secondary label is assigned.
func (a *Assignment) HasSecondary() bool { return a.Secondary != nil }

// Labels returns primary and, when present, secondary. Downstream consumers
// query guides and resources by both.
func (a *Assignment) Labels() []Category {
	if a.Secondary == nil {
		return []Category{a.Primary}
	}
	return []Category{a.Primary, *a.Secondary}
}

// Clone returns a deep copy.
func (a *Assignment) Clone() Assignment {
	out := *a
	out.Vector = a.Vector.Clone()
	if a.Secondary != nil {
		s := *a.Secondary
		out.Secondary = &s
	}
	return out
}

// Validate enforces the invariants of a committed assignment candidate.
// Version is checked by the store, not here.
func (a *Assignment) Validate() error {
	if a.StudentID == "" {
		return fmt.Errorf("%w: missing student id", ErrInvalidAssignment)
	}
	if !a.Primary.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidAssignment, ErrUnknownCategory, a.Primary)
	}
	if a.Secondary != nil {
		if !a.Secondary.Valid() {
			return fmt.Errorf("%w: %w: %q", ErrInvalidAssignment, ErrUnknownCategory, *a.Secondary)
		}
		if *a.Secondary == a.Primary {
			return fmt.Errorf("%w: secondary equals primary", ErrInvalidAssignment)
		}
	}
	if a.Vector.Coverage.Empty() {
		return fmt.Errorf("%w: %w", ErrInvalidAssignment, ErrEmptyCoverage)
	}
	if err := a.Vector.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAssignment, err)
	}
	return nil
}

// ClassificationUpdated is the outbound notification sent after a new
// version commits. Delivery is at-least-once.
type ClassificationUpdated struct {
	StudentID         string    `json:"student_id"`
	Version           int       `json:"version"`
	PrimaryCategory   Category  `json:"primary_category"`
	SecondaryCategory *Category `json:"secondary_category,omitempty"`
}

// UpdateFor builds the notification for a committed assignment.
func UpdateFor(a *Assignment) ClassificationUpdated {
	u := ClassificationUpdated{
		StudentID:       a.StudentID,
		Version:         a.Version,
		PrimaryCategory: a.Primary,
	}
	if a.Secondary != nil {
		s := *a.Secondary
		u.SecondaryCategory = &s
	}
	return u
}

// FailureKind classifies a recomputation that could not be applied.
type FailureKind string

// Failure kinds reported for manual inspection.
const (
	FailureConfigMismatch FailureKind = "config_mismatch"
	FailureStaleWrite     FailureKind = "stale_write"
	FailureInternal       FailureKind = "internal"
)

// Failure is a recomputation queued for manual inspection.
type Failure struct {
	ID           string      `json:"id"`
	SubmissionID string      `json:"submission_id"`
	StudentID    string      `json:"student_id"`
	Kind         FailureKind `json:"kind"`
	Message      string      `json:"message"`
	Attempts     int         `json:"attempts"`
	OccurredAt   time.Time   `json:"occurred_at"`
	Resolved     bool        `json:"resolved"`
}
