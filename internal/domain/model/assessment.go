package model

import (
	"fmt"
	"strings"
	"time"
)

// AssessmentType identifies which assessment produced a submission.
type AssessmentType string

// Supported assessment types.
const (
	Cognitive AssessmentType = "cognitive"
	Academic  AssessmentType = "academic"
)

// AssessmentTypes returns every supported type in a fixed order.
func AssessmentTypes() []AssessmentType {
	return []AssessmentType{Cognitive, Academic}
}

// Valid reports whether t is a supported assessment type.
func (t AssessmentType) Valid() bool {
	return t == Cognitive || t == Academic
}

// ParseAssessmentType validates a raw type name (case-insensitive).
func ParseAssessmentType(s string) (AssessmentType, error) {
	t := AssessmentType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAssessmentType, s)
	}
	return t, nil
}

// Response is a single answered question.
//
// Cognitive questions report Value in [0,1]; academic questions report
// Correct. TimeMs is optional timing metadata.
type Response struct {
	QuestionID string   `json:"question_id"`
	Value      *float64 `json:"value,omitempty"`
	Correct    *bool    `json:"correct,omitempty"`
	TimeMs     int64    `json:"time_ms,omitempty"`
}

// Submission is one completed assessment attempt. It is immutable once
// stored; a re-take is a new Submission.
type Submission struct {
	ID          string         `json:"id"`
	StudentID   string         `json:"student_id"`
	Type        AssessmentType `json:"assessment_type"`
	Responses   []Response     `json:"responses"`
	SubmittedAt time.Time      `json:"submitted_at"`
	// ReceivedAt and Sequence record coordinator arrival order.
	ReceivedAt  time.Time `json:"received_at"`
	Sequence    int64     `json:"sequence"`
	SourceToken string    `json:"source_token,omitempty"`
	Flagged     bool      `json:"flagged"`
	FlagReason  string    `json:"flag_reason,omitempty"`
}

// Validate checks the identifying fields of a submission.
func (s *Submission) Validate() error {
	switch {
	case strings.TrimSpace(s.ID) == "":
		return fmt.Errorf("%w: missing id", ErrInvalidSubmission)
	case strings.TrimSpace(s.StudentID) == "":
		return fmt.Errorf("%w: missing student id", ErrInvalidSubmission)
	case !s.Type.Valid():
		return fmt.Errorf("%w: %w: %q", ErrInvalidSubmission, ErrUnknownAssessmentType, s.Type)
	}
	return nil
}

// SubmissionCompleted is the inbound event emitted once a student finishes
// an assessment.
type SubmissionCompleted struct {
	StudentID      string         `json:"student_id"`
	AssessmentType AssessmentType `json:"assessment_type"`
	SubmissionID   string         `json:"submission_id"`
	Responses      []Response     `json:"responses"`
	CompletedAt    time.Time      `json:"completed_at"`
	SourceToken    string         `json:"source_token,omitempty"`
}

// Submission converts the event into the record the store keeps.
func (e *SubmissionCompleted) Submission() Submission {
	responses := make([]Response, len(e.Responses))
	copy(responses, e.Responses)
	return Submission{
		ID:          e.SubmissionID,
		StudentID:   e.StudentID,
		Type:        e.AssessmentType,
		Responses:   responses,
		SubmittedAt: e.CompletedAt,
		SourceToken: e.SourceToken,
	}
}

// EventFromSubmission rebuilds the inbound event for a stored submission.
func EventFromSubmission(s *Submission) SubmissionCompleted {
	responses := make([]Response, len(s.Responses))
	copy(responses, s.Responses)
	return SubmissionCompleted{
		StudentID:      s.StudentID,
		AssessmentType: s.Type,
		SubmissionID:   s.ID,
		Responses:      responses,
		CompletedAt:    s.SubmittedAt,
		SourceToken:    s.SourceToken,
	}
}
