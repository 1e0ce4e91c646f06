package model

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Coverage is the set of assessment types that contributed to a vector.
type Coverage uint8

const (
	coverCognitive Coverage = 1 << iota
	coverAcademic
)

func coverageBit(t AssessmentType) Coverage {
	switch t {
	case Cognitive:
		return coverCognitive
	case Academic:
		return coverAcademic
	default:
		return 0
	}
}

// CoverageOf builds a Coverage from the given types.
func CoverageOf(types ...AssessmentType) Coverage {
	var c Coverage
	for _, t := range types {
		c |= coverageBit(t)
	}
	return c
}

// Has reports whether t contributed.
func (c Coverage) Has(t AssessmentType) bool {
	b := coverageBit(t)
	return b != 0 && c&b != 0
}

// With returns c with t added.
func (c Coverage) With(t AssessmentType) Coverage { return c | coverageBit(t) }

// Without returns c with t removed.
func (c Coverage) Without(t AssessmentType) Coverage { return c &^ coverageBit(t) }

// Empty reports whether no source contributed.
func (c Coverage) Empty() bool { return c == 0 }

// Types lists the covered types in fixed order.
func (c Coverage) Types() []AssessmentType {
	out := make([]AssessmentType, 0, 2)
	for _, t := range AssessmentTypes() {
		if c.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// MarshalJSON encodes coverage as a sorted list of type names.
func (c Coverage) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Types())
}

// UnmarshalJSON decodes a list of type names.
func (c *Coverage) UnmarshalJSON(b []byte) error {
	var raw []string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var out Coverage
	for _, s := range raw {
		t, err := ParseAssessmentType(s)
		if err != nil {
			return err
		}
		out = out.With(t)
	}
	*c = out
	return nil
}

// Fragment is the normalized contribution of a single submission, limited
// to that submission's assessment type.
type Fragment struct {
	Type            AssessmentType       `json:"assessment_type"`
	SubmissionID    string               `json:"submission_id"`
	Sequence        int64                `json:"sequence"`
	Scores          map[Category]float64 `json:"scores"`
	ProcessingSpeed *float64             `json:"processing_speed,omitempty"`
	Answered        int                  `json:"answered"`
}

// Empty reports whether the fragment carries no data. Empty fragments are
// treated as "no data" rather than all-low scores.
func (f *Fragment) Empty() bool { return f.Answered == 0 }

// Coverage returns the coverage this fragment contributes.
func (f *Fragment) Coverage() Coverage {
	if f.Empty() {
		return 0
	}
	return CoverageOf(f.Type)
}

// ScoreVector maps every taxonomy label to a score in [0,1].
type ScoreVector struct {
	Scores map[Category]float64 `json:"scores"`
	// ProcessingSpeed is used only for tie-breaking. 0.5 is on pace.
	ProcessingSpeed *float64 `json:"processing_speed,omitempty"`
	Coverage        Coverage `json:"source_coverage"`
}

// NewScoreVector returns a vector with every label at zero.
func NewScoreVector() ScoreVector {
	return ScoreVector{Scores: ZeroScores()}
}

// ZeroScores returns a score map with every label at zero.
func ZeroScores() map[Category]float64 {
	m := make(map[Category]float64, len(taxonomy))
	for _, c := range taxonomy {
		m[c] = 0
	}
	return m
}

// Score returns the score for c (zero when absent).
func (v *ScoreVector) Score(c Category) float64 { return v.Scores[c] }

// Clone returns a deep copy.
func (v *ScoreVector) Clone() ScoreVector {
	out := ScoreVector{
		Scores:   make(map[Category]float64, len(v.Scores)),
		Coverage: v.Coverage,
	}
	for k, s := range v.Scores {
		out.Scores[k] = s
	}
	if v.ProcessingSpeed != nil {
		speed := *v.ProcessingSpeed
		out.ProcessingSpeed = &speed
	}
	return out
}

// Validate checks labels and bounds.
func (v *ScoreVector) Validate() error {
	keys := make([]string, 0, len(v.Scores))
	for c := range v.Scores {
		keys = append(keys, string(c))
	}
	sort.Strings(keys)
	for _, k := range keys {
		c := Category(k)
		if !c.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownCategory, k)
		}
		s := v.Scores[c]
		if math.IsNaN(s) || s < 0 || s > 1 {
			return fmt.Errorf("%w: %s=%v", ErrScoreOutOfRange, k, s)
		}
	}
	return nil
}

// Clamp01 bounds x to [0,1]; NaN maps to 0.
func Clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Float64 returns a pointer to x.
func Float64(x float64) *float64 { return &x }

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }
