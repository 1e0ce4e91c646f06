// Package normalize converts raw assessment submissions into per-category
// score fragments using a versioned question weight table.
package normalize

import (
	"context"
	"fmt"

	"github.com/okian/profiler/internal/domain/model"
)

// maxPace caps how much faster than expected a response can count.
const maxPace = 2.0

// Normalizer scores submissions against a fixed weight table. It is safe for
// concurrent use; the table must not be mutated after New.
type Normalizer struct {
	table *WeightTable
}

// New validates table and returns a Normalizer bound to it.
func New(table *WeightTable) (*Normalizer, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &Normalizer{table: table}, nil
}

// Version returns the configuration version of the bound weight table.
func (n *Normalizer) Version() string { return n.table.Version }

// Normalize produces the fragment for sub. Any response the table cannot
// score fails the whole submission with ErrConfigMismatch.
func (n *Normalizer) Normalize(ctx context.Context, sub *model.Submission) (model.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return model.Fragment{}, fmt.Errorf("context cancelled: %w", err)
	}
	frag := model.Fragment{
		Type:         sub.Type,
		SubmissionID: sub.ID,
		Sequence:     sub.Sequence,
		Scores:       model.ZeroScores(),
	}
	if len(sub.Responses) == 0 {
		return frag, nil
	}

	var (
		sums     = make(map[model.Category]float64)
		totals   = make(map[model.Category]float64)
		paceSum  float64
		paceSeen int
	)
	for i := range sub.Responses {
		r := &sub.Responses[i]
		q, ok := n.table.Questions[r.QuestionID]
		if !ok {
			return model.Fragment{}, fmt.Errorf("%w: unknown question %q (table %s)", ErrConfigMismatch, r.QuestionID, n.table.Version)
		}
		if q.Type != sub.Type {
			return model.Fragment{}, fmt.Errorf("%w: question %q belongs to %s, not %s", ErrConfigMismatch, r.QuestionID, q.Type, sub.Type)
		}
		signal, err := responseSignal(sub.Type, r)
		if err != nil {
			return model.Fragment{}, err
		}
		for _, w := range q.Weights {
			s := signal
			if w.Polarity == Negative {
				s = 1 - s
			}
			sums[w.Category] += w.Weight * s
			totals[w.Category] += w.Weight
		}
		if r.TimeMs > 0 && q.ExpectedTimeMs > 0 {
			pace := float64(q.ExpectedTimeMs) / float64(r.TimeMs)
			if pace > maxPace {
				pace = maxPace
			}
			paceSum += pace / maxPace
			paceSeen++
		}
	}

	for _, c := range model.Categories() {
		if totals[c] > 0 {
			frag.Scores[c] = model.Clamp01(sums[c] / totals[c])
		}
	}
	if paceSeen > 0 {
		frag.ProcessingSpeed = model.Float64(paceSum / float64(paceSeen))
	}
	frag.Answered = len(sub.Responses)
	return frag, nil
}

// responseSignal maps a response to a signal in [0,1].
func responseSignal(t model.AssessmentType, r *model.Response) (float64, error) {
	switch t {
	case model.Cognitive:
		if r.Value == nil {
			return 0, fmt.Errorf("%w: cognitive question %q has no value", ErrConfigMismatch, r.QuestionID)
		}
		return model.Clamp01(*r.Value), nil
	case model.Academic:
		if r.Correct == nil {
			return 0, fmt.Errorf("%w: academic question %q has no correctness", ErrConfigMismatch, r.QuestionID)
		}
		if *r.Correct {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: unknown assessment type %q", ErrConfigMismatch, t)
	}
}
