package normalize

import (
	"fmt"
	"sort"

	"github.com/okian/profiler/internal/domain/model"
)

// Polarity selects whether a response signal counts for or against a category.
type Polarity string

// Polarities.
const (
	Positive Polarity = "positive"
	Negative Polarity = "negative"
)

// CategoryWeight maps one question onto one category.
type CategoryWeight struct {
	Category model.Category `koanf:"category" json:"category"`
	Weight   float64        `koanf:"weight" json:"weight"`
	// Polarity defaults to positive. For academic questions a negative
	// polarity means an incorrect answer is evidence for the category.
	Polarity Polarity `koanf:"polarity" json:"polarity,omitempty"`
}

// QuestionWeight describes how one question contributes to scoring.
type QuestionWeight struct {
	Type           model.AssessmentType `koanf:"type" json:"type"`
	Weights        []CategoryWeight     `koanf:"weights" json:"weights"`
	ExpectedTimeMs int64                `koanf:"expected_time_ms" json:"expected_time_ms,omitempty"`
}

// WeightTable is the versioned question-to-category configuration.
type WeightTable struct {
	Version   string                    `koanf:"version" json:"version"`
	Questions map[string]QuestionWeight `koanf:"questions" json:"questions"`
}

// Validate checks every question entry. Errors wrap ErrInvalidWeightTable.
func (t *WeightTable) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: nil table", ErrInvalidWeightTable)
	}
	if t.Version == "" {
		return fmt.Errorf("%w: missing version", ErrInvalidWeightTable)
	}
	if len(t.Questions) == 0 {
		return fmt.Errorf("%w: no questions", ErrInvalidWeightTable)
	}
	ids := make([]string, 0, len(t.Questions))
	for id := range t.Questions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		q := t.Questions[id]
		if !q.Type.Valid() {
			return fmt.Errorf("%w: question %s: unknown type %q", ErrInvalidWeightTable, id, q.Type)
		}
		if len(q.Weights) == 0 {
			return fmt.Errorf("%w: question %s: no weights", ErrInvalidWeightTable, id)
		}
		if q.ExpectedTimeMs < 0 {
			return fmt.Errorf("%w: question %s: negative expected time", ErrInvalidWeightTable, id)
		}
		for _, w := range q.Weights {
			if !w.Category.Valid() {
				return fmt.Errorf("%w: question %s: unknown category %q", ErrInvalidWeightTable, id, w.Category)
			}
			if w.Weight <= 0 {
				return fmt.Errorf("%w: question %s: weight for %s must be positive", ErrInvalidWeightTable, id, w.Category)
			}
			switch w.Polarity {
			case "", Positive, Negative:
			default:
				return fmt.Errorf("%w: question %s: unknown polarity %q", ErrInvalidWeightTable, id, w.Polarity)
			}
		}
	}
	return nil
}

// DefaultWeightTable returns the built-in table used when no weights file is
// configured.
func DefaultWeightTable() *WeightTable {
	cw := func(c model.Category, w float64) CategoryWeight {
		return CategoryWeight{Category: c, Weight: w, Polarity: Positive}
	}
	neg := func(c model.Category, w float64) CategoryWeight {
		return CategoryWeight{Category: c, Weight: w, Polarity: Negative}
	}
	return &WeightTable{
		Version: "builtin-1",
		Questions: map[string]QuestionWeight{
			// Cognitive: self-reported or observed behaviour, Value in [0,1].
			"cog-pattern-grid":     {Type: model.Cognitive, ExpectedTimeMs: 30_000, Weights: []CategoryWeight{cw(model.LogicalLearner, 1), cw(model.FastProcessor, 0.5)}},
			"cog-picture-recall":   {Type: model.Cognitive, ExpectedTimeMs: 25_000, Weights: []CategoryWeight{cw(model.VisualLearner, 1)}},
			"cog-diagram-pref":     {Type: model.Cognitive, ExpectedTimeMs: 15_000, Weights: []CategoryWeight{cw(model.VisualLearner, 0.8), neg(model.LogicalLearner, 0.2)}},
			"cog-sequence-logic":   {Type: model.Cognitive, ExpectedTimeMs: 40_000, Weights: []CategoryWeight{cw(model.LogicalLearner, 1)}},
			"cog-sit-still":        {Type: model.Cognitive, ExpectedTimeMs: 10_000, Weights: []CategoryWeight{neg(model.HighEnergy, 1), neg(model.EasilyDistracted, 0.5)}},
			"cog-focus-span":       {Type: model.Cognitive, ExpectedTimeMs: 20_000, Weights: []CategoryWeight{neg(model.EasilyDistracted, 1)}},
			"cog-mistake-reaction": {Type: model.Cognitive, ExpectedTimeMs: 15_000, Weights: []CategoryWeight{cw(model.SensitiveLowConfidence, 1)}},
			"cog-reaction-time":    {Type: model.Cognitive, ExpectedTimeMs: 5_000, Weights: []CategoryWeight{cw(model.FastProcessor, 1), neg(model.SlowProcessing, 1)}},
			// Academic: correctness-scored items.
			"aca-arith-speed":   {Type: model.Academic, ExpectedTimeMs: 20_000, Weights: []CategoryWeight{cw(model.FastProcessor, 1), neg(model.SlowProcessing, 1)}},
			"aca-word-problem":  {Type: model.Academic, ExpectedTimeMs: 60_000, Weights: []CategoryWeight{cw(model.LogicalLearner, 1)}},
			"aca-chart-reading": {Type: model.Academic, ExpectedTimeMs: 45_000, Weights: []CategoryWeight{cw(model.VisualLearner, 1)}},
			"aca-recall-drill":  {Type: model.Academic, ExpectedTimeMs: 30_000, Weights: []CategoryWeight{neg(model.NeedsRepetition, 1)}},
			"aca-review-item":   {Type: model.Academic, ExpectedTimeMs: 30_000, Weights: []CategoryWeight{neg(model.NeedsRepetition, 0.8), neg(model.SensitiveLowConfidence, 0.2)}},
			"aca-long-passage":  {Type: model.Academic, ExpectedTimeMs: 90_000, Weights: []CategoryWeight{neg(model.EasilyDistracted, 1), neg(model.HighEnergy, 0.5)}},
		},
	}
}
