// Package aggregate merges per-type score fragments into one score vector.
package aggregate

import (
	"github.com/okian/profiler/internal/domain/model"
)

// Default source weights.
const (
	defaultCognitiveWeight = 0.5
	defaultAcademicWeight  = 0.5
)

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithTypeWeights sets the relative weight of each assessment type when both
// contribute. Non-positive values are ignored.
func WithTypeWeights(cognitive, academic float64) Option {
	return func(a *Aggregator) {
		if cognitive > 0 {
			a.weights[model.Cognitive] = cognitive
		}
		if academic > 0 {
			a.weights[model.Academic] = academic
		}
	}
}

// Aggregator combines fragments. It holds no per-student state and is safe
// for concurrent use.
type Aggregator struct {
	weights map[model.AssessmentType]float64
}

// New creates an Aggregator with the given options.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{weights: map[model.AssessmentType]float64{
		model.Cognitive: defaultCognitiveWeight,
		model.Academic:  defaultAcademicWeight,
	}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Weight returns the configured weight for t.
func (a *Aggregator) Weight(t model.AssessmentType) float64 { return a.weights[t] }

// Latest keeps the most recent non-empty fragment per assessment type.
type Latest map[model.AssessmentType]model.Fragment

// Merge records f if it is at least as recent as the held fragment of the
// same type. Empty fragments never displace existing data.
func (l Latest) Merge(f model.Fragment) bool {
	if f.Empty() {
		return false
	}
	if cur, ok := l[f.Type]; ok && cur.Sequence > f.Sequence {
		return false
	}
	l[f.Type] = f
	return true
}

// Coverage reports which types are held.
func (l Latest) Coverage() model.Coverage {
	var c model.Coverage
	for t, f := range l {
		if !f.Empty() {
			c = c.With(t)
		}
	}
	return c
}

// Aggregate produces the combined vector. It returns false when no source
// has data. A single source is copied exactly; two sources are averaged by
// type weight, renormalized over the types present.
func (a *Aggregator) Aggregate(latest Latest) (model.ScoreVector, bool) {
	present := make([]model.Fragment, 0, len(latest))
	for _, t := range model.AssessmentTypes() {
		if f, ok := latest[t]; ok && !f.Empty() {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return model.ScoreVector{}, false
	}

	out := model.NewScoreVector()
	for _, f := range present {
		out.Coverage = out.Coverage.With(f.Type)
	}

	if len(present) == 1 {
		for c, s := range present[0].Scores {
			out.Scores[c] = s
		}
	} else {
		var total float64
		for _, f := range present {
			total += a.weights[f.Type]
		}
		for _, c := range model.Categories() {
			var sum float64
			for _, f := range present {
				sum += a.weights[f.Type] * f.Scores[c]
			}
			out.Scores[c] = model.Clamp01(sum / total)
		}
	}

	var speedSeq int64 = -1
	for _, f := range present {
		if f.ProcessingSpeed != nil && f.Sequence > speedSeq {
			speedSeq = f.Sequence
			out.ProcessingSpeed = model.Float64(*f.ProcessingSpeed)
		}
	}
	return out, true
}
