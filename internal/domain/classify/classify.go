// Package classify turns an aggregate score vector into a primary and
// optional secondary category.
package classify

import (
	"fmt"
	"sort"

	"github.com/okian/profiler/internal/domain/model"
)

// Default classification thresholds.
const (
	defaultPrimaryThreshold   = 0.6
	defaultSecondaryThreshold = 0.4
	defaultClosenessMargin    = 0.15
	defaultHighSpeedThreshold = 0.6

	// epsilon absorbs float noise in margin comparisons.
	epsilon = 1e-9
)

// Option applies a configuration option to the Classifier.
type Option func(*Classifier)

// WithPrimaryThreshold sets the score a primary must exceed to be confident.
func WithPrimaryThreshold(v float64) Option {
	return func(c *Classifier) {
		if v >= 0 && v <= 1 {
			c.primaryThreshold = v
		}
	}
}

// WithSecondaryThreshold sets the minimum score for a secondary category.
func WithSecondaryThreshold(v float64) Option {
	return func(c *Classifier) {
		if v >= 0 && v <= 1 {
			c.secondaryThreshold = v
		}
	}
}

// WithClosenessMargin sets how close the runner-up must be to the primary.
func WithClosenessMargin(v float64) Option {
	return func(c *Classifier) {
		if v >= 0 && v <= 1 {
			c.margin = v
		}
	}
}

// WithHighSpeedThreshold sets the processing speed at or above which a
// student counts as fast for tie-breaking.
func WithHighSpeedThreshold(v float64) Option {
	return func(c *Classifier) {
		if v >= 0 && v <= 1 {
			c.highSpeed = v
		}
	}
}

// WithSpeedPair sets the two categories disambiguated by processing speed.
// fast wins when speed is high, slow wins otherwise.
func WithSpeedPair(fast, slow model.Category) Option {
	return func(c *Classifier) {
		if fast.Valid() && slow.Valid() && fast != slow {
			c.fast, c.slow = fast, slow
		}
	}
}

// Ranked is one entry of a ranked score vector.
type Ranked struct {
	Category model.Category `json:"category"`
	Score    float64        `json:"score"`
}

// Result is the outcome of classifying one vector.
type Result struct {
	Primary       model.Category
	Secondary     *model.Category
	LowConfidence bool
	// TieBreak names the rule that decided the primary, empty when ranking
	// alone decided it.
	TieBreak string
}

// Classifier applies threshold and tie-break rules. It is immutable after
// New and safe for concurrent use.
type Classifier struct {
	primaryThreshold   float64
	secondaryThreshold float64
	margin             float64
	highSpeed          float64
	fast               model.Category
	slow               model.Category
}

// New creates a Classifier with the given options.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		primaryThreshold:   defaultPrimaryThreshold,
		secondaryThreshold: defaultSecondaryThreshold,
		margin:             defaultClosenessMargin,
		highSpeed:          defaultHighSpeedThreshold,
		fast:               model.LogicalLearner,
		slow:               model.VisualLearner,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Thresholds is the classifier's effective configuration.
type Thresholds struct {
	Primary   float64        `json:"primary"`
	Secondary float64        `json:"secondary"`
	Margin    float64        `json:"margin"`
	HighSpeed float64        `json:"high_speed"`
	Fast      model.Category `json:"fast"`
	Slow      model.Category `json:"slow"`
}

// Thresholds returns the values the classifier was built with.
func (c *Classifier) Thresholds() Thresholds {
	return Thresholds{
		Primary:   c.primaryThreshold,
		Secondary: c.secondaryThreshold,
		Margin:    c.margin,
		HighSpeed: c.highSpeed,
		Fast:      c.fast,
		Slow:      c.slow,
	}
}

// String describes the active thresholds.
func (c *Classifier) String() string {
	return fmt.Sprintf("primary>%.3f secondary>%.3f margin<=%.3f high_speed>=%.3f pair=%s/%s",
		c.primaryThreshold, c.secondaryThreshold, c.margin, c.highSpeed, c.fast, c.slow)
}

// Rank orders all taxonomy labels by score descending, breaking ties by
// taxonomy priority.
func Rank(v *model.ScoreVector) []Ranked {
	cats := model.Categories()
	out := make([]Ranked, len(cats))
	for i, cat := range cats {
		out[i] = Ranked{Category: cat, Score: v.Score(cat)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Category.Priority() < out[j].Category.Priority()
	})
	return out
}

// Classify assigns categories for v. It always yields a primary.
func (c *Classifier) Classify(v *model.ScoreVector) Result {
	ranked := Rank(v)
	first, second := ranked[0], ranked[1]
	near := first.Score-second.Score <= c.margin+epsilon

	res := Result{Primary: first.Category}
	primaryScore := first.Score
	runnerUp := second

	if near && c.isSpeedPair(first.Category, second.Category) {
		winner, loser := c.slow, c.fast
		if v.ProcessingSpeed != nil && *v.ProcessingSpeed >= c.highSpeed {
			winner, loser = c.fast, c.slow
		}
		res.Primary = winner
		res.TieBreak = model.TieBreakProcessingSpeed
		primaryScore = v.Score(winner)
		runnerUp = Ranked{Category: loser, Score: v.Score(loser)}
	}

	res.LowConfidence = !(primaryScore > c.primaryThreshold)
	if near && runnerUp.Score > c.secondaryThreshold {
		cat := runnerUp.Category
		res.Secondary = &cat
	}
	return res
}

func (c *Classifier) isSpeedPair(a, b model.Category) bool {
	return (a == c.fast && b == c.slow) || (a == c.slow && b == c.fast)
}
