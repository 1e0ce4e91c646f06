// Package model contains domain models passed between layers.
package model

import "fmt"

// Category is a label from the fixed learning-profile taxonomy.
type Category string

// Taxonomy labels, declared in tie-break priority order (highest first).
const (
	SlowProcessing         Category = "slow_processing"
	FastProcessor          Category = "fast_processor"
	HighEnergy             Category = "high_energy"
	VisualLearner          Category = "visual_learner"
	LogicalLearner         Category = "logical_learner"
	SensitiveLowConfidence Category = "sensitive_low_confidence"
	EasilyDistracted       Category = "easily_distracted"
	NeedsRepetition        Category = "needs_repetition"
)

var taxonomy = [...]Category{
	SlowProcessing,
	FastProcessor,
	HighEnergy,
	VisualLearner,
	LogicalLearner,
	SensitiveLowConfidence,
	EasilyDistracted,
	NeedsRepetition,
}

var priority = func() map[Category]int {
	m := make(map[Category]int, len(taxonomy))
	for i, c := range taxonomy {
		m[c] = i
	}
	return m
}()

// Categories returns the taxonomy in priority order. The slice is a copy.
func Categories() []Category {
	out := make([]Category, len(taxonomy))
	copy(out, taxonomy[:])
	return out
}

// Valid reports whether c belongs to the taxonomy.
func (c Category) Valid() bool {
	_, ok := priority[c]
	return ok
}

// Priority returns the tie-break rank of c (0 is highest). Unknown labels
// sort after every known label.
func (c Category) Priority() int {
	if p, ok := priority[c]; ok {
		return p
	}
	return len(taxonomy)
}

// ParseCategory validates a raw label.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}
