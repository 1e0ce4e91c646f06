package service

import (
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/okian/profiler/internal/domain/aggregate"
	"github.com/okian/profiler/internal/domain/classify"
	"github.com/okian/profiler/internal/domain/model"
	"github.com/okian/profiler/internal/domain/normalize"
)

// configVersion identifies everything that shapes an assignment: the weight
// table, the per-type aggregation weights and the classifier thresholds.
// The result reads "<table version>+<digest>", so assignments produced under
// different thresholds never share a version.
func configVersion(table *normalize.WeightTable, agg *aggregate.Aggregator, cls *classify.Classifier) (string, error) {
	weights := make(map[model.AssessmentType]float64, len(model.AssessmentTypes()))
	for _, t := range model.AssessmentTypes() {
		weights[t] = agg.Weight(t)
	}
	doc, err := json.Marshal(struct {
		Table      *normalize.WeightTable           `json:"table"`
		Weights    map[model.AssessmentType]float64 `json:"type_weights"`
		Thresholds classify.Thresholds              `json:"thresholds"`
	}{table, weights, cls.Thresholds()})
	if err != nil {
		return "", fmt.Errorf("encode configuration: %w", err)
	}
	h := fnv.New32a()
	_, _ = h.Write(doc)
	return fmt.Sprintf("%s+%08x", table.Version, h.Sum32()), nil
}
