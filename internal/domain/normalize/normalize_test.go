package normalize_test

import (
	"context"
	"errors"
	"testing"

	"github.com/okian/profiler/internal/domain/model"
	"github.com/okian/profiler/internal/domain/normalize"
	. "github.com/smartystreets/goconvey/convey"
)

func testTable() *normalize.WeightTable {
	return &normalize.WeightTable{
		Version: "t-1",
		Questions: map[string]normalize.QuestionWeight{
			"c1": {Type: model.Cognitive, ExpectedTimeMs: 1000, Weights: []normalize.CategoryWeight{
				{Category: model.VisualLearner, Weight: 1},
			}},
			"c2": {Type: model.Cognitive, ExpectedTimeMs: 1000, Weights: []normalize.CategoryWeight{
				{Category: model.VisualLearner, Weight: 3},
				{Category: model.HighEnergy, Weight: 1, Polarity: normalize.Negative},
			}},
			"a1": {Type: model.Academic, Weights: []normalize.CategoryWeight{
				{Category: model.LogicalLearner, Weight: 1},
				{Category: model.NeedsRepetition, Weight: 1, Polarity: normalize.Negative},
			}},
		},
	}
}

func TestWeightTableValidate(t *testing.T) {
	Convey("Given weight tables", t, func() {
		Convey("The built-in table is valid", func() {
			So(normalize.DefaultWeightTable().Validate(), ShouldBeNil)
		})

		Convey("A missing version is rejected", func() {
			tbl := testTable()
			tbl.Version = ""
			So(errors.Is(tbl.Validate(), normalize.ErrInvalidWeightTable), ShouldBeTrue)
		})

		Convey("A non-positive weight is rejected", func() {
			tbl := testTable()
			tbl.Questions["bad"] = normalize.QuestionWeight{Type: model.Cognitive, Weights: []normalize.CategoryWeight{
				{Category: model.VisualLearner, Weight: 0},
			}}
			So(errors.Is(tbl.Validate(), normalize.ErrInvalidWeightTable), ShouldBeTrue)
		})

		Convey("An unknown category is rejected", func() {
			tbl := testTable()
			tbl.Questions["bad"] = normalize.QuestionWeight{Type: model.Cognitive, Weights: []normalize.CategoryWeight{
				{Category: "night_owl", Weight: 1},
			}}
			_, err := normalize.New(tbl)
			So(errors.Is(err, normalize.ErrInvalidWeightTable), ShouldBeTrue)
		})
	})
}

func TestNormalize(t *testing.T) {
	Convey("Given a normalizer", t, func() {
		n, err := normalize.New(testTable())
		So(err, ShouldBeNil)
		So(n.Version(), ShouldEqual, "t-1")
		ctx := context.Background()

		Convey("When a cognitive submission is scored", func() {
			sub := &model.Submission{
				ID: "s1", StudentID: "stu", Type: model.Cognitive, Sequence: 4,
				Responses: []model.Response{
					{QuestionID: "c1", Value: model.Float64(1), TimeMs: 1000},
					{QuestionID: "c2", Value: model.Float64(0.5), TimeMs: 4000},
				},
			}
			frag, err := n.Normalize(ctx, sub)
			So(err, ShouldBeNil)

			Convey("Then scores are weighted averages of signals", func() {
				So(frag.Scores[model.VisualLearner], ShouldAlmostEqual, (1*1+3*0.5)/4.0)
				So(frag.Scores[model.HighEnergy], ShouldAlmostEqual, 0.5)
				So(frag.Scores[model.LogicalLearner], ShouldEqual, 0)
				So(len(frag.Scores), ShouldEqual, 8)
			})

			Convey("Then processing speed is the mean capped pace", func() {
				So(frag.ProcessingSpeed, ShouldNotBeNil)
				So(*frag.ProcessingSpeed, ShouldAlmostEqual, (0.5+0.125)/2)
			})

			Convey("Then the fragment carries submission identity", func() {
				So(frag.SubmissionID, ShouldEqual, "s1")
				So(frag.Sequence, ShouldEqual, 4)
				So(frag.Answered, ShouldEqual, 2)
				So(frag.Coverage(), ShouldEqual, model.CoverageOf(model.Cognitive))
			})
		})

		Convey("When an academic submission has wrong answers", func() {
			sub := &model.Submission{ID: "s2", StudentID: "stu", Type: model.Academic, Responses: []model.Response{
				{QuestionID: "a1", Correct: model.Bool(false)},
			}}
			frag, err := n.Normalize(ctx, sub)
			So(err, ShouldBeNil)
			So(frag.Scores[model.LogicalLearner], ShouldEqual, 0)
			So(frag.Scores[model.NeedsRepetition], ShouldEqual, 1)
			So(frag.ProcessingSpeed, ShouldBeNil)
		})

		Convey("When a submission has no responses", func() {
			frag, err := n.Normalize(ctx, &model.Submission{ID: "s3", Type: model.Academic})
			So(err, ShouldBeNil)
			So(frag.Empty(), ShouldBeTrue)
			So(frag.Coverage().Empty(), ShouldBeTrue)
		})

		Convey("When a response references an unknown question", func() {
			_, err := n.Normalize(ctx, &model.Submission{ID: "s4", Type: model.Cognitive, Responses: []model.Response{
				{QuestionID: "zz", Value: model.Float64(1)},
			}})
			So(errors.Is(err, normalize.ErrConfigMismatch), ShouldBeTrue)
		})

		Convey("When a question is answered under the wrong type", func() {
			_, err := n.Normalize(ctx, &model.Submission{ID: "s5", Type: model.Cognitive, Responses: []model.Response{
				{QuestionID: "a1", Value: model.Float64(1)},
			}})
			So(errors.Is(err, normalize.ErrConfigMismatch), ShouldBeTrue)
		})

		Convey("When an academic response lacks correctness", func() {
			_, err := n.Normalize(ctx, &model.Submission{ID: "s6", Type: model.Academic, Responses: []model.Response{
				{QuestionID: "a1", Value: model.Float64(1)},
			}})
			So(errors.Is(err, normalize.ErrConfigMismatch), ShouldBeTrue)
		})

		Convey("When out-of-range values are supplied", func() {
			frag, err := n.Normalize(ctx, &model.Submission{ID: "s7", Type: model.Cognitive, Responses: []model.Response{
				{QuestionID: "c1", Value: model.Float64(7)},
			}})
			So(err, ShouldBeNil)
			So(frag.Scores[model.VisualLearner], ShouldEqual, 1)
		})
	})
}
