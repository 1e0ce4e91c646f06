package loadgen

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/okian/profiler/internal/domain/aggregate"
	"github.com/okian/profiler/internal/domain/classify"
	"github.com/okian/profiler/internal/domain/model"
	"github.com/okian/profiler/internal/domain/normalize"
)

// Response timing spread relative to a question's expected time.
const (
	minPace = 0.3
	maxPace = 2.0
)

// Generator builds synthetic students from a weight table and computes the
// labels the server should converge to.
type Generator struct {
	rnd        *rand.Rand
	questions  map[model.AssessmentType][]string
	table      *normalize.WeightTable
	normalizer *normalize.Normalizer
	aggregator *aggregate.Aggregator
	classifier *classify.Classifier
}

// NewGenerator uses the built-in weight table and default scoring options,
// matching a server started without overrides.
func NewGenerator(seed uint64) (*Generator, error) {
	table := normalize.DefaultWeightTable()
	n, err := normalize.New(table)
	if err != nil {
		return nil, err
	}
	qs := make(map[model.AssessmentType][]string)
	for id, q := range table.Questions {
		qs[q.Type] = append(qs[q.Type], id)
	}
	for t := range qs {
		sort.Strings(qs[t])
	}
	return &Generator{
		rnd:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		questions:  qs,
		table:      table,
		normalizer: n,
		aggregator: aggregate.New(),
		classifier: classify.New(),
	}, nil
}

// Students generates n students, each with one submission per assessment
// type.
func (g *Generator) Students(ctx context.Context, n int) ([]Student, error) {
	out := make([]Student, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during generation: %w", err)
		}
		s, err := g.student(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (g *Generator) student(ctx context.Context) (Student, error) {
	s := Student{ID: uuid.NewString()}
	latest := aggregate.Latest{}
	now := time.Now().UTC()
	for seq, t := range model.AssessmentTypes() {
		sub := Submission{
			SubmissionID:   uuid.NewString(),
			StudentID:      s.ID,
			AssessmentType: string(t),
			Responses:      g.responses(t),
			CompletedAt:    now.Format(time.RFC3339),
		}
		s.Submissions = append(s.Submissions, sub)

		rec := model.Submission{ID: sub.SubmissionID, StudentID: s.ID, Type: t, Responses: sub.Responses, Sequence: int64(seq + 1)}
		frag, err := g.normalizer.Normalize(ctx, &rec)
		if err != nil {
			return Student{}, fmt.Errorf("normalize generated %s submission: %w", t, err)
		}
		latest.Merge(frag)
	}

	vector, ok := g.aggregator.Aggregate(latest)
	if !ok {
		return Student{}, fmt.Errorf("student %s: no scorable data", s.ID)
	}
	res := g.classifier.Classify(&vector)
	s.Primary, s.Secondary = res.Primary, res.Secondary
	return s, nil
}

// responses answers a random non-empty subset of the type's questions.
func (g *Generator) responses(t model.AssessmentType) []model.Response {
	ids := g.questions[t]
	picked := g.rnd.Perm(len(ids))[:1+g.rnd.IntN(len(ids))]
	sort.Ints(picked)

	out := make([]model.Response, 0, len(picked))
	for _, i := range picked {
		id := ids[i]
		r := model.Response{QuestionID: id}
		if exp := g.table.Questions[id].ExpectedTimeMs; exp > 0 {
			r.TimeMs = int64(float64(exp) * (minPace + g.rnd.Float64()*(maxPace-minPace)))
		}
		switch t {
		case model.Cognitive:
			v := g.rnd.Float64()
			r.Value = &v
		case model.Academic:
			c := g.rnd.IntN(2) == 1
			r.Correct = &c
		}
		out = append(out, r)
	}
	return out
}

// Duplicate reports whether a submission should be resent.
func (g *Generator) Duplicate(rate float64) bool {
	return rate > 0 && g.rnd.Float64() < rate
}
