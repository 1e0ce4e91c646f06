// Package loadgen drives a running profiler over HTTP with synthetic
// students and checks the classifications it converges to.
package loadgen

import (
	"errors"
	"runtime"
	"time"

	"github.com/okian/profiler/internal/domain/model"
)

// Default run parameters.
const (
	DefaultBaseURL      = "http://localhost:9080"
	DefaultStudents     = 1000
	DefaultTimeout      = 30 * time.Second
	DefaultSettle       = 2 * time.Minute
	DefaultPollInterval = 250 * time.Millisecond
)

var (
	// ErrUnhealthy is returned when /healthz does not answer 200.
	ErrUnhealthy = errors.New("service unhealthy")
	// ErrUnsettled is returned when some students never reached a
	// classification covering every submitted assessment.
	ErrUnsettled = errors.New("classifications did not settle")
	// ErrMismatch is returned when a served classification differs from
	// the locally computed one.
	ErrMismatch = errors.New("classification mismatch")
)

// Config holds parameters for one load run.
type Config struct {
	BaseURL  string        // service base URL
	Students int           // synthetic students; each gets one submission per assessment type
	Workers  int           // concurrent HTTP workers
	Timeout  time.Duration // per-request timeout
	// Settle bounds how long verification waits for every student to be
	// classified.
	Settle       time.Duration
	PollInterval time.Duration
	// DuplicateRate is the fraction of submissions sent a second time.
	DuplicateRate float64
	// Rate caps submissions per second across all workers. Zero is unlimited.
	Rate float64
	// Compare checks served labels against a local run of the scoring
	// pipeline. Disable it when the server uses non-default weights.
	Compare    bool
	Seed       uint64
	OutputFile string // optional JSON dump of generated submissions
}

// DefaultConfig returns a Config with defaults applied.
func DefaultConfig() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		Students:     DefaultStudents,
		Workers:      runtime.NumCPU() * 2,
		Timeout:      DefaultTimeout,
		Settle:       DefaultSettle,
		PollInterval: DefaultPollInterval,
		Compare:      true,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.Students <= 0 {
		c.Students = d.Students
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Settle <= 0 {
		c.Settle = d.Settle
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	c.DuplicateRate = min(max(c.DuplicateRate, 0), 1)
	c.Rate = max(c.Rate, 0)
}

// Submission is the POST /submissions payload.
type Submission struct {
	SubmissionID   string           `json:"submission_id"`
	StudentID      string           `json:"student_id"`
	AssessmentType string           `json:"assessment_type"`
	Responses      []model.Response `json:"responses"`
	CompletedAt    string           `json:"completed_at"`
}

// Student groups one synthetic student's submissions with the labels the
// local pipeline expects for them.
type Student struct {
	ID          string          `json:"student_id"`
	Submissions []Submission    `json:"submissions"`
	Primary     model.Category  `json:"expected_primary"`
	Secondary   *model.Category `json:"expected_secondary,omitempty"`
}

// Stats summarizes a run.
type Stats struct {
	Students   int
	Submitted  int
	Accepted   int
	Duplicates int
	Rejected   int
	Classified int
	Mismatched int
	Unsettled  int
	Duration   time.Duration
}
