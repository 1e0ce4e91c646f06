package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/okian/profiler/internal/domain/model"
)

// submitResult classifies one POST /submissions outcome.
type submitResult int

const (
	submitAccepted submitResult = iota
	submitDuplicate
	submitRejected
)

// client wraps http.Client with the service's endpoints.
type client struct {
	http    *http.Client
	baseURL string
}

func newClient(baseURL string, timeout time.Duration) *client {
	return &client{http: &http.Client{Timeout: timeout}, baseURL: baseURL}
}

func (c *client) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	defer drain(resp)
	// Any 200 counts; the body is the Prometheus exposition.
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, resp.StatusCode)
	}
	return nil
}

func (c *client) submit(ctx context.Context, s *Submission) (submitResult, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return submitRejected, fmt.Errorf("marshal submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/submissions", bytes.NewReader(body))
	if err != nil {
		return submitRejected, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return submitRejected, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusAccepted:
		return submitAccepted, nil
	case http.StatusOK:
		return submitDuplicate, nil
	default:
		return submitRejected, fmt.Errorf("submit %s: status %d", s.SubmissionID, resp.StatusCode)
	}
}

// classification is the subset of GET /students/{id}/classification read here.
type classification struct {
	Version   int             `json:"version"`
	Primary   model.Category  `json:"primary_category"`
	Secondary *model.Category `json:"secondary_category"`
}

// current returns the served classification, or false when none exists yet.
func (c *client) current(ctx context.Context, studentID string) (classification, bool, error) {
	u := c.baseURL + "/students/" + url.PathEscape(studentID) + "/classification"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return classification{}, false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return classification{}, false, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		var out classification
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return classification{}, false, fmt.Errorf("decode classification: %w", err)
		}
		return out, true, nil
	case http.StatusNotFound:
		return classification{}, false, nil
	default:
		return classification{}, false, fmt.Errorf("classification %s: status %d", studentID, resp.StatusCode)
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
