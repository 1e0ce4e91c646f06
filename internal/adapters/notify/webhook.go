package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/okian/profiler/internal/domain/model"
	"github.com/okian/profiler/pkg/logger"
	"github.com/okian/profiler/pkg/metrics"
)

const (
	defaultWebhookAttempts = 3
	defaultInitialDelay    = 100 * time.Millisecond
	defaultMaxDelay        = 5 * time.Second
	defaultWebhookTimeout  = 10 * time.Second

	headerVersion = "X-Profiler-Version"
	headerStudent = "X-Profiler-Student"
)

// Webhook POSTs updates as JSON. 5xx, 429 and transport errors are retried
// with exponential backoff; other 4xx responses are not.
type Webhook struct {
	endpoint     string
	client       *http.Client
	headers      http.Header
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	logger       logger.Logger
}

// NewWebhook creates a webhook notifier for endpoint.
func NewWebhook(endpoint string, opts ...Option) (*Webhook, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}
	w := &Webhook{
		endpoint:     u.String(),
		client:       &http.Client{Timeout: defaultWebhookTimeout},
		headers:      make(http.Header),
		maxAttempts:  defaultWebhookAttempts,
		initialDelay: defaultInitialDelay,
		maxDelay:     defaultMaxDelay,
		logger:       logger.Get().Named("notify.webhook"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Endpoint returns the target URL.
func (w *Webhook) Endpoint() string { return w.endpoint }

// Notify implements Notifier.
func (w *Webhook) Notify(ctx context.Context, u model.ClassificationUpdated) error {
	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < w.maxAttempts; attempt++ {
		lastErr = w.post(ctx, body, &u)
		if lastErr == nil {
			metrics.RecordNotificationSent("webhook")
			return nil
		}
		if isPermanent(lastErr) || attempt == w.maxAttempts-1 {
			break
		}
		w.logger.Debug(ctx, "webhook attempt failed",
			logger.Int("attempt", attempt+1),
			logger.Error(lastErr))
		select {
		case <-ctx.Done():
			metrics.RecordNotificationFailure("webhook")
			return ctx.Err()
		case <-time.After(w.delay(attempt)):
		}
	}
	metrics.RecordNotificationFailure("webhook")
	return fmt.Errorf("%w: %w", ErrDeliveryFailed, lastErr)
}

func (w *Webhook) post(ctx context.Context, body []byte, u *model.ClassificationUpdated) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPermanent, err)
	}
	for k, vs := range w.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerVersion, strconv.Itoa(u.Version))
	req.Header.Set(headerStudent, u.StudentID)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: webhook returned %d", ErrPermanent, resp.StatusCode)
	}
}

func (w *Webhook) delay(attempt int) time.Duration {
	d := w.initialDelay << attempt
	if d > w.maxDelay || d < 0 {
		d = w.maxDelay
	}
	return d
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
