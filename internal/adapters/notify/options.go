package notify

import (
	"net/http"
	"time"

	"github.com/okian/profiler/pkg/logger"
)

// Option configures a Webhook.
type Option func(*Webhook)

// WithHTTPClient sets the client used for delivery.
func WithHTTPClient(c *http.Client) Option {
	return func(w *Webhook) {
		if c != nil {
			w.client = c
		}
	}
}

// WithMaxAttempts bounds delivery attempts per update.
func WithMaxAttempts(n int) Option {
	return func(w *Webhook) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithBackoff sets the initial and maximum delay between attempts.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(w *Webhook) {
		if initial >= 0 {
			w.initialDelay = initial
		}
		if maxDelay >= initial {
			w.maxDelay = maxDelay
		}
	}
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) Option {
	return func(w *Webhook) {
		w.headers.Set(key, value)
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(w *Webhook) {
		if l != nil {
			w.logger = l
		}
	}
}
