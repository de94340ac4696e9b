package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"
)

// Default segment retry configuration values
const (
	DefMaxAttempts   = 4
	DefBaseDelay     = 500 * time.Millisecond
	DefMaxDelay      = 15 * time.Second
	DefJitterFactor  = 0.5
	DefBackoffFactor = 2.0
)

// RetryConfig controls retries of single HTTP fetches inside one download.
// Whole-episode retries go through the queue instead.
type RetryConfig struct {
	MaxAttempts   int           // Total attempts including the first (0 = unlimited)
	BaseDelay     time.Duration // Delay before the first retry
	MaxDelay      time.Duration // Cap on any single delay
	JitterFactor  float64       // Random jitter factor (0-1)
	BackoffFactor float64       // Exponential backoff multiplier
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   DefMaxAttempts,
		BaseDelay:     DefBaseDelay,
		MaxDelay:      DefMaxDelay,
		JitterFactor:  DefJitterFactor,
		BackoffFactor: DefBackoffFactor,
	}
}

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.Code)
}

// ErrorCategory classifies errors for retry decisions
type ErrorCategory int

const (
	ErrCategoryFatal     ErrorCategory = iota // Not retried (404, canceled)
	ErrCategoryRetryable                      // Transient (EOF, timeout, reset, 5xx)
	ErrCategoryThrottled                      // Rate limited (429, 503)
)

// ClassifyError determines how an error should be handled for retry purposes
func ClassifyError(err error) ErrorCategory {
	if err == nil || errors.Is(err, context.Canceled) {
		return ErrCategoryFatal
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusTooManyRequests || se.Code == http.StatusServiceUnavailable:
			return ErrCategoryThrottled
		case se.Code >= 500:
			return ErrCategoryRetryable
		default:
			return ErrCategoryFatal
		}
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrCategoryRetryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrCategoryRetryable
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"timeout",
		"temporary failure",
		"no such host",
		"network is unreachable",
	} {
		if strings.Contains(errStr, pattern) {
			return ErrCategoryRetryable
		}
	}
	return ErrCategoryFatal
}

// CalculateBackoff computes the delay before retry number attempt (1-based).
func (c *RetryConfig) CalculateBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(c.BaseDelay) * math.Pow(c.BackoffFactor, float64(attempt-1))
	if c.JitterFactor > 0 {
		delay *= 1 + c.JitterFactor*(2*rand.Float64()-1)
	}
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	if delay < 0 {
		delay = float64(c.BaseDelay)
	}
	return time.Duration(delay)
}

// Do calls fn until it succeeds, fails fatally, runs out of attempts or ctx
// is done. Throttled errors wait twice as long.
func (c *RetryConfig) Do(ctx context.Context, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		category := ClassifyError(err)
		if category == ErrCategoryFatal || (c.MaxAttempts > 0 && attempt >= c.MaxAttempts) {
			return err
		}

		delay := c.CalculateBackoff(attempt)
		if category == ErrCategoryThrottled {
			delay *= 2
			if delay > c.MaxDelay {
				delay = c.MaxDelay
			}
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
