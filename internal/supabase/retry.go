package supabase

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"time"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryDoer satisfy it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryDoer retries idempotent requests with exponential backoff and full
// jitter. It never retries client errors or a cancelled context.
type RetryDoer struct {
	client     HTTPDoer
	logger     *slog.Logger
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewRetryDoer wraps client. maxRetries counts attempts after the first one.
func NewRetryDoer(client HTTPDoer, logger *slog.Logger, maxRetries int, baseDelay time.Duration) *RetryDoer {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	return &RetryDoer{
		client:     client,
		logger:     logger,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   5 * time.Second,
	}
}

// Do executes the request. On the final attempt the response is returned
// as-is so the caller can decode the error body.
func (rd *RetryDoer) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= rd.maxRetries; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("retry: failed to reset request body: %w", err)
				}
				req.Body = body
			}

			delay := rd.delay(attempt)
			rd.logger.WarnContext(req.Context(), "retrying backend call",
				"attempt", attempt,
				"max_retries", rd.maxRetries,
				"method", req.Method,
				"path", req.URL.Path,
				"wait", delay,
				"error", lastErr,
			)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				return nil, lastErr
			}
		}

		resp, err := rd.client.Do(req)
		if err != nil {
			lastErr = err
			if req.Context().Err() != nil {
				return nil, err
			}
			continue
		}

		if !isRetryableStatus(resp.StatusCode) || attempt == rd.maxRetries {
			return resp, nil
		}

		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		lastErr = fmt.Errorf("retry: server returned retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

func (rd *RetryDoer) delay(attempt int) time.Duration {
	exp := float64(rd.baseDelay) * math.Pow(2, float64(attempt-1))
	if exp > float64(rd.maxDelay) {
		exp = float64(rd.maxDelay)
	}
	jittered := time.Duration(rand.Float64() * exp)
	if floor := rd.baseDelay / 4; jittered < floor {
		jittered = floor
	}
	return jittered
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
