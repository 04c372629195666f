package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	memErrors "github.com/cadre-oss/memchat/internal/errors"
)

// RetryConfig controls how transient model failures are retried.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64

	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryConfig returns the production defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     60 * time.Second,
		JitterFraction: 0.2,
	}
}

// RetryProvider retries transient failures of the wrapped provider with
// exponential backoff. A Retry-After from the API raises the wait.
type RetryProvider struct {
	inner  Provider
	config RetryConfig
}

// NewRetryProvider creates a RetryProvider wrapping inner.
func NewRetryProvider(inner Provider, cfg RetryConfig) *RetryProvider {
	return &RetryProvider{inner: inner, config: cfg}
}

func (r *RetryProvider) Name() string {
	return r.inner.Name()
}

// Complete calls the inner provider until it succeeds, fails permanently,
// or the retries run out. Running out yields an INFERENCE error wrapping
// the last failure. The context is never slept past its deadline.
func (r *RetryProvider) Complete(ctx context.Context, req *CompletionRequest) (*Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := r.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		if attempt == r.config.MaxRetries {
			return nil, memErrors.Wrap(memErrors.CodeInference,
				fmt.Sprintf("model unavailable after %d attempts", attempt+1), err).
				WithSuggestion("The model API is overloaded or unreachable; retry the turn later")
		}

		delay := r.delay(attempt, err)
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
			return nil, err
		}
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// IsRetryable reports whether err is a transient model failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}

	var reqErr *RequestError
	return errors.As(err, &reqErr)
}

// delay is the exponential backoff for attempt with jitter, raised to the
// server's Retry-After and capped at MaxBackoff.
func (r *RetryProvider) delay(attempt int, err error) time.Duration {
	base := float64(r.config.InitialBackoff) * math.Pow(2, float64(attempt))
	jitter := base * r.config.JitterFraction * (rand.Float64()*2 - 1)
	d := time.Duration(math.Max(base+jitter, 0))

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > d {
		d = apiErr.RetryAfter
	}
	if d > r.config.MaxBackoff {
		d = r.config.MaxBackoff
	}
	return d
}
