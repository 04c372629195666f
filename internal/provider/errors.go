package provider

import (
	"fmt"
	"time"
)

// APIError is a non-2xx answer from the model API.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration // zero when the response carried no Retry-After
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// Retryable reports whether the status is worth another attempt.
func (e *APIError) Retryable() bool {
	switch e.StatusCode {
	case 408, 409, 429, 500, 502, 503, 504, 529:
		return true
	}
	return false
}

// RequestError is a transport failure before any API status was received.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string {
	return "request failed: " + e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
