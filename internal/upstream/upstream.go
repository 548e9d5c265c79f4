// Package upstream calls the generative-language model that answers
// questions, retrying quota failures with a fixed delay.
package upstream

import (
	"context"
	"errors"
	"net/http"

	"github.com/lexiqai/voice-assistant/internal/resilience"
)

var (
	// ErrUpstreamRateLimited is returned once every attempt failed with a
	// quota or rate-limit signal.
	ErrUpstreamRateLimited = errors.New("upstream rate limited")

	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("upstream returned an empty response")
)

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	// Name identifies the backend in logs and metrics.
	Name() string
}

// statusError lets fakes and wrappers report an HTTP status without
// depending on an SDK error type.
type statusError interface {
	HTTPStatus() int
}

// IsRetryable reports whether err is an upstream quota or rate-limit failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if code, ok := sdkStatus(err); ok {
		return code == http.StatusTooManyRequests
	}
	var se statusError
	if errors.As(err, &se) {
		return se.HTTPStatus() == http.StatusTooManyRequests
	}
	return resilience.IsRetryable(err) || resilience.IsRateLimitError(err)
}

// sdkStatus extracts the HTTP status from a known SDK error.
func sdkStatus(err error) (int, bool) {
	if code, ok := geminiStatus(err); ok {
		return code, true
	}
	return openAIStatus(err)
}
