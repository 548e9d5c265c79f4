// Package askclient sends questions to the answer proxy.
package askclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-assistant/internal/observability"
)

// MaxQuestionLength matches the server-side limit.
const MaxQuestionLength = 1000

const maxResponseBytes = 1 << 20

// Client posts questions to /api/ask. It never retries; the proxy owns the
// retry policy.
type Client struct {
	url        string
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a client for the given ask endpoint URL.
func New(url string, timeout time.Duration) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     observability.WithComponent("askclient"),
	}
}

// Ask sends question and returns the answer text. Every error is an *Error.
func (c *Client) Ask(ctx context.Context, question string) (string, error) {
	if err := validate(question); err != nil {
		return "", err
	}

	payload, err := json.Marshal(map[string]string{"question": question})
	if err != nil {
		return "", &Error{Kind: KindValidation, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Kind: KindServerError, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	requestID := observability.NewCorrelationID()
	req.Header.Set("X-Request-ID", requestID)
	logger := observability.WithCorrelationID(c.logger, requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("Ask request failed")
		return "", &Error{Kind: KindServerError, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &Error{Kind: KindServerError, Status: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("Ask request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &Error{
			Kind:    kindForStatus(resp.StatusCode),
			Status:  resp.StatusCode,
			Message: serverMessage(body),
		}
	}

	var out struct {
		Response *string `json:"response"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.Response == nil {
		if err == nil {
			err = fmt.Errorf("response field missing")
		}
		return "", &Error{Kind: KindServerError, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return *out.Response, nil
}

func validate(question string) error {
	if strings.TrimSpace(question) == "" {
		return &Error{Kind: KindValidation, Message: "Please ask a question."}
	}
	if utf8.RuneCountInString(question) > MaxQuestionLength {
		return &Error{Kind: KindValidation, Message: "That question is too long. Please keep it under 1000 characters."}
	}
	return nil
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindServerError
	case status == http.StatusBadRequest:
		return KindValidation
	default:
		return KindNetwork
	}
}

func serverMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return ""
	}
	return e.Error
}
