// Package api serves the HTTP boundary of the answer proxy.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-assistant/internal/observability"
	"github.com/lexiqai/voice-assistant/internal/upstream"
)

// MaxQuestionLength is the longest accepted question, in characters.
const MaxQuestionLength = 1000

const maxBodyBytes = 16 << 10

const (
	msgInvalidJSON         = "Invalid JSON body"
	msgBodyTooLarge        = "Request body too large"
	msgQuestionRequired    = "Question is required and must be a string"
	msgQuestionEmpty       = "Question cannot be empty"
	msgQuestionTooLong     = "Question is too long (maximum 1000 characters)"
	msgCallerRateLimited   = "Too many requests. Please wait a minute and try again."
	msgUpstreamRateLimited = "The assistant is busy right now. Please try again in a moment."
	msgUpstreamFailed      = "Failed to get a response. Please try again."
	msgInternal            = "Internal server error"
	msgNotFound            = "Endpoint not found"
)

// Invoker sends a prompt to the model and returns its answer.
type Invoker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// Prompter turns a question into the prompt sent upstream.
type Prompter interface {
	Prompt(question string) string
}

type askRequest struct {
	Question *json.RawMessage `json:"question"`
}

type askResponse struct {
	Response string `json:"response"`
}

// AskHandler answers POST /api/ask.
type AskHandler struct {
	invoker  Invoker
	prompter Prompter
	logger   zerolog.Logger
}

// NewAskHandler creates the ask handler.
func NewAskHandler(invoker Invoker, prompter Prompter) *AskHandler {
	return &AskHandler{
		invoker:  invoker,
		prompter: prompter,
		logger:   observability.WithComponent("api"),
	}
}

func (h *AskHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() { observability.RecordAsk(status, time.Since(start)) }()

	fail := func(code int, msg string) {
		status = code
		writeError(w, code, msg)
	}

	question, code, msg := decodeQuestion(w, r)
	if code != 0 {
		fail(code, msg)
		return
	}

	reqID, _ := observability.CorrelationIDFromContext(r.Context())
	logger := observability.WithCorrelationID(h.logger, reqID)

	answer, err := h.invoker.Invoke(r.Context(), h.prompter.Prompt(question))
	if err != nil {
		if errors.Is(err, upstream.ErrUpstreamRateLimited) {
			logger.Warn().Err(err).Msg("Upstream rate limited after retries")
			observability.RecordError("upstream_rate_limited", "api")
			fail(http.StatusTooManyRequests, msgUpstreamRateLimited)
			return
		}
		logger.Error().Err(err).Msg("Failed to answer question")
		observability.RecordError("upstream_error", "api")
		fail(http.StatusInternalServerError, msgUpstreamFailed)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{Response: answer})
}

// decodeQuestion returns the validated question, or a non-zero status and
// the message to send back.
func decodeQuestion(w http.ResponseWriter, r *http.Request) (string, int, string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", http.StatusRequestEntityTooLarge, msgBodyTooLarge
		}
		return "", http.StatusBadRequest, msgInvalidJSON
	}

	if req.Question == nil {
		return "", http.StatusBadRequest, msgQuestionRequired
	}
	var question string
	if err := json.Unmarshal(*req.Question, &question); err != nil {
		return "", http.StatusBadRequest, msgQuestionRequired
	}

	if strings.TrimSpace(question) == "" {
		return "", http.StatusBadRequest, msgQuestionEmpty
	}
	if utf8.RuneCountInString(question) > MaxQuestionLength {
		return "", http.StatusBadRequest, msgQuestionTooLong
	}
	return question, 0, ""
}
