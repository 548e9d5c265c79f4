package upstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lexiqai/voice-assistant/internal/observability"
	"github.com/lexiqai/voice-assistant/internal/resilience"
)

// InvokerConfig bounds the retry budget of a single invocation.
type InvokerConfig struct {
	MaxAttempts int
	Delay       time.Duration
	// AttemptTimeout bounds each upstream call; zero means no bound beyond ctx.
	AttemptTimeout time.Duration
}

// DefaultInvokerConfig allows 3 attempts with a fixed 2 second delay.
func DefaultInvokerConfig() InvokerConfig {
	return InvokerConfig{
		MaxAttempts:    3,
		Delay:          2 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

// Invoker wraps a Generator with the retry policy.
type Invoker struct {
	gen    Generator
	cfg    InvokerConfig
	logger zerolog.Logger
}

// NewInvoker creates an invoker around gen.
func NewInvoker(gen Generator, cfg InvokerConfig) *Invoker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultInvokerConfig().MaxAttempts
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	return &Invoker{
		gen:    gen,
		cfg:    cfg,
		logger: observability.WithComponent("upstream").With().Str("provider", gen.Name()).Logger(),
	}
}

// Invoke sends prompt upstream. Quota failures are retried after a fixed
// delay; any other failure is returned at once. When the budget runs out the
// error wraps ErrUpstreamRateLimited.
func (inv *Invoker) Invoke(ctx context.Context, prompt string) (string, error) {
	provider := inv.gen.Name()
	ctx, span := observability.StartSpan(ctx, "upstream.invoke",
		trace.WithAttributes(attribute.String("provider", provider)))
	defer span.End()

	metrics := observability.NewRequestMetrics(provider)
	logger := inv.logger
	if id, ok := observability.CorrelationIDFromContext(ctx); ok {
		logger = observability.WithCorrelationID(logger, id)
	}
	if id := observability.TraceID(ctx); id != "" {
		logger = logger.With().Str("trace_id", id).Logger()
	}

	var answer string
	err := resilience.Retry(ctx, func(ctx context.Context, attempt int) error {
		span.AddEvent("attempt", trace.WithAttributes(attribute.Int("attempt", attempt)))

		attemptCtx := ctx
		if inv.cfg.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, inv.cfg.AttemptTimeout)
			defer cancel()
		}

		metrics.RecordAttemptStart()
		text, err := inv.gen.Generate(attemptCtx, prompt)
		if err != nil {
			if IsRetryable(err) {
				metrics.RecordAttemptEnd("retryable")
				logger.Warn().
					Err(err).
					Int("attempt", attempt).
					Int("max_attempts", inv.cfg.MaxAttempts).
					Dur("delay", inv.cfg.Delay).
					Msg("Upstream quota error")
			} else {
				metrics.RecordAttemptEnd("fatal")
			}
			return err
		}

		if strings.TrimSpace(text) == "" {
			metrics.RecordAttemptEnd("fatal")
			return ErrEmptyResponse
		}

		metrics.RecordAttemptEnd("success")
		answer = text
		return nil
	}, resilience.FixedRetryConfig(inv.cfg.MaxAttempts, inv.cfg.Delay), IsRetryable)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream invocation failed")

		var exhausted *resilience.ExhaustedError
		if errors.As(err, &exhausted) {
			metrics.RecordExhausted()
			logger.Error().
				Int("attempts", exhausted.Attempts).
				Dur("elapsed", metrics.Elapsed()).
				Msg("Upstream retry budget exhausted")
			return "", fmt.Errorf("%w: %w", ErrUpstreamRateLimited, exhausted)
		}

		logger.Error().Err(err).Dur("elapsed", metrics.Elapsed()).Msg("Upstream invocation failed")
		return "", fmt.Errorf("upstream invocation failed: %w", err)
	}

	logger.Debug().Dur("elapsed", metrics.Elapsed()).Int("answer_len", len(answer)).Msg("Upstream answered")
	return answer, nil
}
