package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ReconnectConfig holds configuration for reconnection logic
type ReconnectConfig struct {
	MaxAttempts int           // Maximum number of connection attempts
	Backoff     time.Duration // Backoff duration between attempts
	Multiplier  float64       // Backoff multiplier for exponential backoff
	MaxBackoff  time.Duration // Maximum backoff duration
	Logger      *zerolog.Logger
	// ShouldRetry stops reconnecting early when it returns false; nil retries every error
	ShouldRetry func(error) bool
}

// DefaultReconnectConfig returns a default reconnection configuration
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: 3,
		Backoff:     500 * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  5 * time.Second,
	}
}

// ReconnectFunc is a function that attempts to (re)connect
type ReconnectFunc func() error

// Reconnect attempts to connect with exponential backoff, giving up when ctx
// is done or the attempts run out.
func Reconnect(ctx context.Context, fn ReconnectFunc, config *ReconnectConfig) error {
	if config == nil {
		config = DefaultReconnectConfig()
	}

	backoff := config.Backoff
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			if attempt > 0 && config.Logger != nil {
				config.Logger.Info().Int("attempts", attempt+1).Msg("Reconnection successful")
			}
			return nil
		}
		if config.ShouldRetry != nil && !config.ShouldRetry(lastErr) {
			return fmt.Errorf("failed to connect after %d attempts: %w", attempt+1, lastErr)
		}

		// Don't sleep after the last attempt
		if attempt < config.MaxAttempts-1 {
			if config.Logger != nil {
				config.Logger.Warn().
					Err(lastErr).
					Int("attempt", attempt+1).
					Int("max_attempts", config.MaxAttempts).
					Dur("backoff", backoff).
					Msg("Connection attempt failed, retrying")
			}

			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff = time.Duration(float64(backoff) * config.Multiplier)
			if backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		}
	}

	return fmt.Errorf("failed to connect after %d attempts: %w", config.MaxAttempts, lastErr)
}
