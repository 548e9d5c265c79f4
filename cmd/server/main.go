package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexiqai/voice-assistant/internal/api"
	"github.com/lexiqai/voice-assistant/internal/config"
	"github.com/lexiqai/voice-assistant/internal/observability"
	"github.com/lexiqai/voice-assistant/internal/persona"
	"github.com/lexiqai/voice-assistant/internal/ratelimit"
	"github.com/lexiqai/voice-assistant/internal/upstream"
)

const serviceName = "voice-assistant"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("upstream_provider", cfg.UpstreamProvider).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Assistant proxy starting")

	// Spans are sampled so upstream logs carry trace ids.
	shutdownTracer, err := observability.InitTracer(context.Background(), serviceName, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	p, err := persona.Load(cfg.PersonaFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.PersonaFile).Msg("Failed to load persona")
	}

	gen, err := newGenerator(context.Background(), cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create upstream client")
	}

	invoker := upstream.NewInvoker(gen, upstream.InvokerConfig{
		MaxAttempts:    cfg.RetryMaxAttempts,
		Delay:          cfg.RetryDelayDuration(),
		AttemptTimeout: cfg.UpstreamTimeoutDuration(),
	})

	limiter := ratelimit.New(ratelimit.Config{
		Window: cfg.RateLimitWindowDuration(),
		Max:    cfg.RateLimitMax,
	})

	handler := api.NewRouter(api.Options{
		Invoker:        invoker,
		Prompter:       p,
		Limiter:        limiter,
		TrustProxy:     cfg.TrustProxy,
		Service:        serviceName,
		MetricsEnabled: cfg.MetricsEnabled,
		Logger:         observability.WithComponent("http"),
	})
	if cfg.MetricsEnabled {
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Upstream retries can hold a request for several attempt timeouts plus delays.
	writeTimeout := time.Duration(cfg.RetryMaxAttempts)*(cfg.UpstreamTimeoutDuration()+cfg.RetryDelayDuration()) + 5*time.Second

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("http://localhost:%s/api/ask", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	if err := shutdownTracer(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to flush traces")
	}

	logger.Info().Msg("Server exited gracefully")
}

func newGenerator(ctx context.Context, cfg *config.Config) (upstream.Generator, error) {
	switch cfg.UpstreamProvider {
	case "openai":
		return upstream.NewOpenAIGenerator(upstream.OpenAIConfig{
			APIKey:  cfg.UpstreamAPIKey,
			Model:   cfg.UpstreamModel,
			BaseURL: cfg.UpstreamBaseURL,
		})
	default:
		return upstream.NewGeminiGenerator(ctx, upstream.GeminiConfig{
			APIKey:  cfg.UpstreamAPIKey,
			Model:   cfg.UpstreamModel,
			BaseURL: cfg.UpstreamBaseURL,
		})
	}
}
