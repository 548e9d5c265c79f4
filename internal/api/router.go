package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-assistant/internal/observability"
	"github.com/lexiqai/voice-assistant/internal/ratelimit"
)

// Options wires the router's collaborators.
type Options struct {
	Invoker        Invoker
	Prompter       Prompter
	Limiter        *ratelimit.Limiter
	TrustProxy     bool
	Service        string
	MetricsEnabled bool
	Logger         zerolog.Logger
	// Now overrides the limiter clock in tests.
	Now func() time.Time
}

// NewRouter builds the server's handler tree. Only /api/ask is rate limited.
func NewRouter(opts Options) http.Handler {
	mux := http.NewServeMux()

	// A single trailing slash is accepted on the API routes.
	ask := methods(RateLimit(opts.Limiter, opts.TrustProxy, opts.Now, NewAskHandler(opts.Invoker, opts.Prompter)), http.MethodPost)
	mux.Handle("/api/ask", ask)
	mux.Handle("/api/ask/{$}", ask)

	health := methods(observability.HealthCheckHandler(opts.Service), http.MethodGet, http.MethodHead)
	mux.Handle("/api/health", health)
	mux.Handle("/api/health/{$}", health)

	if opts.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("/", notFound)

	return RequestID(AccessLog(opts.Logger, Recover(opts.Logger, mux)))
}

// methods answers other methods with the same 404 as an unknown route.
func methods(next http.Handler, allowed ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, m := range allowed {
			if r.Method == m {
				next.ServeHTTP(w, r)
				return
			}
		}
		notFound(w, r)
	})
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, msgNotFound)
}
