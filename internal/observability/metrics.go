package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ask endpoint metrics
	askRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_assistant_ask_requests_total",
		Help: "Total number of /api/ask requests by response status",
	}, []string{"status"})

	askLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_assistant_ask_latency_seconds",
		Help:    "End-to-end /api/ask latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	// Rate limiter metrics
	rateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_assistant_rate_limit_decisions_total",
		Help: "Rate limiter admission decisions",
	}, []string{"decision"}) // decision: "admitted" or "rejected"

	// Upstream metrics
	upstreamAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_assistant_upstream_attempts_total",
		Help: "Upstream model attempts by outcome",
	}, []string{"provider", "outcome"}) // outcome: "success", "retryable", "fatal"

	upstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_assistant_upstream_latency_seconds",
		Help:    "Upstream model latency per attempt in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"provider"})

	upstreamExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_assistant_upstream_retries_exhausted_total",
		Help: "Requests that exhausted the upstream retry budget",
	}, []string{"provider"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_assistant_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_assistant_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_assistant_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Voice session metrics
	sessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_assistant_session_transitions_total",
		Help: "Voice session state transitions",
	}, []string{"from", "to"})

	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_assistant_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// RequestMetrics tracks metrics for a single ask request
type RequestMetrics struct {
	provider     string
	startTime    time.Time
	attemptStart time.Time
	mu           sync.Mutex
}

// NewRequestMetrics creates a new metrics tracker for a request
func NewRequestMetrics(provider string) *RequestMetrics {
	return &RequestMetrics{
		provider:  provider,
		startTime: time.Now(),
	}
}

// RecordAttemptStart records the start of an upstream attempt
func (m *RequestMetrics) RecordAttemptStart() {
	m.mu.Lock()
	m.attemptStart = time.Now()
	m.mu.Unlock()
}

// RecordAttemptEnd records the outcome of an upstream attempt
func (m *RequestMetrics) RecordAttemptEnd(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.attemptStart.IsZero() {
		upstreamLatency.WithLabelValues(m.provider).Observe(time.Since(m.attemptStart).Seconds())
	}
	upstreamAttempts.WithLabelValues(m.provider, outcome).Inc()
}

// RecordExhausted records a request that ran out of retry budget
func (m *RequestMetrics) RecordExhausted() {
	upstreamExhausted.WithLabelValues(m.provider).Inc()
}

// RecordAsk records the completion of an /api/ask request
func RecordAsk(status int, elapsed time.Duration) {
	askRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	askLatency.Observe(elapsed.Seconds())
}

// RecordRateLimitDecision records a limiter decision
func RecordRateLimitDecision(admitted bool) {
	decision := "admitted"
	if !admitted {
		decision = "rejected"
	}
	rateLimitDecisions.WithLabelValues(decision).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordTransition records a voice session state change
func RecordTransition(from, to string) {
	sessionTransitions.WithLabelValues(from, to).Inc()
}

// RecordAudioBytes records audio bytes processed
func RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

// Elapsed returns the time since the request metrics were created
func (m *RequestMetrics) Elapsed() time.Duration {
	return time.Since(m.startTime)
}
