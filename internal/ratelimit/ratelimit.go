// Package ratelimit implements per-caller fixed-window admission control for
// the ask endpoint.
//
// Each caller key owns one Record. The first request of a window creates or
// replaces the record with Count=1; later requests are admitted while Count is
// below the limit. A rejected request does not increment the counter. Because
// windows are fixed rather than sliding, a caller can burst up to twice the
// limit across a window boundary. Records are kept for the life of the process.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Config describes the admission policy.
type Config struct {
	Window time.Duration
	Max    int
}

// DefaultConfig admits 10 requests per caller per 60 second window.
func DefaultConfig() Config {
	return Config{Window: 60 * time.Second, Max: 10}
}

// Record is the per-caller counter state.
type Record struct {
	Count         int
	WindowResetAt time.Time
}

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed bool
	// Remaining is how many more requests the caller may make this window.
	Remaining int
	// ResetAt is when the caller's current window ends.
	ResetAt time.Time
	// RetryAfter is the whole number of seconds until the window resets; set
	// only on rejection.
	RetryAfter int
}

// Limiter is safe for concurrent use. Lookups take a short global lock;
// counting happens under the caller's own lock so callers never contend with
// each other on the read-modify-write.
type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*entry
}

type entry struct {
	mu  sync.Mutex
	rec Record
}

// New creates a limiter with an empty record table.
func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultConfig().Max
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*entry),
	}
}

// Limit returns the per-window maximum.
func (l *Limiter) Limit() int {
	return l.cfg.Max
}

// Allow decides whether the caller identified by key may proceed at now.
func (l *Limiter) Allow(key string, now time.Time) Decision {
	e := l.getOrCreate(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec.WindowResetAt.IsZero() || now.After(e.rec.WindowResetAt) {
		e.rec = Record{Count: 1, WindowResetAt: now.Add(l.cfg.Window)}
		return Decision{
			Allowed:   true,
			Remaining: l.cfg.Max - 1,
			ResetAt:   e.rec.WindowResetAt,
		}
	}

	if e.rec.Count < l.cfg.Max {
		e.rec.Count++
		return Decision{
			Allowed:   true,
			Remaining: l.cfg.Max - e.rec.Count,
			ResetAt:   e.rec.WindowResetAt,
		}
	}

	return Decision{
		Allowed:    false,
		Remaining:  0,
		ResetAt:    e.rec.WindowResetAt,
		RetryAfter: retryAfterSeconds(e.rec.WindowResetAt.Sub(now)),
	}
}

func (l *Limiter) getOrCreate(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.m[key]
	if !ok {
		e = &entry{}
		l.m[key] = e
	}
	return e
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
