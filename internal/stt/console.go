// Package stt provides speech recognizers for the voice controller.
package stt

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-assistant/internal/observability"
	"github.com/lexiqai/voice-assistant/internal/voice"
)

// pendingTTL bounds how long fed text waits for a session to start.
const pendingTTL = 2 * time.Second

// ConsoleRecognizer treats a typed line as the recognized utterance.
type ConsoleRecognizer struct {
	noSpeechTimeout time.Duration
	now             func() time.Time

	mu        sync.Mutex
	session   *consoleSession
	pending   string
	pendingAt time.Time

	logger zerolog.Logger
}

type consoleSession struct {
	events voice.RecognitionEvents
	done   chan struct{}
	once   sync.Once
}

// finish ends the session and reports whether this call ended it.
func (s *consoleSession) finish() bool {
	ended := false
	s.once.Do(func() {
		ended = true
		close(s.done)
	})
	return ended
}

// NewConsoleRecognizer creates a recognizer that reports no speech after
// noSpeechTimeout without input. Zero waits indefinitely.
func NewConsoleRecognizer(noSpeechTimeout time.Duration) *ConsoleRecognizer {
	return &ConsoleRecognizer{
		noSpeechTimeout: noSpeechTimeout,
		now:             time.Now,
		logger:          observability.WithComponent("stt.console"),
	}
}

// Start implements voice.Recognizer.
func (r *ConsoleRecognizer) Start(ctx context.Context, events voice.RecognitionEvents) error {
	s := &consoleSession{events: events, done: make(chan struct{})}

	r.mu.Lock()
	if r.session != nil {
		r.session.finish()
	}
	r.session = s

	text, fresh := r.pending, r.now().Sub(r.pendingAt) <= pendingTTL
	r.pending = ""
	r.mu.Unlock()

	if text != "" && fresh {
		go r.deliver(s, text)
		return nil
	}

	go r.wait(ctx, s)
	return nil
}

// Stop implements voice.Recognizer.
func (r *ConsoleRecognizer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		r.session.finish()
		r.session = nil
	}
}

// Feed supplies a typed utterance to the active session, or holds it
// briefly for the next session to start.
func (r *ConsoleRecognizer) Feed(text string) {
	r.mu.Lock()
	s := r.session
	if s == nil {
		r.pending, r.pendingAt = text, r.now()
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.deliver(s, text)
}

func (r *ConsoleRecognizer) deliver(s *consoleSession, text string) {
	if !s.finish() {
		return
	}
	r.clear(s)

	r.logger.Debug().Int("length", len(text)).Msg("Typed utterance received")
	s.events.Result(strings.TrimSpace(text))
	s.events.End()
}

func (r *ConsoleRecognizer) wait(ctx context.Context, s *consoleSession) {
	var timeout <-chan time.Time
	if r.noSpeechTimeout > 0 {
		timer := time.NewTimer(r.noSpeechTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		s.finish()
		r.clear(s)
	case <-timeout:
		if s.finish() {
			r.clear(s)
			s.events.Error(voice.NewRecognitionError(voice.RecognitionNoSpeech, nil))
			s.events.End()
		}
	}
}

func (r *ConsoleRecognizer) clear(s *consoleSession) {
	r.mu.Lock()
	if r.session == s {
		r.session = nil
	}
	r.mu.Unlock()
}
