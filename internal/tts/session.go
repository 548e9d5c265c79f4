// Package tts provides speech synthesizers for the voice controller.
package tts

import (
	"context"
	"sync"

	"github.com/lexiqai/voice-assistant/internal/voice"
)

// utterance is one in-flight Speak call.
type utterance struct {
	events voice.SpeechEvents
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newUtterance(ctx context.Context, events voice.SpeechEvents) *utterance {
	uctx, cancel := context.WithCancel(ctx)
	return &utterance{events: events, ctx: uctx, cancel: cancel}
}

// finish ends the utterance and reports whether this call ended it.
func (u *utterance) finish() bool {
	ended := false
	u.once.Do(func() {
		ended = true
		u.cancel()
	})
	return ended
}

// tracker holds the current utterance of a synthesizer.
type tracker struct {
	mu      sync.Mutex
	current *utterance
}

// replace cancels any current utterance and installs a new one.
func (t *tracker) replace(ctx context.Context, events voice.SpeechEvents) *utterance {
	u := newUtterance(ctx, events)

	t.mu.Lock()
	prev := t.current
	t.current = u
	t.mu.Unlock()

	if prev != nil {
		prev.finish()
	}
	return u
}

// cancel silently ends the current utterance.
func (t *tracker) cancel() {
	t.mu.Lock()
	u := t.current
	t.current = nil
	t.mu.Unlock()

	if u != nil {
		u.finish()
	}
}

func (t *tracker) clear(u *utterance) {
	t.mu.Lock()
	if t.current == u {
		t.current = nil
	}
	t.mu.Unlock()
}

// complete reports Ended unless the utterance was cancelled.
func (t *tracker) complete(u *utterance) {
	if !u.finish() {
		return
	}
	t.clear(u)
	u.events.Ended()
}

// fail reports err unless the utterance was cancelled.
func (t *tracker) fail(u *utterance, err error) {
	if !u.finish() {
		return
	}
	t.clear(u)
	u.events.Error(err)
}
