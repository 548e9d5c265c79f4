package tts

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-assistant/internal/observability"
	"github.com/lexiqai/voice-assistant/internal/voice"
)

// DefaultWordDelay paces console speech at roughly 150 words per minute.
const DefaultWordDelay = 400 * time.Millisecond

// ConsoleSynthesizer "speaks" by writing words to out at a speaking pace.
type ConsoleSynthesizer struct {
	// Prefix is written before each utterance.
	Prefix string

	out       io.Writer
	wordDelay time.Duration
	utter     tracker
	logger    zerolog.Logger
}

// NewConsoleSynthesizer creates a synthesizer writing to out. A zero delay
// writes the whole answer at once.
func NewConsoleSynthesizer(out io.Writer, wordDelay time.Duration) *ConsoleSynthesizer {
	return &ConsoleSynthesizer{
		out:       out,
		wordDelay: wordDelay,
		logger:    observability.WithComponent("tts.console"),
	}
}

// Speak implements voice.Synthesizer.
func (s *ConsoleSynthesizer) Speak(ctx context.Context, text string, opts voice.SpeechOptions, events voice.SpeechEvents) error {
	words := strings.Fields(text)
	if len(words) == 0 {
		return fmt.Errorf("nothing to speak")
	}

	u := s.utter.replace(ctx, events)
	go s.play(u, words, s.delay(opts.Rate))
	return nil
}

// Cancel implements voice.Synthesizer.
func (s *ConsoleSynthesizer) Cancel() {
	s.utter.cancel()
}

// delay scales the word pace by the speech rate; faster speech waits less.
func (s *ConsoleSynthesizer) delay(rate float64) time.Duration {
	if rate <= 0 {
		rate = 1
	}
	return time.Duration(float64(s.wordDelay) / rate)
}

func (s *ConsoleSynthesizer) play(u *utterance, words []string, delay time.Duration) {
	if u.ctx.Err() != nil {
		return
	}
	u.events.Started()

	if s.Prefix != "" {
		io.WriteString(s.out, s.Prefix)
	}
	for i, w := range words {
		if i > 0 {
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-u.ctx.Done():
					timer.Stop()
					fmt.Fprintln(s.out)
					return
				case <-timer.C:
				}
			}
			w = " " + w
		}
		if u.ctx.Err() != nil {
			fmt.Fprintln(s.out)
			return
		}
		if _, err := io.WriteString(s.out, w); err != nil {
			s.logger.Warn().Err(err).Msg("Console output failed")
			s.utter.fail(u, fmt.Errorf("failed to write speech: %w", err))
			return
		}
	}
	fmt.Fprintln(s.out)
	s.utter.complete(u)
}
