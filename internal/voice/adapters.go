package voice

import "context"

// RecognitionEvents receives the outcome of one recognition session.
// Implementations deliver at most one Result, or an Error, then End.
// Events must never be delivered from within Start or Stop.
type RecognitionEvents interface {
	Result(text string)
	Error(err *RecognitionError)
	End()
}

// Recognizer captures one utterance and transcribes it.
type Recognizer interface {
	// Start begins a one-shot recognition session.
	Start(ctx context.Context, events RecognitionEvents) error
	// Stop ends the current session, if any. It is safe to call at any time.
	Stop()
}

// SpeechEvents receives progress for one utterance.
// Events must never be delivered from within Speak or Cancel.
type SpeechEvents interface {
	Started()
	Ended()
	Error(err error)
}

// Synthesizer speaks text aloud.
type Synthesizer interface {
	// Speak starts speaking text and returns once playback has begun.
	Speak(ctx context.Context, text string, opts SpeechOptions, events SpeechEvents) error
	// Cancel halts the current utterance immediately. No further events
	// are required after Cancel.
	Cancel()
}

// Asker obtains an answer for a question.
type Asker interface {
	Ask(ctx context.Context, question string) (string, error)
}
