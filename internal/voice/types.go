package voice

import (
	"errors"
	"fmt"
)

// State is the controller's current activity. Exactly one holds at a time.
type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateSpeaking   State = "speaking"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Turn is one message in the conversation.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Snapshot is an immutable view of the controller after a transition.
type Snapshot struct {
	// Seq increases by one for every accepted transition.
	Seq        uint64 `json:"seq"`
	State      State  `json:"state"`
	Transcript []Turn `json:"transcript"`
	LastError  string `json:"last_error,omitempty"`
}

// SpeechOptions tune synthesis.
type SpeechOptions struct {
	Language string
	Rate     float64
	Pitch    float64
	Volume   float64
}

// DefaultSpeechOptions returns a slightly slowed, neutral voice.
func DefaultSpeechOptions() SpeechOptions {
	return SpeechOptions{Language: "en-US", Rate: 0.9, Pitch: 1.0, Volume: 1.0}
}

// ErrCapabilityUnsupported is returned by New when speech recognition or
// synthesis is unavailable.
var ErrCapabilityUnsupported = errors.New("speech capability unsupported")

// RecognitionErrorKind classifies recognition failures.
type RecognitionErrorKind string

const (
	RecognitionNoSpeech         RecognitionErrorKind = "no_speech"
	RecognitionPermissionDenied RecognitionErrorKind = "permission_denied"
	RecognitionNetwork          RecognitionErrorKind = "network"
	RecognitionAborted          RecognitionErrorKind = "aborted"
	RecognitionOther            RecognitionErrorKind = "other"
)

// RecognitionError is reported by recognizers. It is recoverable: the
// controller returns to idle and the session stays usable.
type RecognitionError struct {
	Kind RecognitionErrorKind
	Err  error
}

// NewRecognitionError creates a recognition error of the given kind.
func NewRecognitionError(kind RecognitionErrorKind, err error) *RecognitionError {
	return &RecognitionError{Kind: kind, Err: err}
}

func (e *RecognitionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("recognition error: %s", e.Kind)
	}
	return fmt.Sprintf("recognition error: %s: %v", e.Kind, e.Err)
}

func (e *RecognitionError) Unwrap() error {
	return e.Err
}

// UserMessage is the text shown for this failure.
func (e *RecognitionError) UserMessage() string {
	switch e.Kind {
	case RecognitionNoSpeech:
		return "No speech was detected. Please try again."
	case RecognitionPermissionDenied:
		return "Microphone access was denied. Please allow access and try again."
	case RecognitionNetwork:
		return "A network error interrupted speech recognition. Please try again."
	case RecognitionAborted:
		return "Speech recognition was stopped."
	default:
		return "Speech recognition failed. Please try again."
	}
}

const (
	msgAnswerFailed = "Sorry, something went wrong. Please try again."
	msgSpeechFailed = "Could not play the answer."
)

// userMessager is implemented by errors that carry display text.
type userMessager interface {
	UserMessage() string
}

func userMessage(err error, fallback string) string {
	var um userMessager
	if errors.As(err, &um) {
		return um.UserMessage()
	}
	return fallback
}
