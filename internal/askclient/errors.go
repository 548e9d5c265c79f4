package askclient

import "fmt"

// Kind classifies why an ask failed.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindRateLimited Kind = "rate_limited"
	KindServerError Kind = "server_error"
	KindNetwork     Kind = "network"
)

// Error is returned by Client.Ask for every failure.
type Error struct {
	Kind Kind
	// Status is the HTTP status, zero when no response was received.
	Status int
	// Message is the server's error text when it sent one.
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("ask failed (%s, status %d): %s", e.Kind, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("ask failed (%s, status %d)", e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("ask failed (%s): %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("ask failed (%s): %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage is the text shown to the person speaking.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindValidation:
		if e.Message != "" {
			return e.Message
		}
		return "Please ask a question of up to 1000 characters."
	case KindRateLimited:
		return "Too many requests right now. Please wait a moment and try again."
	case KindNetwork:
		return "Could not reach the assistant. Please check your connection and try again."
	default:
		return "Sorry, something went wrong. Please try again."
	}
}
