package chat

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure; the relay picks the history repair
// and the notice from it.
type Kind string

const (
	KindAttachment            Kind = "attachment"
	KindContextLengthExceeded Kind = "context_length_exceeded"
	KindTimeout               Kind = "timeout"
	KindTransient             Kind = "transient_connection"
	KindUnknown               Kind = "unknown"
)

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var (
	// ErrAdmissionRejected is returned by Dispatch when the user already has
	// a message in flight. The user has been notified.
	ErrAdmissionRejected = errors.New("admission rejected: previous message still processing")

	// ErrBusy is returned by an Admission when the user's slot is taken.
	ErrBusy = errors.New("user is busy")

	errStaleCheckpoint = errors.New("conversation was reset while the job was in flight")
)

// KindOf returns the kind of a pipeline error. Anything unclassified is
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
