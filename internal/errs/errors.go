package errs

import (
	"errors"
	"fmt"
)

var (
	ErrMediaAccessDenied            = errors.New("media access denied")
	ErrMediaDeviceUnavailable       = errors.New("media device unavailable")
	ErrMediaBusy                    = errors.New("media handle already open")
	ErrNoSuchTrack                  = errors.New("no such track")
	ErrCallAlreadyActive            = errors.New("call already active")
	ErrNoActiveCall                 = errors.New("no active call")
	ErrInvalidTransition            = errors.New("invalid call transition")
	ErrSignalingDeliveryUnavailable = errors.New("signaling delivery unavailable")
	ErrNegotiationFailed            = errors.New("negotiation failed")
	ErrSessionLost                  = errors.New("session lost")
	ErrUnknownMessage               = errors.New("unknown message")
	ErrNotJoined                    = errors.New("room not joined")
)

// Error annotates a sentinel with the operation that produced it.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func Wrap(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

// Negotiation wraps a peer engine failure so that it matches
// ErrNegotiationFailed while keeping the engine error in the details.
func Negotiation(op string, cause error) *Error {
	return &Error{Op: op, Err: ErrNegotiationFailed, Details: cause.Error()}
}

// IsMedia reports whether err aborted media acquisition.
func IsMedia(err error) bool {
	return errors.Is(err, ErrMediaAccessDenied) || errors.Is(err, ErrMediaDeviceUnavailable)
}
