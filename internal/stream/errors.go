package stream

import "errors"

var (
	// ErrInvalidConfiguration is returned before any stream is constructed.
	ErrInvalidConfiguration = errors.New("invalid stream configuration")
	// ErrInvalidTransition is returned when a lifecycle event is not allowed
	// from the current status.
	ErrInvalidTransition = errors.New("invalid stream transition")
)
