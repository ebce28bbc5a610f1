package engine

import "errors"

var (
	ErrNotFound  = errors.New("stream not found")
	ErrStopped   = errors.New("engine stopped")
	ErrDuplicate = errors.New("stream already registered")
)
