package engine

import "errors"

var (
	// ErrNotFound reports an unknown monitor id.
	ErrNotFound = errors.New("monitor not found")
	// ErrUnauthorized reports a heartbeat secret mismatch.
	ErrUnauthorized = errors.New("secret mismatch")
	// ErrChannelUnavailable reports a control message sent after the worker exited.
	ErrChannelUnavailable = errors.New("control channel unavailable")
)
