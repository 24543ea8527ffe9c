package model

import "errors"

var (
	// ErrInvalidDestination signals an insecure, malformed or reserved destination.
	ErrInvalidDestination = errors.New("invalid destination")
	// ErrInvalidToken signals a suggested token outside the fixed-width alphabet.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenConflict signals that a suggested token is already held by a live binding.
	ErrTokenConflict = errors.New("token is already active")
	// ErrTokenSpaceExhausted signals that every mint attempt collided.
	ErrTokenSpaceExhausted = errors.New("maximum token generation attempts exceeded")
	// ErrNotFound signals a resolution miss of any kind.
	ErrNotFound = errors.New("binding not found")
	// ErrMalformedTimestamp signals a usage timestamp without a zone or with an unparseable value.
	ErrMalformedTimestamp = errors.New("malformed timestamp")
)
