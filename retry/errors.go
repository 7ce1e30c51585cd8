package retry

import "errors"

var (
	// ErrInvalidMaxAttempts is returned when MaxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrInvalidDelay is returned when a delay is negative
	ErrInvalidDelay = errors.New("retry delays cannot be negative")

	// ErrAttemptsExhausted wraps the last error once every attempt has failed
	ErrAttemptsExhausted = errors.New("retry attempts exhausted")
)
