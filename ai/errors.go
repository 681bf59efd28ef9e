package ai

import "errors"

var (
	// ErrInvalidMaxAttempts is returned when a retry policy allows no attempts.
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrVectorCountMismatch indicates the provider returned a different number
	// of vectors than texts submitted.
	ErrVectorCountMismatch = errors.New("provider returned wrong number of vectors")
)
