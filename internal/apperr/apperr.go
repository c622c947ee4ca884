// Package apperr defines the error kinds shared across service boundaries.
//
// Store-specific sentinels (not found, conflict, connection, operation)
// live in the storage package; this package holds the kinds that originate
// outside the store so that the API layer can map any error in the system
// to a status code with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

// ErrValidation marks a rejected input. The API maps it to 422.
var ErrValidation = errors.New("validation failed")

// ErrExternalProvider marks an LLM, embedding, or remote source failure.
var ErrExternalProvider = errors.New("external provider error")

// ErrAuth marks a missing or invalid bearer token. The API maps it to 401.
var ErrAuth = errors.New("unauthorized")

// ErrRateLimited marks an exhausted token bucket. The API maps it to 429.
var ErrRateLimited = errors.New("rate limited")

// ErrCancelled marks cooperative cancellation of a job or request.
var ErrCancelled = errors.New("cancelled")

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// Providerf wraps ErrExternalProvider with a formatted message.
func Providerf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrExternalProvider}, args...)...)
}
