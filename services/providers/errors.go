package providers

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderNotFound is returned when a provider is not registered.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrNoProviderAvailable is returned when the registry has zero
	// available providers for the requested capability.
	ErrNoProviderAvailable = errors.New("no provider available")

	// ErrRegistryFrozen is returned when registering after Freeze.
	ErrRegistryFrozen = errors.New("registry is frozen")
)

// ProviderError represents a vendor call failure: network, auth, rate
// limit, timeout, or malformed response. It never carries credentials or
// raw prompt text.
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is a short machine-readable error code
	Code string

	// Message is the error description
	Message string

	// StatusCode is the HTTP status code, if applicable
	StatusCode int

	// Retryable indicates if the adapter may retry the call
	Retryable bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Unwrap implements error unwrapping.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error.
func NewProviderError(provider, code, message string, statusCode int, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryable reports whether err is a retryable provider error.
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return false
}

// UnavailableError is returned when a provider is registered but disabled
// or misconfigured.
type UnavailableError struct {
	// Provider is the unavailable provider's name
	Provider string

	// Model is the model id that resolved to it, when known
	Model string
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("provider %s is not available (model %s)", e.Provider, e.Model)
	}
	return fmt.Sprintf("provider %s is not available", e.Provider)
}
