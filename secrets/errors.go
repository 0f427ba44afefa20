package secrets

import (
	"errors"
	"fmt"
)

var (
	// ErrSecretNotFound indicates that the requested secret does not exist
	// in the provider or is empty.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrProviderError indicates a failure inside the provider, such as a
	// network or configuration problem.
	ErrProviderError = errors.New("provider error")

	// ErrInvalidRef indicates a malformed SecretRef.
	ErrInvalidRef = errors.New("invalid secret reference")

	// ErrAccessDenied indicates the caller may not read the secret.
	ErrAccessDenied = errors.New("access denied")
)

// ProviderError wraps provider-specific errors with the provider and
// reference involved. It never contains secret values.
type ProviderError struct {
	Provider string
	Ref      SecretRef
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %q error for secret %q: %v", e.Provider, e.Ref.Path, e.Err)
}

// Unwrap returns the underlying error for error chain traversal.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new ProviderError.
func NewProviderError(provider string, ref SecretRef, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Ref:      ref,
		Err:      err,
	}
}

// IsProviderError checks if an error is a ProviderError or contains one in its chain.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// WrapProviderError wraps err in a ProviderError prefixed with msg.
func WrapProviderError(provider string, ref SecretRef, err error, msg string) error {
	if err == nil {
		return nil
	}
	pe := NewProviderError(provider, ref, err)
	return fmt.Errorf("%s: %w", msg, pe)
}
