// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound          = errors.New("not found")
	ErrDuplicateRule     = errors.New("duplicate rule")
	ErrDatabaseCorrupted = errors.New("database corrupted")

	// Rule errors.
	ErrInvalidPattern    = errors.New("invalid pattern")
	ErrInvalidRule       = errors.New("invalid rule")
	ErrInvalidTransition = errors.New("invalid state transition")

	// Assignment errors. Returned when a referenced row disappeared between
	// match and commit.
	ErrCategoryDeleted = errors.New("category deleted")
	ErrAccountDeleted  = errors.New("counterparty account deleted")

	// Suggestion provider errors.
	ErrProvider        = errors.New("suggestion provider failed")
	ErrUnknownCategory = errors.New("unknown category")

	// Job errors.
	ErrQueueClosed = errors.New("job queue closed")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// ProviderError wraps a failure returned by a category suggestion provider.
// It always unwraps to ErrProvider so callers can test with errors.Is.
type ProviderError struct {
	Err      error
	Provider string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *ProviderError) Unwrap() []error {
	return []error{ErrProvider, e.Err}
}

// NewProviderError creates a ProviderError for the named provider.
func NewProviderError(provider string, err error) error {
	return &ProviderError{Provider: provider, Err: err}
}
