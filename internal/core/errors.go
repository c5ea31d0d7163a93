package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input
	ErrCatConfig     ErrorCategory = "config"     // Missing/invalid credential or setting
	ErrCatProvider   ErrorCategory = "provider"   // LLM provider returned an error
	ErrCatTimeout    ErrorCategory = "timeout"    // Operation timed out
	ErrCatParse      ErrorCategory = "parse"      // Model output could not be parsed
	ErrCatStorage    ErrorCategory = "storage"    // Session repository failure
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatConflict   ErrorCategory = "conflict"   // Dependency not ready
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrConfig creates a configuration error, e.g. a missing provider credential.
func ErrConfig(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatConfig,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrProvider creates a provider-tagged error for a failed LLM call.
func ErrProvider(provider Provider, status int, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatProvider,
		Code:      CodeProviderHTTP,
		Message:   fmt.Sprintf("%s: %s", provider, message),
		Retryable: status >= 500,
		Details: map[string]interface{}{
			"provider": string(provider),
			"status":   status,
		},
	}
}

// ErrTimeout creates a timeout error distinguishable from provider errors.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// ErrStorage creates a storage error, fatal to the current step.
func ErrStorage(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatStorage,
		Code:      "STORAGE_FAILED",
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// ErrConflict creates a not-yet-ready dependency error.
func ErrConflict(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatConflict,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes
const (
	CodeSessionNotFound   = "SESSION_NOT_FOUND"
	CodeArtifactNotFound  = "ARTIFACT_NOT_FOUND"
	CodeArtifactNotReady  = "ARTIFACT_NOT_READY"
	CodeMissingCredential = "MISSING_CREDENTIAL"
	CodeUnknownStep       = "UNKNOWN_STEP"
	CodeEmptyQuestion     = "EMPTY_QUESTION"
	CodeNoProposals       = "NO_PROPOSALS"
	CodeEmptyProposal     = "EMPTY_PROPOSAL"
	CodeProviderHTTP      = "PROVIDER_HTTP"
	CodeProviderMalformed = "PROVIDER_MALFORMED"
	CodeRelayCapExceeded  = "RELAY_CAP_EXCEEDED"
)

// MaxQuestionLength is the maximum allowed question length.
const MaxQuestionLength = 20000
