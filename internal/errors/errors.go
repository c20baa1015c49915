package errors

import (
	"errors"
	"fmt"
)

// AmanError is the structured error type for amanrag. The query surfaces map
// its code to exit statuses and RPC errors without string matching.
type AmanError struct {
	// Code is the unique error code (e.g., "ERR_206_METADATA_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category groups codes by subsystem. Derived from the code's hundreds digit.
	Category Category

	// Severity is the error severity level. Fatal aborts the operation.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates the caller may try again later, for example after
	// a concurrent load releases its lock.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface. The cause is appended unless it
// would only repeat the message, as it does for Wrap.
func (e *AmanError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *AmanError) Unwrap() error {
	return e.Cause
}

// Is matches another AmanError by code, so sentinels such as
// search.ErrMetadataUnavailable work with errors.Is whatever the message.
func (e *AmanError) Is(target error) bool {
	if t, ok := target.(*AmanError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *AmanError) WithDetail(key, value string) *AmanError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *AmanError) WithSuggestion(suggestion string) *AmanError {
	e.Suggestion = suggestion
	return e
}

// New creates a new AmanError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *AmanError {
	return &AmanError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an AmanError from an existing error, whose message becomes
// the AmanError message. A nil err gives nil.
func Wrap(code string, err error) *AmanError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *AmanError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StorageError creates a store-related error. Unlike the other helpers it
// takes the code, since metadata, corpus and vector failures differ in
// severity and retryability.
func StorageError(code, message string, cause error) *AmanError {
	return New(code, message, cause)
}

// NetworkError creates a network-related error, such as an unreachable
// embedding provider.
func NetworkError(message string, cause error) *AmanError {
	return New(ErrCodeNetworkUnavailable, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *AmanError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *AmanError {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first AmanError in err's chain, so wrapping with
// fmt.Errorf("...: %w", err) keeps the code visible.
func As(err error) (*AmanError, bool) {
	var ae *AmanError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
// Returns true if an AmanError in the chain has the Retryable flag set.
func IsRetryable(err error) bool {
	ae, ok := As(err)
	return ok && ae.Retryable
}

// IsFatal checks if an error has fatal severity.
// Fatal errors abort the current query or load.
func IsFatal(err error) bool {
	ae, ok := As(err)
	return ok && ae.Severity == SeverityFatal
}

// GetCode extracts the error code. Returns empty string if there is no AmanError in the chain.
func GetCode(err error) string {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return ""
}

// GetCategory extracts the category. Returns empty string if there is no AmanError in the chain.
func GetCategory(err error) Category {
	if ae, ok := As(err); ok {
		return ae.Category
	}
	return ""
}
