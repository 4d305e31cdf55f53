package errors

import (
	stderrors "errors"
	"fmt"
)

// AmanError is the structured error type for amanrag.
// It carries a stable code plus enough context to decide how a caller
// should surface or recover from the failure.
type AmanError struct {
	// Code is the unique error code (e.g., "ERR_402_QUERY_EMPTY").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
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

// Is matches by code so errors.Is works against the sentinel values below.
func (e *AmanError) Is(target error) bool {
	if t, ok := target.(*AmanError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *AmanError) WithDetail(key, value string) *AmanError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
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

// Wrap creates an AmanError from an existing error.
func Wrap(code string, err error) *AmanError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is checks. Only Code is compared.
var (
	ErrInvalidInput         = &AmanError{Code: ErrCodeInvalidInput}
	ErrQueryEmpty           = &AmanError{Code: ErrCodeQueryEmpty}
	ErrOutOfRange           = &AmanError{Code: ErrCodeOutOfRange}
	ErrNotFound             = &AmanError{Code: ErrCodeNotFound}
	ErrBackendUnavailable   = &AmanError{Code: ErrCodeBackendUnavailable}
	ErrRetrievalUnavailable = &AmanError{Code: ErrCodeRetrievalUnavailable}
	ErrEmbeddingFailed      = &AmanError{Code: ErrCodeEmbeddingFailed}
	ErrSearchFailed         = &AmanError{Code: ErrCodeSearchFailed}
	ErrChunkingFailed       = &AmanError{Code: ErrCodeChunkingFailed}
	ErrStoreWriteFailed     = &AmanError{Code: ErrCodeStoreWriteFailed}
	ErrRerankFailed         = &AmanError{Code: ErrCodeRerankFailed}
)

// InvalidInput creates a validation error for a rejected request field.
func InvalidInput(field, message string) *AmanError {
	return New(ErrCodeInvalidInput, message, nil).WithDetail("field", field)
}

// OutOfRange creates a validation error for a numeric field outside its bounds.
func OutOfRange(field string, value any, lo, hi any) *AmanError {
	return New(ErrCodeOutOfRange,
		fmt.Sprintf("%s must be between %v and %v, got %v", field, lo, hi, value), nil).
		WithDetail("field", field)
}

// NotFound creates a lookup miss error.
func NotFound(kind, id string) *AmanError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s %q not found", kind, id), nil).
		WithDetail("id", id)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *AmanError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *AmanError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var ae *AmanError
	if stderrors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// GetCode extracts the error code from the first AmanError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var ae *AmanError
	if stderrors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// GetCategory extracts the category from the first AmanError in the chain.
func GetCategory(err error) Category {
	var ae *AmanError
	if stderrors.As(err, &ae) {
		return ae.Category
	}
	return ""
}
