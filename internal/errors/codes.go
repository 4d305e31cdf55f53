// Package errors provides structured error handling for amanrag.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, disk, store writes)
//   - 3XX: Backend and network errors
//   - 4XX: Validation errors
//   - 5XX: Internal pipeline errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, disk and store I/O errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates backend reachability errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates pipeline failures.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeFileNotFound = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFileTooLarge = "ERR_204_FILE_TOO_LARGE"
	ErrCodeCorruptIndex = "ERR_205_CORRUPT_INDEX"
	ErrCodeStoreLocked  = "ERR_206_STORE_LOCKED"

	// Backend errors (300-399)
	ErrCodeBackendUnavailable   = "ERR_301_BACKEND_UNAVAILABLE"
	ErrCodeRetrievalUnavailable = "ERR_302_RETRIEVAL_UNAVAILABLE"
	ErrCodeNetworkTimeout       = "ERR_303_NETWORK_TIMEOUT"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeQueryEmpty        = "ERR_402_QUERY_EMPTY"
	ErrCodeOutOfRange        = "ERR_403_OUT_OF_RANGE"
	ErrCodeNotFound          = "ERR_404_NOT_FOUND"
	ErrCodeDimensionMismatch = "ERR_405_DIMENSION_MISMATCH"

	// Internal errors (500-599)
	ErrCodeInternal         = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed  = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed     = "ERR_503_SEARCH_FAILED"
	ErrCodeChunkingFailed   = "ERR_504_CHUNKING_FAILED"
	ErrCodeStoreWriteFailed = "ERR_505_STORE_WRITE_FAILED"
	ErrCodeRerankFailed     = "ERR_506_RERANK_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	// "ERR_" prefix is followed by the three digit number
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeStoreLocked:
		return SeverityFatal
	case ErrCodeRerankFailed:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeBackendUnavailable, ErrCodeRetrievalUnavailable, ErrCodeNetworkTimeout:
		return true
	default:
		return false
	}
}
