// Package mcp exposes the search engine as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// Custom MCP error codes.
const (
	// ErrCodeRetrievalUnavailable indicates no retrieval backend answered.
	ErrCodeRetrievalUnavailable = -32001

	// ErrCodeSearchFailed indicates the query could not be embedded.
	ErrCodeSearchFailed = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeNotFound indicates an unknown chunk or document.
	ErrCodeNotFound = -32004

	// Standard JSON-RPC error codes.
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	}

	var ae *amanerrors.AmanError
	if errors.As(err, &ae) {
		return mapAmanError(ae)
	}
	return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
}

// NewInvalidParamsError creates an error for invalid parameters.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

// NewResourceNotFoundError creates an error for unknown resources.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{Code: ErrCodeNotFound, Message: fmt.Sprintf("Resource '%s' not found.", uri)}
}

func mapAmanError(ae *amanerrors.AmanError) *MCPError {
	message := ae.Message
	if ae.Suggestion != "" {
		message = fmt.Sprintf("%s %s", ae.Message, ae.Suggestion)
	}

	switch ae.Code {
	case amanerrors.ErrCodeNotFound, amanerrors.ErrCodeFileNotFound:
		return &MCPError{Code: ErrCodeNotFound, Message: message}
	case amanerrors.ErrCodeRetrievalUnavailable, amanerrors.ErrCodeBackendUnavailable:
		return &MCPError{Code: ErrCodeRetrievalUnavailable, Message: message}
	case amanerrors.ErrCodeSearchFailed, amanerrors.ErrCodeEmbeddingFailed:
		return &MCPError{Code: ErrCodeSearchFailed, Message: message}
	case amanerrors.ErrCodeNetworkTimeout:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	}
	if ae.Category == amanerrors.CategoryValidation {
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	}
	return &MCPError{Code: ErrCodeInternalError, Message: message}
}
