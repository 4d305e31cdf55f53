package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// Error is the JSON body of a failed request.
type Error struct {
	Status  int               `json:"status"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e Error) Error() string {
	return e.Message
}

// NewError creates an Error with an HTTP status.
func NewError(status int, message string) Error {
	return Error{Status: status, Message: message}
}

// ErrBadRequest is returned when the body or query cannot be parsed.
func ErrBadRequest() Error {
	return NewError(fiber.StatusBadRequest, "invalid JSON request")
}

// ValidationError reports struct tag violations per field.
type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

// NewValidationError creates a 422 validation error.
func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusUnprocessableEntity,
		Errors: errors,
	}
}

// StatusFor maps an error to an HTTP status by its error code.
func StatusFor(err error) int {
	switch amanerrors.GetCode(err) {
	case amanerrors.ErrCodeNotFound, amanerrors.ErrCodeFileNotFound:
		return fiber.StatusNotFound
	case amanerrors.ErrCodeRetrievalUnavailable, amanerrors.ErrCodeBackendUnavailable:
		return fiber.StatusServiceUnavailable
	case amanerrors.ErrCodeSearchFailed, amanerrors.ErrCodeEmbeddingFailed:
		return fiber.StatusBadGateway
	case amanerrors.ErrCodeFileTooLarge:
		return fiber.StatusRequestEntityTooLarge
	}
	if amanerrors.GetCategory(err) == amanerrors.CategoryValidation {
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

// statusOf returns the status the error handler will respond with.
func statusOf(err error) int {
	var apiErr Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	var valErr ValidationError
	if errors.As(err, &valErr) {
		return valErr.Status
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	return StatusFor(err)
}

// ErrorHandler renders every error returned by a handler as JSON.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var apiErr Error
		if errors.As(err, &apiErr) {
			return c.Status(apiErr.Status).JSON(apiErr)
		}
		var valErr ValidationError
		if errors.As(err, &valErr) {
			return c.Status(valErr.Status).JSON(valErr)
		}
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(NewError(fiberErr.Code, fiberErr.Message))
		}

		status := StatusFor(err)
		body := Error{Status: status, Code: amanerrors.GetCode(err), Message: err.Error()}
		var ae *amanerrors.AmanError
		if errors.As(err, &ae) {
			body.Message = ae.Message
			body.Details = ae.Details
		}
		if status >= fiber.StatusInternalServerError {
			logger.Error("request_failed",
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.Int("status", status),
				slog.String("error", err.Error()))
		}
		return c.Status(status).JSON(body)
	}
}
