package api

import (
	"errors"
	"fmt"
	"net/http"

	"document-qa/internal/llmservice"
	"document-qa/internal/parser"
	"document-qa/internal/rag"
	"document-qa/internal/session"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// APIError is the JSON error body returned by every endpoint.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(status int, code, message string, cause error) *APIError {
	err := &APIError{Status: status, Code: code, Message: message}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

func NewBadRequestError(message string, cause error) *APIError {
	return newError(http.StatusBadRequest, "BAD_REQUEST", message, cause)
}

func NewInternalError(message string, cause error) *APIError {
	return newError(http.StatusInternalServerError, "INTERNAL_ERROR", message, cause)
}

// FromError maps domain errors to their HTTP form.
func FromError(err error) *APIError {
	var apiErr *APIError
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &httpErr):
		return &APIError{Status: httpErr.Code, Code: "HTTP_ERROR", Message: fmt.Sprintf("%v", httpErr.Message)}
	case errors.Is(err, session.ErrSessionNotFound):
		return newError(http.StatusNotFound, "NOT_FOUND", "session not found", err)
	case errors.Is(err, parser.ErrUnsupportedFormat):
		return newError(http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT", "unsupported file format", err)
	case errors.Is(err, parser.ErrEmptyDocument):
		return newError(http.StatusUnprocessableEntity, "EMPTY_DOCUMENT", "document contains no text", err)
	case errors.Is(err, parser.ErrInvalidEncoding):
		return newError(http.StatusUnprocessableEntity, "INVALID_ENCODING", "document text is not valid UTF-8", err)
	case errors.Is(err, rag.ErrEmptyQuestion):
		return newError(http.StatusUnprocessableEntity, "EMPTY_QUESTION", "question is empty", nil)
	case errors.Is(err, session.ErrNoDocument):
		return newError(http.StatusConflict, "NO_DOCUMENT", "upload a document before asking questions", nil)
	case errors.Is(err, llmservice.ErrMissingAPIKey):
		return newError(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "language model is not configured", err)
	default:
		return NewInternalError("an unexpected error occurred", err)
	}
}

// ErrorHandler writes err as an APIError.
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	apiErr := FromError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request().URL.Path).Msg("Request failed")
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(apiErr.Status)
		return
	}
	_ = c.JSON(apiErr.Status, apiErr)
}
