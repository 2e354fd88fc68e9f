package completion

import (
	"fmt"
	"net/http"
)

// Error codes returned in the chat envelope.
const (
	CodeMissingMessages    = "MISSING_MESSAGES"
	CodeInvalidRequestBody = "INVALID_REQUEST_BODY"
	CodeRequestTooLarge    = "REQUEST_TOO_LARGE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeNotConfigured      = "OPENROUTER_NOT_CONFIGURED"
	CodeUpstreamError      = "OPENROUTER_ERROR"
	CodeInvalidResponse    = "OPENROUTER_INVALID_RESPONSE"
	CodeAllKeysLimited     = "ALL_KEYS_RATE_LIMITED"
	CodeProcessingError    = "OPENROUTER_PROCESSING_ERROR"
	CodeInternal           = "INTERNAL_SERVER_ERROR"
)

// Error is a failure with the HTTP status and code it is reported with.
type Error struct {
	Code    string
	Status  int
	Message string
	Details any
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.Status, e.Message)
}

func errMissingMessages() *Error {
	return &Error{Code: CodeMissingMessages, Status: http.StatusBadRequest, Message: "Messages array is required"}
}

func errNotConfigured() *Error {
	return &Error{Code: CodeNotConfigured, Status: http.StatusNotImplemented, Message: "No OpenRouter API keys configured"}
}

func errAllKeysLimited() *Error {
	return &Error{Code: CodeAllKeysLimited, Status: http.StatusTooManyRequests, Message: "All API keys are rate limited"}
}

func errInvalidResponse() *Error {
	return &Error{Code: CodeInvalidResponse, Status: http.StatusBadGateway, Message: "Invalid response format from OpenRouter"}
}

func errProcessing(err error) *Error {
	return &Error{
		Code:    CodeProcessingError,
		Status:  http.StatusInternalServerError,
		Message: "Error processing OpenRouter request",
		Details: err.Error(),
	}
}
