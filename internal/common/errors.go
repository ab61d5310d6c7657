package common

import (
	"cmp"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
)

// Error codes rendered in the canonical error body.
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeBadRequest           = "BAD_REQUEST"
	CodeUnsupportedExtension = "UNSUPPORTED_EXTENSION"
	CodeUnsupportedCurrency  = "UNSUPPORTED_CURRENCY"
	CodeRateLimited          = "RATE_LIMITED"
	CodePayloadTooLarge      = "PAYLOAD_TOO_LARGE"
	CodeNotReady             = "NOT_READY"
	CodeInternal             = "INTERNAL"
)

// AppError is an error whose code, message and status are safe to show clients.
type AppError struct {
	Code    string
	Message string
	Status  int
	Details any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// WithDetails returns a copy of e carrying details.
func (e *AppError) WithDetails(details any) *AppError {
	out := *e
	out.Details = details
	return &out
}

// Invalid reports a malformed request.
func Invalid(message string, err error) *AppError {
	return &AppError{Code: CodeValidation, Message: message, Status: http.StatusBadRequest, Err: err}
}

// Unprocessable reports a well-formed request that cannot be served.
func Unprocessable(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Status: http.StatusUnprocessableEntity, Err: err}
}

// WriteError renders err for r. AppErrors keep their code and status; anything else
// is logged and answered with a generic 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		JSONError(w, cmp.Or(appErr.Status, http.StatusInternalServerError), appErr.Code, appErr.Message, appErr.Details)
		return
	}
	zerolog.Ctx(r.Context()).Error().Err(err).Msg("request_failed")
	JSONError(w, http.StatusInternalServerError, CodeInternal, "internal server error", nil)
}
