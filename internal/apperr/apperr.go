// Package apperr defines the error taxonomy shared by every layer of
// CloudPaste, so the transport adapter can translate any error to the
// standard HTTP envelope without knowing which component produced it.
package apperr

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Kind is the semantic category of an error, independent of its
// underlying cause.
type Kind string

// Error kinds from spec §7.
const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindPayloadTooLarge Kind = "payload_too_large"
	KindNotImplemented Kind = "not_implemented"
	KindDriver         Kind = "driver_error"
	KindStreaming      Kind = "streaming_error"
	KindInternal       Kind = "internal"
)

var statusByKind = map[Kind]int{
	KindValidation:      http.StatusBadRequest,
	KindAuthentication:  http.StatusUnauthorized,
	KindAuthorization:   http.StatusForbidden,
	KindNotFound:        http.StatusNotFound,
	KindConflict:        http.StatusConflict,
	KindPayloadTooLarge: http.StatusRequestEntityTooLarge,
	KindNotImplemented:  http.StatusNotImplemented,
	KindDriver:          http.StatusInternalServerError,
	KindStreaming:       http.StatusInternalServerError,
	KindInternal:        http.StatusInternalServerError,
}

// AppError is the sum type every component returns instead of a bare
// error, so transport can mechanically translate it.
type AppError struct {
	Kind    Kind
	Code    string // machine-readable, e.g. "STREAMING_ERROR.NO_RESOLVER"
	Message string
	cause   error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap lets errors.Is / errors.As see through to the cause.
func (e *AppError) Unwrap() error { return e.cause }

// HTTPStatus returns the status code for the envelope.
func (e *AppError) HTTPStatus() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an AppError with no wrapped cause.
func New(kind Kind, code, message string) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message}
}

// Wrap builds an AppError wrapping cause, preserving it for Unwrap.
func Wrap(kind Kind, code, message string, cause error) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message, cause: errors.WithStack(cause)}
}

// Validation/Authentication/Authorization/NotFound/Conflict/NotImplemented
// are convenience constructors for the common kinds.
func Validation(code, message string) *AppError     { return New(KindValidation, code, message) }
func Authentication(code, message string) *AppError { return New(KindAuthentication, code, message) }
func Authorization(code, message string) *AppError  { return New(KindAuthorization, code, message) }
func NotFound(code, message string) *AppError       { return New(KindNotFound, code, message) }
func Conflict(code, message string) *AppError       { return New(KindConflict, code, message) }
func NotImplemented(code, message string) *AppError { return New(KindNotImplemented, code, message) }

// As extracts an *AppError from err, if any is in its chain.
func As(err error) (*AppError, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// Envelope is the standard response body from spec §6/§7.
type Envelope struct {
	Code    int         `json:"code"`
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data"`
}

// ToEnvelope renders any error into the standard failure envelope.
func ToEnvelope(err error) Envelope {
	if ae, ok := As(err); ok {
		return Envelope{Code: ae.HTTPStatus(), Success: false, Message: ae.Message, Data: nil}
	}
	return Envelope{Code: http.StatusInternalServerError, Success: false, Message: err.Error(), Data: nil}
}
