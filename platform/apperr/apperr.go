// Package apperr is the error type that crosses from the service layer to
// HTTP. Engines report outcomes in their own terms; the service layer
// converts them into an *Error whose Kind picks the status code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the category of an error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindBadRequest
	KindConflict
	KindUnprocessable
	KindUnavailable
	KindInternal
)

var kindNames = map[Kind]string{
	KindUnknown:       "unknown",
	KindNotFound:      "not_found",
	KindValidation:    "validation",
	KindBadRequest:    "bad_request",
	KindConflict:      "conflict",
	KindUnprocessable: "unprocessable",
	KindUnavailable:   "unavailable",
	KindInternal:      "internal",
}

var kindStatus = map[Kind]int{
	KindNotFound:      http.StatusNotFound,
	KindValidation:    http.StatusBadRequest,
	KindBadRequest:    http.StatusBadRequest,
	KindConflict:      http.StatusConflict,
	KindUnprocessable: http.StatusUnprocessableEntity,
	KindUnavailable:   http.StatusServiceUnavailable,
	KindInternal:      http.StatusInternalServerError,
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a categorized failure. Code is the stable machine-readable
// reason (for transitions, the failure category); Details is rendered
// verbatim in the response body.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Op      string
	Err     error
	Details any
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps Kind to a status code. Unknown kinds are 500.
func (e *Error) HTTPStatus() int {
	if s, ok := kindStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// WithOp sets the failing operation and returns e.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithCode sets the machine-readable code and returns e.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetails sets the response details and returns e.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

func New(kind Kind, message string) *Error { return &Error{Kind: kind, Message: message} }

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFound(message string) *Error      { return New(KindNotFound, message) }
func Validation(message string) *Error    { return New(KindValidation, message) }
func BadRequest(message string) *Error    { return New(KindBadRequest, message) }
func Conflict(message string) *Error      { return New(KindConflict, message) }
func Unprocessable(message string) *Error { return New(KindUnprocessable, message) }
func Internal(message string) *Error      { return New(KindInternal, message) }

// Unavailable marks a transient dependency outage; the client may retry.
func Unavailable(message string, err error) *Error {
	return Wrap(KindUnavailable, message, err)
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
