package domain

import (
	"errors"

	"github.com/ph0rque/MakeDealCRM-sub005/platform/apperr"
)

// Failure classifies an unsuccessful operation.
type Failure string

const (
	FailureNone                   Failure = ""
	FailureValidation             Failure = "VALIDATION_FAILED"
	FailureWipExceeded            Failure = "WIP_EXCEEDED"
	FailureConcurrentModification Failure = "CONCURRENT_MODIFICATION"
	FailureInvalidTransition      Failure = "INVALID_TRANSITION"
	FailureRuleEvaluation         Failure = "RULE_EVALUATION_ERROR"
	FailureStoreUnavailable       Failure = "STORE_UNAVAILABLE"
)

// Sentinel errors shared by stores and engines.
var (
	ErrNotFound          = errors.New("record not found")
	ErrVersionConflict   = errors.New("version conflict")
	ErrWipLimitReached   = errors.New("wip limit reached")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrRuleDepthExceeded = errors.New("automation rule depth exceeded")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAlreadyExists     = errors.New("record already exists")
)

// IsStoreUnavailable reports whether err is a transient store failure.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// AppError maps a failure to the HTTP-facing error type.
func (f Failure) AppError(message string) *apperr.Error {
	var e *apperr.Error
	switch f {
	case FailureValidation:
		e = apperr.Unprocessable(message)
	case FailureWipExceeded, FailureConcurrentModification:
		e = apperr.Conflict(message)
	case FailureInvalidTransition:
		e = apperr.BadRequest(message)
	case FailureStoreUnavailable:
		e = apperr.Unavailable(message, ErrStoreUnavailable)
	default:
		e = apperr.Internal(message)
	}
	return e.WithCode(string(f))
}
