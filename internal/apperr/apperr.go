package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind is the machine-readable error category. Every error that crosses a
// service boundary carries exactly one Kind; handlers map it to an HTTP status.
type Kind string

const (
	KindValidation            Kind = "validation_error"
	KindAuthorization         Kind = "authorization_error"
	KindLimitExceeded         Kind = "limit_exceeded"
	KindNotFound              Kind = "not_found"
	KindConflict              Kind = "conflict"
	KindTransientStorage      Kind = "transient_storage_error"
	KindUndoExpiredOrConsumed Kind = "undo_expired_or_consumed"
)

// Error is the application error type returned by services.
type Error struct {
	Kind    Kind
	Message string

	// Set for KindLimitExceeded only
	Tier        string
	ResetAt     time.Time
	UpgradeHint string

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus maps the error kind to a response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindUndoExpiredOrConsumed:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindLimitExceeded:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTransientStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Authorization(format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func UndoRejected(reason string) *Error {
	return &Error{Kind: KindUndoExpiredOrConsumed, Message: reason}
}

// LimitExceeded builds the 429 error carrying the reset timestamp and an
// upgrade call-to-action for the user-facing response.
func LimitExceeded(tier string, resetAt time.Time) *Error {
	return &Error{
		Kind:        KindLimitExceeded,
		Message:     fmt.Sprintf("daily quota for the %s tier is exhausted", tier),
		Tier:        tier,
		ResetAt:     resetAt,
		UpgradeHint: "upgrade your plan to raise daily limits",
	}
}

// TransientStorage wraps a storage failure that already survived one internal retry.
func TransientStorage(cause error) *Error {
	return &Error{Kind: KindTransientStorage, Message: "storage temporarily unavailable", cause: cause}
}

// As extracts an *Error from err, if any.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	appErr, ok := As(err)
	return ok && appErr.Kind == kind
}
