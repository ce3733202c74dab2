package domain

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnauthenticated   Kind = "UNAUTHENTICATED"
	KindForbidden         Kind = "FORBIDDEN"
	KindNotFound          Kind = "NOT_FOUND"
	KindValidationFailed  Kind = "VALIDATION_FAILED"
	KindRemoteUnavailable Kind = "REMOTE_UNAVAILABLE"
	KindShapeMismatch     Kind = "SHAPE_MISMATCH"
	// KindSuperseded marks a response that was discarded because a newer
	// request, or the end of the session, invalidated it.
	KindSuperseded Kind = "SUPERSEDED"
)

type Error struct {
	Kind    Kind
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind Kind, message string, err error, details any) *Error {
	return &Error{Kind: kind, Message: message, Details: details, Err: err}
}

func Unauthenticated(message string) *Error {
	return newError(KindUnauthenticated, message, nil, nil)
}

func Forbidden(message string) *Error {
	return newError(KindForbidden, message, nil, nil)
}

func NotFound(entity EntityType, id int64) *Error {
	return newError(KindNotFound, fmt.Sprintf("%s %d not found", entity, id), nil, map[string]any{"id": id})
}

func ValidationFailed(message string, details any) *Error {
	return newError(KindValidationFailed, message, nil, details)
}

func RemoteUnavailable(message string, err error) *Error {
	return newError(KindRemoteUnavailable, message, err, nil)
}

func ShapeMismatch(message string, err error) *Error {
	return newError(KindShapeMismatch, message, err, nil)
}

func Superseded(message string) *Error {
	return newError(KindSuperseded, message, nil, nil)
}

// KindOf reports the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the caller may resubmit the operation. Nothing in
// the core retries on its own.
func Retryable(err error) bool {
	return Is(err, KindRemoteUnavailable)
}
