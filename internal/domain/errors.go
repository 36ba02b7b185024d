package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure categories the HTTP boundary maps
// to status codes.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindUnauthorized
	KindConflict
	KindNotFound
	KindBadRequest
	KindRateLimited
	KindForbidden
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindBadRequest:
		return "bad_request"
	case KindRateLimited:
		return "rate_limited"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// Error is a typed failure. Message and Details are safe to show to clients;
// Err is not.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Details []string
	Err     error
}

func NewError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind and Code so wrapped copies still compare equal to the
// sentinel they were derived from.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// WithDetails returns a copy of e listing individual problems.
func (e *Error) WithDetails(details ...string) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
