// Package apperr defines the error taxonomy shared by the chat core and its
// transports. Every core operation returns an *Error so callers can decide
// whether to retry, show a permission message or treat the action as done.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindForbidden
	KindNotFound
	KindInvalidState
	KindGone
	KindConflict
	KindExpired
	KindAlreadyMember
	KindLimitReached
)

var kindCodes = map[Kind]string{
	KindUnknown:       "internal_error",
	KindValidation:    "validation_error",
	KindForbidden:     "forbidden",
	KindNotFound:      "not_found",
	KindInvalidState:  "invalid_state",
	KindGone:          "gone",
	KindConflict:      "conflict",
	KindExpired:       "expired",
	KindAlreadyMember: "already_member",
	KindLimitReached:  "limit_reached",
}

// Code is the stable wire identifier for the kind.
func (k Kind) Code() string {
	if code, ok := kindCodes[k]; ok {
		return code
	}
	return kindCodes[KindUnknown]
}

func (k Kind) String() string { return k.Code() }

// HTTPStatus maps a kind to the response status used by the HTTP adapter.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState, KindConflict, KindAlreadyMember, KindLimitReached:
		return http.StatusConflict
	case KindGone, KindExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Code()
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so sentinel comparisons work through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == ""
}

var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrForbidden     = &Error{Kind: KindForbidden}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrInvalidState  = &Error{Kind: KindInvalidState}
	ErrGone          = &Error{Kind: KindGone}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrExpired       = &Error{Kind: KindExpired}
	ErrAlreadyMember = &Error{Kind: KindAlreadyMember}
	ErrLimitReached  = &Error{Kind: KindLimitReached}
)

func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func Validation(op, msg string) error    { return New(KindValidation, op, msg) }
func Forbidden(op, msg string) error     { return New(KindForbidden, op, msg) }
func NotFound(op, msg string) error      { return New(KindNotFound, op, msg) }
func InvalidState(op, msg string) error  { return New(KindInvalidState, op, msg) }
func Gone(op, msg string) error          { return New(KindGone, op, msg) }
func Conflict(op, msg string) error      { return New(KindConflict, op, msg) }
func Expired(op, msg string) error       { return New(KindExpired, op, msg) }
func AlreadyMember(op, msg string) error { return New(KindAlreadyMember, op, msg) }
func LimitReached(op, msg string) error  { return New(KindLimitReached, op, msg) }

// Internal wraps an unexpected failure (store, driver) that is not part of
// the taxonomy.
func Internal(op string, err error) error {
	return &Error{Kind: KindUnknown, Op: op, Msg: "internal error", Err: err}
}

// KindOf extracts the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Message returns the human-readable part of err without the op prefix.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindUnknown {
			return "internal server error"
		}
		if e.Msg != "" {
			return e.Msg
		}
		return e.Kind.Code()
	}
	return "internal server error"
}
