package types

import (
	"errors"
	"fmt"
)

// Code is a protocol error code. The numeric values are shared with the
// wire protocol and must not change.
type Code int32

const (
	CodeUnspecified       Code = 0
	CodeBadStreamID       Code = 18
	CodeBadEventID        Code = 21
	CodeBadEventSignature Code = 22
	CodeBadHashFormat     Code = 23
	CodeBadPrevEvents     Code = 24
	CodeBadEvent          Code = 26
	CodeStreamEmpty       Code = 29
	CodeStreamBadEvent    Code = 30
	CodeBadDelegateSig    Code = 31
	CodeBadPublicKey      Code = 32
	CodeBadPayload        Code = 33
)

var codeNames = map[Code]string{
	CodeUnspecified:       "UNSPECIFIED",
	CodeBadStreamID:       "BAD_STREAM_ID",
	CodeBadEventID:        "BAD_EVENT_ID",
	CodeBadEventSignature: "BAD_EVENT_SIGNATURE",
	CodeBadHashFormat:     "BAD_HASH_FORMAT",
	CodeBadPrevEvents:     "BAD_PREV_EVENTS",
	CodeBadEvent:          "BAD_EVENT",
	CodeStreamEmpty:       "STREAM_EMPTY",
	CodeStreamBadEvent:    "STREAM_BAD_EVENT",
	CodeBadDelegateSig:    "BAD_DELEGATE_SIG",
	CodeBadPublicKey:      "BAD_PUBLIC_KEY",
	CodeBadPayload:        "BAD_PAYLOAD",
}

// String returns the wire name of the code.
func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("CODE_%d", int32(c))
}

// Error is a protocol error carrying a numeric code.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

// Sentinels usable with errors.Is. They match any *Error with the same code.
var (
	ErrBadStreamID       = &Error{Code: CodeBadStreamID}
	ErrBadEventID        = &Error{Code: CodeBadEventID}
	ErrBadEventSignature = &Error{Code: CodeBadEventSignature}
	ErrBadHashFormat     = &Error{Code: CodeBadHashFormat}
	ErrBadPrevEvents     = &Error{Code: CodeBadPrevEvents}
	ErrBadEvent          = &Error{Code: CodeBadEvent}
	ErrStreamEmpty       = &Error{Code: CodeStreamEmpty}
	ErrStreamBadEvent    = &Error{Code: CodeStreamBadEvent}
	ErrBadDelegateSig    = &Error{Code: CodeBadDelegateSig}
	ErrBadPublicKey      = &Error{Code: CodeBadPublicKey}
	ErrBadPayload        = &Error{Code: CodeBadPayload}
)

// ErrSessionNotFound is returned when no inbound group session is held for
// encrypted content. Remote devices report it by message, so callers match
// the text as well.
var ErrSessionNotFound = errors.New("session not found")

// NewError builds a coded error with a formatted message.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// WrapError attaches a code and message to an underlying error.
func WrapError(code Code, err error, msg string) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Err == nil:
		return e.Code.String()
	case e.Err == nil:
		return e.Code.String() + ": " + e.Msg
	case e.Msg == "":
		return e.Code.String() + ": " + e.Err.Error()
	}
	return e.Code.String() + ": " + e.Msg + ": " + e.Err.Error()
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeUnspecified.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnspecified
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool { return err != nil && CodeOf(err) == code }
