package decodebin

import (
	"errors"
	"fmt"
)

// Error is a coded engine error.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Error codes
const (
	ErrCodeMissingElement    = "MISSING_ELEMENT"
	ErrCodeMissingDecoder    = "MISSING_DECODER"
	ErrCodeResourceExhausted = "RESOURCE_EXHAUSTED"
	ErrCodeDuplicateStreamID = "DUPLICATE_STREAM_ID"
	ErrCodeInvalidCaps       = "INVALID_CAPS"
	ErrCodeInputExists       = "INPUT_EXISTS"
	ErrCodeInvalidSeqnum     = "INVALID_SEQNUM"
	ErrCodeStopped           = "STOPPED"
)

// ErrStopped is returned by every operation on a stopped engine.
var ErrStopped = NewError(ErrCodeStopped, "engine stopped", nil)

// NewError creates a new coded error
func NewError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
