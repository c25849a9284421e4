package session

import "fmt"

type ErrorCode string

const (
	ErrorNetwork       ErrorCode = "NETWORK_ERROR"
	ErrorNotFound      ErrorCode = "NOT_FOUND"
	ErrorPrecondition  ErrorCode = "PRECONDITION_FAILED"
	ErrorMedia         ErrorCode = "MEDIA_ERROR"
	ErrorStaleResource ErrorCode = "STALE_RESOURCE"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("session: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("session: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
