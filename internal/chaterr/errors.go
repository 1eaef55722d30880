package chaterr

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies an Error.
type Code string

const (
	CodeNetwork     Code = "NETWORK_ERROR"
	CodeAuthExpired Code = "AUTH_EXPIRED"
	CodeValidation  Code = "VALIDATION_ERROR"
	CodeStatus      Code = "UNEXPECTED_STATUS"
)

// Error is the client-side error taxonomy. Reason is safe to show to the user.
type Error struct {
	Code   Code
	Reason string
	Err    error
}

// Error formats the code, the reason and the wrapped error.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("chatlink: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("chatlink: %s (%s): %v", e.Code, e.Reason, e.Err)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code Code, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// Network wraps a transport failure.
func Network(reason string, err error) *Error {
	return newError(CodeNetwork, reason, err)
}

// AuthExpired reports a 401 whose session refresh also failed.
func AuthExpired(reason string) *Error {
	return newError(CodeAuthExpired, reason, nil)
}

// Validation reports bad user input. No network call has been made.
func Validation(reason string) *Error {
	return newError(CodeValidation, reason, nil)
}

// Status reports a non-2xx response that is not an auth failure.
func Status(status int, reason string) *Error {
	return newError(CodeStatus, fmt.Sprintf("%d: %s", status, reason), nil)
}

// Is reports whether any error in err's chain is an *Error with the given code.
func Is(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// Reason returns the user-facing reason of the first *Error in err's chain,
// falling back to err.Error(). Joined errors report every reason, separated
// by "; ".
func Reason(err error) string {
	switch x := err.(type) {
	case nil:
		return ""
	case *Error:
		if x == nil {
			return ""
		}
		return x.Reason
	case interface{ Unwrap() []error }:
		var reasons []string
		for _, inner := range x.Unwrap() {
			if r := Reason(inner); r != "" {
				reasons = append(reasons, r)
			}
		}
		return strings.Join(reasons, "; ")
	case interface{ Unwrap() error }:
		var e *Error
		if inner := x.Unwrap(); errors.As(inner, &e) {
			return Reason(inner)
		}
	}
	return err.Error()
}
