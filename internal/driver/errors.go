package driver

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrorStartup   ErrorKind = "startup"
	ErrorHealth    ErrorKind = "health"
	ErrorTimeout   ErrorKind = "timeout"
	ErrorExit      ErrorKind = "exit"
	ErrorTransport ErrorKind = "transport"
	ErrorCanceled  ErrorKind = "canceled"
)

// Error is returned for every agent process failure the harness reports.
type Error struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	Underlying error     `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return "agent driver error"
	}
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Underlying
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Underlying: err}
}

func AsError(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
