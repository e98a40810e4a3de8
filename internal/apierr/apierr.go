// Package apierr is the one typed error value object the control
// plane's HTTP/WS boundary converts internal errors into. Internal
// packages keep returning plain wrapped errors (fmt.Errorf("...: %w",
// err)); only internal/api maps those into apierr.Error for the wire.
package apierr

import (
	"fmt"
	"time"
)

// Code is the fixed taxonomy every API error is classified into.
type Code string

const (
	CodeValidation            Code = "VALIDATION"
	CodeNotFound              Code = "NOT_FOUND"
	CodeInvalidState          Code = "INVALID_STATE"
	CodeInvalidTransition     Code = "INVALID_TRANSITION"
	CodeCyclicDependency      Code = "CYCLIC_DEPENDENCY"
	CodeCapacityExceeded      Code = "CAPACITY_EXCEEDED"
	CodeTimeout               Code = "TIMEOUT"
	CodeDependencyUnavailable Code = "DEPENDENCY_UNAVAILABLE"
	CodeUpstreamFailure       Code = "UPSTREAM_FAILURE"
	CodeInternal              Code = "INTERNAL"
)

// httpStatus maps each Code to the HTTP status the API layer replies
// with, per spec's 4xx/5xx propagation policy.
var httpStatus = map[Code]int{
	CodeValidation:            400,
	CodeNotFound:              404,
	CodeInvalidState:          409,
	CodeInvalidTransition:     409,
	CodeCyclicDependency:      422,
	CodeCapacityExceeded:      429,
	CodeTimeout:               504,
	CodeDependencyUnavailable: 503,
	CodeUpstreamFailure:       502,
	CodeInternal:              500,
}

// Error is the API boundary's typed error. It implements the standard
// error interface so it can be returned and wrapped like any other
// error inside internal/api, and it serializes to a consistent
// envelope shape for every error response.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"error"`
	Detail  string `json:"detail,omitempty"`
}

// New builds an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error from an underlying error, keeping its message
// as the Detail so the top-level Message can stay a stable, generic
// description of the failure category.
func Wrap(code Code, message string, err error) *Error {
	e := &Error{Code: code, Message: message}
	if err != nil {
		e.Detail = err.Error()
	}
	return e
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Message, e.Detail, e.Code)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// HTTPStatus returns the status code the API layer should reply with
// for this error's Code, defaulting to 500 for an unrecognized code.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatus[e.Code]; ok {
		return status
	}
	return 500
}

// Envelope is the wire shape for every error response:
// {error, detail?, code?, timestamp}.
type Envelope struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	Code      Code   `json:"code,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ToEnvelope converts e into the wire envelope, stamping the current
// time in RFC3339.
func (e *Error) ToEnvelope() Envelope {
	return Envelope{
		Error:     e.Message,
		Detail:    e.Detail,
		Code:      e.Code,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}
