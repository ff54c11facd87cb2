package apperrors

import (
	"errors"
	"net/http"
	"strings"
)

type appError struct {
	msg           string
	base          error
	wrappedErrors []error
	statuscode    int
	code          string
	expandError   bool
}

func (e *appError) Error() string {
	return e.msg
}

// ErrorAll returns the message followed by the wrapped errors when expansion is on.
func (e *appError) ErrorAll() string {
	if !e.expandError {
		return e.Error()
	}
	var b strings.Builder
	b.WriteString(e.Error())
	for _, err := range e.wrappedErrors {
		b.WriteString("; ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e *appError) Unwrap() error {
	return e.base
}

func (e *appError) UnwrapAll() []error {
	return e.wrappedErrors
}

func (e *appError) derive(msg string, errs []error) *appError {
	return &appError{
		msg:           msg,
		base:          e,
		wrappedErrors: append([]error{e}, errs...),
		statuscode:    e.statuscode,
		code:          e.code,
		expandError:   e.expandError,
	}
}

func (e *appError) New(msg string) Error {
	return &appError{
		msg:         msg,
		base:        e,
		statuscode:  e.statuscode,
		code:        e.code,
		expandError: e.expandError,
	}
}

func (e *appError) Msg(msg string) Error {
	return e.derive(msg, e.wrappedErrors)
}

func (e *appError) MsgErr(msg string, errs ...error) Error {
	return e.derive(msg, errs)
}

func (e *appError) Err(errs ...error) Error {
	return e.derive(e.msg, errs)
}

func (e *appError) SetExpandError(flag bool) Error {
	cp := *e
	cp.expandError = flag
	return &cp
}

func (e *appError) SetStatusCode(code int) Error {
	cp := *e
	cp.statuscode = code
	return &cp
}

func (e *appError) StatusCode() int {
	return e.statuscode
}

func (e *appError) SetCode(code string) Error {
	cp := *e
	cp.code = code
	return &cp
}

func (e *appError) Code() string {
	return e.code
}

// Is reports a match against the base chain and every wrapped error.
func (e *appError) Is(target error) bool {
	if target == nil {
		return false
	}
	if errors.Is(e.base, target) {
		return true
	}
	for _, err := range e.wrappedErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// New creates a root error.
func New(msg string) Error {
	return &appError{
		msg: msg,
	}
}

// StatusOf returns the HTTP status and code for any error. Errors that are not
// apperrors, or that carry no status, map to 500.
func StatusOf(err error) (int, string) {
	var ae Error
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError, ""
	}
	status := ae.StatusCode()
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return status, ae.Code()
}
