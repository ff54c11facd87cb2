// Package apperrors provides chained application errors that carry an HTTP status
// and a machine readable code. Errors are declared once per package and specialised
// at the call site with Msg, MsgErr or Err.
package apperrors

// Error is an error that can be chained and carries transport metadata.
// All methods return a new Error; the receiver is never mutated.
type Error interface {
	error
	Unwrap() error

	New(msg string) Error                  // fresh error using the receiver as template
	Msg(msg string) Error                  // new message, wraps the receiver
	MsgErr(msg string, err ...error) Error // new message, wraps the receiver and errs
	Err(err ...error) Error                // same message, wraps the receiver and errs
	SetExpandError(bool) Error             // ErrorAll includes wrapped errors when set
	SetStatusCode(int) Error
	StatusCode() int
	SetCode(string) Error
	Code() string
	ErrorAll() string
	UnwrapAll() []error
}
