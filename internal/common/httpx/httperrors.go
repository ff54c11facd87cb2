package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bondly/bondly/internal/common/apperrors"
)

// Error is the wire form of a failed request.
type Error struct {
	Description string `json:"error"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
	Retryable   bool   `json:"retryable,omitempty"`
	StatusCode  int    `json:"-"`
}

// Send writes the error as a JSON body with the error's status.
func (e *Error) Send(w http.ResponseWriter) {
	if w == nil {
		return
	}
	rspJson, err := json.Marshal(e)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("unable to encode error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	w.Write(rspJson)
}

func (e *Error) Error() string {
	return e.Description
}

// SendError sends an application error. Status 0 is sent as 500.
func SendError(w http.ResponseWriter, err apperrors.Error) {
	if err == nil {
		return
	}
	statusCode := err.StatusCode()
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}
	httperror := &Error{
		StatusCode:  statusCode,
		Code:        err.Code(),
		Description: err.ErrorAll(),
		Retryable:   statusCode == http.StatusTooManyRequests || statusCode == http.StatusServiceUnavailable,
	}
	httperror.Send(w)
}

func ErrReqMethodNotSupported() *Error {
	return &Error{
		Description: "request method not supported",
		StatusCode:  http.StatusMethodNotAllowed,
	}
}

func ErrUnableToParseReqData() *Error {
	return &Error{
		Description: "unable to parse request data",
		Code:        "INVALID_INPUT",
		StatusCode:  http.StatusBadRequest,
	}
}

// ErrApplicationError is a generic 500. An optional message replaces the default.
func ErrApplicationError(err ...string) *Error {
	s := "unable to process request"
	if len(err) > 0 {
		s = err[0]
	}
	return &Error{
		Description: s,
		Code:        "INTERNAL",
		StatusCode:  http.StatusInternalServerError,
	}
}

func ErrUnAuthorized(str ...string) *Error {
	s := "unable to authenticate request"
	if len(str) > 0 {
		s = str[0]
	}
	return &Error{
		Description: s,
		Code:        "UNAUTHORIZED",
		StatusCode:  http.StatusUnauthorized,
	}
}

func ErrInvalidRequest(str ...string) *Error {
	s := "invalid request data or empty request values"
	if len(str) > 0 {
		s = str[0]
	}
	return &Error{
		Description: s,
		Code:        "INVALID_INPUT",
		StatusCode:  http.StatusBadRequest,
	}
}

func ErrRequestTimeout() *Error {
	return &Error{
		Description: "request timed out",
		StatusCode:  http.StatusRequestTimeout,
	}
}

func ErrRequestTooLarge(limit int64) *Error {
	return &Error{
		Description: fmt.Sprintf("request body too large (limit: %d bytes)", limit),
		Code:        "INVALID_INPUT",
		StatusCode:  http.StatusRequestEntityTooLarge,
	}
}
