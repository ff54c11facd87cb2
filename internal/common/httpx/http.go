// Package httpx provides the JSON request/response plumbing shared by all HTTP handlers.
// Handlers return either a *Response or an error; WrapHttpRsp turns both into wire responses.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/bondly/bondly/internal/common/apperrors"
	"github.com/rs/zerolog/log"
)

// GetRequestData decodes a JSON request body into data. Only POST and PUT are accepted.
func GetRequestData(r *http.Request, data any) error {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		return ErrReqMethodNotSupported()
	}
	if r.Body == nil || r.Body == http.NoBody {
		log.Ctx(r.Context()).Error().Msg("empty request body")
		return ErrUnableToParseReqData()
	}
	if err := json.NewDecoder(r.Body).Decode(data); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return ErrRequestTooLarge(maxErr.Limit)
		}
		return ErrUnableToParseReqData()
	}
	return nil
}

// Response is a handler result.
type Response struct {
	StatusCode  int
	Location    string
	Response    any
	ContentType string
}

// RequestHandler handles a request and returns a response or an error.
type RequestHandler func(r *http.Request) (*Response, error)

// WrapHttpRsp adapts a RequestHandler to http.HandlerFunc.
func WrapHttpRsp(handler RequestHandler) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rsp, err := handler(r)
		if err != nil {
			sendAnyError(r, w, err)
			return
		}
		if rsp == nil {
			ErrApplicationError().Send(w)
			return
		}
		if rsp.ContentType == "" {
			rsp.ContentType = "application/json"
		}
		var location []string
		if rsp.Location != "" {
			location = append(location, rsp.Location)
		}
		switch rsp.ContentType {
		case "application/json":
			SendJsonRsp(r.Context(), w, rsp.StatusCode, rsp.Response, location...)
		case "text/plain":
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(rsp.StatusCode)
			if s, ok := rsp.Response.(string); ok {
				w.Write([]byte(s))
			}
		default:
			ErrApplicationError("unsupported response type").Send(w)
		}
	})
}

func sendAnyError(r *http.Request, w http.ResponseWriter, err error) {
	var httpErr *Error
	if errors.As(err, &httpErr) {
		httpErr.Send(w)
		return
	}
	var appErr apperrors.Error
	if errors.As(err, &appErr) {
		if appErr.StatusCode() >= http.StatusInternalServerError || appErr.StatusCode() == 0 {
			log.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		}
		SendError(w, appErr)
		return
	}
	log.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	ErrApplicationError().Send(w)
}

// StreamResponse is a handler result for a long lived stream. WriteChunk is called
// repeatedly until it returns an error; io.EOF ends the stream cleanly.
type StreamResponse struct {
	StatusCode  int
	ContentType string
	Headers     map[string]string
	WriteChunk  func(w http.ResponseWriter) error
}

// StreamHandler prepares a stream or fails with an error before any byte is written.
type StreamHandler func(r *http.Request) (*StreamResponse, error)

// WrapStreamHandler adapts a StreamHandler to http.HandlerFunc.
func WrapStreamHandler(handler StreamHandler) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rsp, err := handler(r)
		if err != nil {
			sendAnyError(r, w, err)
			return
		}
		if rsp == nil || rsp.WriteChunk == nil {
			ErrApplicationError().Send(w)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			ErrApplicationError("streaming not supported").Send(w)
			return
		}

		w.Header().Set("Content-Type", rsp.ContentType)
		for k, v := range rsp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(rsp.StatusCode)
		flusher.Flush()

		for {
			if err := rsp.WriteChunk(w); err != nil {
				if !errors.Is(err, io.EOF) {
					log.Ctx(r.Context()).Debug().Err(err).Msg("stream closed")
				}
				return
			}
			flusher.Flush()
		}
	})
}

// ResponseHandlerParam binds a handler to a method and a route pattern.
type ResponseHandlerParam struct {
	Method  string
	Path    string
	Handler RequestHandler
}
