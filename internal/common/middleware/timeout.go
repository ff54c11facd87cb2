package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bondly/bondly/internal/common/httpx"
	"github.com/rs/zerolog/log"
)

// SetTimeout bounds request handling. The handler runs with a deadline; if it has not
// finished when the deadline fires and nothing has been written, a 408 is sent.
func SetTimeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			tw := &timeoutWriter{rw: httpx.NewResponseWriter(w), h: make(http.Header)}
			r = r.WithContext(ctx)

			done := make(chan struct{})
			go func() {
				defer func() {
					if p := recover(); p != nil {
						log.Ctx(ctx).Error().Msgf("panic in handler: %v", p)
						tw.fail(httpx.ErrApplicationError())
					}
					close(done)
				}()
				next.ServeHTTP(tw, r)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				tw.fail(httpx.ErrRequestTimeout())
				log.Ctx(ctx).Error().Dur("timeout", timeout).Msg("request timed out")
			}
		})
	}
}

// timeoutWriter serializes writes between the handler goroutine and the timeout
// path. The handler gets its own header map, copied to the real one when the
// header is written, so a timeout response never shares headers with it.
type timeoutWriter struct {
	mu       sync.Mutex
	rw       *httpx.ResponseWriter
	h        http.Header
	timedOut bool
}

func (tw *timeoutWriter) Header() http.Header {
	return tw.h
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return
	}
	tw.writeHeaderLocked(code)
}

func (tw *timeoutWriter) writeHeaderLocked(code int) {
	if tw.rw.Written() {
		return
	}
	dst := tw.rw.Header()
	for k, vv := range tw.h {
		dst[k] = append([]string(nil), vv...)
	}
	tw.rw.WriteHeader(code)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	tw.writeHeaderLocked(http.StatusOK)
	return tw.rw.Write(b)
}

func (tw *timeoutWriter) fail(e *httpx.Error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.rw.Written() {
		tw.timedOut = true
		return
	}
	tw.timedOut = true
	e.Send(tw.rw)
}
