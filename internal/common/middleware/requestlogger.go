// Package middleware holds the HTTP middleware shared by the service: request logging,
// panic recovery, timeouts and body limits.
package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bondly/bondly/internal/common/httpx"
	"github.com/bondly/bondly/internal/common/logtrace"
	"github.com/bondly/bondly/internal/common/uuid"
	"github.com/rs/zerolog/log"
)

const RequestIDHeader = "X-Bondly-Request-ID"

// RequestLogger assigns a request id, attaches a request scoped logger to the context
// and logs the start and end of every request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > 64 {
			requestID = newRequestId()
		}
		ctx = logtrace.WithRequestId(ctx, requestID)
		ctx = log.With().Str("request_id", requestID).Logger().WithContext(ctx)

		w.Header().Set(RequestIDHeader, requestID)
		rw := httpx.NewResponseWriter(w)

		log.Ctx(ctx).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_ip", r.RemoteAddr).
			Str("proto", r.Proto).
			Msg("incoming request")

		defer func() {
			log.Ctx(ctx).Info().
				Int("status", rw.Status()).
				Str("duration", fmt.Sprintf("%dms", time.Since(start).Milliseconds())).
				Msg("request completed")
		}()

		next.ServeHTTP(rw, r.WithContext(ctx))
	})
}

func newRequestId() string {
	u, err := uuid.NewRandom()
	if err == nil {
		return u.String()
	}
	return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
}
