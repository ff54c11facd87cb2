package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/bondly/bondly/internal/bondlysrv/config"
	"github.com/bondly/bondly/internal/bondlysrv/db"
	"github.com/bondly/bondly/internal/common/httpx"
	"github.com/rs/zerolog/log"
)

const (
	AuthHeaderPrefix = "Bearer "
	GenericAuthError = "authentication failed"
)

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	if !strings.HasPrefix(h, AuthHeaderPrefix) {
		return "", true
	}
	return strings.TrimSpace(strings.TrimPrefix(h, AuthHeaderPrefix)), true
}

// ParticipantMiddleware authenticates the participant token. When the request
// has a db connection the participant id becomes its row level security scope.
// Without required, requests lacking an Authorization header pass through
// anonymously; a header that is present must still be valid.
func (i *Issuer) ParticipantMiddleware(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, present := bearerToken(r)
			if !present {
				if required {
					log.Ctx(ctx).Debug().Msg("missing authorization header")
					httpx.ErrUnAuthorized(GenericAuthError).Send(w)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if token == "" {
				httpx.ErrUnAuthorized(GenericAuthError).Send(w)
				return
			}
			participantID, err := i.Validate(ctx, token)
			if err != nil {
				httpx.ErrUnAuthorized(GenericAuthError).Send(w)
				return
			}
			ctx = WithParticipant(ctx, participantID)
			ctx = log.Ctx(ctx).With().Str("participant_id", participantID).Logger().WithContext(ctx)
			if db.HasConn(ctx) {
				if err := db.DB(ctx).AddScope(ctx, db.Scope_UserID, participantID); err != nil {
					log.Ctx(ctx).Error().Err(err).Msg("failed to set participant scope")
					httpx.ErrApplicationError().Send(w)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CronSecretMiddleware requires "Authorization: Bearer <secret>". The check is
// skipped only in development when no secret is configured.
func CronSecretMiddleware(secret, environment string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				if environment == config.EnvDevelopment {
					next.ServeHTTP(w, r)
					return
				}
				log.Ctx(r.Context()).Error().Msg("cron secret not configured")
				httpx.ErrUnAuthorized("Unauthorized").Send(w)
				return
			}
			token, _ := bearerToken(r)
			if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				log.Ctx(r.Context()).Warn().Msg("rejected cleanup request")
				httpx.ErrUnAuthorized("Unauthorized").Send(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
