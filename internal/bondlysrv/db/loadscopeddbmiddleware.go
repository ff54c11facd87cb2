package db

import (
	"context"
	"net/http"

	"github.com/bondly/bondly/internal/bondlysrv/db/dbmanager"
	"github.com/bondly/bondly/internal/common/httpx"
	"github.com/rs/zerolog/log"
)

// LoadScopedDBMiddleware checks out a connection for the request and returns it
// when the request is done.
func LoadScopedDBMiddleware(pool dbmanager.ScopedDb) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, err := ConnCtx(r.Context(), pool)
			if err != nil {
				log.Ctx(r.Context()).Error().Err(err).Msg("unable to get db connection")
				httpx.ErrApplicationError("unable to service request at this time").Send(w)
				return
			}
			defer func() {
				if dbConn := DB(ctx); dbConn != nil {
					dbConn.Close(context.Background())
				}
			}()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
