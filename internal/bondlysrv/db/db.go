// Package db defines the store used by the service and the request scoped
// connection plumbing. A connection is checked out per request by
// LoadScopedDBMiddleware and reached from handlers through DB(ctx).
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/bondly/bondly/internal/bondlysrv/db/dbmanager"
	"github.com/bondly/bondly/internal/bondlysrv/db/models"
	"github.com/bondly/bondly/internal/bondlysrv/db/sqlstore"
	"github.com/bondly/bondly/internal/common/apperrors"
	"github.com/bondly/bondly/internal/common/uuid"
	"github.com/rs/zerolog/log"
)

// SessionManager stores sessions and their lifecycle status.
type SessionManager interface {
	// CreateSession inserts the session and the creator's response in one transaction.
	CreateSession(ctx context.Context, session *models.Session, creatorResponse *models.Response) apperrors.Error
	GetSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, apperrors.Error)
	GetSessionByShareToken(ctx context.Context, shareToken uuid.UUID) (*models.Session, apperrors.Error)
	// AdvanceSessionStatus moves the session forward to status. It reports false when
	// the session is missing or already at or past status.
	AdvanceSessionStatus(ctx context.Context, sessionID uuid.UUID, status models.SessionStatus) (bool, apperrors.Error)
	SetPartnerName(ctx context.Context, sessionID uuid.UUID, name string) apperrors.Error
	ListSessionsForParticipant(ctx context.Context, userID string) ([]*models.Session, apperrors.Error)
}

// ResponseManager stores participant responses.
type ResponseManager interface {
	CreateResponse(ctx context.Context, response *models.Response) apperrors.Error
	// ListResponses returns every response of the session, oldest first.
	ListResponses(ctx context.Context, sessionID uuid.UUID) ([]*models.Response, apperrors.Error)
}

// AdviceManager stores generated advice.
type AdviceManager interface {
	// CreateAdvice inserts all rows with a single statement.
	CreateAdvice(ctx context.Context, advice []*models.Advice) apperrors.Error
	GetAdvice(ctx context.Context, adviceID uuid.UUID) (*models.Advice, apperrors.Error)
	// GetLatestAdviceID returns uuid.Nil when no advice exists for the role.
	GetLatestAdviceID(ctx context.Context, sessionID uuid.UUID, isCreator bool) (uuid.UUID, apperrors.Error)
}

type RetentionManager interface {
	// DeleteCreatedBefore removes rows of one table created before cutoff.
	DeleteCreatedBefore(ctx context.Context, table sqlstore.Table, cutoff time.Time) (int64, apperrors.Error)
}

type ConnectionManager interface {
	AddScopes(ctx context.Context, scopes map[string]string) error
	DropScopes(ctx context.Context, scopes []string) error
	AddScope(ctx context.Context, scope, value string) error
	DropScope(ctx context.Context, scope string) error
	DropAllScopes(ctx context.Context) error
	Scope(scope string) (string, bool)
	Dialect() string
	// Notify sends a Postgres notification. It fails with ErrNotifyUnsupported elsewhere.
	Notify(ctx context.Context, channel, payload string) error
	Close(ctx context.Context)
}

// Database is the full data layer bound to the connection in a request context.
type Database interface {
	SessionManager
	ResponseManager
	AdviceManager
	RetentionManager
	ConnectionManager
}

const (
	// Scope_UserID holds the participant id used by row level security.
	Scope_UserID string = "bondly.curr_userid"
	// Scope_Privileged is "on" for server paths that bypass row level security.
	Scope_Privileged string = "bondly.privileged"
)

// ConfiguredScopes are reset on every checked out connection.
var ConfiguredScopes = []string{
	Scope_UserID,
	Scope_Privileged,
}

var ErrNotifyUnsupported = sqlstore.ErrNotifyUnsupported

type ctxDbKeyType struct{}

var ctxDbKey ctxDbKeyType

// ConnCtx checks out a connection from pool and stores it in the returned context.
func ConnCtx(ctx context.Context, pool dbmanager.ScopedDb) (context.Context, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool not initialized")
	}
	conn, err := pool.Conn(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("unable to get db connection")
		return nil, err
	}
	return context.WithValue(ctx, ctxDbKey, conn), nil
}

// HasConn reports whether ctx holds a checked out connection.
func HasConn(ctx context.Context) bool {
	_, ok := ctx.Value(ctxDbKey).(dbmanager.ScopedConn)
	return ok
}

// DB returns the store bound to the connection in ctx, or nil if there is none.
func DB(ctx context.Context) Database {
	if conn, ok := ctx.Value(ctxDbKey).(dbmanager.ScopedConn); ok {
		return sqlstore.New(conn)
	}
	log.Ctx(ctx).Error().Msg("unable to get db connection from context")
	return nil
}

// WithConn runs fn with a freshly checked out connection and returns it afterwards.
// It is used by work that runs outside a request, like scheduled sweeps.
func WithConn(ctx context.Context, pool dbmanager.ScopedDb, fn func(ctx context.Context) error) error {
	connCtx, err := ConnCtx(ctx, pool)
	if err != nil {
		return err
	}
	defer func() {
		if d := DB(connCtx); d != nil {
			d.Close(context.Background())
		}
	}()
	return fn(connCtx)
}

// Privileged turns on the privileged scope for the connection in ctx. The returned
// function restores the previous state.
func Privileged(ctx context.Context) (func(), error) {
	d := DB(ctx)
	if d == nil {
		return nil, fmt.Errorf("no db connection in context")
	}
	if v, ok := d.Scope(Scope_Privileged); ok && v == "on" {
		return func() {}, nil
	}
	if err := d.AddScope(ctx, Scope_Privileged, "on"); err != nil {
		return nil, err
	}
	return func() {
		if err := d.DropScope(context.Background(), Scope_Privileged); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to drop privileged scope")
		}
	}, nil
}
