// Package sqlstore implements the store with hand written SQL that runs unchanged
// on Postgres (pgx) and SQLite (modernc). Placeholders use the $n form, which both
// drivers accept.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bondly/bondly/internal/bondlysrv/db/dbmanager"
)

// ErrNotifyUnsupported is returned by Notify on databases without LISTEN/NOTIFY.
var ErrNotifyUnsupported = errors.New("notifications are not supported by this database")

// Store implements the session, response, advice and retention queries on a
// single scoped connection. The same SQL serves Postgres and SQLite.
type Store struct {
	c dbmanager.ScopedConn
}

// New wraps c. Closing the Store closes c.
func New(c dbmanager.ScopedConn) *Store {
	return &Store{c: c}
}

func (s *Store) conn() *sql.Conn {
	return s.c.Conn()
}

// now is the timestamp written to created_at and updated_at columns. It is truncated
// to microseconds so both databases store the same value.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (s *Store) AddScopes(ctx context.Context, scopes map[string]string) error {
	return s.c.AddScopes(ctx, scopes)
}

func (s *Store) DropScopes(ctx context.Context, scopes []string) error {
	return s.c.DropScopes(ctx, scopes)
}

func (s *Store) AddScope(ctx context.Context, scope, value string) error {
	return s.c.AddScope(ctx, scope, value)
}

func (s *Store) DropScope(ctx context.Context, scope string) error {
	return s.c.DropScope(ctx, scope)
}

func (s *Store) DropAllScopes(ctx context.Context) error {
	return s.c.DropAllScopes(ctx)
}

func (s *Store) Scope(scope string) (string, bool) {
	return s.c.Scope(scope)
}

func (s *Store) Dialect() string {
	return s.c.Dialect()
}

func (s *Store) Close(ctx context.Context) {
	s.c.Close(ctx)
}

func (s *Store) Notify(ctx context.Context, channel, payload string) error {
	if s.c.Dialect() != dbmanager.DialectPostgres {
		return ErrNotifyUnsupported
	}
	_, err := s.conn().ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, payload)
	return err
}
