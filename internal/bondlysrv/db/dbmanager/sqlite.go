package dbmanager

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// sqliteConn keeps scopes in memory; SQLite has no row level security, so the
// queries that depend on a participant scope also filter explicitly.
type sqliteConn struct {
	conn             *sql.Conn
	scopes           map[string]string
	configuredScopes []string
	pool             *sqlitePool
}

type sqlitePool struct {
	configuredScopes []string
	connRequests     uint64
	connReturns      uint64
	db               *sql.DB
}

// NewSQLiteDb opens a modernc.org/sqlite database.
func NewSQLiteDb(ctx context.Context, dsn string, configuredScopes []string) (ScopedDb, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		log.Ctx(ctx).Error().Err(err).Msg("failed to ping db")
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &sqlitePool{
		configuredScopes: configuredScopes,
		db:               sqlDB,
	}, nil
}

func (p *sqlitePool) Conn(ctx context.Context) (ScopedConn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain database connection: %w", err)
	}
	atomic.AddUint64(&p.connRequests, 1)
	return &sqliteConn{
		conn:             conn,
		scopes:           make(map[string]string),
		configuredScopes: p.configuredScopes,
		pool:             p,
	}, nil
}

func (p *sqlitePool) Stats() (requests, returns uint64) {
	return atomic.LoadUint64(&p.connRequests), atomic.LoadUint64(&p.connReturns)
}

func (p *sqlitePool) Dialect() string {
	return DialectSQLite
}

func (p *sqlitePool) Migrate(ctx context.Context) error {
	return migrate(ctx, p.db, DialectSQLite)
}

func (p *sqlitePool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *sqlitePool) Close() error {
	return p.db.Close()
}

func (h *sqliteConn) AddScopes(ctx context.Context, scopes map[string]string) error {
	if h.conn == nil {
		return fmt.Errorf("no active connection")
	}
	for scope, value := range scopes {
		if err := validateScopes([]string{scope}); err != nil {
			return err
		}
		if isConfigured(h.configuredScopes, scope) {
			h.scopes[scope] = value
		}
	}
	return nil
}

func (h *sqliteConn) AddScope(ctx context.Context, scope, value string) error {
	return h.AddScopes(ctx, map[string]string{scope: value})
}

func (h *sqliteConn) DropScopes(ctx context.Context, scopes []string) error {
	if err := validateScopes(scopes); err != nil {
		return err
	}
	for _, scope := range scopes {
		delete(h.scopes, scope)
	}
	return nil
}

func (h *sqliteConn) DropScope(ctx context.Context, scope string) error {
	return h.DropScopes(ctx, []string{scope})
}

func (h *sqliteConn) DropAllScopes(ctx context.Context) error {
	h.scopes = make(map[string]string)
	return nil
}

func (h *sqliteConn) Scope(scope string) (string, bool) {
	v, ok := h.scopes[scope]
	return v, ok
}

func (h *sqliteConn) Conn() *sql.Conn {
	return h.conn
}

func (h *sqliteConn) Dialect() string {
	return DialectSQLite
}

func (h *sqliteConn) Close(ctx context.Context) {
	if h.conn == nil {
		return
	}
	h.DropAllScopes(ctx)
	h.conn.Close()
	h.conn = nil
	atomic.AddUint64(&h.pool.connReturns, 1)
}
