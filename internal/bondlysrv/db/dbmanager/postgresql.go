package dbmanager

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type postgresConn struct {
	conn             *sql.Conn
	cancel           context.CancelFunc
	scopes           map[string]string
	configuredScopes []string
	pool             *postgresPool
}

type postgresPool struct {
	configuredScopes []string
	connRequests     uint64
	connReturns      uint64
	db               *sql.DB
}

// NewPostgresqlDb opens a pgx backed pool and verifies it with a ping.
func NewPostgresqlDb(ctx context.Context, dsn string, maxOpen int, configuredScopes []string) (ScopedDb, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to open db")
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if maxOpen <= 0 {
		maxOpen = 50
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		log.Ctx(ctx).Error().Err(err).Msg("failed to ping db")
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &postgresPool{
		configuredScopes: configuredScopes,
		db:               sqlDB,
	}, nil
}

func (p *postgresPool) Conn(ctx context.Context) (ScopedConn, error) {
	ctx, cancel := context.WithCancel(ctx)

	conn, err := p.db.Conn(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to obtain database connection: %w", err)
	}

	sessionParams := map[string]string{
		"lock_timeout":                        "5s",
		"statement_timeout":                   "10s",
		"idle_in_transaction_session_timeout": "10s",
	}
	for param, value := range sessionParams {
		query := fmt.Sprintf("SET %s = %s", pq.QuoteIdentifier(param), pq.QuoteLiteral(value))
		if _, err := conn.ExecContext(ctx, query); err != nil {
			cancel()
			conn.Close()
			return nil, fmt.Errorf("failed to set %s: %w", param, err)
		}
	}

	h := &postgresConn{
		configuredScopes: p.configuredScopes,
		scopes:           make(map[string]string),
		cancel:           cancel,
		pool:             p,
		conn:             conn,
	}
	if err := h.DropScopes(ctx, p.configuredScopes); err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("failed to initialize scopes: %w", err)
	}

	atomic.AddUint64(&p.connRequests, 1)
	return h, nil
}

func (p *postgresPool) Stats() (requests, returns uint64) {
	return atomic.LoadUint64(&p.connRequests), atomic.LoadUint64(&p.connReturns)
}

func (p *postgresPool) Dialect() string {
	return DialectPostgres
}

func (p *postgresPool) Migrate(ctx context.Context) error {
	return migrate(ctx, p.db, DialectPostgres)
}

func (p *postgresPool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *postgresPool) Close() error {
	return p.db.Close()
}

func (h *postgresConn) Close(ctx context.Context) {
	if h.conn == nil {
		return
	}
	if err := h.DropAllScopes(ctx); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to drop all scopes during connection close")
	}
	h.conn.Close()
	h.conn = nil
	if h.cancel != nil {
		h.cancel()
	}
	atomic.AddUint64(&h.pool.connReturns, 1)
}

func (h *postgresConn) AddScopes(ctx context.Context, scopes map[string]string) error {
	if h.conn == nil {
		return fmt.Errorf("no active connection")
	}
	names := make([]string, 0, len(scopes))
	for scope := range scopes {
		names = append(names, scope)
	}
	if err := validateScopes(names); err != nil {
		return err
	}

	tx, err := h.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for setting scopes: %w", err)
	}
	defer tx.Rollback()

	set := make(map[string]string, len(scopes))
	for scope, value := range scopes {
		if !isConfigured(h.configuredScopes, scope) {
			continue
		}
		query := fmt.Sprintf("SET %s = %s", pq.QuoteIdentifier(scope), pq.QuoteLiteral(value))
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to set scope %q: %w", scope, err)
		}
		set[scope] = value
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scope changes: %w", err)
	}
	for k, v := range set {
		h.scopes[k] = v
	}
	return nil
}

func (h *postgresConn) AddScope(ctx context.Context, scope, value string) error {
	return h.AddScopes(ctx, map[string]string{scope: value})
}

func (h *postgresConn) DropScopes(ctx context.Context, scopes []string) error {
	if h.conn == nil {
		return nil
	}
	if err := validateScopes(scopes); err != nil {
		return err
	}

	tx, err := h.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for dropping scopes: %w", err)
	}
	defer tx.Rollback()

	for _, scope := range scopes {
		query := fmt.Sprintf("RESET %s", pq.QuoteIdentifier(scope))
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to reset scope %q: %w", scope, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scope changes: %w", err)
	}
	for _, scope := range scopes {
		delete(h.scopes, scope)
	}
	return nil
}

func (h *postgresConn) DropScope(ctx context.Context, scope string) error {
	return h.DropScopes(ctx, []string{scope})
}

func (h *postgresConn) DropAllScopes(ctx context.Context) error {
	return h.DropScopes(ctx, h.configuredScopes)
}

func (h *postgresConn) Scope(scope string) (string, bool) {
	v, ok := h.scopes[scope]
	return v, ok
}

func (h *postgresConn) Conn() *sql.Conn {
	return h.conn
}

func (h *postgresConn) Dialect() string {
	return DialectPostgres
}
