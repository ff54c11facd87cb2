// Package dbmanager owns the connection pools. A ScopedConn is a single pooled
// connection with session scopes attached; scopes drive row level security on
// Postgres and are tracked only in memory on SQLite.
package dbmanager

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/bondly/bondly/internal/bondlysrv/config"
)

type ScopedDb interface {
	// Conn checks out a connection with every configured scope reset.
	Conn(ctx context.Context) (ScopedConn, error)
	// Stats returns the number of connections handed out and returned.
	Stats() (requests, returns uint64)
	Dialect() string
	// Migrate applies the embedded schema. It is idempotent.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// ScopedConn is not safe for concurrent use; each request owns one.
type ScopedConn interface {
	AddScopes(ctx context.Context, scopes map[string]string) error
	DropScopes(ctx context.Context, scopes []string) error
	AddScope(ctx context.Context, scope, value string) error
	DropScope(ctx context.Context, scope string) error
	DropAllScopes(ctx context.Context) error
	// Scope returns the current value of a scope.
	Scope(scope string) (string, bool)
	// Conn returns the underlying connection. Use Close, not Conn().Close.
	Conn() *sql.Conn
	Dialect() string
	// Close drops all scopes and returns the connection to the pool.
	Close(ctx context.Context)
}

var validScopeNameRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)*$`)

func validateScopes(scopes []string) error {
	for _, scope := range scopes {
		if !validScopeNameRegex.MatchString(scope) {
			return fmt.Errorf("invalid scope name: %s", scope)
		}
	}
	return nil
}

func isConfigured(configured []string, scope string) bool {
	for _, s := range configured {
		if s == scope {
			return true
		}
	}
	return false
}

// NewScopedDb opens the pool for the configured driver.
func NewScopedDb(ctx context.Context, cfg *config.DBConfig, configuredScopes []string) (ScopedDb, error) {
	if err := validateScopes(configuredScopes); err != nil {
		return nil, err
	}
	switch cfg.Driver {
	case config.DriverPostgres:
		return NewPostgresqlDb(ctx, cfg.DSN(), cfg.MaxOpenConn, configuredScopes)
	case config.DriverSQLite:
		return NewSQLiteDb(ctx, cfg.DSN(), configuredScopes)
	}
	return nil, fmt.Errorf("unsupported db driver: %s", cfg.Driver)
}
