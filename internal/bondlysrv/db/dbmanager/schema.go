package dbmanager

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
)

const (
	DialectPostgres = "postgresql"
	DialectSQLite   = "sqlite"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Schema returns the DDL for a dialect.
func Schema(dialect string) (string, error) {
	b, err := schemaFS.ReadFile("schema/" + dialect + ".sql")
	if err != nil {
		return "", fmt.Errorf("no schema for dialect %s: %w", dialect, err)
	}
	return string(b), nil
}

func migrate(ctx context.Context, db *sql.DB, dialect string) error {
	ddl, err := Schema(dialect)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to apply %s schema: %w", dialect, err)
	}
	return nil
}
