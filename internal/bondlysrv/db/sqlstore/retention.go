package sqlstore

import (
	"context"
	"time"

	"github.com/bondly/bondly/internal/bondlysrv/db/dberror"
	"github.com/bondly/bondly/internal/common/apperrors"
	"github.com/rs/zerolog/log"
)

// Table names a table swept by retention.
type Table string

const (
	TableSessions  Table = "sessions"
	TableResponses Table = "responses"
	TableAdvice    Table = "advice"
)

// Tables lists every swept table.
var Tables = []Table{TableSessions, TableResponses, TableAdvice}

func (t Table) valid() bool {
	for _, known := range Tables {
		if t == known {
			return true
		}
	}
	return false
}

func (s *Store) DeleteCreatedBefore(ctx context.Context, table Table, cutoff time.Time) (int64, apperrors.Error) {
	if !table.valid() {
		return 0, dberror.ErrInvalidInput.Msg("unknown table " + string(table))
	}
	// table is one of the constants above
	query := `DELETE FROM ` + string(table) + ` WHERE created_at < $1`
	result, err := s.conn().ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("table", string(table)).Msg("failed to delete expired rows")
		return 0, dberror.ErrDatabase.Err(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, dberror.ErrDatabase.Err(err)
	}
	return n, nil
}
