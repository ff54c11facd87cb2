package sqlstore

import (
	"context"
	"database/sql"

	"github.com/bondly/bondly/internal/bondlysrv/db/dberror"
	"github.com/bondly/bondly/internal/bondlysrv/db/models"
	"github.com/bondly/bondly/internal/common/apperrors"
	"github.com/bondly/bondly/internal/common/uuid"
	"github.com/rs/zerolog/log"
)

// execer is satisfied by *sql.Conn and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const insertResponseQuery = `
	INSERT INTO responses (
		id, session_id, user_id, is_creator,
		situation_description, feelings, emotional_state, created_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

func (s *Store) CreateResponse(ctx context.Context, response *models.Response) apperrors.Error {
	if response == nil || response.SessionID == uuid.Nil {
		return dberror.ErrInvalidInput.Msg("response requires a session")
	}
	response.CreatedAt = now()
	if err := insertResponse(ctx, s.conn(), response); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to insert response")
		return dberror.FromError(err)
	}
	return nil
}

func (s *Store) ListResponses(ctx context.Context, sessionID uuid.UUID) ([]*models.Response, apperrors.Error) {
	query := `
		SELECT id, session_id, user_id, is_creator,
		       situation_description, feelings, emotional_state, created_at
		FROM responses
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.conn().QueryContext(ctx, query, sessionID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list responses")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	responses := []*models.Response{}
	for rows.Next() {
		var r models.Response
		if err := rows.Scan(
			&r.ID,
			&r.SessionID,
			&r.UserID,
			&r.IsCreator,
			&r.SituationDescription,
			&r.Feelings,
			&r.EmotionalState,
			&r.CreatedAt,
		); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		responses = append(responses, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return responses, nil
}

func insertResponse(ctx context.Context, e execer, r *models.Response) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.EmotionalState == nil {
		r.EmotionalState = models.StringList{}
	}
	_, err := e.ExecContext(ctx, insertResponseQuery,
		r.ID,
		r.SessionID,
		r.UserID,
		r.IsCreator,
		r.SituationDescription,
		r.Feelings,
		r.EmotionalState,
		r.CreatedAt,
	)
	return err
}
