package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/bondly/bondly/internal/bondlysrv/db/dberror"
	"github.com/bondly/bondly/internal/bondlysrv/db/models"
	"github.com/bondly/bondly/internal/common/apperrors"
	"github.com/bondly/bondly/internal/common/uuid"
	"github.com/rs/zerolog/log"
)

const adviceColumnCount = 8

// CreateAdvice writes all rows in one multi-row INSERT so they land together or not at all.
func (s *Store) CreateAdvice(ctx context.Context, advice []*models.Advice) apperrors.Error {
	if len(advice) == 0 {
		return dberror.ErrInvalidInput.Msg("no advice to insert")
	}
	ts := now()
	values := make([]string, 0, len(advice))
	args := make([]any, 0, len(advice)*adviceColumnCount)
	for i, a := range advice {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		if a.ActionSteps == nil {
			a.ActionSteps = models.StringList{}
		}
		if a.ConversationStarters == nil {
			a.ConversationStarters = models.StringList{}
		}
		a.CreatedAt = ts
		base := i * adviceColumnCount
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))
		args = append(args,
			a.ID,
			a.SessionID,
			a.UserID,
			a.IsCreator,
			a.AdviceText,
			a.ConversationStarters,
			a.ActionSteps,
			a.CreatedAt,
		)
	}
	query := `
		INSERT INTO advice (
			id, session_id, user_id, is_creator,
			advice_text, conversation_starters, action_steps, created_at
		)
		VALUES ` + strings.Join(values, ", ")

	if _, err := s.conn().ExecContext(ctx, query, args...); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to insert advice")
		return dberror.FromError(err)
	}
	return nil
}

// GetAdvice returns dberror.ErrNotFound for unknown ids.
func (s *Store) GetAdvice(ctx context.Context, adviceID uuid.UUID) (*models.Advice, apperrors.Error) {
	query := `
		SELECT id, session_id, user_id, is_creator,
		       advice_text, conversation_starters, action_steps, created_at
		FROM advice
		WHERE id = $1
	`
	var a models.Advice
	err := s.conn().QueryRowContext(ctx, query, adviceID).Scan(
		&a.ID,
		&a.SessionID,
		&a.UserID,
		&a.IsCreator,
		&a.AdviceText,
		&a.ConversationStarters,
		&a.ActionSteps,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("advice not found")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to get advice")
		return nil, dberror.ErrDatabase.Err(err)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

// GetLatestAdviceID resolves the advice for a role. Duplicate rows from racing
// analyses resolve to the most recent one.
func (s *Store) GetLatestAdviceID(ctx context.Context, sessionID uuid.UUID, isCreator bool) (uuid.UUID, apperrors.Error) {
	query := `
		SELECT id
		FROM advice
		WHERE session_id = $1 AND is_creator = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	var id uuid.UUID
	err := s.conn().QueryRowContext(ctx, query, sessionID, isCreator).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, nil
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to look up advice id")
		return uuid.Nil, dberror.ErrDatabase.Err(err)
	}
	return id, nil
}
