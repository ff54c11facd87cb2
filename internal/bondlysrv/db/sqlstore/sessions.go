package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"strconv"

	"github.com/bondly/bondly/internal/bondlysrv/db/dberror"
	"github.com/bondly/bondly/internal/bondlysrv/db/models"
	"github.com/bondly/bondly/internal/common/apperrors"
	"github.com/bondly/bondly/internal/common/uuid"
	"github.com/rs/zerolog/log"
)

const sessionColumns = `id, creator_id, creator_name, partner_name, status, share_token, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	var (
		session     models.Session
		partnerName sql.NullString
		status      string
	)
	err := row.Scan(
		&session.ID,
		&session.CreatorID,
		&session.CreatorName,
		&partnerName,
		&status,
		&session.ShareToken,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if partnerName.Valid {
		session.PartnerName = &partnerName.String
	}
	session.Status = models.SessionStatus(status)
	session.CreatedAt = session.CreatedAt.UTC()
	session.UpdatedAt = session.UpdatedAt.UTC()
	return &session, nil
}

// CreateSession writes the session first and the creator's response second, in one transaction.
func (s *Store) CreateSession(ctx context.Context, session *models.Session, creatorResponse *models.Response) (err apperrors.Error) {
	if session == nil || creatorResponse == nil || session.ID == uuid.Nil {
		return dberror.ErrInvalidInput.Msg("session and creator response are required")
	}
	ts := now()
	session.CreatedAt, session.UpdatedAt = ts, ts
	if session.Status == "" {
		session.Status = models.StatusWaitingForPartner
	}

	tx, errStd := s.conn().BeginTx(ctx, nil)
	if errStd != nil {
		log.Ctx(ctx).Error().Err(errStd).Msg("failed to begin transaction")
		return dberror.ErrDatabase.Err(errStd)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				log.Ctx(ctx).Error().Err(rollbackErr).Msg("failed to rollback transaction")
			}
		}
	}()

	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, errStd = tx.ExecContext(ctx, query,
		session.ID,
		session.CreatorID,
		session.CreatorName,
		session.PartnerName,
		string(session.Status),
		session.ShareToken,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if errStd != nil {
		log.Ctx(ctx).Error().Err(errStd).Msg("failed to insert session")
		return dberror.FromError(errStd)
	}

	creatorResponse.SessionID = session.ID
	creatorResponse.IsCreator = true
	creatorResponse.CreatedAt = ts
	if errStd = insertResponse(ctx, tx, creatorResponse); errStd != nil {
		log.Ctx(ctx).Error().Err(errStd).Msg("failed to insert creator response")
		return dberror.FromError(errStd)
	}

	if errStd := tx.Commit(); errStd != nil {
		log.Ctx(ctx).Error().Err(errStd).Msg("failed to commit transaction")
		return dberror.ErrDatabase.Err(errStd)
	}
	return nil
}

// GetSession fails with dberror.ErrNotFound when no row matches.
func (s *Store) GetSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, apperrors.Error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	session, err := scanSession(s.conn().QueryRowContext(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("session not found")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to get session")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return session, nil
}

func (s *Store) GetSessionByShareToken(ctx context.Context, shareToken uuid.UUID) (*models.Session, apperrors.Error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE share_token = $1`
	session, err := scanSession(s.conn().QueryRowContext(ctx, query, shareToken))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("session not found")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to get session by share token")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return session, nil
}

func (s *Store) AdvanceSessionStatus(ctx context.Context, sessionID uuid.UUID, status models.SessionStatus) (bool, apperrors.Error) {
	before := status.Before()
	if !status.Valid() || len(before) == 0 {
		return false, dberror.ErrInvalidInput.Msg("invalid target status " + string(status))
	}

	args := []any{sessionID, string(status), now()}
	placeholders := make([]string, 0, len(before))
	for _, st := range before {
		args = append(args, string(st))
		placeholders = append(placeholders, "$"+strconv.Itoa(len(args)))
	}
	query := `
		UPDATE sessions
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status IN (` + strings.Join(placeholders, ", ") + `)
	`
	result, err := s.conn().ExecContext(ctx, query, args...)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to update session status")
		return false, dberror.ErrDatabase.Err(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, dberror.ErrDatabase.Err(err)
	}
	return n > 0, nil
}

func (s *Store) SetPartnerName(ctx context.Context, sessionID uuid.UUID, name string) apperrors.Error {
	query := `UPDATE sessions SET partner_name = $2, updated_at = $3 WHERE id = $1`
	result, err := s.conn().ExecContext(ctx, query, sessionID, name, now())
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to set partner name")
		return dberror.ErrDatabase.Err(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return dberror.ErrNotFound.Msg("session not found")
	}
	return nil
}

// ListSessionsForParticipant returns sessions the user created or responded to, newest first.
func (s *Store) ListSessionsForParticipant(ctx context.Context, userID string) ([]*models.Session, apperrors.Error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions s
		WHERE s.creator_id = $1
		   OR EXISTS (SELECT 1 FROM responses r WHERE r.session_id = s.id AND r.user_id = $1)
		ORDER BY s.created_at DESC
	`
	rows, err := s.conn().QueryContext(ctx, query, userID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list sessions")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	sessions := []*models.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return sessions, nil
}
