package sessions

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/bondly/bondly/internal/bondlysrv/analysis"
	"github.com/bondly/bondly/internal/bondlysrv/auth"
	"github.com/bondly/bondly/internal/bondlysrv/db"
	"github.com/bondly/bondly/internal/bondlysrv/db/dberror"
	"github.com/bondly/bondly/internal/bondlysrv/db/models"
	"github.com/bondly/bondly/internal/common/apperrors"
	"github.com/bondly/bondly/internal/common/httpx"
	"github.com/bondly/bondly/internal/common/uuid"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

func storeFrom(ctx context.Context) (db.Database, apperrors.Error) {
	store := db.DB(ctx)
	if store == nil {
		return nil, ErrSessions.Msg("no database connection")
	}
	return store, nil
}

// participant returns the caller's participant id, minting a new identity for
// anonymous callers, and binds it to the connection's row level security scope.
func participant(ctx context.Context, store db.Database) (string, apperrors.Error) {
	if id := auth.ParticipantFromContext(ctx); id != "" {
		return id, nil
	}
	id := auth.NewParticipantID()
	if err := store.AddScope(ctx, db.Scope_UserID, id); err != nil {
		return "", ErrSessions.Err(err)
	}
	return id, nil
}

func privileged(ctx context.Context) (func(), apperrors.Error) {
	restore, err := db.Privileged(ctx)
	if err != nil {
		return nil, ErrSessions.Err(err)
	}
	return restore, nil
}

func (h *Handlers) notify(ctx context.Context, sessionID uuid.UUID, status models.SessionStatus) {
	if h.notifier != nil {
		h.notifier.NotifySession(ctx, sessionID, status)
	}
}

func (h *Handlers) shareURL(token uuid.UUID) string {
	if h.opts.PublicURL == "" {
		return ""
	}
	return strings.TrimSuffix(h.opts.PublicURL, "/") + "/partner/" + token.String()
}

func partnerName(session *models.Session) string {
	if session.PartnerName != nil {
		return *session.PartnerName
	}
	return ""
}

func (h *Handlers) createSession(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	var req CreateSessionReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	req.normalize()
	if err := validate(req); err != nil {
		return nil, err
	}
	store, err := storeFrom(ctx)
	if err != nil {
		return nil, err
	}
	participantID, err := participant(ctx, store)
	if err != nil {
		return nil, err
	}

	session := &models.Session{
		ID:          uuid.New(),
		CreatorID:   participantID,
		CreatorName: req.CreatorName,
		PartnerName: &req.PartnerName,
		ShareToken:  uuid.New(),
	}
	response := &models.Response{
		UserID:               participantID,
		SituationDescription: req.Situation,
		Feelings:             req.Feelings,
		EmotionalState:       models.StringList(req.Emotions),
	}
	if err := store.CreateSession(ctx, session, response); err != nil {
		return nil, err
	}

	token, expiry, err := h.issuer.Mint(participantID)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str("session_id", session.ID.String()).Msg("session created")

	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Location:   "/api/sessions/" + session.ID.String() + "/status",
		Response: &CreateSessionRsp{
			SessionID:        session.ID.String(),
			ShareToken:       session.ShareToken.String(),
			ShareURL:         h.shareURL(session.ShareToken),
			ParticipantToken: token,
			TokenExpiresAt:   expiry,
			Status:           session.Status,
		},
	}, nil
}

// sessionByShareToken resolves a share link. Malformed and unknown tokens look the same.
func sessionByShareToken(ctx context.Context, store db.Database, raw string) (*models.Session, apperrors.Error) {
	token, perr := uuid.Parse(raw)
	if perr != nil {
		return nil, ErrInvalidShareLink
	}
	session, err := store.GetSessionByShareToken(ctx, token)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrInvalidShareLink
		}
		return nil, err
	}
	return session, nil
}

func (h *Handlers) getPartnerInvite(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	store, err := storeFrom(ctx)
	if err != nil {
		return nil, err
	}
	restore, err := privileged(ctx)
	if err != nil {
		return nil, err
	}
	defer restore()

	session, err := sessionByShareToken(ctx, store, chi.URLParam(r, "shareToken"))
	if err != nil {
		return nil, err
	}
	if session.Status == models.StatusAnalyzed {
		return nil, analysis.ErrAlreadyAnalyzed
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response: &PartnerInviteRsp{
			SessionID:   session.ID.String(),
			CreatorName: session.CreatorName,
			PartnerName: partnerName(session),
			Status:      session.Status,
		},
	}, nil
}

func (h *Handlers) submitPartnerResponse(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	var req PartnerResponseReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	req.normalize()
	if err := validate(req); err != nil {
		return nil, err
	}
	store, err := storeFrom(ctx)
	if err != nil {
		return nil, err
	}
	participantID, err := participant(ctx, store)
	if err != nil {
		return nil, err
	}
	restore, err := privileged(ctx)
	if err != nil {
		return nil, err
	}
	defer restore()

	session, err := sessionByShareToken(ctx, store, chi.URLParam(r, "shareToken"))
	if err != nil {
		return nil, err
	}
	if session.Status == models.StatusAnalyzed {
		return nil, analysis.ErrAlreadyAnalyzed
	}
	ctx = log.Ctx(ctx).With().Str("session_id", session.ID.String()).Logger().WithContext(ctx)

	if err := store.CreateResponse(ctx, &models.Response{
		SessionID:            session.ID,
		UserID:               participantID,
		IsCreator:            false,
		SituationDescription: req.Situation,
		Feelings:             req.Feelings,
		EmotionalState:       models.StringList(req.Emotions),
	}); err != nil {
		return nil, err
	}
	if req.PartnerName != "" && req.PartnerName != partnerName(session) {
		if err := store.SetPartnerName(ctx, session.ID, req.PartnerName); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("failed to update partner name")
		}
	}
	advanced, err := store.AdvanceSessionStatus(ctx, session.ID, models.StatusCompleted)
	if err != nil {
		return nil, err
	}
	if advanced {
		h.notify(ctx, session.ID, models.StatusCompleted)
	}

	token, expiry, err := h.issuer.Mint(participantID)
	if err != nil {
		return nil, err
	}
	rsp := &PartnerResponseRsp{
		SessionID:        session.ID.String(),
		ParticipantToken: token,
		TokenExpiresAt:   expiry,
		Status:           models.StatusCompleted,
	}
	if h.opts.AnalyzeOnPartnerSubmit && h.analyzer != nil {
		res, err := h.analyzer.Analyze(ctx, session.ID.String())
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("analysis after partner response failed")
			rsp.Code = err.Code()
		} else {
			rsp.Status = models.StatusAnalyzed
			rsp.AdviceID = res.PartnerAdviceID.String()
		}
	}
	log.Ctx(ctx).Info().Msg("partner response recorded")

	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Response:   rsp,
	}, nil
}

// getSessionStatus reports the session status. When advice exists for both roles
// the session counts as analyzed and a lagging stored status is repaired.
func (h *Handlers) getSessionStatus(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	sessionID, perr := uuid.Parse(chi.URLParam(r, "sessionID"))
	if perr != nil {
		return nil, ErrInvalidInput.Msg("invalid session id")
	}
	store, err := storeFrom(ctx)
	if err != nil {
		return nil, err
	}
	restore, err := privileged(ctx)
	if err != nil {
		return nil, err
	}
	defer restore()

	session, err := store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	creatorAdvice, err := store.GetLatestAdviceID(ctx, sessionID, true)
	if err != nil {
		return nil, err
	}
	partnerAdvice, err := store.GetLatestAdviceID(ctx, sessionID, false)
	if err != nil {
		return nil, err
	}

	status := session.Status
	if creatorAdvice != uuid.Nil && partnerAdvice != uuid.Nil && status != models.StatusAnalyzed {
		status = models.StatusAnalyzed
		advanced, err := store.AdvanceSessionStatus(ctx, sessionID, models.StatusAnalyzed)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("session_id", sessionID.String()).Msg("failed to repair session status")
		} else if advanced {
			log.Ctx(ctx).Info().Str("session_id", sessionID.String()).Msg("repaired lagging session status")
			h.notify(ctx, sessionID, models.StatusAnalyzed)
		}
	}

	role, err := roleOf(ctx, store, session, auth.ParticipantFromContext(ctx))
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response: &SessionStatusRsp{
			SessionID: sessionID.String(),
			Status:    status,
			State:     StateFor(status),
			AdviceReady: AdviceReady{
				Creator: creatorAdvice != uuid.Nil,
				Partner: partnerAdvice != uuid.Nil,
			},
			Role: role,
		},
	}, nil
}

// roleOf returns the role participantID holds in session, or "" when unknown.
func roleOf(ctx context.Context, store db.Database, session *models.Session, participantID string) (string, apperrors.Error) {
	if participantID == "" {
		return "", nil
	}
	if participantID == session.CreatorID {
		return RoleCreator, nil
	}
	responses, err := store.ListResponses(ctx, session.ID)
	if err != nil {
		return "", err
	}
	for _, resp := range responses {
		if !resp.IsCreator && resp.UserID == participantID {
			return RolePartner, nil
		}
	}
	return "", nil
}

// getAdviceID resolves the advice for one role. A missing row is not an error.
func (h *Handlers) getAdviceID(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	q := r.URL.Query()
	sessionID, perr := uuid.Parse(q.Get("sessionId"))
	if perr != nil {
		return nil, ErrInvalidInput.Msg("sessionId must be a valid id")
	}
	isCreator, perr := strconv.ParseBool(q.Get("isCreator"))
	if perr != nil {
		return nil, ErrInvalidInput.Msg("isCreator must be true or false")
	}
	store, err := storeFrom(ctx)
	if err != nil {
		return nil, err
	}
	restore, err := privileged(ctx)
	if err != nil {
		return nil, err
	}
	defer restore()

	adviceID, err := store.GetLatestAdviceID(ctx, sessionID, isCreator)
	if err != nil {
		return nil, err
	}
	rsp := &AdviceIDRsp{}
	if adviceID != uuid.Nil {
		id := adviceID.String()
		rsp.AdviceID = &id
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   rsp,
	}, nil
}

// getAdvice serves advice to whoever holds its id. Malformed, unknown and
// orphaned ids all produce the same not found response.
func (h *Handlers) getAdvice(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	adviceID, perr := uuid.Parse(chi.URLParam(r, "adviceID"))
	if perr != nil {
		return nil, ErrAdviceNotFound
	}
	store, err := storeFrom(ctx)
	if err != nil {
		return nil, err
	}
	restore, err := privileged(ctx)
	if err != nil {
		return nil, err
	}
	defer restore()

	advice, err := store.GetAdvice(ctx, adviceID)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrAdviceNotFound
		}
		return nil, err
	}
	session, err := store.GetSession(ctx, advice.SessionID)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrAdviceNotFound
		}
		return nil, err
	}

	recipient, other := session.CreatorName, partnerName(session)
	if !advice.IsCreator {
		recipient, other = other, recipient
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response: &AdviceRsp{
			ID:                   advice.ID.String(),
			SessionID:            advice.SessionID.String(),
			IsCreator:            advice.IsCreator,
			RecipientName:        recipient,
			PartnerName:          other,
			Advice:               advice.AdviceText,
			ActionSteps:          advice.ActionSteps,
			ConversationStarters: advice.ConversationStarters,
			CreatedAt:            advice.CreatedAt,
			ExpiresAt:            advice.CreatedAt.Add(h.opts.RetentionMaxAge),
		},
	}, nil
}

func (h *Handlers) listMySessions(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	participantID := auth.ParticipantFromContext(ctx)
	if participantID == "" {
		return nil, ErrNoParticipant
	}
	store, err := storeFrom(ctx)
	if err != nil {
		return nil, err
	}
	sessions, err := store.ListSessionsForParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	rsp := &SessionListRsp{Sessions: make([]SessionSummary, 0, len(sessions))}
	for _, s := range sessions {
		summary := SessionSummary{
			SessionID:   s.ID.String(),
			CreatorName: s.CreatorName,
			PartnerName: partnerName(s),
			Status:      s.Status,
			Role:        RolePartner,
			CreatedAt:   s.CreatedAt,
			ExpiresAt:   s.CreatedAt.Add(h.opts.RetentionMaxAge),
		}
		if s.CreatorID == participantID {
			summary.Role = RoleCreator
			summary.ShareToken = s.ShareToken.String()
		}
		rsp.Sessions = append(rsp.Sessions, summary)
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   rsp,
	}, nil
}
