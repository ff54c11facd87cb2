// Package analysis turns a completed session into one piece of advice per
// participant.
package analysis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/bondly/bondly/internal/bondlysrv/advisor"
	"github.com/bondly/bondly/internal/bondlysrv/db"
	"github.com/bondly/bondly/internal/bondlysrv/db/dberror"
	"github.com/bondly/bondly/internal/bondlysrv/db/models"
	"github.com/bondly/bondly/internal/bondlysrv/metrics"
	"github.com/bondly/bondly/internal/common/apperrors"
	"github.com/bondly/bondly/internal/common/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultPartnerName addresses a partner who never gave a name.
const DefaultPartnerName = "Your partner"

// Notifier is told about session status changes.
type Notifier interface {
	NotifySession(ctx context.Context, sessionID uuid.UUID, status models.SessionStatus)
}

// Options tunes an Orchestrator. PollAttempts and PollDelay bound how long
// Analyze waits for the partner's response to become visible.
type Options struct {
	PollAttempts int
	PollDelay    time.Duration
	Notifier     Notifier
	Metrics      *metrics.Metrics
}

// Orchestrator turns a session with both responses into stored advice.
type Orchestrator struct {
	generator advisor.Generator
	opts      Options
}

// Result carries the ids of the stored advice.
type Result struct {
	SessionID       uuid.UUID
	CreatorAdviceID uuid.UUID
	PartnerAdviceID uuid.UUID
}

// New returns an Orchestrator. At least one poll attempt is always made.
func New(generator advisor.Generator, opts Options) *Orchestrator {
	if opts.PollAttempts < 1 {
		opts.PollAttempts = 1
	}
	return &Orchestrator{
		generator: generator,
		opts:      opts,
	}
}

// Analyze generates and stores advice for both participants of a completed
// session. It needs a db connection in ctx and runs with privileged scope.
func (o *Orchestrator) Analyze(ctx context.Context, sessionID string) (*Result, apperrors.Error) {
	start := time.Now()
	res, err := o.analyze(ctx, sessionID)
	result := "ok"
	if err != nil {
		result = strings.ToLower(err.Code())
	}
	o.opts.Metrics.Analysis(result, time.Since(start))
	return res, err
}

func (o *Orchestrator) analyze(ctx context.Context, rawID string) (*Result, apperrors.Error) {
	sessionID, perr := uuid.Parse(strings.TrimSpace(rawID))
	if perr != nil {
		return nil, ErrInvalidSessionID
	}
	ctx = log.Ctx(ctx).With().Str("session_id", sessionID.String()).Logger().WithContext(ctx)

	store := db.DB(ctx)
	if store == nil {
		return nil, ErrAnalysis.Msg("no database connection")
	}
	restore, err := db.Privileged(ctx)
	if err != nil {
		return nil, ErrAnalysis.Err(err)
	}
	defer restore()

	session, aerr := store.GetSession(ctx, sessionID)
	if aerr != nil {
		if errors.Is(aerr, dberror.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, aerr
	}
	if session.Status == models.StatusAnalyzed {
		return nil, ErrAlreadyAnalyzed
	}

	responses, aerr := o.awaitResponses(ctx, store, sessionID)
	if aerr != nil {
		return nil, aerr
	}
	creator, partner := LatestByRole(responses)
	if creator == nil || partner == nil {
		return nil, ErrMissingRole
	}

	creatorAdvice, partnerAdvice, aerr := o.generatePair(ctx, session, creator, partner)
	if aerr != nil {
		return nil, aerr
	}

	rows := []*models.Advice{
		newAdviceRow(sessionID, creator, creatorAdvice),
		newAdviceRow(sessionID, partner, partnerAdvice),
	}
	if aerr := store.CreateAdvice(ctx, rows); aerr != nil {
		log.Ctx(ctx).Error().Err(aerr).Msg("failed to store advice")
		return nil, ErrPersistence.Err(aerr)
	}

	advanced, aerr := store.AdvanceSessionStatus(ctx, sessionID, models.StatusAnalyzed)
	if aerr != nil {
		// advice exists, the status read path reconciles
		log.Ctx(ctx).Error().Err(aerr).Msg("failed to mark session analyzed")
	} else if advanced && o.opts.Notifier != nil {
		o.opts.Notifier.NotifySession(ctx, sessionID, models.StatusAnalyzed)
	}

	log.Ctx(ctx).Info().Msg("session analyzed")
	return &Result{
		SessionID:       sessionID,
		CreatorAdviceID: rows[0].ID,
		PartnerAdviceID: rows[1].ID,
	}, nil
}

// awaitResponses lists the session's responses, polling until two are visible.
func (o *Orchestrator) awaitResponses(ctx context.Context, store db.ResponseManager, sessionID uuid.UUID) ([]*models.Response, apperrors.Error) {
	var responses []*models.Response
	err := retry.Do(
		func() error {
			rs, aerr := store.ListResponses(ctx, sessionID)
			if aerr != nil {
				return retry.Unrecoverable(aerr)
			}
			responses = rs
			if len(rs) < 2 {
				return errResponsesPending
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(o.opts.PollAttempts)),
		retry.Delay(o.opts.PollDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		return responses, nil
	}
	if errors.Is(err, errResponsesPending) {
		log.Ctx(ctx).Info().Int("visible", len(responses)).Msg("responses not yet available")
		return nil, ErrInsufficientResponses
	}
	var aerr apperrors.Error
	if errors.As(err, &aerr) {
		return nil, aerr
	}
	return nil, ErrAnalysis.Err(err)
}

// LatestByRole keeps the most recently created response per creator flag.
func LatestByRole(responses []*models.Response) (creator, partner *models.Response) {
	for _, r := range responses {
		if r == nil {
			continue
		}
		if r.IsCreator {
			if creator == nil || r.CreatedAt.After(creator.CreatedAt) {
				creator = r
			}
		} else if partner == nil || r.CreatedAt.After(partner.CreatedAt) {
			partner = r
		}
	}
	return creator, partner
}

// generatePair runs both generations concurrently; either failure fails both.
func (o *Orchestrator) generatePair(ctx context.Context, session *models.Session, creator, partner *models.Response) (*advisor.Advice, *advisor.Advice, apperrors.Error) {
	partnerName := DefaultPartnerName
	if session.PartnerName != nil && strings.TrimSpace(*session.PartnerName) != "" {
		partnerName = *session.PartnerName
	}
	creatorView := perspective(session.CreatorName, creator)
	partnerView := perspective(partnerName, partner)

	var creatorAdvice, partnerAdvice *advisor.Advice
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := o.generator.Generate(gctx, advisor.Request{Recipient: creatorView, Counterpart: partnerView})
		creatorAdvice = a
		return err
	})
	g.Go(func() error {
		a, err := o.generator.Generate(gctx, advisor.Request{Recipient: partnerView, Counterpart: creatorView})
		partnerAdvice = a
		return err
	})
	if err := g.Wait(); err != nil {
		var aerr apperrors.Error
		if errors.As(err, &aerr) {
			return nil, nil, aerr
		}
		return nil, nil, advisor.ErrGenerationFailed.Err(err)
	}
	if creatorAdvice == nil || partnerAdvice == nil {
		return nil, nil, advisor.ErrGenerationFailed.Msg("generator returned no advice")
	}
	return creatorAdvice, partnerAdvice, nil
}

func perspective(name string, r *models.Response) advisor.Perspective {
	return advisor.Perspective{
		Name:      name,
		Situation: r.SituationDescription,
		Feelings:  r.Feelings,
		Emotions:  r.EmotionalState,
	}
}

func newAdviceRow(sessionID uuid.UUID, r *models.Response, a *advisor.Advice) *models.Advice {
	return &models.Advice{
		ID:                   uuid.New(),
		SessionID:            sessionID,
		UserID:               r.UserID,
		IsCreator:            r.IsCreator,
		AdviceText:           a.Advice,
		ConversationStarters: models.StringList(a.ConversationStarters),
		ActionSteps:          models.StringList(a.ActionSteps),
	}
}
