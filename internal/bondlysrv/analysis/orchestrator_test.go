package analysis

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bondly/bondly/internal/bondlysrv/advisor"
	"github.com/bondly/bondly/internal/bondlysrv/db"
	"github.com/bondly/bondly/internal/bondlysrv/db/dbmanager"
	"github.com/bondly/bondly/internal/bondlysrv/db/dbtest"
	"github.com/bondly/bondly/internal/bondlysrv/db/models"
	"github.com/bondly/bondly/internal/common/apperrors"
	"github.com/bondly/bondly/internal/common/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	mu       sync.Mutex
	requests []advisor.Request
	fail     map[string]error
	wait     *sync.WaitGroup
}

func (f *fakeGenerator) Generate(ctx context.Context, req advisor.Request) (*advisor.Advice, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	err := f.fail[req.Recipient.Name]
	f.mu.Unlock()

	if f.wait != nil {
		f.wait.Done()
		done := make(chan struct{})
		go func() {
			f.wait.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			return nil, errors.New("generations did not overlap")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &advisor.Advice{
		Advice:               "advice for " + req.Recipient.Name,
		ActionSteps:          []string{"listen to " + req.Counterpart.Name},
		ConversationStarters: []string{"how are you, " + req.Counterpart.Name + "?"},
	}, nil
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeGenerator) requestFor(name string) (advisor.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.Recipient.Name == name {
			return r, true
		}
	}
	return advisor.Request{}, false
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.SessionStatus
}

func (n *recordingNotifier) NotifySession(_ context.Context, _ uuid.UUID, status models.SessionStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, status)
}

type fixture struct {
	pool     dbmanager.ScopedDb
	ctx      context.Context
	store    db.Database
	gen      *fakeGenerator
	notifier *recordingNotifier
	orch     *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pool := dbtest.NewPool(t)
	ctx := dbtest.Ctx(t, pool)
	f := &fixture{
		pool:     pool,
		ctx:      ctx,
		store:    db.DB(ctx),
		gen:      &fakeGenerator{},
		notifier: &recordingNotifier{},
	}
	f.orch = New(f.gen, Options{
		PollAttempts: 3,
		PollDelay:    time.Millisecond,
		Notifier:     f.notifier,
	})
	return f
}

// seed creates a session with the creator's response and optionally the partner's.
func (f *fixture) seed(t *testing.T, withPartner bool) *models.Session {
	t.Helper()
	partnerName := "Sam"
	session := &models.Session{
		ID:          uuid.New(),
		CreatorID:   "creator-" + uuid.New().String(),
		CreatorName: "Alex",
		PartnerName: &partnerName,
		ShareToken:  uuid.New(),
	}
	require.NoError(t, f.store.CreateSession(f.ctx, session, &models.Response{
		UserID:               session.CreatorID,
		SituationDescription: "We argued about chores.",
		Feelings:             "Unappreciated.",
		EmotionalState:       models.StringList{"Frustrated"},
	}))
	if withPartner {
		f.addResponse(t, session.ID, false, "I was exhausted after work.")
		_, err := f.store.AdvanceSessionStatus(f.ctx, session.ID, models.StatusCompleted)
		require.NoError(t, err)
	}
	return session
}

func (f *fixture) addResponse(t *testing.T, sessionID uuid.UUID, isCreator bool, situation string) {
	t.Helper()
	require.NoError(t, f.store.CreateResponse(f.ctx, &models.Response{
		SessionID:            sessionID,
		UserID:               "partner-" + uuid.New().String(),
		IsCreator:            isCreator,
		SituationDescription: situation,
		Feelings:             "Tired.",
		EmotionalState:       models.StringList{"Sad"},
	}))
}

func TestAnalyze(t *testing.T) {
	f := newFixture(t)
	session := f.seed(t, true)

	res, err := f.orch.Analyze(f.ctx, session.ID.String())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, session.ID, res.SessionID)
	assert.NotEqual(t, res.CreatorAdviceID, res.PartnerAdviceID)
	assert.Equal(t, 2, f.gen.calls())

	creatorReq, ok := f.gen.requestFor("Alex")
	require.True(t, ok)
	assert.Equal(t, "Sam", creatorReq.Counterpart.Name)
	assert.Equal(t, "I was exhausted after work.", creatorReq.Counterpart.Situation)
	partnerReq, ok := f.gen.requestFor("Sam")
	require.True(t, ok)
	assert.Equal(t, "Alex", partnerReq.Counterpart.Name)
	assert.Equal(t, []string{"Frustrated"}, partnerReq.Counterpart.Emotions)

	creatorAdvice, err := f.store.GetAdvice(f.ctx, res.CreatorAdviceID)
	require.NoError(t, err)
	assert.True(t, creatorAdvice.IsCreator)
	assert.Equal(t, session.CreatorID, creatorAdvice.UserID)
	assert.Equal(t, "advice for Alex", creatorAdvice.AdviceText)
	assert.Equal(t, models.StringList{"listen to Sam"}, creatorAdvice.ActionSteps)

	partnerAdvice, err := f.store.GetAdvice(f.ctx, res.PartnerAdviceID)
	require.NoError(t, err)
	assert.False(t, partnerAdvice.IsCreator)
	assert.Equal(t, "advice for Sam", partnerAdvice.AdviceText)

	got, err := f.store.GetSession(f.ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAnalyzed, got.Status)
	assert.Equal(t, []models.SessionStatus{models.StatusAnalyzed}, f.notifier.events)
}

func TestAnalyze_RejectsMalformedID(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"", "not-a-uuid", "1234", "6ba7b810-9dad-11d1-80b4-00c04fd430c8x"} {
		_, err := f.orch.Analyze(f.ctx, id)
		require.Error(t, err, id)
		assert.ErrorIs(t, err, ErrInvalidSessionID)
		assert.Equal(t, http.StatusBadRequest, err.StatusCode())
	}
	assert.Equal(t, 0, f.gen.calls())
}

func TestAnalyze_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Analyze(f.ctx, uuid.New().String())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, http.StatusNotFound, err.StatusCode())
}

func TestAnalyze_AlreadyAnalyzed(t *testing.T) {
	f := newFixture(t)
	session := f.seed(t, true)

	_, err := f.orch.Analyze(f.ctx, session.ID.String())
	require.NoError(t, err)

	_, err = f.orch.Analyze(f.ctx, session.ID.String())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyAnalyzed)
	assert.Equal(t, "ALREADY_ANALYZED", err.Code())
	assert.Equal(t, 2, f.gen.calls())
}

func TestAnalyze_InsufficientResponses(t *testing.T) {
	f := newFixture(t)
	session := f.seed(t, false)

	_, err := f.orch.Analyze(f.ctx, session.ID.String())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientResponses)
	assert.Equal(t, "INSUFFICIENT_RESPONSES", err.Code())
	assert.Equal(t, 0, f.gen.calls())
}

func TestAnalyze_WaitsForLaggingResponse(t *testing.T) {
	f := newFixture(t)
	f.orch = New(f.gen, Options{PollAttempts: 100, PollDelay: 10 * time.Millisecond})
	session := f.seed(t, false)

	writerCtx := dbtest.Ctx(t, f.pool)
	done := make(chan error, 1)
	go func() {
		time.Sleep(30 * time.Millisecond)
		done <- db.DB(writerCtx).CreateResponse(writerCtx, &models.Response{
			SessionID:            session.ID,
			UserID:               "late-partner",
			SituationDescription: "Late but here.",
			Feelings:             "Calm.",
			EmotionalState:       models.StringList{"Hopeful"},
		})
	}()

	res, err := f.orch.Analyze(f.ctx, session.ID.String())
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.NotEqual(t, uuid.Nil, res.PartnerAdviceID)
}

func TestAnalyze_MissingRole(t *testing.T) {
	f := newFixture(t)
	session := f.seed(t, false)
	f.addResponse(t, session.ID, true, "A second creator submission.")

	_, err := f.orch.Analyze(f.ctx, session.ID.String())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRole)
	assert.Equal(t, 0, f.gen.calls())
}

func TestAnalyze_UsesLatestResponsePerRole(t *testing.T) {
	f := newFixture(t)
	session := f.seed(t, true)
	time.Sleep(2 * time.Millisecond)
	f.addResponse(t, session.ID, false, "Second thoughts.")

	_, err := f.orch.Analyze(f.ctx, session.ID.String())
	require.NoError(t, err)
	req, ok := f.gen.requestFor("Alex")
	require.True(t, ok)
	assert.Equal(t, "Second thoughts.", req.Counterpart.Situation)
}

func TestAnalyze_QuotaExceeded(t *testing.T) {
	f := newFixture(t)
	f.gen.fail = map[string]error{"Sam": advisor.ErrQuotaExceeded.Msg("rate limited")}
	session := f.seed(t, true)

	_, err := f.orch.Analyze(f.ctx, session.ID.String())
	require.Error(t, err)
	assert.ErrorIs(t, err, advisor.ErrQuotaExceeded)
	status, code := apperrors.StatusOf(err)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "QUOTA_EXCEEDED", code)

	assertNothingPersisted(t, f, session.ID)
}

func TestAnalyze_GenerationFailed(t *testing.T) {
	f := newFixture(t)
	f.gen.fail = map[string]error{"Alex": errors.New("upstream exploded")}
	session := f.seed(t, true)

	_, err := f.orch.Analyze(f.ctx, session.ID.String())
	require.Error(t, err)
	assert.ErrorIs(t, err, advisor.ErrGenerationFailed)
	assert.Equal(t, http.StatusInternalServerError, err.StatusCode())

	assertNothingPersisted(t, f, session.ID)
}

func TestAnalyze_GeneratesInParallel(t *testing.T) {
	f := newFixture(t)
	f.gen.wait = &sync.WaitGroup{}
	f.gen.wait.Add(2)
	session := f.seed(t, true)

	_, err := f.orch.Analyze(f.ctx, session.ID.String())
	require.NoError(t, err)
}

func TestAnalyze_ConcurrentCallsProduceResolvableAdvice(t *testing.T) {
	f := newFixture(t)
	session := f.seed(t, true)

	var succeeded atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		ctx := dbtest.Ctx(t, f.pool)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.orch.Analyze(ctx, session.ID.String()); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()
	require.GreaterOrEqual(t, succeeded.Load(), int32(1))

	for _, isCreator := range []bool{true, false} {
		id, err := f.store.GetLatestAdviceID(f.ctx, session.ID, isCreator)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, id)
	}
}

func assertNothingPersisted(t *testing.T, f *fixture, sessionID uuid.UUID) {
	t.Helper()
	for _, isCreator := range []bool{true, false} {
		id, err := f.store.GetLatestAdviceID(f.ctx, sessionID, isCreator)
		require.NoError(t, err)
		assert.Equal(t, uuid.Nil, id)
	}
	got, err := f.store.GetSession(f.ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestLatestByRole(t *testing.T) {
	t0 := time.Now()
	older := &models.Response{IsCreator: false, CreatedAt: t0}
	newer := &models.Response{IsCreator: false, CreatedAt: t0.Add(time.Second)}
	creator := &models.Response{IsCreator: true, CreatedAt: t0}

	c, p := LatestByRole([]*models.Response{newer, creator, older, nil})
	assert.Same(t, creator, c)
	assert.Same(t, newer, p)

	c, p = LatestByRole([]*models.Response{creator})
	assert.Same(t, creator, c)
	assert.Nil(t, p)

	c, p = LatestByRole(nil)
	assert.Nil(t, c)
	assert.Nil(t, p)
}
