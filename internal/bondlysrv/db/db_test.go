package db_test

import (
	"testing"
	"time"

	"github.com/bondly/bondly/internal/bondlysrv/db"
	"github.com/bondly/bondly/internal/bondlysrv/db/dberror"
	"github.com/bondly/bondly/internal/bondlysrv/db/dbtest"
	"github.com/bondly/bondly/internal/bondlysrv/db/models"
	"github.com/bondly/bondly/internal/bondlysrv/db/sqlstore"
	"github.com/bondly/bondly/internal/common/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(creatorID string) (*models.Session, *models.Response) {
	partner := "Jordan"
	s := &models.Session{
		ID:          uuid.New(),
		CreatorID:   creatorID,
		CreatorName: "Alex",
		PartnerName: &partner,
		ShareToken:  uuid.New(),
	}
	r := &models.Response{
		UserID:               creatorID,
		SituationDescription: "We argued about chores.",
		Feelings:             "Unheard.",
		EmotionalState:       models.StringList{"Sad", "Frustrated"},
	}
	return s, r
}

func TestSessionLifecycle(t *testing.T) {
	pool := dbtest.NewPool(t)
	ctx := dbtest.Ctx(t, pool)
	store := db.DB(ctx)
	require.NotNil(t, store)

	creator := uuid.New().String()
	session, resp := newSession(creator)
	require.NoError(t, store.CreateSession(ctx, session, resp))

	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitingForPartner, got.Status)
	assert.Equal(t, "Alex", got.CreatorName)
	require.NotNil(t, got.PartnerName)
	assert.Equal(t, "Jordan", *got.PartnerName)
	assert.WithinDuration(t, time.Now(), got.CreatedAt, time.Minute)

	byToken, err := store.GetSessionByShareToken(ctx, session.ShareToken)
	require.NoError(t, err)
	assert.Equal(t, session.ID, byToken.ID)

	_, err = store.GetSession(ctx, uuid.New())
	assert.ErrorIs(t, err, dberror.ErrNotFound)

	responses, err := store.ListResponses(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.True(t, responses[0].IsCreator)
	assert.Equal(t, models.StringList{"Sad", "Frustrated"}, responses[0].EmotionalState)

	partnerResp := &models.Response{
		SessionID:            session.ID,
		UserID:               uuid.New().String(),
		SituationDescription: "I was tired.",
		Feelings:             "Overwhelmed.",
		EmotionalState:       models.StringList{"Overwhelmed"},
	}
	require.NoError(t, store.CreateResponse(ctx, partnerResp))
	responses, err = store.ListResponses(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, responses, 2)
	assert.False(t, responses[1].IsCreator)

	sessions, err := store.ListSessionsForParticipant(ctx, partnerResp.UserID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, session.ID, sessions[0].ID)
}

func TestStatusIsMonotonic(t *testing.T) {
	pool := dbtest.NewPool(t)
	ctx := dbtest.Ctx(t, pool)
	store := db.DB(ctx)

	session, resp := newSession(uuid.New().String())
	require.NoError(t, store.CreateSession(ctx, session, resp))

	moved, err := store.AdvanceSessionStatus(ctx, session.ID, models.StatusAnalyzed)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = store.AdvanceSessionStatus(ctx, session.ID, models.StatusCompleted)
	require.NoError(t, err)
	assert.False(t, moved)

	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAnalyzed, got.Status)

	_, err = store.AdvanceSessionStatus(ctx, session.ID, models.StatusWaitingForPartner)
	assert.ErrorIs(t, err, dberror.ErrInvalidInput)
}

func TestAdviceLookupPrefersLatest(t *testing.T) {
	pool := dbtest.NewPool(t)
	ctx := dbtest.Ctx(t, pool)
	store := db.DB(ctx)

	sessionID := uuid.New()
	id, err := store.GetLatestAdviceID(ctx, sessionID, true)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, id)

	first := []*models.Advice{
		{SessionID: sessionID, UserID: "c", IsCreator: true, AdviceText: "a", ActionSteps: models.StringList{"1"}},
		{SessionID: sessionID, UserID: "p", IsCreator: false, AdviceText: "b", ConversationStarters: models.StringList{"2"}},
	}
	require.NoError(t, store.CreateAdvice(ctx, first))
	time.Sleep(5 * time.Millisecond)
	second := []*models.Advice{
		{SessionID: sessionID, UserID: "c", IsCreator: true, AdviceText: "newer"},
	}
	require.NoError(t, store.CreateAdvice(ctx, second))

	id, err = store.GetLatestAdviceID(ctx, sessionID, true)
	require.NoError(t, err)
	assert.Equal(t, second[0].ID, id)

	id, err = store.GetLatestAdviceID(ctx, sessionID, false)
	require.NoError(t, err)
	assert.Equal(t, first[1].ID, id)

	advice, err := store.GetAdvice(ctx, first[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "a", advice.AdviceText)
	assert.Equal(t, models.StringList{"1"}, advice.ActionSteps)
	assert.Equal(t, models.StringList{}, advice.ConversationStarters)

	_, err = store.GetAdvice(ctx, uuid.New())
	assert.ErrorIs(t, err, dberror.ErrNotFound)
}

func TestDeleteCreatedBefore(t *testing.T) {
	pool := dbtest.NewPool(t)
	ctx := dbtest.Ctx(t, pool)
	store := db.DB(ctx)

	session, resp := newSession(uuid.New().String())
	require.NoError(t, store.CreateSession(ctx, session, resp))

	n, err := store.DeleteCreatedBefore(ctx, sqlstore.TableSessions, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = store.DeleteCreatedBefore(ctx, sqlstore.TableSessions, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = store.DeleteCreatedBefore(ctx, sqlstore.TableSessions, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = store.DeleteCreatedBefore(ctx, sqlstore.Table("users"), time.Now())
	assert.ErrorIs(t, err, dberror.ErrInvalidInput)
}

func TestPrivilegedScope(t *testing.T) {
	pool := dbtest.NewPool(t)
	ctx := dbtest.Ctx(t, pool)
	store := db.DB(ctx)

	release, err := db.Privileged(ctx)
	require.NoError(t, err)
	v, ok := store.Scope(db.Scope_Privileged)
	assert.True(t, ok)
	assert.Equal(t, "on", v)

	nested, err := db.Privileged(ctx)
	require.NoError(t, err)
	nested()
	_, ok = store.Scope(db.Scope_Privileged)
	assert.True(t, ok)

	release()
	_, ok = store.Scope(db.Scope_Privileged)
	assert.False(t, ok)

	assert.ErrorIs(t, store.Notify(ctx, "c", "p"), db.ErrNotifyUnsupported)
}
