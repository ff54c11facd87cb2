package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bondly/bondly/internal/bondlysrv/analysis"
	"github.com/bondly/bondly/internal/bondlysrv/auth"
	"github.com/bondly/bondly/internal/bondlysrv/db"
	"github.com/bondly/bondly/internal/bondlysrv/db/dbmanager"
	"github.com/bondly/bondly/internal/bondlysrv/db/dbtest"
	"github.com/bondly/bondly/internal/bondlysrv/db/models"
	"github.com/bondly/bondly/internal/common/apperrors"
	"github.com/bondly/bondly/internal/common/uuid"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.SessionStatus
}

func (n *recordingNotifier) NotifySession(_ context.Context, _ uuid.UUID, status models.SessionStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, status)
}

func (n *recordingNotifier) statuses() []models.SessionStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.SessionStatus(nil), n.events...)
}

type fakeAnalyzer struct {
	result *analysis.Result
	err    apperrors.Error
	calls  atomic.Int32
}

func (a *fakeAnalyzer) Analyze(_ context.Context, sessionID string) (*analysis.Result, apperrors.Error) {
	a.calls.Add(1)
	if a.err != nil {
		return nil, a.err
	}
	return a.result, nil
}

type fixture struct {
	pool     dbmanager.ScopedDb
	issuer   *auth.Issuer
	notifier *recordingNotifier
	analyzer *fakeAnalyzer
	srv      *httptest.Server
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	issuer, err := auth.NewIssuer(testSecret, time.Hour, time.Minute)
	require.NoError(t, err)
	f := &fixture{
		pool:     dbtest.NewPool(t),
		issuer:   issuer,
		notifier: &recordingNotifier{},
		analyzer: &fakeAnalyzer{},
	}
	h := NewHandlers(issuer, f.analyzer, f.notifier, opts)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(zerolog.Nop().WithContext(r.Context())))
		})
	})
	r.Route("/api", func(r chi.Router) {
		r.Use(db.LoadScopedDBMiddleware(f.pool))
		h.Mount(r)
	})
	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer rsp.Body.Close()
	data, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	return rsp, data
}

func validCreate() CreateSessionReq {
	return CreateSessionReq{
		CreatorName: "Alex",
		PartnerName: "Sam",
		Situation:   "We argued about chores.",
		Feelings:    "Unappreciated.",
		Emotions:    []string{"Frustrated", "Hurt"},
	}
}

func validPartner() PartnerResponseReq {
	return PartnerResponseReq{
		Situation: "I was exhausted after work.",
		Feelings:  "Criticized.",
		Emotions:  []string{"Sad"},
	}
}

func (f *fixture) createSession(t *testing.T) *CreateSessionRsp {
	t.Helper()
	rsp, body := f.do(t, http.MethodPost, "/api/sessions", "", validCreate())
	require.Equal(t, http.StatusCreated, rsp.StatusCode, string(body))
	var out CreateSessionRsp
	require.NoError(t, json.Unmarshal(body, &out))
	return &out
}

func (f *fixture) submitPartner(t *testing.T, shareToken string) *PartnerResponseRsp {
	t.Helper()
	rsp, body := f.do(t, http.MethodPost, "/api/partner/"+shareToken+"/responses", "", validPartner())
	require.Equal(t, http.StatusCreated, rsp.StatusCode, string(body))
	var out PartnerResponseRsp
	require.NoError(t, json.Unmarshal(body, &out))
	return &out
}

func (f *fixture) store(t *testing.T) (context.Context, db.Database) {
	t.Helper()
	ctx := dbtest.Ctx(t, f.pool)
	return ctx, db.DB(ctx)
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var e struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(body, &e))
	return e.Code
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t, Options{PublicURL: "https://bondly.example/"})
	out := f.createSession(t)

	assert.Equal(t, models.StatusWaitingForPartner, out.Status)
	assert.Equal(t, "https://bondly.example/partner/"+out.ShareToken, out.ShareURL)
	assert.True(t, uuid.IsCanonical(out.SessionID))

	participantID, err := f.issuer.Validate(context.Background(), out.ParticipantToken)
	require.NoError(t, err)

	ctx, store := f.store(t)
	restore, perr := db.Privileged(ctx)
	require.NoError(t, perr)
	defer restore()
	session, err := store.GetSession(ctx, uuid.MustParse(out.SessionID))
	require.NoError(t, err)
	assert.Equal(t, participantID, session.CreatorID)
	assert.Equal(t, "Alex", session.CreatorName)

	responses, err := store.ListResponses(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.True(t, responses[0].IsCreator)
	assert.Equal(t, models.StringList{"Frustrated", "Hurt"}, responses[0].EmotionalState)
}

func TestCreateSessionKeepsExistingParticipant(t *testing.T) {
	f := newFixture(t, Options{})
	token, _, err := f.issuer.Mint("returning-user")
	require.NoError(t, err)

	rsp, body := f.do(t, http.MethodPost, "/api/sessions", token, validCreate())
	require.Equal(t, http.StatusCreated, rsp.StatusCode)
	var out CreateSessionRsp
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Empty(t, out.ShareURL)

	id, verr := f.issuer.Validate(context.Background(), out.ParticipantToken)
	require.NoError(t, verr)
	assert.Equal(t, "returning-user", id)
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(t, Options{})
	tests := []struct {
		name   string
		mutate func(*CreateSessionReq)
	}{
		{"blank creator", func(r *CreateSessionReq) { r.CreatorName = "   " }},
		{"markup only name", func(r *CreateSessionReq) { r.CreatorName = "<b></b>" }},
		{"markup only situation", func(r *CreateSessionReq) { r.Situation = "<p></p>" }},
		{"script only feelings", func(r *CreateSessionReq) { r.Feelings = "<script>alert(1)</script>" }},
		{"long name", func(r *CreateSessionReq) { r.PartnerName = strings.Repeat("x", 51) }},
		{"long situation", func(r *CreateSessionReq) { r.Situation = strings.Repeat("x", 2001) }},
		{"no emotions", func(r *CreateSessionReq) { r.Emotions = nil }},
		{"unknown emotion", func(r *CreateSessionReq) { r.Emotions = []string{"Bored"} }},
		{"duplicate emotion", func(r *CreateSessionReq) { r.Emotions = []string{"Sad", "Sad"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreate()
			tt.mutate(&req)
			rsp, body := f.do(t, http.MethodPost, "/api/sessions", "", req)
			assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)
			assert.Equal(t, "INVALID_INPUT", errorCode(t, body))
		})
	}
}

func TestCreateSessionStoresSanitizedText(t *testing.T) {
	f := newFixture(t, Options{})
	req := validCreate()
	req.CreatorName = "  <b>Alex</b>  "
	req.Situation = "<p>We argued</p> about chores."
	rsp, body := f.do(t, http.MethodPost, "/api/sessions", "", req)
	require.Equal(t, http.StatusCreated, rsp.StatusCode, string(body))
	var out CreateSessionRsp
	require.NoError(t, json.Unmarshal(body, &out))

	ctx, store := f.store(t)
	restore, perr := db.Privileged(ctx)
	require.NoError(t, perr)
	defer restore()
	session, err := store.GetSession(ctx, uuid.MustParse(out.SessionID))
	require.NoError(t, err)
	assert.Equal(t, "Alex", session.CreatorName)

	responses, err := store.ListResponses(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, "We argued about chores.", responses[0].SituationDescription)
}

func TestPartnerResponseRejectsMarkupOnlyText(t *testing.T) {
	f := newFixture(t, Options{})
	created := f.createSession(t)

	req := validPartner()
	req.Situation = "<p></p>"
	rsp, body := f.do(t, http.MethodPost, "/api/partner/"+created.ShareToken+"/responses", "", req)
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, body))
	assert.Empty(t, f.notifier.statuses())
}

func TestPartnerInvite(t *testing.T) {
	f := newFixture(t, Options{})
	created := f.createSession(t)

	rsp, body := f.do(t, http.MethodGet, "/api/partner/"+created.ShareToken, "", nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	var invite PartnerInviteRsp
	require.NoError(t, json.Unmarshal(body, &invite))
	assert.Equal(t, created.SessionID, invite.SessionID)
	assert.Equal(t, "Alex", invite.CreatorName)
	assert.Equal(t, "Sam", invite.PartnerName)

	unknownRsp, unknownBody := f.do(t, http.MethodGet, "/api/partner/"+uuid.New().String(), "", nil)
	malformedRsp, malformedBody := f.do(t, http.MethodGet, "/api/partner/not-a-token", "", nil)
	assert.Equal(t, http.StatusNotFound, unknownRsp.StatusCode)
	assert.Equal(t, http.StatusNotFound, malformedRsp.StatusCode)
	assert.Equal(t, unknownBody, malformedBody)
}

func TestPartnerResponse(t *testing.T) {
	f := newFixture(t, Options{})
	created := f.createSession(t)

	out := f.submitPartner(t, created.ShareToken)
	assert.Equal(t, created.SessionID, out.SessionID)
	assert.Equal(t, models.StatusCompleted, out.Status)
	assert.Empty(t, out.AdviceID)
	assert.Zero(t, f.analyzer.calls.Load())
	assert.Equal(t, []models.SessionStatus{models.StatusCompleted}, f.notifier.statuses())

	rsp, body := f.do(t, http.MethodGet, "/api/sessions/"+created.SessionID+"/status", out.ParticipantToken, nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	var status SessionStatusRsp
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, models.StatusCompleted, status.Status)
	assert.Equal(t, StateProcessing, status.State)
	assert.Equal(t, RolePartner, status.Role)

	// a second answer is accepted and does not notify again
	f.submitPartner(t, created.ShareToken)
	assert.Len(t, f.notifier.statuses(), 1)
}

func TestPartnerResponseRejectedAfterAnalysis(t *testing.T) {
	f := newFixture(t, Options{})
	created := f.createSession(t)
	f.submitPartner(t, created.ShareToken)

	ctx, store := f.store(t)
	restore, err := db.Privileged(ctx)
	require.NoError(t, err)
	_, aerr := store.AdvanceSessionStatus(ctx, uuid.MustParse(created.SessionID), models.StatusAnalyzed)
	require.NoError(t, aerr)
	restore()

	rsp, body := f.do(t, http.MethodPost, "/api/partner/"+created.ShareToken+"/responses", "", validPartner())
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)
	assert.Equal(t, "ALREADY_ANALYZED", errorCode(t, body))

	rsp, _ = f.do(t, http.MethodGet, "/api/partner/"+created.ShareToken, "", nil)
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)
}

func TestPartnerResponseAnalyzesWhenEnabled(t *testing.T) {
	f := newFixture(t, Options{AnalyzeOnPartnerSubmit: true})
	partnerAdvice := uuid.New()
	f.analyzer.result = &analysis.Result{PartnerAdviceID: partnerAdvice, CreatorAdviceID: uuid.New()}

	created := f.createSession(t)
	out := f.submitPartner(t, created.ShareToken)
	assert.EqualValues(t, 1, f.analyzer.calls.Load())
	assert.Equal(t, models.StatusAnalyzed, out.Status)
	assert.Equal(t, partnerAdvice.String(), out.AdviceID)
}

func TestPartnerResponseReportsAnalysisFailure(t *testing.T) {
	f := newFixture(t, Options{AnalyzeOnPartnerSubmit: true})
	f.analyzer.err = apperrors.New("quota").SetStatusCode(http.StatusTooManyRequests).SetCode("QUOTA_EXCEEDED")

	created := f.createSession(t)
	out := f.submitPartner(t, created.ShareToken)
	assert.Equal(t, models.StatusCompleted, out.Status)
	assert.Equal(t, "QUOTA_EXCEEDED", out.Code)
	assert.Empty(t, out.AdviceID)
}

func seedAdvice(t *testing.T, f *fixture, sessionID string) (creator, partner uuid.UUID) {
	t.Helper()
	ctx, store := f.store(t)
	restore, err := db.Privileged(ctx)
	require.NoError(t, err)
	defer restore()
	id := uuid.MustParse(sessionID)
	rows := []*models.Advice{
		{SessionID: id, UserID: "c", IsCreator: true, AdviceText: "for Alex", ActionSteps: models.StringList{"breathe"}},
		{SessionID: id, UserID: "p", IsCreator: false, AdviceText: "for Sam", ConversationStarters: models.StringList{"can we talk?"}},
	}
	require.NoError(t, store.CreateAdvice(ctx, rows))
	return rows[0].ID, rows[1].ID
}

func TestSessionStatusRepairsLaggingStatus(t *testing.T) {
	f := newFixture(t, Options{})
	created := f.createSession(t)
	f.submitPartner(t, created.ShareToken)
	seedAdvice(t, f, created.SessionID)

	rsp, body := f.do(t, http.MethodGet, "/api/sessions/"+created.SessionID+"/status", created.ParticipantToken, nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	var status SessionStatusRsp
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, models.StatusAnalyzed, status.Status)
	assert.Equal(t, StateReady, status.State)
	assert.Equal(t, AdviceReady{Creator: true, Partner: true}, status.AdviceReady)
	assert.Equal(t, RoleCreator, status.Role)
	assert.Equal(t, []models.SessionStatus{models.StatusCompleted, models.StatusAnalyzed}, f.notifier.statuses())

	// the repair sticks
	_, body = f.do(t, http.MethodGet, "/api/sessions/"+created.SessionID+"/status", "", nil)
	var anonymous SessionStatusRsp
	require.NoError(t, json.Unmarshal(body, &anonymous))
	assert.Equal(t, models.StatusAnalyzed, anonymous.Status)
	assert.Empty(t, anonymous.Role)
	assert.Len(t, f.notifier.statuses(), 2)
}

func TestSessionStatusErrors(t *testing.T) {
	f := newFixture(t, Options{})
	rsp, _ := f.do(t, http.MethodGet, "/api/sessions/nope/status", "", nil)
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)
	rsp, _ = f.do(t, http.MethodGet, "/api/sessions/"+uuid.New().String()+"/status", "", nil)
	assert.Equal(t, http.StatusNotFound, rsp.StatusCode)
}

func TestGetAdviceID(t *testing.T) {
	f := newFixture(t, Options{})
	created := f.createSession(t)

	rsp, body := f.do(t, http.MethodGet, "/api/get-advice-id?sessionId="+created.SessionID+"&isCreator=true", "", nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.JSONEq(t, `{"adviceId":null}`, string(body))

	f.submitPartner(t, created.ShareToken)
	_, partner := seedAdvice(t, f, created.SessionID)

	_, body = f.do(t, http.MethodGet, "/api/get-advice-id?sessionId="+created.SessionID+"&isCreator=false", "", nil)
	var out AdviceIDRsp
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotNil(t, out.AdviceID)
	assert.Equal(t, partner.String(), *out.AdviceID)

	for _, q := range []string{"sessionId=bad&isCreator=true", "sessionId=" + created.SessionID + "&isCreator=maybe", ""} {
		rsp, _ := f.do(t, http.MethodGet, "/api/get-advice-id?"+q, "", nil)
		assert.Equal(t, http.StatusBadRequest, rsp.StatusCode, q)
	}
}

func TestGetAdvice(t *testing.T) {
	f := newFixture(t, Options{RetentionMaxAge: 24 * time.Hour})
	created := f.createSession(t)
	f.submitPartner(t, created.ShareToken)
	_, partner := seedAdvice(t, f, created.SessionID)

	rsp, body := f.do(t, http.MethodGet, "/api/advice/"+partner.String(), "", nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	var out AdviceRsp
	require.NoError(t, json.Unmarshal(body, &out))
	assert.False(t, out.IsCreator)
	assert.Equal(t, "Sam", out.RecipientName)
	assert.Equal(t, "Alex", out.PartnerName)
	assert.Equal(t, "for Sam", out.Advice)
	assert.Equal(t, []string{}, out.ActionSteps)
	assert.Equal(t, []string{"can we talk?"}, out.ConversationStarters)
	assert.Equal(t, 24*time.Hour, out.ExpiresAt.Sub(out.CreatedAt))

	unknownRsp, unknownBody := f.do(t, http.MethodGet, "/api/advice/"+uuid.New().String(), "", nil)
	malformedRsp, malformedBody := f.do(t, http.MethodGet, "/api/advice/xyz", "", nil)
	assert.Equal(t, http.StatusNotFound, unknownRsp.StatusCode)
	assert.Equal(t, http.StatusNotFound, malformedRsp.StatusCode)
	assert.Equal(t, unknownBody, malformedBody)
}

func TestListMySessions(t *testing.T) {
	f := newFixture(t, Options{RetentionMaxAge: time.Hour})
	created := f.createSession(t)
	partner := f.submitPartner(t, created.ShareToken)

	rsp, _ := f.do(t, http.MethodGet, "/api/me/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rsp.StatusCode)

	rsp, body := f.do(t, http.MethodGet, "/api/me/sessions", created.ParticipantToken, nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	var mine SessionListRsp
	require.NoError(t, json.Unmarshal(body, &mine))
	require.Len(t, mine.Sessions, 1)
	assert.Equal(t, RoleCreator, mine.Sessions[0].Role)
	assert.Equal(t, created.ShareToken, mine.Sessions[0].ShareToken)

	_, body = f.do(t, http.MethodGet, "/api/me/sessions", partner.ParticipantToken, nil)
	var theirs SessionListRsp
	require.NoError(t, json.Unmarshal(body, &theirs))
	require.Len(t, theirs.Sessions, 1)
	assert.Equal(t, RolePartner, theirs.Sessions[0].Role)
	assert.Empty(t, theirs.Sessions[0].ShareToken)
	assert.NotContains(t, string(body), "shareToken")

	stranger, _, err := f.issuer.Mint("stranger")
	require.NoError(t, err)
	_, body = f.do(t, http.MethodGet, "/api/me/sessions", stranger, nil)
	var none SessionListRsp
	require.NoError(t, json.Unmarshal(body, &none))
	assert.Empty(t, none.Sessions)
}
