package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bondly/bondly/internal/bondlysrv/advisor"
	"github.com/bondly/bondly/internal/bondlysrv/analysis"
	"github.com/bondly/bondly/internal/bondlysrv/auth"
	"github.com/bondly/bondly/internal/bondlysrv/config"
	"github.com/bondly/bondly/internal/bondlysrv/db/dbtest"
	"github.com/bondly/bondly/internal/bondlysrv/metrics"
	"github.com/bondly/bondly/internal/bondlysrv/realtime"
	"github.com/bondly/bondly/internal/bondlysrv/retention"
	"github.com/bondly/bondly/internal/bondlysrv/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const completionTemplate = `{
	"id": "chatcmpl-test",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "test-model",
	"choices": [
		{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": ""}}
	]
}`

const cronSecret = "test-cron-secret"

// fakeLLM answers every completion with advice addressed to the recipient named in the prompt.
type fakeLLM struct {
	calls       atomic.Int32
	rateLimited atomic.Bool
}

func (f *fakeLLM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	w.Header().Set("Content-Type", "application/json")
	if f.rateLimited.Load() {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"quota exhausted","code":"rate_limit_exceeded"}}`)
		return
	}
	body, _ := io.ReadAll(r.Body)
	prompt := gjson.GetBytes(body, "messages.1.content").String()
	recipient := "someone"
	if _, rest, ok := strings.Cut(prompt, "Generate personalized advice for "); ok {
		recipient, _, _ = strings.Cut(rest, ".")
	}
	advice, _ := sjson.Set(`{"actionSteps":["Take a walk together"],"conversationStarters":["What felt hardest?"]}`, "advice", "Advice for "+recipient)
	out, _ := sjson.Set(completionTemplate, "choices.0.message.content", advice)
	_, _ = io.WriteString(w, out)
}

type testServer struct {
	srv *httptest.Server
	llm *fakeLLM
	hub *realtime.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	llm := &fakeLLM{}
	llmSrv := httptest.NewServer(llm)
	t.Cleanup(llmSrv.Close)

	cfg := config.Default()
	cfg.PublicURL = "https://bondly.example"
	cfg.Retention.CronSecret = cronSecret
	cfg.HandleCORS = true
	cfg.CORSAllowedOrigins = []string{"https://bondly.example"}

	pool := dbtest.NewPool(t)
	m := metrics.New()
	gen := advisor.New(advisor.Options{
		BaseURL:        llmSrv.URL + "/v1/",
		APIKey:         "test-key",
		Model:          "test-model",
		RequestTimeout: 5 * time.Second,
		Retry: advisor.RetryPolicy{
			MaxRetries: 2,
			BaseDelay:  time.Millisecond,
			MinDelay:   time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
		},
		Metrics: m,
	})
	hub := realtime.NewHub(cfg.Realtime.Channel, time.Second)
	t.Cleanup(hub.Close)
	issuer, err := auth.NewIssuer("0123456789abcdef0123456789abcdef", time.Hour, time.Minute)
	require.NoError(t, err)

	s, serr := CreateNewServer(Deps{
		Config: cfg,
		Pool:   pool,
		Orchestrator: analysis.New(gen, analysis.Options{
			PollAttempts: 2,
			PollDelay:    time.Millisecond,
			Notifier:     hub,
			Metrics:      m,
		}),
		Sweeper: retention.NewSweeper(pool, cfg.Retention.GetMaxAge(), m),
		Issuer:  issuer,
		Hub:     hub,
		Metrics: m,
	})
	require.NoError(t, serr)
	s.MountHandlers()

	ts := &testServer{srv: httptest.NewServer(s.Router), llm: llm, hub: hub}
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, header map[string]string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer rsp.Body.Close()
	data, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	return rsp, data
}

func createRequest() sessions.CreateSessionReq {
	return sessions.CreateSessionReq{
		CreatorName: "Alex",
		PartnerName: "Sam",
		Situation:   "We argued about chores.",
		Feelings:    "Unappreciated.",
		Emotions:    []string{"Frustrated"},
	}
}

func partnerRequest() sessions.PartnerResponseReq {
	return sessions.PartnerResponseReq{
		Situation: "I was exhausted after work.",
		Feelings:  "Criticized.",
		Emotions:  []string{"Sad", "Overwhelmed"},
	}
}

// openEvents subscribes to a session's event stream and waits for the ready event.
func openEvents(t *testing.T, ts *testServer, sessionID string) *bufio.Reader {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.srv.URL+"/api/sessions/"+sessionID+"/events", nil)
	require.NoError(t, err)
	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { rsp.Body.Close() })
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	rd := bufio.NewReader(rsp.Body)
	require.Equal(t, realtime.EventReady, nextEvent(t, rd).name)
	return rd
}

type sseEvent struct {
	name string
	data string
}

func nextEvent(t *testing.T, rd *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if ev.name != "" {
				return ev
			}
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rsp, body := ts.do(t, http.MethodPost, "/api/sessions", nil, createRequest())
	require.Equal(t, http.StatusCreated, rsp.StatusCode, string(body))
	var created sessions.CreateSessionRsp
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "https://bondly.example/partner/"+created.ShareToken, created.ShareURL)

	events := openEvents(t, ts, created.SessionID)

	// analysis before the partner answers is refused
	rsp, body = ts.do(t, http.MethodPost, "/api/analyze-session", nil, analysis.AnalyzeSessionReq{SessionID: created.SessionID})
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)
	assert.Equal(t, "INSUFFICIENT_RESPONSES", gjson.GetBytes(body, "code").String())

	rsp, body = ts.do(t, http.MethodPost, "/api/partner/"+created.ShareToken+"/responses", nil, partnerRequest())
	require.Equal(t, http.StatusCreated, rsp.StatusCode, string(body))
	assert.Contains(t, nextEvent(t, events).data, `"status":"completed"`)

	rsp, body = ts.do(t, http.MethodPost, "/api/analyze-session", nil, analysis.AnalyzeSessionReq{SessionID: created.SessionID})
	require.Equal(t, http.StatusOK, rsp.StatusCode, string(body))
	var analyzed analysis.AnalyzeSessionRsp
	require.NoError(t, json.Unmarshal(body, &analyzed))
	assert.True(t, analyzed.Success)
	assert.EqualValues(t, 2, ts.llm.calls.Load())
	assert.Contains(t, nextEvent(t, events).data, `"status":"analyzed"`)

	// a second analysis is refused and does not call the model
	rsp, body = ts.do(t, http.MethodPost, "/api/analyze-session", nil, analysis.AnalyzeSessionReq{SessionID: created.SessionID})
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)
	assert.Equal(t, "ALREADY_ANALYZED", gjson.GetBytes(body, "code").String())
	assert.EqualValues(t, 2, ts.llm.calls.Load())

	_, body = ts.do(t, http.MethodGet, "/api/get-advice-id?sessionId="+created.SessionID+"&isCreator=true", nil, nil)
	assert.Equal(t, analyzed.AdviceIDs.Creator, gjson.GetBytes(body, "adviceId").String())

	rsp, body = ts.do(t, http.MethodGet, "/api/advice/"+analyzed.AdviceIDs.Creator, nil, nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	var advice sessions.AdviceRsp
	require.NoError(t, json.Unmarshal(body, &advice))
	assert.True(t, advice.IsCreator)
	assert.Equal(t, "Alex", advice.RecipientName)
	assert.Equal(t, "Advice for Alex", advice.Advice)
	assert.Equal(t, []string{"Take a walk together"}, advice.ActionSteps)

	_, body = ts.do(t, http.MethodGet, "/api/sessions/"+created.SessionID+"/status", nil, nil)
	assert.Equal(t, sessions.StateReady, gjson.GetBytes(body, "state").String())
	assert.True(t, gjson.GetBytes(body, "adviceReady.partner").Bool())

	_, body = ts.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Contains(t, string(body), "bondly_")
}

func TestAnalyzeQuotaExceeded(t *testing.T) {
	ts := newTestServer(t)
	ts.llm.rateLimited.Store(true)

	_, body := ts.do(t, http.MethodPost, "/api/sessions", nil, createRequest())
	var created sessions.CreateSessionRsp
	require.NoError(t, json.Unmarshal(body, &created))
	rsp, _ := ts.do(t, http.MethodPost, "/api/partner/"+created.ShareToken+"/responses", nil, partnerRequest())
	require.Equal(t, http.StatusCreated, rsp.StatusCode)

	rsp, body = ts.do(t, http.MethodPost, "/api/analyze-session", nil, analysis.AnalyzeSessionReq{SessionID: created.SessionID})
	assert.Equal(t, http.StatusTooManyRequests, rsp.StatusCode)
	assert.Equal(t, "QUOTA_EXCEEDED", gjson.GetBytes(body, "code").String())
	assert.True(t, gjson.GetBytes(body, "retryable").Bool())

	_, body = ts.do(t, http.MethodGet, "/api/get-advice-id?sessionId="+created.SessionID+"&isCreator=false", nil, nil)
	assert.JSONEq(t, `{"adviceId":null}`, string(body))
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	ts := newTestServer(t)
	for _, payload := range []string{`{}`, `{"sessionId":"not-a-uuid"}`, `not json`} {
		req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/analyze-session", strings.NewReader(payload))
		require.NoError(t, err)
		rsp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		rsp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, rsp.StatusCode, payload)
	}
	assert.Zero(t, ts.llm.calls.Load())
}

func TestCleanupRequiresSecret(t *testing.T) {
	ts := newTestServer(t)

	rsp, _ := ts.do(t, http.MethodGet, "/api/cleanup", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rsp.StatusCode)
	rsp, _ = ts.do(t, http.MethodGet, "/api/cleanup", map[string]string{"Authorization": "Bearer wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rsp.StatusCode)

	rsp, body := ts.do(t, http.MethodGet, "/api/cleanup", map[string]string{"Authorization": "Bearer " + cronSecret}, nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode, string(body))
	assert.True(t, gjson.GetBytes(body, "success").Bool())
	assert.Zero(t, gjson.GetBytes(body, "deleted.sessions").Int())
	assert.True(t, gjson.GetBytes(body, "timestamp").Exists())
}

func TestVersionAndReadiness(t *testing.T) {
	ts := newTestServer(t)

	rsp, body := ts.do(t, http.MethodGet, "/version", nil, nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.JSONEq(t, `{"serverVersion":"Bondly Server: `+ServerVersion+`","apiVersion":"`+ApiVersion+`"}`, string(body))
	assert.NotEmpty(t, rsp.Header.Get("X-Bondly-Request-ID"))

	rsp, body = ts.do(t, http.MethodGet, "/ready", nil, nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.JSONEq(t, `{"status":"ready"}`, string(body))
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	rsp, _ := ts.do(t, http.MethodOptions, "/api/sessions", map[string]string{
		"Origin":                        "https://bondly.example",
		"Access-Control-Request-Method": http.MethodPost,
	}, nil)
	assert.Equal(t, "https://bondly.example", rsp.Header.Get("Access-Control-Allow-Origin"))
}

func TestCreateNewServerRequiresDeps(t *testing.T) {
	_, err := CreateNewServer(Deps{})
	assert.Error(t, err)
}
