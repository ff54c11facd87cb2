// Package sessions serves the participant flows: starting a session, the
// partner's invitation and answer, status, and reading advice.
package sessions

import (
	"context"
	"net/http"
	"time"

	"github.com/bondly/bondly/internal/bondlysrv/analysis"
	"github.com/bondly/bondly/internal/bondlysrv/auth"
	"github.com/bondly/bondly/internal/common/apperrors"
	"github.com/bondly/bondly/internal/common/httpx"
	"github.com/go-chi/chi/v5"
)

// Analyzer runs the analysis of a completed session.
type Analyzer interface {
	Analyze(ctx context.Context, sessionID string) (*analysis.Result, apperrors.Error)
}

type Options struct {
	PublicURL              string
	AnalyzeOnPartnerSubmit bool
	RetentionMaxAge        time.Duration
}

// Handlers serves the session API.
type Handlers struct {
	issuer   *auth.Issuer
	analyzer Analyzer
	notifier analysis.Notifier
	opts     Options
}

func NewHandlers(issuer *auth.Issuer, analyzer Analyzer, notifier analysis.Notifier, opts Options) *Handlers {
	return &Handlers{
		issuer:   issuer,
		analyzer: analyzer,
		notifier: notifier,
		opts:     opts,
	}
}

func (h *Handlers) publicHandlers() []httpx.ResponseHandlerParam {
	return []httpx.ResponseHandlerParam{
		{
			Method:  http.MethodPost,
			Path:    "/sessions",
			Handler: h.createSession,
		},
		{
			Method:  http.MethodGet,
			Path:    "/sessions/{sessionID}/status",
			Handler: h.getSessionStatus,
		},
		{
			Method:  http.MethodGet,
			Path:    "/partner/{shareToken}",
			Handler: h.getPartnerInvite,
		},
		{
			Method:  http.MethodPost,
			Path:    "/partner/{shareToken}/responses",
			Handler: h.submitPartnerResponse,
		},
		{
			Method:  http.MethodGet,
			Path:    "/get-advice-id",
			Handler: h.getAdviceID,
		},
		{
			Method:  http.MethodGet,
			Path:    "/advice/{adviceID}",
			Handler: h.getAdvice,
		},
	}
}

func (h *Handlers) participantHandlers() []httpx.ResponseHandlerParam {
	return []httpx.ResponseHandlerParam{
		{
			Method:  http.MethodGet,
			Path:    "/me/sessions",
			Handler: h.listMySessions,
		},
	}
}

// Mount registers the routes on r, which must already check out a db connection
// per request.
func (h *Handlers) Mount(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.issuer.ParticipantMiddleware(false))
		for _, handler := range h.publicHandlers() {
			r.Method(handler.Method, handler.Path, httpx.WrapHttpRsp(handler.Handler))
		}
	})
	r.Group(func(r chi.Router) {
		r.Use(h.issuer.ParticipantMiddleware(true))
		for _, handler := range h.participantHandlers() {
			r.Method(handler.Method, handler.Path, httpx.WrapHttpRsp(handler.Handler))
		}
	})
}
