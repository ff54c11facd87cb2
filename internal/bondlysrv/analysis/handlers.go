package analysis

import (
	"net/http"
	"strings"

	"github.com/bondly/bondly/internal/common/httpx"
	"github.com/go-chi/chi/v5"
)

// AnalyzeSessionReq is the body of POST /analyze-session.
type AnalyzeSessionReq struct {
	SessionID string `json:"sessionId"`
}

type AdviceIDs struct {
	Creator string `json:"creator"`
	Partner string `json:"partner"`
}

// AnalyzeSessionRsp reports the session and the ids of both advice rows.
type AnalyzeSessionRsp struct {
	Success   bool      `json:"success"`
	AdviceIDs AdviceIDs `json:"adviceIds"`
}

// Router serves POST / for triggering an analysis.
func Router(o *Orchestrator) chi.Router {
	r := chi.NewRouter()
	r.Method(http.MethodPost, "/", httpx.WrapHttpRsp(o.analyzeSession))
	return r
}

func (o *Orchestrator) analyzeSession(r *http.Request) (*httpx.Response, error) {
	var req AnalyzeSessionReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, ErrInvalidSessionID.Msg("session id required")
	}
	res, err := o.Analyze(r.Context(), req.SessionID)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response: &AnalyzeSessionRsp{
			Success: true,
			AdviceIDs: AdviceIDs{
				Creator: res.CreatorAdviceID.String(),
				Partner: res.PartnerAdviceID.String(),
			},
		},
	}, nil
}
