package analysis

import (
	"net/http"

	"github.com/bondly/bondly/internal/common/apperrors"
)

var (
	ErrAnalysis              = apperrors.New("failed to analyze session").SetStatusCode(http.StatusInternalServerError).SetCode("INTERNAL")
	ErrInvalidSessionID      = ErrAnalysis.New("session id is missing or malformed").SetStatusCode(http.StatusBadRequest).SetCode("INVALID_INPUT")
	ErrSessionNotFound       = ErrAnalysis.New("session not found").SetStatusCode(http.StatusNotFound).SetCode("NOT_FOUND")
	ErrAlreadyAnalyzed       = ErrAnalysis.New("session has already been analyzed").SetStatusCode(http.StatusBadRequest).SetCode("ALREADY_ANALYZED")
	ErrInsufficientResponses = ErrAnalysis.New("both responses are not yet available").SetStatusCode(http.StatusBadRequest).SetCode("INSUFFICIENT_RESPONSES")
	ErrMissingRole           = ErrAnalysis.New("missing responses").SetStatusCode(http.StatusBadRequest).SetCode("MISSING_ROLE")
	ErrPersistence           = ErrAnalysis.New("failed to save advice").SetStatusCode(http.StatusInternalServerError).SetCode("PERSISTENCE_ERROR")
)

var errResponsesPending = ErrInsufficientResponses.Msg("waiting for responses")
