package sessions

import (
	"net/http"

	"github.com/bondly/bondly/internal/common/apperrors"
)

var (
	ErrSessions apperrors.Error = apperrors.New("unable to process session request").SetStatusCode(http.StatusInternalServerError).SetCode("INTERNAL")
)

var (
	ErrInvalidInput     apperrors.Error = ErrSessions.New("invalid input").SetStatusCode(http.StatusBadRequest).SetCode("INVALID_INPUT")
	ErrSessionNotFound  apperrors.Error = ErrSessions.New("session not found").SetStatusCode(http.StatusNotFound).SetCode("NOT_FOUND")
	ErrInvalidShareLink apperrors.Error = ErrSessions.New("invalid or expired link").SetStatusCode(http.StatusNotFound).SetCode("NOT_FOUND")
	ErrAdviceNotFound   apperrors.Error = ErrSessions.New("advice not found").SetStatusCode(http.StatusNotFound).SetCode("NOT_FOUND")
	ErrNoParticipant    apperrors.Error = ErrSessions.New("participant token required").SetStatusCode(http.StatusUnauthorized).SetCode("UNAUTHORIZED")
)
