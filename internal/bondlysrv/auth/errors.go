package auth

import (
	"net/http"

	"github.com/bondly/bondly/internal/common/apperrors"
)

var (
	ErrAuth apperrors.Error = apperrors.New("auth error").SetStatusCode(http.StatusInternalServerError).SetCode("INTERNAL")
)

var (
	ErrUnauthorized    apperrors.Error = ErrAuth.New("unauthorized").SetStatusCode(http.StatusUnauthorized).SetCode("UNAUTHORIZED")
	ErrInvalidToken    apperrors.Error = ErrUnauthorized.New("invalid participant token")
	ErrTokenGeneration apperrors.Error = ErrAuth.New("failed to generate token")
	ErrWeakSecret      apperrors.Error = ErrAuth.New("token secret is too short")
)
