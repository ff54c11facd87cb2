// Package auth issues and checks the anonymous participant tokens and guards the
// maintenance endpoints.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bondly/bondly/internal/bondlysrv/config"
	"github.com/bondly/bondly/internal/common/apperrors"
	"github.com/bondly/bondly/internal/common/uuid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

const (
	TokenIssuer   = "bondly"
	TokenAudience = "bondly-participant"
	MinSecretLen  = 32
)

// Issuer mints and validates participant tokens signed with HS256.
type Issuer struct {
	secret   []byte
	validity time.Duration
	skew     time.Duration
	now      func() time.Time
}

func NewIssuer(secret string, validity, skew time.Duration) (*Issuer, apperrors.Error) {
	if len(secret) < MinSecretLen {
		return nil, ErrWeakSecret
	}
	return &Issuer{
		secret:   []byte(secret),
		validity: validity,
		skew:     skew,
		now:      time.Now,
	}, nil
}

// NewIssuerFromConfig builds an issuer from the auth section.
func NewIssuerFromConfig(cfg *config.AuthConfig) (*Issuer, apperrors.Error) {
	return NewIssuer(cfg.TokenSecret, cfg.GetTokenValidity(), cfg.GetClockSkew())
}

// NewParticipantID returns a fresh anonymous participant id.
func NewParticipantID() string {
	return uuid.New().String()
}

// Mint returns a signed token for participantID and its expiry.
func (i *Issuer) Mint(participantID string) (string, time.Time, apperrors.Error) {
	if strings.TrimSpace(participantID) == "" {
		return "", time.Time{}, ErrTokenGeneration.Msg("participant id required")
	}
	now := i.now().UTC()
	expiry := now.Add(i.validity)
	claims := jwt.RegisteredClaims{
		Issuer:    TokenIssuer,
		Subject:   participantID,
		Audience:  jwt.ClaimStrings{TokenAudience},
		ExpiresAt: jwt.NewNumericDate(expiry),
		NotBefore: jwt.NewNumericDate(now.Add(-i.skew)),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        uuid.New().String(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, ErrTokenGeneration.Err(err)
	}
	return signed, expiry, nil
}

// Validate checks the token and returns its participant id.
func (i *Issuer) Validate(ctx context.Context, tokenString string) (string, apperrors.Error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return i.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithAudience(TokenAudience),
		jwt.WithLeeway(i.skew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("failed to parse participant token")
		return "", ErrInvalidToken.Err(err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

type ctxParticipantKeyType struct{}

var ctxParticipantKey ctxParticipantKeyType

func WithParticipant(ctx context.Context, participantID string) context.Context {
	return context.WithValue(ctx, ctxParticipantKey, participantID)
}

// ParticipantFromContext returns the authenticated participant id, or "".
func ParticipantFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxParticipantKey).(string); ok {
		return id
	}
	return ""
}
