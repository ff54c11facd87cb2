package auth

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	i, err := NewIssuer(testSecret, time.Hour, time.Minute)
	require.NoError(t, err)
	return i
}

func TestNewIssuerRejectsShortSecret(t *testing.T) {
	_, err := NewIssuer("short", time.Hour, 0)
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestMintAndValidate(t *testing.T) {
	i := newTestIssuer(t)
	id := NewParticipantID()

	token, expiry, err := i.Mint(id)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiry, 5*time.Second)

	got, err := i.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestMintRequiresParticipant(t *testing.T) {
	i := newTestIssuer(t)
	_, _, err := i.Mint(" ")
	assert.ErrorIs(t, err, ErrTokenGeneration)
}

func TestValidateRejects(t *testing.T) {
	i := newTestIssuer(t)
	valid, _, err := i.Mint("p-1")
	require.NoError(t, err)

	other, err := NewIssuer(strings.Repeat("z", 40), time.Hour, time.Minute)
	require.NoError(t, err)
	foreign, _, err := other.Mint("p-1")
	require.NoError(t, err)

	expired := newTestIssuer(t)
	expired.now = func() time.Time { return time.Now().Add(-3 * time.Hour) }
	stale, _, err := expired.Mint("p-1")
	require.NoError(t, err)

	unsigned, signErr := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    TokenIssuer,
		Subject:   "p-1",
		Audience:  jwt.ClaimStrings{TokenAudience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, signErr)

	wrongAudience, signErr := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    TokenIssuer,
		Subject:   "p-1",
		Audience:  jwt.ClaimStrings{"someone-else"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, signErr)

	noExpiry, signErr := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:   TokenIssuer,
		Subject:  "p-1",
		Audience: jwt.ClaimStrings{TokenAudience},
	}).SignedString([]byte(testSecret))
	require.NoError(t, signErr)

	tests := map[string]string{
		"garbage":        "not.a.token",
		"tampered":       valid + "x",
		"foreign secret": foreign,
		"expired":        stale,
		"alg none":       unsigned,
		"wrong audience": wrongAudience,
		"no expiry":      noExpiry,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := i.Validate(context.Background(), token)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.Equal(t, http.StatusUnauthorized, err.StatusCode())
		})
	}
}

func TestParticipantContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", ParticipantFromContext(ctx))
	assert.Equal(t, "p-9", ParticipantFromContext(WithParticipant(ctx, "p-9")))
}
