package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActorTokenRoundTrip(t *testing.T) {
	actor := uuid.New()
	token, err := SignActorToken(actor, "s3cret", time.Minute)
	require.NoError(t, err)

	got, err := ParseActorToken(token, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, actor, got)
}

func TestParseActorTokenRejects(t *testing.T) {
	actor := uuid.New()
	good, err := SignActorToken(actor, "s3cret", time.Minute)
	require.NoError(t, err)
	expired, err := SignActorToken(actor, "s3cret", -time.Hour)
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: actor.String()}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "cashier-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	cases := map[string]struct {
		token  string
		secret string
	}{
		"wrong secret": {good, "other"},
		"expired":      {expired, "s3cret"},
		"no expiry":    {noExpiry, "s3cret"},
		"bad subject":  {badSubject, "s3cret"},
		"garbage":      {"not.a.token", "s3cret"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseActorToken(tc.token, tc.secret)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
