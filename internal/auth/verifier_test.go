package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signHMAC(t *testing.T, secret string, claims tokenClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func TestHMACVerifier(t *testing.T) {
	v, err := NewHMACVerifier("s3cret", "watchparty")
	require.NoError(t, err)
	ctx := context.Background()
	valid := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "watchparty",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: "u1@example.com",
	}

	t.Run("valid token", func(t *testing.T) {
		id, err := v.Verify(ctx, "user-1", signHMAC(t, "s3cret", valid))
		require.NoError(t, err)
		assert.Equal(t, "user-1", id.UID)
		assert.Equal(t, "u1@example.com", id.Email)
	})

	t.Run("subject mismatch", func(t *testing.T) {
		_, err := v.Verify(ctx, "user-2", signHMAC(t, "s3cret", valid))
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := v.Verify(ctx, "user-1", signHMAC(t, "other", valid))
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})

	t.Run("expired", func(t *testing.T) {
		expired := valid
		expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		_, err := v.Verify(ctx, "user-1", signHMAC(t, "s3cret", expired))
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := valid
		other.Issuer = "someone-else"
		_, err := v.Verify(ctx, "user-1", signHMAC(t, "s3cret", other))
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := v.Verify(ctx, "", "")
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})
}

func TestNewHMACVerifier_RequiresSecret(t *testing.T) {
	_, err := NewHMACVerifier("", "")
	assert.Error(t, err)
}
