package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altobase/altobase-go/internal/clock"
)

func signedTestToken(t *testing.T, subject, email, role string, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   subject,
		"email": email,
		"role":  role,
		"exp":   expiresAt.Unix(),
		"iat":   expiresAt.Add(-time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestParseClaims(t *testing.T) {
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	c := newTestClient(t, fc, &fakeAuthServer{}, nil)

	expiresAt := time.Unix(1_700_003_600, 0)
	token := signedTestToken(t, "user-1", "u@example.test", "authenticated", expiresAt)

	claims, err := c.ParseClaims(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "u@example.test", claims.Email)
	assert.Equal(t, "authenticated", claims.Role)
	assert.Equal(t, expiresAt.Unix(), claims.ExpiresAt.Unix())

	// Second parse is served from the cache and must agree.
	again, err := c.ParseClaims(token)
	require.NoError(t, err)
	assert.Equal(t, claims, again)
}

func TestParseClaimsRejectsGarbage(t *testing.T) {
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	c := newTestClient(t, fc, &fakeAuthServer{}, nil)

	_, err := c.ParseClaims("not-a-jwt")
	assert.Error(t, err)
}
