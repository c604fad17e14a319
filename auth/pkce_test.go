package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCodeVerifier(t *testing.T) {
	v1, err := GenerateCodeVerifier()
	require.NoError(t, err)
	v2, err := GenerateCodeVerifier()
	require.NoError(t, err)

	assert.NotEqual(t, v1, v2)
	// 32 random bytes, base64url without padding.
	assert.Len(t, v1, 43)
	assert.NotContains(t, v1, "=")
	assert.NotContains(t, v1, "+")
	assert.NotContains(t, v1, "/")
}

func TestCodeChallenge(t *testing.T) {
	verifier := "test-verifier"
	sum := sha256.Sum256([]byte(verifier))
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	assert.Equal(t, want, CodeChallenge(verifier))
}

func TestCodeChallengeMethod(t *testing.T) {
	// The backend expects the lowercase form.
	assert.Equal(t, "s256", CodeChallengeMethod)
}
