package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// PKCE (Proof Key for Code Exchange) - RFC 7636
// Prevents authorization code interception attacks

// CodeChallengeMethod is the fixed challenge derivation identifier attached
// to outgoing PKCE requests.
const CodeChallengeMethod = "s256"

// GenerateCodeVerifier generates a new random PKCE code verifier.
func GenerateCodeVerifier() (string, error) {
	// 32 random bytes become 43 characters when base64url encoded
	verifierBytes := make([]byte, 32)
	if _, err := rand.Read(verifierBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(verifierBytes), nil
}

// CodeChallenge derives the challenge for a verifier:
// base64url(SHA-256(verifier)), no padding.
func CodeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
