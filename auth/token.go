package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// claimsCacheSize bounds the parsed-claims cache. Tokens rotate once per
// refresh cycle, so a small cache covers every live token.
const claimsCacheSize = 32

// TokenClaims are the registered claims extracted from an access token.
type TokenClaims struct {
	Subject   string
	Email     string
	Role      string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

type rawClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

func newClaimsCache() *lru.Cache[string, TokenClaims] {
	cache, err := lru.New[string, TokenClaims](claimsCacheSize)
	if err != nil {
		// lru.New only fails on a non-positive size
		panic(err)
	}
	return cache
}

// ParseClaims extracts claims from the current or a given access token
// without verifying its signature. The server remains the authority on token
// validity; this is for reading expiry and identity client-side.
func (c *Client) ParseClaims(accessToken string) (TokenClaims, error) {
	if cached, ok := c.claimsCache.Get(accessToken); ok {
		return cached, nil
	}
	parser := jwt.NewParser()
	var raw rawClaims
	if _, _, err := parser.ParseUnverified(accessToken, &raw); err != nil {
		return TokenClaims{}, fmt.Errorf("failed to parse access token: %w", err)
	}
	claims := TokenClaims{
		Subject: raw.Subject,
		Email:   raw.Email,
		Role:    raw.Role,
	}
	if raw.ExpiresAt != nil {
		claims.ExpiresAt = raw.ExpiresAt.Time
	}
	if raw.IssuedAt != nil {
		claims.IssuedAt = raw.IssuedAt.Time
	}
	c.claimsCache.Add(accessToken, claims)
	return claims, nil
}

// VerifyAccessToken verifies a token's signature against the auth service's
// published JWKS and returns its claims. Only asymmetric keys are accepted;
// projects still on a shared HMAC secret cannot verify client-side.
func (c *Client) VerifyAccessToken(ctx context.Context, accessToken string) (TokenClaims, error) {
	set, err := jwk.Fetch(ctx, c.config.URL+"/.well-known/jwks.json")
	if err != nil {
		return TokenClaims{}, fmt.Errorf("failed to fetch JWKS: %w", err)
	}

	var raw rawClaims
	_, err = jwt.ParseWithClaims(accessToken, &raw, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no key id")
		}
		key, ok := set.LookupKeyID(kid)
		if !ok {
			return nil, fmt.Errorf("no key %q in JWKS", kid)
		}
		var pub any
		if err := key.Raw(&pub); err != nil {
			return nil, fmt.Errorf("failed to materialize JWK: %w", err)
		}
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA, *jwt.SigningMethodEd25519:
			return pub, nil
		default:
			return nil, fmt.Errorf("unexpected signing method %s", token.Method.Alg())
		}
	}, jwt.WithTimeFunc(c.clock.Now))
	if err != nil {
		return TokenClaims{}, fmt.Errorf("token verification failed: %w", err)
	}

	claims := TokenClaims{
		Subject: raw.Subject,
		Email:   raw.Email,
		Role:    raw.Role,
	}
	if raw.ExpiresAt != nil {
		claims.ExpiresAt = raw.ExpiresAt.Time
	}
	if raw.IssuedAt != nil {
		claims.IssuedAt = raw.IssuedAt.Time
	}
	return claims, nil
}
