package auth

import (
	"encoding/json"
	"time"
)

// Session is the bearer access token + refresh token pair plus expiry
// metadata identifying an authenticated user. Sessions are immutable values:
// every mutation goes through full replacement.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// ExpiresIn is the token lifetime in seconds as reported by the server.
	ExpiresIn int64  `json:"expires_in"`
	TokenType string `json:"token_type"`
	// ExpiresAt is derived at creation time as now + ExpiresIn. It is
	// persisted so sessions loaded from storage keep their original expiry.
	ExpiresAt            time.Time `json:"expires_at"`
	ProviderToken        string    `json:"provider_token,omitempty"`
	ProviderRefreshToken string    `json:"provider_refresh_token,omitempty"`
	User                 *UserInfo `json:"user,omitempty"`
}

// Expired reports whether the session has reached its expiry at the given
// instant. A session expiring exactly now counts as expired.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// WithUser returns a copy of the session with the user replaced.
func (s Session) WithUser(user *UserInfo) Session {
	s.User = user
	return s
}

// UserInfo is the server's representation of the authenticated user.
type UserInfo struct {
	ID               string          `json:"id"`
	Aud              string          `json:"aud,omitempty"`
	Role             string          `json:"role,omitempty"`
	Email            string          `json:"email,omitempty"`
	Phone            string          `json:"phone,omitempty"`
	EmailConfirmedAt *time.Time      `json:"email_confirmed_at,omitempty"`
	PhoneConfirmedAt *time.Time      `json:"phone_confirmed_at,omitempty"`
	LastSignInAt     *time.Time      `json:"last_sign_in_at,omitempty"`
	CreatedAt        *time.Time      `json:"created_at,omitempty"`
	UpdatedAt        *time.Time      `json:"updated_at,omitempty"`
	AppMetadata      json.RawMessage `json:"app_metadata,omitempty"`
	UserMetadata     json.RawMessage `json:"user_metadata,omitempty"`
}
