package auth

import (
	"log/slog"
	"time"

	"github.com/altobase/altobase-go/internal/clock"
	"github.com/altobase/altobase-go/transport"
)

// FlowType selects how browser-redirect logins exchange credentials.
type FlowType int

const (
	// FlowImplicit returns the session directly in the redirect fragment.
	FlowImplicit FlowType = iota
	// FlowPKCE returns an authorization code that must be exchanged together
	// with the locally cached code verifier.
	FlowPKCE
)

// defaultRetryDelay is how long the client waits before retrying a refresh
// that failed due to network issues.
const defaultRetryDelay = 10 * time.Second

// Config configures an auth Client. Transport and URL are required; every
// other field has a sensible default.
type Config struct {
	// URL is the resolved auth service base, e.g.
	// https://project.example.com/auth/v1.
	URL       string
	Transport *transport.Client

	// Store persists sessions across restarts. Defaults to an in-memory
	// store.
	Store SessionStore
	// CodeVerifierCache holds the transient PKCE verifier. Defaults to an
	// in-memory cache.
	CodeVerifierCache CodeVerifierCache

	// FlowType defaults to FlowImplicit.
	FlowType FlowType
	// RetryDelay between refresh attempts after a network failure. Defaults
	// to 10 seconds.
	RetryDelay time.Duration
	// AutoLoadFromStorage restores a persisted session on construction. The
	// client starts in LoadingFromStorage until the load settles.
	AutoLoadFromStorage bool

	Clock  clock.Clock
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Store == nil {
		c.Store = NewMemorySessionStore()
	}
	if c.CodeVerifierCache == nil {
		c.CodeVerifierCache = NewMemoryCodeVerifierCache()
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.Clock == nil {
		c.Clock = clock.System()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
