// Package auth binds the platform's authentication service: password, OTP
// and OAuth sign-in, PKCE code exchange, and the session lifecycle with
// automatic token refresh.
//
// The Client is a long-lived state machine holding exactly one current
// SessionStatus. All transitions go through ImportSession, Logout or the
// background refresh task; callers observe them via WatchStatus.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/altobase/altobase-go/internal/clock"
	"github.com/altobase/altobase-go/internal/watch"
	"github.com/altobase/altobase-go/transport"
)

// ErrNoCurrentSession is returned by operations that require an
// authenticated session when none is present. Programmer misuse: fail fast,
// never retried.
var ErrNoCurrentSession = errors.New("no current session")

// Client drives the auth state machine.
type Client struct {
	config    Config
	transport *transport.Client
	store     SessionStore
	verifiers CodeVerifierCache
	clock     clock.Clock
	logger    *slog.Logger

	status      *watch.Value[SessionStatus]
	claimsCache *lru.Cache[string, TokenClaims]
	refreshes   singleflight.Group

	// ctx bounds every background task; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	// timerMu guards the single refresh-timer slot. Starting a new timer
	// atomically cancels the previous one.
	timerMu     sync.Mutex
	cancelTimer context.CancelFunc
}

// NewClient creates an auth Client. Call Close when done to stop background
// refresh tasks.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	var initial SessionStatus = NotAuthenticated{}
	if cfg.AutoLoadFromStorage {
		initial = LoadingFromStorage{}
	}
	c := &Client{
		config:      cfg,
		transport:   cfg.Transport,
		store:       cfg.Store,
		verifiers:   cfg.CodeVerifierCache,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		status:      watch.New(initial),
		claimsCache: newClaimsCache(),
		ctx:         ctx,
		cancel:      cancel,
	}
	if cfg.AutoLoadFromStorage {
		go func() {
			found, err := c.LoadFromStorage(c.ctx, true)
			if err != nil {
				c.logger.Warn("failed to restore session from storage", "error", err)
			}
			if !found {
				c.setStatus(NotAuthenticated{})
			}
		}()
	}
	return c
}

// Close cancels the refresh timer and every background task owned by the
// client.
func (c *Client) Close() {
	c.cancelRefreshTimer()
	c.cancel()
}

// Status returns the current session status.
func (c *Client) Status() SessionStatus { return c.status.Get() }

// WatchStatus subscribes to status transitions. The channel immediately
// yields the current status; the cancel func unsubscribes.
func (c *Client) WatchStatus() (<-chan SessionStatus, func()) { return c.status.Subscribe() }

// CurrentSession returns the current session, or nil when not authenticated.
func (c *Client) CurrentSession() *Session {
	if authenticated, ok := c.status.Get().(Authenticated); ok {
		session := authenticated.Session
		return &session
	}
	return nil
}

// AccessToken returns the current access token, or "" when not
// authenticated.
func (c *Client) AccessToken() string {
	if s := c.CurrentSession(); s != nil {
		return s.AccessToken
	}
	return ""
}

// ImportSession installs a session as the current one.
//
// With autoRefresh disabled the session becomes current immediately and is
// persisted (when it carries a refresh token and expiry); no timer is
// scheduled. With autoRefresh enabled, an already-expired session is
// refreshed immediately: server rejection logs the user out (the refresh
// token was revoked), a network failure sets NetworkError and retries the
// import after the configured delay until success, revocation or ctx
// cancellation. A live session becomes current, is persisted, and a one-shot
// refresh task is scheduled for its expiry, replacing any previous one.
func (c *Client) ImportSession(ctx context.Context, session Session, autoRefresh bool) error {
	// A session without a refresh token can never be refreshed.
	if session.RefreshToken == "" {
		autoRefresh = false
	}
	if !autoRefresh {
		c.setStatus(Authenticated{Session: session})
		if session.RefreshToken != "" && session.ExpiresIn != 0 {
			c.persist(session)
		}
		return nil
	}
	if session.Expired(c.clock.Now()) {
		c.logger.Debug("imported session already expired, refreshing")
		return c.refreshAndImport(ctx, session)
	}
	c.setStatus(Authenticated{Session: session})
	c.persist(session)
	c.scheduleRefresh(session)
	return nil
}

// refreshAndImport exchanges the session's refresh token for a new session
// and imports it. Network failures are retried indefinitely with RetryDelay
// between attempts, always against the original refresh token. A server
// rejection means the token is dead: log out and stop.
func (c *Client) refreshAndImport(ctx context.Context, session Session) error {
	if session.RefreshToken == "" {
		return fmt.Errorf("session has no refresh token: %w", ErrNoCurrentSession)
	}
	for {
		newSession, err := c.RefreshSession(ctx, session.RefreshToken)
		if err == nil {
			return c.ImportSession(ctx, *newSession, true)
		}
		if transport.IsServerError(err) {
			c.logger.Warn("session refresh rejected by server, logging out; the refresh token may have been revoked", "error", err)
			return c.Logout(ctx)
		}
		c.logger.Warn("could not reach auth service to refresh session, retrying",
			"retry_delay", c.config.RetryDelay, "error", err)
		c.setStatus(NetworkError{})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(c.config.RetryDelay):
		}
	}
}

// scheduleRefresh arms the single refresh-timer slot for the session's
// expiry, cancelling any previously armed timer.
func (c *Client) scheduleRefresh(session Session) {
	c.timerMu.Lock()
	if c.cancelTimer != nil {
		c.cancelTimer()
	}
	timerCtx, cancel := context.WithCancel(c.ctx)
	c.cancelTimer = cancel
	c.timerMu.Unlock()

	wait := session.ExpiresAt.Sub(c.clock.Now())
	go func() {
		select {
		case <-timerCtx.Done():
			return
		case <-c.clock.After(wait):
		}
		// The timer may fire in the same instant it is superseded; the
		// cancelled slot must never refresh.
		if timerCtx.Err() != nil {
			return
		}
		c.logger.Debug("session expired, refreshing")
		if err := c.refreshAndImport(timerCtx, session); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("background session refresh stopped", "error", err)
		}
	}()
}

func (c *Client) cancelRefreshTimer() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.cancelTimer != nil {
		c.cancelTimer()
		c.cancelTimer = nil
	}
}

// StopAutoRefresh cancels the pending refresh task, if any, leaving the
// current session in place.
func (c *Client) StopAutoRefresh() { c.cancelRefreshTimer() }

// RefreshSession exchanges a refresh token for a new session. The old
// Authorization header is never forwarded. Concurrent refreshes of the same
// token are coalesced into one request. The result is not imported; use
// RefreshCurrentSession or ImportSession for that.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	result, err, _ := c.refreshes.Do(refreshToken, func() (any, error) {
		var session Session
		err := c.transport.Do(ctx, transport.Request{
			Method: http.MethodPost,
			URL:    c.config.URL + "/token",
			Query:  map[string]string{"grant_type": "refresh_token"},
			Body:   map[string]string{"refresh_token": refreshToken},
		}, &session)
		if err != nil {
			return nil, err
		}
		c.stampExpiry(&session)
		return &session, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	session := result.(*Session)
	copied := *session
	return &copied, nil
}

// RefreshCurrentSession refreshes and imports the current session.
func (c *Client) RefreshCurrentSession(ctx context.Context) error {
	session := c.CurrentSession()
	if session == nil {
		return ErrNoCurrentSession
	}
	newSession, err := c.RefreshSession(ctx, session.RefreshToken)
	if err != nil {
		return err
	}
	return c.ImportSession(ctx, *newSession, true)
}

// ExchangeCodeForSession exchanges a PKCE authorization code for a session
// and imports it. The cached code verifier is single-use: it is consumed
// before the exchange, so a failed exchange still requires starting a new
// sign-in flow.
func (c *Client) ExchangeCodeForSession(ctx context.Context, code string) (*Session, error) {
	verifier, loadErr := c.verifiers.Load()
	if err := c.verifiers.Delete(); err != nil {
		c.logger.Warn("failed to clear code verifier cache", "error", err)
	}
	if loadErr != nil {
		return nil, loadErr
	}
	var session Session
	err := c.transport.Do(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    c.config.URL + "/token",
		Query:  map[string]string{"grant_type": "pkce"},
		Body: map[string]string{
			"auth_code":     code,
			"code_verifier": verifier,
		},
	}, &session)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for session: %w", err)
	}
	c.stampExpiry(&session)
	if err := c.ImportSession(ctx, session, true); err != nil {
		return nil, err
	}
	return &session, nil
}

// Logout signs out: the server-side sign-out is best-effort, the persisted
// session is deleted, the refresh timer cancelled and the status reset to
// NotAuthenticated. Safe to call repeatedly.
func (c *Client) Logout(ctx context.Context) error {
	if session := c.CurrentSession(); session != nil {
		err := c.transport.Do(ctx, transport.Request{
			Method: http.MethodPost,
			URL:    c.config.URL + "/logout",
			Token:  session.AccessToken,
		}, nil)
		if err != nil {
			c.logger.Debug("server-side sign-out failed", "error", err)
		}
	}
	if err := c.store.Delete(); err != nil {
		c.logger.Warn("failed to delete persisted session", "error", err)
	}
	c.cancelRefreshTimer()
	c.setStatus(NotAuthenticated{})
	return nil
}

// LoadFromStorage restores a persisted session, importing it when found.
// Returns whether a session was present.
func (c *Client) LoadFromStorage(ctx context.Context, autoRefresh bool) (bool, error) {
	session, err := c.store.Load()
	if errors.Is(err, ErrNoSession) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := c.ImportSession(ctx, *session, autoRefresh); err != nil {
		return true, err
	}
	return true, nil
}

// RetrieveUser fetches the user behind an access token.
func (c *Client) RetrieveUser(ctx context.Context, accessToken string) (*UserInfo, error) {
	var user UserInfo
	err := c.transport.Do(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    c.config.URL + "/user",
		Token:  accessToken,
	}, &user)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve user: %w", err)
	}
	return &user, nil
}

// RetrieveUserForCurrentSession fetches the current user from the server.
// With updateSession the user is folded into the current session and
// persisted.
func (c *Client) RetrieveUserForCurrentSession(ctx context.Context, updateSession bool) (*UserInfo, error) {
	session := c.CurrentSession()
	if session == nil {
		return nil, ErrNoCurrentSession
	}
	user, err := c.RetrieveUser(ctx, session.AccessToken)
	if err != nil {
		return nil, err
	}
	if updateSession {
		updated := session.WithUser(user)
		c.setStatus(Authenticated{Session: updated})
		c.persist(updated)
	}
	return user, nil
}

func (c *Client) setStatus(status SessionStatus) { c.status.Set(status) }

// persist saves the session, logging failures. The in-memory session stays
// authoritative when persistence fails.
func (c *Client) persist(session Session) {
	if err := c.store.Save(session); err != nil {
		c.logger.Warn("failed to persist session; in-memory session remains authoritative", "error", err)
	}
}

// stampExpiry derives ExpiresAt from ExpiresIn at creation time.
func (c *Client) stampExpiry(session *Session) {
	session.ExpiresAt = c.clock.Now().Add(time.Duration(session.ExpiresIn) * time.Second)
}

// preparePKCE generates and caches a fresh code verifier and returns its
// challenge when the configured flow is PKCE. Returns "" for the implicit
// flow.
func (c *Client) preparePKCE() (string, error) {
	if c.config.FlowType != FlowPKCE {
		return "", nil
	}
	verifier, err := GenerateCodeVerifier()
	if err != nil {
		return "", err
	}
	if err := c.verifiers.Save(verifier); err != nil {
		return "", fmt.Errorf("failed to cache code verifier: %w", err)
	}
	return CodeChallenge(verifier), nil
}
