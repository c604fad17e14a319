package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altobase/altobase-go/internal/clock"
	"github.com/altobase/altobase-go/transport"
)

// recordingServer captures every request and answers from a per-path table.
type recordingServer struct {
	mu        sync.Mutex
	requests  []*http.Request
	bodies    []map[string]any
	responses map[string]string
}

func (s *recordingServer) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var body map[string]any
	if req.Body != nil {
		_ = json.NewDecoder(req.Body).Decode(&body)
	}
	s.requests = append(s.requests, req)
	s.bodies = append(s.bodies, body)
	if resp, ok := s.responses[req.URL.Path]; ok {
		return jsonResponse(http.StatusOK, resp), nil
	}
	return jsonResponse(http.StatusOK, `{}`), nil
}

func (s *recordingServer) last() (*http.Request, map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1], s.bodies[len(s.bodies)-1]
}

func newProviderClient(t *testing.T, server *recordingServer, mutate func(*Config)) (*Client, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	cfg := Config{
		URL:       testAuthURL,
		Transport: transport.New(transport.Config{HTTPClient: &http.Client{Transport: server}}),
		Clock:     fc,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c := NewClient(cfg)
	t.Cleanup(c.Close)
	return c, fc
}

func TestSignInWithPassword(t *testing.T) {
	server := &recordingServer{responses: map[string]string{
		"/auth/v1/token": sessionJSON("a1", "r1", 3600),
	}}
	c, _ := newProviderClient(t, server, nil)

	err := c.SignInWithPassword(context.Background(), Credentials{Email: "u@example.test", Password: "pw"})
	require.NoError(t, err)

	req, body := server.last()
	assert.Equal(t, "password", req.URL.Query().Get("grant_type"))
	assert.Equal(t, "u@example.test", body["email"])
	assert.Equal(t, "pw", body["password"])
	assert.Equal(t, "a1", c.AccessToken())
}

func TestSignInRequiresIdentifier(t *testing.T) {
	c, _ := newProviderClient(t, &recordingServer{}, nil)
	err := c.SignInWithPassword(context.Background(), Credentials{Password: "pw"})
	assert.Error(t, err)
}

func TestSignUpAutoConfirmed(t *testing.T) {
	server := &recordingServer{responses: map[string]string{
		"/auth/v1/signup": sessionJSON("a1", "r1", 3600),
	}}
	c, _ := newProviderClient(t, server, nil)

	session, err := c.SignUp(context.Background(), Credentials{Email: "u@example.test", Password: "pw"})
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "a1", session.AccessToken)
	assert.Equal(t, "a1", c.AccessToken(), "auto-confirmed sign-up imports the session")
}

func TestSignUpPendingConfirmation(t *testing.T) {
	server := &recordingServer{responses: map[string]string{
		"/auth/v1/signup": `{"id":"user-1","email":"u@example.test"}`,
	}}
	c, _ := newProviderClient(t, server, nil)

	session, err := c.SignUp(context.Background(), Credentials{Email: "u@example.test", Password: "pw"})
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.Empty(t, c.AccessToken())
}

func TestSignUpAttachesPKCEChallenge(t *testing.T) {
	server := &recordingServer{}
	verifiers := NewMemoryCodeVerifierCache()
	c, _ := newProviderClient(t, server, func(cfg *Config) {
		cfg.FlowType = FlowPKCE
		cfg.CodeVerifierCache = verifiers
	})

	_, err := c.SignUp(context.Background(), Credentials{Email: "u@example.test", Password: "pw"})
	require.NoError(t, err)

	_, body := server.last()
	challenge, _ := body["code_challenge"].(string)
	require.NotEmpty(t, challenge)
	assert.Equal(t, "s256", body["code_challenge_method"])

	verifier, err := verifiers.Load()
	require.NoError(t, err)
	assert.Equal(t, CodeChallenge(verifier), challenge)
}

func TestSendOTP(t *testing.T) {
	server := &recordingServer{}
	c, _ := newProviderClient(t, server, nil)

	err := c.SendOTP(context.Background(), OTPRequest{
		Email:      "u@example.test",
		CreateUser: true,
		RedirectTo: "app://done",
	})
	require.NoError(t, err)

	req, body := server.last()
	assert.Equal(t, "/auth/v1/otp", req.URL.Path)
	assert.Equal(t, "app://done", req.URL.Query().Get("redirect_to"))
	assert.Equal(t, true, body["create_user"])
	assert.Equal(t, "u@example.test", body["email"])
}

func TestVerifyEmailOTP(t *testing.T) {
	server := &recordingServer{responses: map[string]string{
		"/auth/v1/verify": sessionJSON("a1", "r1", 3600),
	}}
	c, _ := newProviderClient(t, server, nil)

	err := c.VerifyEmailOTP(context.Background(), OTPMagicLink, "u@example.test", "123456")
	require.NoError(t, err)

	req, body := server.last()
	assert.Equal(t, "/auth/v1/verify", req.URL.Path)
	assert.Equal(t, "magiclink", body["type"])
	assert.Equal(t, "123456", body["token"])
	assert.Equal(t, "u@example.test", body["email"])
	assert.Equal(t, "a1", c.AccessToken())
}

func TestVerifyPhoneOTP(t *testing.T) {
	server := &recordingServer{responses: map[string]string{
		"/auth/v1/verify": sessionJSON("a1", "r1", 3600),
	}}
	c, _ := newProviderClient(t, server, nil)

	err := c.VerifyPhoneOTP(context.Background(), OTPSMS, "+15550100", "123456")
	require.NoError(t, err)

	_, body := server.last()
	assert.Equal(t, "sms", body["type"])
	assert.Equal(t, "+15550100", body["phone"])
}

func TestSendRecoveryEmail(t *testing.T) {
	server := &recordingServer{}
	c, _ := newProviderClient(t, server, nil)

	require.NoError(t, c.SendRecoveryEmail(context.Background(), "u@example.test", "app://reset"))
	req, body := server.last()
	assert.Equal(t, "/auth/v1/recover", req.URL.Path)
	assert.Equal(t, "app://reset", req.URL.Query().Get("redirect_to"))
	assert.Equal(t, "u@example.test", body["email"])
}

func TestOAuthURL(t *testing.T) {
	verifiers := NewMemoryCodeVerifierCache()
	c, _ := newProviderClient(t, &recordingServer{}, func(cfg *Config) {
		cfg.FlowType = FlowPKCE
		cfg.CodeVerifierCache = verifiers
	})

	raw, err := c.OAuthURL("github", "app://done", OAuthURLParams{
		Scopes:      []string{"repo", "user"},
		QueryParams: map[string]string{"prompt": "consent"},
	})
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/auth/v1/authorize", parsed.Path)
	q := parsed.Query()
	assert.Equal(t, "github", q.Get("provider"))
	assert.Equal(t, "app://done", q.Get("redirect_to"))
	assert.Equal(t, "repo user", q.Get("scopes"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "s256", q.Get("code_challenge_method"))

	verifier, err := verifiers.Load()
	require.NoError(t, err)
	assert.Equal(t, CodeChallenge(verifier), q.Get("code_challenge"))
}

func TestParseSessionFromURL(t *testing.T) {
	c, fc := newProviderClient(t, &recordingServer{}, nil)

	session, err := c.ParseSessionFromURL(
		"app://done#access_token=a1&refresh_token=r1&token_type=bearer&expires_in=3600&provider_token=pt")
	require.NoError(t, err)
	assert.Equal(t, "a1", session.AccessToken)
	assert.Equal(t, "r1", session.RefreshToken)
	assert.Equal(t, "bearer", session.TokenType)
	assert.Equal(t, "pt", session.ProviderToken)
	assert.Equal(t, int64(3600), session.ExpiresIn)
	assert.Equal(t, fc.Now().Add(time.Hour), session.ExpiresAt)
}

func TestParseSessionFromFragmentRejectsIncomplete(t *testing.T) {
	c, _ := newProviderClient(t, &recordingServer{}, nil)

	cases := []string{
		"refresh_token=r1&token_type=bearer&expires_in=3600",
		"access_token=a1&token_type=bearer&expires_in=3600",
		"access_token=a1&refresh_token=r1&expires_in=3600",
		"access_token=a1&refresh_token=r1&token_type=bearer",
	}
	for _, fragment := range cases {
		_, err := c.ParseSessionFromFragment(fragment)
		assert.Error(t, err, fragment)
	}

	_, err := c.ParseSessionFromURL("app://done-without-fragment")
	assert.Error(t, err)
}

func TestRetrieveUserForCurrentSession(t *testing.T) {
	server := &recordingServer{responses: map[string]string{
		"/auth/v1/user": `{"id":"user-1","email":"u@example.test"}`,
	}}
	store := NewMemorySessionStore()
	c, fc := newProviderClient(t, server, func(cfg *Config) { cfg.Store = store })

	require.NoError(t, c.ImportSession(context.Background(), testSession(fc, "a1", "r1", time.Hour), false))
	user, err := c.RetrieveUserForCurrentSession(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)

	req, _ := server.last()
	assert.Equal(t, "Bearer a1", req.Header.Get("Authorization"))

	current := c.CurrentSession()
	require.NotNil(t, current.User)
	assert.Equal(t, "user-1", current.User.ID)
	persisted, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, persisted.User)
	assert.Equal(t, "user-1", persisted.User.ID)
}

func TestRetrieveUserWithoutSession(t *testing.T) {
	c, _ := newProviderClient(t, &recordingServer{}, nil)
	_, err := c.RetrieveUserForCurrentSession(context.Background(), false)
	assert.ErrorIs(t, err, ErrNoCurrentSession)
}
