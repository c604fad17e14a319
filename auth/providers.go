package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/altobase/altobase-go/transport"
)

// Credentials identify a user by email or phone plus password. Data is an
// optional JSON object stored as user metadata on sign-up.
type Credentials struct {
	Email    string
	Phone    string
	Password string
	Data     json.RawMessage
}

// OTPRequest asks the server to send a one-time password.
type OTPRequest struct {
	Email      string
	Phone      string
	CreateUser bool
	RedirectTo string
	Data       json.RawMessage
}

// EmailOTPType selects which kind of email OTP is being verified.
type EmailOTPType string

const (
	OTPEmail       EmailOTPType = "email"
	OTPMagicLink   EmailOTPType = "magiclink"
	OTPSignup      EmailOTPType = "signup"
	OTPInvite      EmailOTPType = "invite"
	OTPRecovery    EmailOTPType = "recovery"
	OTPEmailChange EmailOTPType = "email_change"
)

// PhoneOTPType selects which kind of phone OTP is being verified.
type PhoneOTPType string

const (
	OTPSMS         PhoneOTPType = "sms"
	OTPPhoneChange PhoneOTPType = "phone_change"
)

// SignUp registers a new user. When the project auto-confirms sign-ups the
// returned session is non-nil and has been imported; otherwise the session
// is nil and the user must confirm via the sent email or SMS first.
func (c *Client) SignUp(ctx context.Context, creds Credentials) (*Session, error) {
	body := map[string]any{"password": creds.Password}
	if err := putIdentifier(body, creds.Email, creds.Phone); err != nil {
		return nil, err
	}
	if creds.Data != nil {
		body["data"] = creds.Data
	}
	challenge, err := c.preparePKCE()
	if err != nil {
		return nil, err
	}
	if challenge != "" {
		body["code_challenge"] = challenge
		body["code_challenge_method"] = CodeChallengeMethod
	}
	var raw json.RawMessage
	if err := c.transport.Do(ctx, transportPost(c.config.URL+"/signup", body), &raw); err != nil {
		return nil, fmt.Errorf("sign-up failed: %w", err)
	}
	var session Session
	if err := json.Unmarshal(raw, &session); err == nil && session.AccessToken != "" {
		c.stampExpiry(&session)
		if err := c.ImportSession(ctx, session, true); err != nil {
			return nil, err
		}
		return &session, nil
	}
	return nil, nil
}

// SignInWithPassword authenticates with email/phone and password and imports
// the resulting session.
func (c *Client) SignInWithPassword(ctx context.Context, creds Credentials) error {
	body := map[string]any{"password": creds.Password}
	if err := putIdentifier(body, creds.Email, creds.Phone); err != nil {
		return err
	}
	var session Session
	req := transportPost(c.config.URL+"/token", body)
	req.Query = map[string]string{"grant_type": "password"}
	if err := c.transport.Do(ctx, req, &session); err != nil {
		return fmt.Errorf("password sign-in failed: %w", err)
	}
	c.stampExpiry(&session)
	return c.ImportSession(ctx, session, true)
}

// SendOTP sends a one-time password to the given email or phone. Under the
// PKCE flow this also generates and caches a fresh code verifier and
// attaches its challenge.
func (c *Client) SendOTP(ctx context.Context, otp OTPRequest) error {
	body := map[string]any{"create_user": otp.CreateUser}
	if err := putIdentifier(body, otp.Email, otp.Phone); err != nil {
		return err
	}
	if otp.Data != nil {
		body["data"] = otp.Data
	}
	challenge, err := c.preparePKCE()
	if err != nil {
		return err
	}
	if challenge != "" {
		body["code_challenge"] = challenge
		body["code_challenge_method"] = CodeChallengeMethod
	}
	req := transportPost(c.config.URL+"/otp", body)
	if otp.RedirectTo != "" {
		req.Query = map[string]string{"redirect_to": otp.RedirectTo}
	}
	if err := c.transport.Do(ctx, req, nil); err != nil {
		return fmt.Errorf("failed to send OTP: %w", err)
	}
	return nil
}

// VerifyEmailOTP verifies an email OTP and imports the resulting session.
func (c *Client) VerifyEmailOTP(ctx context.Context, otpType EmailOTPType, email, token string) error {
	return c.verify(ctx, string(otpType), token, map[string]any{"email": email})
}

// VerifyPhoneOTP verifies a phone OTP and imports the resulting session.
func (c *Client) VerifyPhoneOTP(ctx context.Context, otpType PhoneOTPType, phone, token string) error {
	return c.verify(ctx, string(otpType), token, map[string]any{"phone": phone})
}

func (c *Client) verify(ctx context.Context, otpType, token string, extra map[string]any) error {
	body := map[string]any{"type": otpType, "token": token}
	for k, v := range extra {
		body[k] = v
	}
	var session Session
	if err := c.transport.Do(ctx, transportPost(c.config.URL+"/verify", body), &session); err != nil {
		return fmt.Errorf("OTP verification failed: %w", err)
	}
	c.stampExpiry(&session)
	return c.ImportSession(ctx, session, true)
}

// SendRecoveryEmail sends a password recovery email.
func (c *Client) SendRecoveryEmail(ctx context.Context, email, redirectTo string) error {
	req := transportPost(c.config.URL+"/recover", map[string]any{"email": email})
	if redirectTo != "" {
		req.Query = map[string]string{"redirect_to": redirectTo}
	}
	if err := c.transport.Do(ctx, req, nil); err != nil {
		return fmt.Errorf("failed to send recovery email: %w", err)
	}
	return nil
}

// OAuthURLParams customize the authorize URL.
type OAuthURLParams struct {
	Scopes      []string
	QueryParams map[string]string
}

// OAuthURL builds the browser URL that starts an OAuth sign-in with the
// given provider. Under the PKCE flow a fresh code verifier is generated and
// cached, and its challenge attached to the URL. The platform adapter that
// owns the redirect should hand the returned code to
// ExchangeCodeForSession.
func (c *Client) OAuthURL(provider, redirectTo string, params OAuthURLParams) (string, error) {
	query := url.Values{}
	query.Set("provider", provider)
	if redirectTo != "" {
		query.Set("redirect_to", redirectTo)
	}
	if len(params.Scopes) > 0 {
		query.Set("scopes", strings.Join(params.Scopes, " "))
	}
	for k, v := range params.QueryParams {
		query.Set(k, v)
	}
	challenge, err := c.preparePKCE()
	if err != nil {
		return "", err
	}
	if challenge != "" {
		query.Set("code_challenge", challenge)
		query.Set("code_challenge_method", CodeChallengeMethod)
	}
	return c.config.URL + "/authorize?" + query.Encode(), nil
}

// ParseSessionFromFragment parses the session a redirect URL carries in its
// hash fragment under the implicit flow. The user field is not part of the
// fragment; fetch it with RetrieveUser if needed.
func (c *Client) ParseSessionFromFragment(fragment string) (*Session, error) {
	values, err := url.ParseQuery(fragment)
	if err != nil {
		return nil, fmt.Errorf("malformed fragment: %w", err)
	}
	session := Session{
		AccessToken:          values.Get("access_token"),
		RefreshToken:         values.Get("refresh_token"),
		TokenType:            values.Get("token_type"),
		ProviderToken:        values.Get("provider_token"),
		ProviderRefreshToken: values.Get("provider_refresh_token"),
	}
	if session.AccessToken == "" {
		return nil, errors.New("no access token in fragment")
	}
	if session.RefreshToken == "" {
		return nil, errors.New("no refresh token in fragment")
	}
	if session.TokenType == "" {
		return nil, errors.New("no token type in fragment")
	}
	if _, err := fmt.Sscanf(values.Get("expires_in"), "%d", &session.ExpiresIn); err != nil {
		return nil, errors.New("no expires_in in fragment")
	}
	c.stampExpiry(&session)
	return &session, nil
}

// ParseSessionFromURL parses a session from a full redirect URL's fragment.
func (c *Client) ParseSessionFromURL(raw string) (*Session, error) {
	_, fragment, found := strings.Cut(raw, "#")
	if !found {
		return nil, errors.New("url has no fragment")
	}
	return c.ParseSessionFromFragment(fragment)
}

func putIdentifier(body map[string]any, email, phone string) error {
	switch {
	case email != "":
		body["email"] = email
	case phone != "":
		body["phone"] = phone
	default:
		return errors.New("either email or phone must be set")
	}
	return nil
}

func transportPost(url string, body any) transport.Request {
	return transport.Request{Method: http.MethodPost, URL: url, Body: body}
}
