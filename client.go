// Package altobase is the entry point of the SDK. A Client bundles the auth,
// realtime, postgrest, storage and functions clients behind one project URL
// and api key, wiring them together so the data services always send the
// current access token and the realtime connection follows the auth session.
package altobase

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/altobase/altobase-go/auth"
	"github.com/altobase/altobase-go/functions"
	"github.com/altobase/altobase-go/postgrest"
	"github.com/altobase/altobase-go/realtime"
	"github.com/altobase/altobase-go/storage"
	"github.com/altobase/altobase-go/transport"
)

// Config configures a Client. URL and APIKey are required. The env tags are
// read by NewClientFromEnv.
type Config struct {
	// URL is the project base URL, e.g. https://project.example.com.
	URL string `env:"ALTOBASE_URL"`
	// APIKey is the project's public api key.
	APIKey string `env:"ALTOBASE_API_KEY"`

	// RequestTimeout bounds each HTTP request. Defaults to 30 seconds.
	RequestTimeout time.Duration `env:"ALTOBASE_REQUEST_TIMEOUT"`
	// FlowType selects implicit or pkce for browser-redirect logins.
	FlowType auth.FlowType `env:"-"`
	// AutoLoadFromStorage restores a persisted session on construction.
	AutoLoadFromStorage bool `env:"ALTOBASE_AUTO_LOAD_SESSION"`

	// SessionStore persists auth sessions. Defaults to in-memory.
	SessionStore auth.SessionStore `env:"-"`
	// DisconnectOnSessionLoss tears down the realtime connection when the
	// auth session is lost. Defaults to true.
	DisconnectOnSessionLoss *bool `env:"-"`

	HTTPClient *http.Client `env:"-"`
	Logger     *slog.Logger `env:"-"`
}

// Client is the composed SDK entry point.
type Client struct {
	Auth      *auth.Client
	Realtime  *realtime.Client
	Postgrest *postgrest.Client
	Storage   *storage.Client
	Functions *functions.Client

	transport *transport.Client
}

// NewClient creates a fully wired Client for one project.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("project URL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("api key is required")
	}
	base := strings.TrimSuffix(cfg.URL, "/")
	wsURL, err := realtimeURL(base)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tc := transport.New(transport.Config{
		APIKey:         cfg.APIKey,
		HTTPClient:     cfg.HTTPClient,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})

	authClient := auth.NewClient(auth.Config{
		URL:                 base + "/auth/v1",
		Transport:           tc,
		Store:               cfg.SessionStore,
		FlowType:            cfg.FlowType,
		AutoLoadFromStorage: cfg.AutoLoadFromStorage,
		Logger:              logger,
	})

	realtimeClient := realtime.NewClient(realtime.Config{
		URL:                     wsURL,
		APIKey:                  cfg.APIKey,
		DisconnectOnSessionLoss: cfg.DisconnectOnSessionLoss,
		Session:                 authClient,
		Logger:                  logger,
	})

	token := authClient.AccessToken
	return &Client{
		Auth:      authClient,
		Realtime:  realtimeClient,
		Postgrest: postgrest.NewClient(base+"/rest/v1", tc, token),
		Storage:   storage.NewClient(base+"/storage/v1", tc, token),
		Functions: functions.NewClient(base+"/functions/v1", tc, token),
		transport: tc,
	}, nil
}

// NewClientFromEnv builds a Client from ALTOBASE_* environment variables.
func NewClientFromEnv() (*Client, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return NewClient(cfg)
}

// Close releases the realtime connection and stops the auth refresh loop.
func (c *Client) Close() {
	c.Realtime.Close()
	c.Auth.Close()
}

// realtimeURL derives the websocket endpoint from the project base URL.
func realtimeURL(base string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid project URL: %w", err)
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http":
		parsed.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported project URL scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/") + "/realtime/v1/websocket"
	return parsed.String(), nil
}
