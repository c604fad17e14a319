// Package transport is the HTTP collaborator shared by the auth, postgrest,
// storage and functions packages. It handles JSON encoding/decoding, api-key
// and bearer-token header injection, request timeouts, and classification of
// failures into the retryable/non-retryable taxonomy.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const clientInfoHeader = "altobase-go"

// Client wraps an *http.Client with backend conventions.
type Client struct {
	http    *http.Client
	apiKey  string
	timeout time.Duration
	logger  *slog.Logger
}

// Config configures a transport Client. Zero values fall back to defaults.
type Config struct {
	// APIKey is sent as the apikey header on every request.
	APIKey string
	// HTTPClient overrides the underlying client. Defaults to a fresh
	// http.Client.
	HTTPClient *http.Client
	// RequestTimeout bounds each request. Defaults to 30 seconds.
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// New creates a transport Client.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{http: httpClient, apiKey: cfg.APIKey, timeout: timeout, logger: logger}
}

// Request describes one JSON API call.
type Request struct {
	Method string
	URL    string
	// Body is JSON-encoded when non-nil.
	Body any
	// RawBody is streamed as-is when non-nil; takes precedence over Body.
	RawBody io.Reader
	// Token is injected as "Authorization: Bearer <token>" when non-empty.
	// Leaving it empty omits the Authorization header entirely, which the
	// token-grant endpoints require.
	Token   string
	Headers map[string]string
	Query   map[string]string
}

// errorBody matches the backend's structured error responses. The auth
// service uses error/error_description, the data services use message/code.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Message          string `json:"msg"`
	AltMessage       string `json:"message"`
	Code             any    `json:"code"`
}

// Do executes the request and decodes the JSON response into out when out is
// non-nil. Failures are returned as *ServerError, *TimeoutError or
// *ConnError.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", req.URL, err)
	}
	return nil
}

// DoRaw executes the request and returns the raw response body. Used for
// non-JSON payloads such as object downloads.
func (c *Client) DoRaw(ctx context.Context, req Request) ([]byte, error) {
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(req.URL, err)
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, req Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	var body io.Reader
	switch {
	case req.RawBody != nil:
		body = req.RawBody
	case req.Body != nil:
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if len(req.Query) > 0 {
		q := httpReq.URL.Query()
		for k, v := range req.Query {
			q.Set(k, v)
		}
		httpReq.URL.RawQuery = q.Encode()
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("apikey", c.apiKey)
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	httpReq.Header.Set("X-Client-Info", clientInfoHeader)
	httpReq.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		cancel()
		return nil, classifyTransportError(req.URL, err)
	}
	if resp.StatusCode >= 400 {
		defer cancel()
		defer func() { _ = resp.Body.Close() }()
		return nil, c.parseErrorResponse(req.URL, resp)
	}
	resp.Body = &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnCloseBody releases the per-request timeout context when the caller
// finishes reading the body.
type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Close() error {
	b.cancel()
	return b.ReadCloser.Close()
}

func (c *Client) parseErrorResponse(url string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var parsed errorBody
	_ = json.Unmarshal(raw, &parsed)

	code := parsed.ErrorCode
	if code == "" {
		code = parsed.Error
	}
	if code == "" {
		if s, ok := parsed.Code.(string); ok {
			code = s
		}
	}
	if code == "" {
		code = http.StatusText(resp.StatusCode)
	}
	description := parsed.ErrorDescription
	if description == "" {
		description = parsed.Message
	}
	if description == "" {
		description = parsed.AltMessage
	}
	return &ServerError{
		Status:      resp.StatusCode,
		ErrorCode:   code,
		Description: description,
		URL:         url,
	}
}
