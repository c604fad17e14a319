package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func newClient(rt roundTripperFunc) *Client {
	return New(Config{APIKey: "test-key", HTTPClient: &http.Client{Transport: rt}})
}

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestDoSetsHeaders(t *testing.T) {
	var got *http.Request
	c := newClient(func(r *http.Request) (*http.Response, error) {
		got = r
		return respond(http.StatusOK, `{}`), nil
	})

	err := c.Do(context.Background(), Request{
		Method: http.MethodPost,
		URL:    "https://example.test/auth/v1/token",
		Body:   map[string]string{"refresh_token": "r1"},
		Token:  "a1",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "test-key", got.Header.Get("apikey"))
	assert.Equal(t, "Bearer a1", got.Header.Get("Authorization"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "altobase-go", got.Header.Get("X-Client-Info"))
	assert.NotEmpty(t, got.Header.Get("X-Request-Id"))
}

func TestDoOmitsAuthorizationWithoutToken(t *testing.T) {
	var got *http.Request
	c := newClient(func(r *http.Request) (*http.Response, error) {
		got = r
		return respond(http.StatusOK, `{}`), nil
	})

	err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: "https://example.test/x"}, nil)
	require.NoError(t, err)
	_, present := got.Header["Authorization"]
	assert.False(t, present, "token grants must not carry an Authorization header")
}

func TestDoClassifiesServerError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantDesc string
	}{
		{
			name:     "auth style",
			status:   401,
			body:     `{"error":"invalid_grant","error_description":"token revoked"}`,
			wantCode: "invalid_grant",
			wantDesc: "token revoked",
		},
		{
			name:     "error_code style",
			status:   422,
			body:     `{"error_code":"validation_failed","msg":"email required"}`,
			wantCode: "validation_failed",
			wantDesc: "email required",
		},
		{
			name:     "data service style",
			status:   400,
			body:     `{"code":"PGRST102","message":"parse error"}`,
			wantCode: "PGRST102",
			wantDesc: "parse error",
		},
		{
			name:     "unstructured",
			status:   500,
			body:     `boom`,
			wantCode: "Internal Server Error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(func(*http.Request) (*http.Response, error) {
				return respond(tt.status, tt.body), nil
			})
			err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: "https://example.test/x"}, nil)
			var se *ServerError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.Status)
			assert.Equal(t, tt.wantCode, se.ErrorCode)
			assert.Equal(t, tt.wantDesc, se.Description)
			assert.True(t, IsServerError(err))
		})
	}
}

func TestDoClassifiesConnError(t *testing.T) {
	c := newClient(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: "https://example.test/x"}, nil)
	var ce *ConnError
	require.ErrorAs(t, err, &ce)
	assert.False(t, IsServerError(err))
}

func TestDoClassifiesTimeout(t *testing.T) {
	c := newClient(func(*http.Request) (*http.Response, error) {
		return nil, context.DeadlineExceeded
	})
	err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: "https://example.test/x"}, nil)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.False(t, IsServerError(err))
}

func TestIsUnauthorized(t *testing.T) {
	assert.True(t, IsUnauthorized(&ServerError{Status: 401}))
	assert.False(t, IsUnauthorized(&ServerError{Status: 403}))
	assert.False(t, IsUnauthorized(errors.New("nope")))
}

func TestDoDecodesResponse(t *testing.T) {
	c := newClient(func(*http.Request) (*http.Response, error) {
		return respond(http.StatusOK, `{"name":"x"}`), nil
	})
	var out struct {
		Name string `json:"name"`
	}
	require.NoError(t, c.Do(context.Background(), Request{Method: http.MethodGet, URL: "https://example.test/x"}, &out))
	assert.Equal(t, "x", out.Name)
}

func TestDoRaw(t *testing.T) {
	c := newClient(func(*http.Request) (*http.Response, error) {
		return respond(http.StatusOK, "raw bytes"), nil
	})
	data, err := c.DoRaw(context.Background(), Request{Method: http.MethodGet, URL: "https://example.test/x"})
	require.NoError(t, err)
	assert.Equal(t, []byte("raw bytes"), data)
}

func TestDoAppliesQuery(t *testing.T) {
	var got *http.Request
	c := newClient(func(r *http.Request) (*http.Response, error) {
		got = r
		return respond(http.StatusOK, `{}`), nil
	})
	err := c.Do(context.Background(), Request{
		Method: http.MethodPost,
		URL:    "https://example.test/token",
		Query:  map[string]string{"grant_type": "refresh_token"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "refresh_token", got.URL.Query().Get("grant_type"))
}
