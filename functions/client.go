// Package functions invokes the platform's edge functions.
package functions

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/altobase/altobase-go/transport"
)

// Client invokes edge functions at a project's functions endpoint.
type Client struct {
	url       string
	transport *transport.Client
	token     func() string
}

// NewClient creates a functions client. url is the functions root, e.g.
// https://project.example.com/functions/v1.
func NewClient(url string, tc *transport.Client, token func() string) *Client {
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{url: strings.TrimSuffix(url, "/"), transport: tc, token: token}
}

// Invoke calls the named function with a JSON-encoded body, decoding the JSON
// response into out. Pass nil body for an empty request and nil out to
// discard the response.
func (c *Client) Invoke(ctx context.Context, name string, body any, out any) error {
	return c.InvokeWithHeaders(ctx, name, body, nil, out)
}

// InvokeWithHeaders is Invoke with extra per-call headers, e.g. a region hint.
func (c *Client) InvokeWithHeaders(ctx context.Context, name string, body any, headers map[string]string, out any) error {
	req := transport.Request{
		Method:  http.MethodPost,
		URL:     c.url + "/" + name,
		Body:    body,
		Token:   c.token(),
		Headers: headers,
	}
	if err := c.transport.Do(ctx, req, out); err != nil {
		return fmt.Errorf("failed to invoke function %s: %w", name, err)
	}
	return nil
}
