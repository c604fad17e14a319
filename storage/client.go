// Package storage is a client for the platform's object storage service.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/altobase/altobase-go/transport"
)

// Client issues requests against a project's storage endpoint.
type Client struct {
	url       string
	transport *transport.Client
	token     func() string
}

// NewClient creates a storage client. url is the storage root, e.g.
// https://project.example.com/storage/v1.
func NewClient(url string, tc *transport.Client, token func() string) *Client {
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{url: strings.TrimSuffix(url, "/"), transport: tc, token: token}
}

// From scopes operations to a bucket.
func (c *Client) From(bucket string) *Bucket {
	return &Bucket{client: c, id: bucket}
}

// Bucket performs object operations within a single bucket.
type Bucket struct {
	client *Client
	id     string
}

// UploadOptions customize an upload.
type UploadOptions struct {
	ContentType string
	// Upsert overwrites an existing object instead of failing.
	Upsert bool
}

func (b *Bucket) objectURL(path string) string {
	return b.client.url + "/object/" + b.id + "/" + strings.TrimPrefix(path, "/")
}

// Upload stores an object at path. Fails if the object exists unless
// opts.Upsert is set.
func (b *Bucket) Upload(ctx context.Context, path string, body io.Reader, opts UploadOptions) error {
	return b.put(ctx, http.MethodPost, path, body, opts)
}

// Update replaces an existing object at path.
func (b *Bucket) Update(ctx context.Context, path string, body io.Reader, opts UploadOptions) error {
	return b.put(ctx, http.MethodPut, path, body, opts)
}

func (b *Bucket) put(ctx context.Context, method, path string, body io.Reader, opts UploadOptions) error {
	headers := map[string]string{}
	if opts.ContentType != "" {
		headers["Content-Type"] = opts.ContentType
	}
	if opts.Upsert {
		headers["x-upsert"] = "true"
	}
	req := transport.Request{
		Method:  method,
		URL:     b.objectURL(path),
		RawBody: body,
		Token:   b.client.token(),
		Headers: headers,
	}
	if err := b.client.transport.Do(ctx, req, nil); err != nil {
		return fmt.Errorf("failed to upload %s/%s: %w", b.id, path, err)
	}
	return nil
}

// Download fetches an object's contents.
func (b *Bucket) Download(ctx context.Context, path string) ([]byte, error) {
	req := transport.Request{
		Method: http.MethodGet,
		URL:    b.objectURL(path),
		Token:  b.client.token(),
	}
	data, err := b.client.transport.DoRaw(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s/%s: %w", b.id, path, err)
	}
	return data, nil
}

// Remove deletes objects from the bucket.
func (b *Bucket) Remove(ctx context.Context, paths ...string) error {
	req := transport.Request{
		Method: http.MethodDelete,
		URL:    b.client.url + "/object/" + b.id,
		Body:   map[string]any{"prefixes": paths},
		Token:  b.client.token(),
	}
	if err := b.client.transport.Do(ctx, req, nil); err != nil {
		return fmt.Errorf("failed to remove objects from %s: %w", b.id, err)
	}
	return nil
}

// Object describes a stored object in a listing.
type Object struct {
	Name      string `json:"name"`
	ID        string `json:"id"`
	UpdatedAt string `json:"updated_at"`
	CreatedAt string `json:"created_at"`
}

// ListOptions customize a listing.
type ListOptions struct {
	Limit  int
	Offset int
	Search string
}

// List returns the objects under a prefix.
func (b *Bucket) List(ctx context.Context, prefix string, opts ListOptions) ([]Object, error) {
	body := map[string]any{"prefix": prefix}
	if opts.Limit > 0 {
		body["limit"] = opts.Limit
	}
	if opts.Offset > 0 {
		body["offset"] = opts.Offset
	}
	if opts.Search != "" {
		body["search"] = opts.Search
	}
	var objects []Object
	req := transport.Request{
		Method: http.MethodPost,
		URL:    b.client.url + "/object/list/" + b.id,
		Body:   body,
		Token:  b.client.token(),
	}
	if err := b.client.transport.Do(ctx, req, &objects); err != nil {
		return nil, fmt.Errorf("failed to list %s/%s: %w", b.id, prefix, err)
	}
	return objects, nil
}

// PublicURL returns the unauthenticated URL for an object in a public bucket.
func (b *Bucket) PublicURL(path string) string {
	return b.client.url + "/object/public/" + b.id + "/" + strings.TrimPrefix(path, "/")
}
