// Package postgrest is a query builder for the platform's REST interface to
// Postgres. Queries are value types built up by chaining and executed through
// the shared transport client, so every request carries the api key and the
// caller's access token.
package postgrest

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/altobase/altobase-go/transport"
)

// Client issues queries against a project's REST endpoint.
type Client struct {
	url       string
	transport *transport.Client
	token     func() string
}

// NewClient creates a postgrest client. url is the REST root, e.g.
// https://project.example.com/rest/v1. token supplies the access token per
// request; it may return "" for anonymous access.
func NewClient(url string, tc *transport.Client, token func() string) *Client {
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{url: strings.TrimSuffix(url, "/"), transport: tc, token: token}
}

// From starts a query against a table or view.
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{client: c, table: table}
}

// RPC calls a stored procedure with the given JSON-encodable arguments.
func (c *Client) RPC(ctx context.Context, fn string, args any, out any) error {
	req := transport.Request{
		Method: http.MethodPost,
		URL:    c.url + "/rpc/" + fn,
		Body:   args,
		Token:  c.token(),
	}
	if err := c.transport.Do(ctx, req, out); err != nil {
		return fmt.Errorf("rpc %s failed: %w", fn, err)
	}
	return nil
}

// QueryBuilder accumulates filters and modifiers for a single table.
type QueryBuilder struct {
	client  *Client
	table   string
	filters []filter
	order   []string
	limit   int
	offset  int
	hasLim  bool
}

type filter struct {
	column string
	value  string
}

func (q *QueryBuilder) addFilter(column, op, value string) *QueryBuilder {
	q.filters = append(q.filters, filter{column: column, value: op + "." + value})
	return q
}

// Eq filters rows where column equals value.
func (q *QueryBuilder) Eq(column, value string) *QueryBuilder { return q.addFilter(column, "eq", value) }

// Neq filters rows where column does not equal value.
func (q *QueryBuilder) Neq(column, value string) *QueryBuilder {
	return q.addFilter(column, "neq", value)
}

// Gt filters rows where column is greater than value.
func (q *QueryBuilder) Gt(column, value string) *QueryBuilder { return q.addFilter(column, "gt", value) }

// Gte filters rows where column is greater than or equal to value.
func (q *QueryBuilder) Gte(column, value string) *QueryBuilder {
	return q.addFilter(column, "gte", value)
}

// Lt filters rows where column is less than value.
func (q *QueryBuilder) Lt(column, value string) *QueryBuilder { return q.addFilter(column, "lt", value) }

// Lte filters rows where column is less than or equal to value.
func (q *QueryBuilder) Lte(column, value string) *QueryBuilder {
	return q.addFilter(column, "lte", value)
}

// Like filters rows where column matches the SQL LIKE pattern.
func (q *QueryBuilder) Like(column, pattern string) *QueryBuilder {
	return q.addFilter(column, "like", pattern)
}

// ILike filters rows where column matches the pattern case-insensitively.
func (q *QueryBuilder) ILike(column, pattern string) *QueryBuilder {
	return q.addFilter(column, "ilike", pattern)
}

// Is filters rows where column IS value (null, true, false).
func (q *QueryBuilder) Is(column, value string) *QueryBuilder { return q.addFilter(column, "is", value) }

// In filters rows where column is one of values.
func (q *QueryBuilder) In(column string, values ...string) *QueryBuilder {
	return q.addFilter(column, "in", "("+strings.Join(values, ",")+")")
}

// Contains filters rows where the array or range column contains value.
func (q *QueryBuilder) Contains(column, value string) *QueryBuilder {
	return q.addFilter(column, "cs", value)
}

// ContainedBy filters rows where the array or range column is contained by
// value.
func (q *QueryBuilder) ContainedBy(column, value string) *QueryBuilder {
	return q.addFilter(column, "cd", value)
}

// Or combines raw filter expressions with OR, e.g.
// Or("status.eq.active,status.eq.trial").
func (q *QueryBuilder) Or(expr string) *QueryBuilder {
	q.filters = append(q.filters, filter{column: "or", value: "(" + expr + ")"})
	return q
}

// Not negates a single filter.
func (q *QueryBuilder) Not(column, op, value string) *QueryBuilder {
	return q.addFilter(column, "not."+op, value)
}

// Order sorts results by column. Chain for multi-column ordering.
func (q *QueryBuilder) Order(column string, ascending bool) *QueryBuilder {
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	q.order = append(q.order, column+"."+dir)
	return q
}

// Limit caps the number of returned rows.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	q.hasLim = true
	return q
}

// Range selects rows from offset from to offset to inclusive.
func (q *QueryBuilder) Range(from, to int) *QueryBuilder {
	q.offset = from
	q.limit = to - from + 1
	q.hasLim = true
	return q
}

func (q *QueryBuilder) query(columns string) map[string]string {
	query := make(map[string]string, len(q.filters)+4)
	if columns != "" {
		query["select"] = columns
	}
	for _, f := range q.filters {
		query[f.column] = f.value
	}
	if len(q.order) > 0 {
		query["order"] = strings.Join(q.order, ",")
	}
	if q.hasLim {
		query["limit"] = fmt.Sprintf("%d", q.limit)
		if q.offset > 0 {
			query["offset"] = fmt.Sprintf("%d", q.offset)
		}
	}
	return query
}

func (q *QueryBuilder) do(ctx context.Context, method string, body any, headers map[string]string, columns string, out any) error {
	req := transport.Request{
		Method:  method,
		URL:     q.client.url + "/" + q.table,
		Body:    body,
		Token:   q.client.token(),
		Headers: headers,
		Query:   q.query(columns),
	}
	if err := q.client.transport.Do(ctx, req, out); err != nil {
		return fmt.Errorf("%s %s failed: %w", strings.ToLower(method), q.table, err)
	}
	return nil
}

// Select fetches rows, decoding them into out. columns is a postgrest column
// list, "*" for all.
func (q *QueryBuilder) Select(ctx context.Context, columns string, out any) error {
	return q.do(ctx, http.MethodGet, nil, nil, columns, out)
}

// Insert inserts one row or a slice of rows. When out is non-nil the inserted
// rows are returned into it.
func (q *QueryBuilder) Insert(ctx context.Context, rows any, out any) error {
	headers := map[string]string{"Prefer": preferReturn(out)}
	return q.do(ctx, http.MethodPost, rows, headers, "", out)
}

// Upsert inserts rows, updating on conflict. onConflict names the unique
// column set, "" for the primary key.
func (q *QueryBuilder) Upsert(ctx context.Context, rows any, onConflict string, out any) error {
	headers := map[string]string{"Prefer": "resolution=merge-duplicates," + preferReturn(out)}
	if onConflict != "" {
		q.filters = append(q.filters, filter{column: "on_conflict", value: onConflict})
	}
	return q.do(ctx, http.MethodPost, rows, headers, "", out)
}

// Update updates all rows matching the accumulated filters.
func (q *QueryBuilder) Update(ctx context.Context, values any, out any) error {
	headers := map[string]string{"Prefer": preferReturn(out)}
	return q.do(ctx, http.MethodPatch, values, headers, "", out)
}

// Delete deletes all rows matching the accumulated filters.
func (q *QueryBuilder) Delete(ctx context.Context, out any) error {
	headers := map[string]string{"Prefer": preferReturn(out)}
	return q.do(ctx, http.MethodDelete, nil, headers, "", out)
}

func preferReturn(out any) string {
	if out == nil {
		return "return=minimal"
	}
	return "return=representation"
}
