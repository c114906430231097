package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// =============================================================================
// Database Operations (PostgREST)
// =============================================================================

// From starts a query builder for a table.
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{
		client:  c,
		table:   table,
		method:  http.MethodGet,
		filters: url.Values{},
		headers: map[string]string{},
	}
}

// QueryBuilder builds PostgREST queries.
type QueryBuilder struct {
	client  *Client
	table   string
	method  string
	columns string
	filters url.Values
	orders  []string
	body    any
	headers map[string]string
}

// Select specifies columns to select. On a mutation it selects the returned representation.
func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.columns = columns
	return q
}

// Insert inserts data into the table and returns the inserted rows.
func (q *QueryBuilder) Insert(data any) *QueryBuilder {
	q.method = http.MethodPost
	q.body = data
	q.headers["Prefer"] = "return=representation"
	return q
}

// Update patches the rows matched by the filters and returns them.
func (q *QueryBuilder) Update(data any) *QueryBuilder {
	q.method = http.MethodPatch
	q.body = data
	q.headers["Prefer"] = "return=representation"
	return q
}

// Eq adds an equality filter.
func (q *QueryBuilder) Eq(column string, value any) *QueryBuilder {
	q.filters.Add(column, fmt.Sprintf("eq.%v", value))
	return q
}

// Order adds an ORDER BY clause.
func (q *QueryBuilder) Order(column string, ascending bool) *QueryBuilder {
	dir := "asc"
	if !ascending {
		dir = "desc"
	}
	q.orders = append(q.orders, column+"."+dir)
	return q
}

// Single expects exactly one row; zero rows yields an Error with CodeNoRows.
func (q *QueryBuilder) Single() *QueryBuilder {
	q.headers["Accept"] = "application/vnd.pgrst.object+json"
	return q
}

// Execute runs the query.
func (q *QueryBuilder) Execute(ctx context.Context) (*Response, error) {
	req, err := q.client.newRequest(ctx, q.method, q.buildURL(), q.body)
	if err != nil {
		return nil, err
	}
	for k, v := range q.headers {
		req.Header.Set(k, v)
	}
	return q.client.do(req)
}

func (q *QueryBuilder) buildURL() string {
	reqURL := fmt.Sprintf("%s/rest/v1/%s", q.client.baseURL, url.PathEscape(q.table))

	params := url.Values{}
	for k, vs := range q.filters {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	switch {
	case q.columns != "":
		params.Set("select", q.columns)
	case q.method == http.MethodGet:
		params.Set("select", "*")
	}
	if len(q.orders) > 0 {
		params.Set("order", strings.Join(q.orders, ","))
	}

	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	return reqURL
}
