// Package client provides the Supabase REST client used by the app: PostgREST
// tables, GoTrue auth with a locally persisted session, and Storage buckets.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/snapshare/client/pkg/logger"
)

const (
	defaultTimeout = 30 * time.Second

	maxResponseBytes = 8 << 20 // 8 MiB

	// CodeNoRows is the PostgREST code for a single-object request matching zero rows.
	CodeNoRows = "PGRST116"
)

// Client is a Supabase REST API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logger.Logger

	auth *AuthClient
}

// Config holds client configuration.
type Config struct {
	URL    string
	APIKey string

	// HTTPClient overrides the default client (30s timeout).
	HTTPClient *http.Client

	// SessionStorage persists the auth session between runs. Defaults to memory.
	SessionStorage SessionStorage

	Logger *logger.Logger
}

// New creates a new Supabase client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("APIKey is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("supabase")
	}

	storage := cfg.SessionStorage
	if storage == nil {
		storage = NewMemoryStorage()
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		log:        log,
	}
	c.auth = newAuthClient(c, storage)
	return c, nil
}

// BaseURL returns the project URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// Response Types
// =============================================================================

// Response is a generic API response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Error is an error returned by one of the Supabase APIs.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Hint       string `json:"hint,omitempty"`
	StatusCode int    `json:"status_code"`
}

func (e *Error) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// IsNotFound reports whether err means the requested row or object does not exist.
func IsNotFound(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == CodeNoRows || apiErr.StatusCode == http.StatusNotFound
}

// parseError builds an Error from PostgREST, GoTrue or Storage error bodies.
func parseError(body []byte, statusCode int) error {
	if !gjson.ValidBytes(body) {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(statusCode)
		}
		return &Error{Code: "unknown", Message: msg, StatusCode: statusCode}
	}

	res := gjson.ParseBytes(body)
	code := firstNonEmpty(res.Get("error_code").String(), res.Get("code").String())
	msg := firstNonEmpty(
		res.Get("message").String(),
		res.Get("msg").String(),
		res.Get("error_description").String(),
		res.Get("error").String(),
	)
	if code == "" && res.Get("message").Exists() {
		// Storage puts a short error name in "error" next to the message.
		code = res.Get("error").String()
	}
	if msg == "" {
		msg = http.StatusText(statusCode)
	}

	return &Error{
		Code:       code,
		Message:    msg,
		Details:    res.Get("details").String(),
		Hint:       res.Get("hint").String(),
		StatusCode: statusCode,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// =============================================================================
// Internal Methods
// =============================================================================

func (c *Client) newRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// setHeaders authorises as the signed-in user when there is a session so that
// row level security applies, and as the anon key otherwise.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	token := c.auth.accessToken()
	if token == "" {
		token = c.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
}

func (c *Client) do(req *http.Request) (*Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.log.WithField("method", req.Method).
		WithField("path", req.URL.Path).
		WithField("status", resp.StatusCode).
		WithField("duration", time.Since(start)).
		Debug("supabase request")

	out := &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    resp.Header,
	}
	if resp.StatusCode >= 400 {
		return out, parseError(body, resp.StatusCode)
	}
	return out, nil
}
