// Package remote is the HTTP client for the hosted item API, a
// PostgREST-style collection endpoint scoped by an opaque user id.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrNoCredential = errors.New("no credential set")

	// ErrNetwork marks transport-level failures (unreachable host,
	// timeout). These are transient: callers queue or fall back to
	// cache instead of surfacing them.
	ErrNetwork = errors.New("network unreachable")
)

// ItemsPath is the collection path on the remote API.
const ItemsPath = "/rest/v1/items"

// Client is an HTTP client for the item API.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a new API client. The token may be empty and set later.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SetToken replaces the bearer credential. Safe to call at any time,
// including while requests are in flight.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer credential.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// FlexID decodes a server id that may arrive as a JSON number or a
// JSON string.
type FlexID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

// ItemRow is an item as the server returns it.
type ItemRow struct {
	ID        FlexID `json:"id"`
	Content   string `json:"content"`
	Completed bool   `json:"completed"`
	UserID    string `json:"user_id"`
	CreatedAt string `json:"created_at"`
}

// CreateRequest is the body for POST /rest/v1/items.
type CreateRequest struct {
	Content string `json:"content"`
	UserID  string `json:"user_id"`
}

// Patch carries the changed fields of a PATCH call. Nil fields are
// omitted from the body.
type Patch struct {
	Content   *string `json:"content,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

// CreateItem creates an item and returns the server-assigned row.
func (c *Client) CreateItem(ctx context.Context, content, userID string) (*ItemRow, error) {
	body, err := c.do(ctx, "POST", ItemsPath, CreateRequest{Content: content, UserID: userID})
	if err != nil {
		return nil, err
	}
	row, err := decodeRow(body)
	if err != nil {
		return nil, fmt.Errorf("decode created item: %w", err)
	}
	return row, nil
}

// UpdateItem applies a partial update to an item by id.
func (c *Client) UpdateItem(ctx context.Context, id string, patch Patch) error {
	_, err := c.do(ctx, "PATCH", ItemsPath+"?id=eq."+url.QueryEscape(id), patch)
	return err
}

// DeleteItem deletes an item by id.
func (c *Client) DeleteItem(ctx context.Context, id string) error {
	_, err := c.do(ctx, "DELETE", ItemsPath+"?id=eq."+url.QueryEscape(id), nil)
	return err
}

// ListItems fetches the full collection for a user, oldest first.
func (c *Client) ListItems(ctx context.Context, userID string) ([]ItemRow, error) {
	path := ItemsPath + "?user_id=eq." + url.QueryEscape(userID) + "&order=created_at"
	body, err := c.do(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}
	var rows []ItemRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return rows, nil
}

// decodeRow accepts either a bare object or the single-element array
// the server returns with return=representation.
func decodeRow(body []byte) (*ItemRow, error) {
	var rows []ItemRow
	if err := json.Unmarshal(body, &rows); err == nil {
		if len(rows) == 0 {
			return nil, fmt.Errorf("empty representation")
		}
		return &rows[0], nil
	}
	var row ItemRow
	if err := json.Unmarshal(body, &row); err != nil {
		return nil, err
	}
	return &row, nil
}

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// do executes an authenticated request and returns the response body.
// Network-level failures come back wrapped so callers can distinguish
// "no connectivity" (queue it) from "server said no" (surface it).
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == "POST" {
		req.Header.Set("Prefer", "return=representation")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		// Classify by status code first; the body only enriches the
		// message when it parses as a structured error.
		var detail string
		var apiErr apiError
		parsed := json.Unmarshal(respBody, &apiErr) == nil && apiErr.Code != ""
		if parsed {
			detail = apiErr.Message
		} else {
			detail = strconv.Quote(truncate(string(respBody), 200))
		}

		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return nil, fmt.Errorf("%w: %s", ErrUnauthorized, detail)
		case http.StatusForbidden:
			return nil, fmt.Errorf("%w: %s", ErrForbidden, detail)
		case http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s", ErrNotFound, detail)
		}
		if parsed {
			return nil, &apiErr
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, detail)
	}

	return respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
