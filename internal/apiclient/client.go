// Package apiclient talks to the threads HTTP API. Client implements the
// backend the sync core loads and creates comments through.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/baduk1/threadsync/pkg/thread"
)

const defaultTimeout = 30 * time.Second

// Client is an authenticated API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the API at baseURL using a bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

type createRequest struct {
	ContextType thread.ContextType `json:"context_type"`
	ContextID   string             `json:"context_id"`
	Body        string             `json:"body"`
	ParentID    *int64             `json:"parent_id,omitempty"`
}

// FetchComments lists a thread, newest first.
func (c *Client) FetchComments(ctx context.Context, key thread.Key) ([]thread.Comment, error) {
	q := url.Values{}
	q.Set("context_type", string(key.Context.Type))
	q.Set("context_id", key.Context.ID)
	path := fmt.Sprintf("/api/projects/%s/comments?%s", url.PathEscape(key.ProjectID), q.Encode())

	var comments []thread.Comment
	if err := c.do(ctx, "fetch comments", http.MethodGet, path, nil, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

// CreateComment posts a comment and returns the stored version.
func (c *Client) CreateComment(ctx context.Context, key thread.Key, body string, parentID *int64) (*thread.Comment, error) {
	req := createRequest{
		ContextType: key.Context.Type,
		ContextID:   key.Context.ID,
		Body:        body,
		ParentID:    parentID,
	}
	path := fmt.Sprintf("/api/projects/%s/comments", url.PathEscape(key.ProjectID))

	var comment thread.Comment
	if err := c.do(ctx, "create comment", http.MethodPost, path, req, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

// FetchCurrentUser returns the account the token belongs to.
func (c *Client) FetchCurrentUser(ctx context.Context) (*thread.User, error) {
	var user thread.User
	if err := c.do(ctx, "fetch current user", http.MethodGet, "/api/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// do sends one request. Requests that never got an answer fail with a
// NetworkError; non-2xx answers fail with an APIError carrying the server's
// detail message.
func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &thread.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Detail string `json:"detail"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &payload); err != nil || payload.Detail == "" {
		payload.Detail = strings.TrimSpace(string(data))
	}
	return &thread.APIError{Status: resp.StatusCode, Detail: payload.Detail}
}
