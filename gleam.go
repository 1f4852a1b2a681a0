// Package gleam is the conversation synchronization core of the Gleam app.
//
// It keeps a user's message timeline and unread counters consistent while
// three independent sources feed it concurrently: an initial history fetch,
// a live push channel, and a timer-based incremental poll. A persisted,
// observable notification log applies the same merge/dedupe/cap discipline.
//
// Example:
//
//	client := gleam.NewClient("user-42", token)
//
//	store := gleam.NewMessageStore()
//	sched := gleam.NewSyncScheduler(client, store, "user-7")
//	sched.Start(ctx)
//	defer sched.Stop()
package gleam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.gleam.social"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST client for the Gleam messaging API. All sync components
// share one Client; it is safe for concurrent use.
type Client struct {
	userID     string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a client scoped to one authenticated user.
func NewClient(userID, authToken string, opts ...ClientOption) *Client {
	c := &Client{
		userID:    userID,
		authToken: authToken,
		baseURL:   DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UserID returns the id the client is scoped to.
func (c *Client) UserID() string { return c.userID }

// SetToken sets or updates the auth token.
func (c *Client) SetToken(token string) { c.authToken = token }

// PushURL returns the websocket endpoint for the push channel.
func (c *Client) PushURL() string {
	base := strings.Replace(c.baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/messaging/push?token=" + url.QueryEscape(c.authToken)
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var wrapper struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(data, &wrapper) == nil && wrapper.Error != nil {
			return nil, wrapper.Error
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Messaging API
// ============================================================================

// History fetches the initial page of a conversation. The server may return
// the page newest-first or newest-last; MessageStore re-sorts regardless.
func (c *Client) History(ctx context.Context, otherUserID string, limit int) ([]Message, error) {
	query := map[string]string{"userId": c.userID}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}
	data, err := c.doRequest(ctx, "GET", "/messaging/messages/"+url.PathEscape(otherUserID), nil, query)
	if err != nil {
		return nil, err
	}
	msgs, err := decodeJSON[[]Message](data)
	if err != nil {
		return nil, err
	}
	return *msgs, nil
}

// NewSince fetches messages created after the given cursor timestamp.
// An empty slice is a valid, frequent response.
func (c *Client) NewSince(ctx context.Context, otherUserID string, since time.Time) ([]Message, error) {
	data, err := c.doRequest(ctx, "GET", "/messaging/messages/"+url.PathEscape(otherUserID)+"/new", nil, map[string]string{
		"userId": c.userID,
		"since":  since.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	msgs, err := decodeJSON[[]Message](data)
	if err != nil {
		return nil, err
	}
	return *msgs, nil
}

// Send posts a message and returns the canonical server entry with its
// assigned id and timestamp.
func (c *Client) Send(ctx context.Context, recipientID, content string) (*Message, error) {
	data, err := c.doRequest(ctx, "POST", "/messaging/send", &SendRequest{
		SenderID:    c.userID,
		RecipientID: recipientID,
		Content:     content,
	}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// Conversations fetches the inbox summaries for the client's user.
func (c *Client) Conversations(ctx context.Context) ([]ConversationSummary, error) {
	data, err := c.doRequest(ctx, "GET", "/messaging/conversations", nil, map[string]string{"userId": c.userID})
	if err != nil {
		return nil, err
	}
	sums, err := decodeJSON[[]ConversationSummary](data)
	if err != nil {
		return nil, err
	}
	return *sums, nil
}

// UnreadTotal fetches the total unread count across all conversations.
func (c *Client) UnreadTotal(ctx context.Context) (*UnreadCount, error) {
	data, err := c.doRequest(ctx, "GET", "/messaging/unread-count", nil, map[string]string{"userId": c.userID})
	if err != nil {
		return nil, err
	}
	return decodeJSON[UnreadCount](data)
}

// MarkConversationRead tells the server every message from otherUserID has
// been seen. Called once per conversation-open, not per message.
func (c *Client) MarkConversationRead(ctx context.Context, otherUserID string) error {
	_, err := c.doRequest(ctx, "POST", "/messaging/conversations/"+url.PathEscape(otherUserID)+"/read", nil, map[string]string{"userId": c.userID})
	return err
}
