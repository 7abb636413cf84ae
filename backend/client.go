// Package backend is the REST client for the collaborator service that owns
// chat persistence. Every operation here is a command or query the core
// degrades gracefully without; no call is load-bearing for registry
// consistency beyond the next successful poll.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pawchat/models"
)

// TokenSource supplies the viewer's bearer token. core.Session implements it.
type TokenSource interface {
	Token() string
}

// Client talks to the collaborator backend's chat API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

// NewClient returns a client rooted at baseURL.
func NewClient(baseURL string, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		tokens:  tokens,
	}
}

// ListRoomsWithUnread fetches the viewer's full room list with per-message
// read flags.
func (c *Client) ListRoomsWithUnread(ctx context.Context) ([]models.ChatRoom, error) {
	var envelope struct {
		Data []models.ChatRoom `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/chat/rooms/list-with-unread", &envelope); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return envelope.Data, nil
}

// RoomMessages fetches a single room's message list.
func (c *Client) RoomMessages(ctx context.Context, roomID int64) ([]models.ChatMessage, error) {
	var envelope struct {
		Data []models.ChatMessage `json:"data"`
	}
	path := fmt.Sprintf("/api/v1/chat/%d/messages", roomID)
	if err := c.get(ctx, path, &envelope); err != nil {
		return nil, fmt.Errorf("room %d messages: %w", roomID, err)
	}
	return envelope.Data, nil
}

// MarkRead marks every message in the room as read by the viewer. Idempotent
// on the backend; no response body is expected.
func (c *Client) MarkRead(ctx context.Context, roomID int64) error {
	path := fmt.Sprintf("/api/v1/chat/%d/read", roomID)
	if err := c.post(ctx, path); err != nil {
		return fmt.Errorf("mark read room %d: %w", roomID, err)
	}
	return nil
}

// LeaveRoom removes the viewer from the room. Idempotent on the backend.
func (c *Client) LeaveRoom(ctx context.Context, roomID int64) error {
	path := fmt.Sprintf("/api/v1/chat/rooms/%d/leave", roomID)
	if err := c.post(ctx, path); err != nil {
		return fmt.Errorf("leave room %d: %w", roomID, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return statusError(resp)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func statusError(resp *http.Response) error {
	return fmt.Errorf("%s %s: unexpected status %d", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode)
}
