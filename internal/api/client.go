// Package api is the HTTP client for the live session API: session
// lookup and audio-transport token issuance.
package api

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

	"github.com/voxclub/liveroom/internal/domain"
)

// ErrTransportUnavailable is the decoded form of the token endpoint's
// mock-mode sentinel: the server has no audio transport configured and
// there is no fallback audio path.
var ErrTransportUnavailable = errors.New("audio transport unavailable")

const defaultTimeout = 10 * time.Second

type Client struct {
	base string
	http *http.Client
}

func New(base string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// ChannelURL returns the websocket endpoint base derived from the API
// base URL.
func (c *Client) ChannelURL() string {
	ws := c.base
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return ws + "/api/live/ws"
}

// Session fetches static session metadata. A missing session returns
// domain.ErrSessionNotFound and is terminal for the mount; there is no
// retry policy here.
func (c *Client) Session(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	var s domain.Session
	err := c.get(ctx, fmt.Sprintf("/api/live/sessions/%s", id), &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// RoomState fetches the server's current room snapshot (debug surface).
func (c *Client) RoomState(ctx context.Context, id domain.SessionID) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.get(ctx, fmt.Sprintf("/api/live/room/%s/state", id), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

type CreateSessionRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// CreateSession mints a new live session (dev server surface).
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.Session, error) {
	var s domain.Session
	if err := c.post(ctx, "/api/live/sessions", req, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

type TokenRequest struct {
	SessionID domain.SessionID `json:"session_id"`
	UserID    domain.UserID    `json:"user_id"`
	Username  string           `json:"username"`
	Role      domain.Role      `json:"role"`
}

// TokenGrant is the issued branch of the token result. The unavailable
// branch is reported as ErrTransportUnavailable so callers must handle
// both cases explicitly.
type TokenGrant struct {
	Token string `json:"token"`
	URL   string `json:"url"`
	Room  string `json:"room"`
}

// IssueToken requests an audio-transport token scoped to the session,
// identity and role.
func (c *Client) IssueToken(ctx context.Context, req TokenRequest) (*TokenGrant, error) {
	var resp struct {
		TokenGrant
		MockMode bool   `json:"mock_mode"`
		Message  string `json:"message"`
	}
	if err := c.post(ctx, "/api/live/token", req, &resp); err != nil {
		return nil, err
	}
	if resp.MockMode {
		return nil, fmt.Errorf("%w: %s", ErrTransportUnavailable, resp.Message)
	}
	return &resp.TokenGrant, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrSessionNotFound
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
