package sdk

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
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"progresskit/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the progresskit HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

func (c *Client) userURL(userID string, parts ...string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrEmptyUserID
	}
	u := c.baseURL + "/users/" + url.PathEscape(userID)
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u, nil
}

func (c *Client) do(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, out)
}

// LogEntry records a progress entry and returns it as stored.
func (c *Client) LogEntry(ctx context.Context, userID string, in core.EntryInput) (core.ProgressEntry, error) {
	u, err := c.userURL(userID, "entries")
	if err != nil {
		return core.ProgressEntry{}, err
	}
	var e core.ProgressEntry
	err = c.do(ctx, http.MethodPost, u, in, &e)
	return e, err
}

// UpdateEntry applies patch to an existing entry.
func (c *Client) UpdateEntry(ctx context.Context, userID, entryID string, patch core.EntryPatch) (core.ProgressEntry, error) {
	u, err := c.userURL(userID, "entries", entryID)
	if err != nil {
		return core.ProgressEntry{}, err
	}
	var e core.ProgressEntry
	err = c.do(ctx, http.MethodPut, u, patch, &e)
	return e, err
}

// DeleteEntry removes an entry.
func (c *Client) DeleteEntry(ctx context.Context, userID, entryID string) error {
	u, err := c.userURL(userID, "entries", entryID)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, u, nil, nil)
}

// ListEntries returns the user's entries, newest first, narrowed by f.
func (c *Client) ListEntries(ctx context.Context, userID string, f core.EntryFilter) ([]core.ProgressEntry, error) {
	u, err := c.userURL(userID, "entries")
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	if !f.From.IsZero() {
		q.Set("from", f.From.String())
	}
	if !f.To.IsZero() {
		q.Set("to", f.To.String())
	}
	if f.Tag != "" {
		q.Set("tag", f.Tag)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var entries []core.ProgressEntry
	err = c.do(ctx, http.MethodGet, u, nil, &entries)
	return entries, err
}

// RecordInteraction counts one social interaction and returns the new total for kind.
func (c *Client) RecordInteraction(ctx context.Context, userID string, kind core.InteractionKind) (int64, error) {
	u, err := c.userURL(userID, "interactions", string(kind))
	if err != nil {
		return 0, err
	}
	var body struct {
		Count int64 `json:"count"`
	}
	err = c.do(ctx, http.MethodPost, u, nil, &body)
	return body.Count, err
}

// AwardXP adds delta (which may be negative) to the user's XP.
func (c *Client) AwardXP(ctx context.Context, userID string, delta int64) (core.LevelInfo, error) {
	u, err := c.userURL(userID, "xp")
	if err != nil {
		return core.LevelInfo{}, err
	}
	u += "?delta=" + strconv.FormatInt(delta, 10)
	var info core.LevelInfo
	err = c.do(ctx, http.MethodPost, u, nil, &info)
	return info, err
}

// XP fetches the user's XP and derived level figures.
func (c *Client) XP(ctx context.Context, userID string) (core.LevelInfo, error) {
	u, err := c.userURL(userID, "xp")
	if err != nil {
		return core.LevelInfo{}, err
	}
	var info core.LevelInfo
	err = c.do(ctx, http.MethodGet, u, nil, &info)
	return info, err
}

// Achievements lists the catalog with the user's unlock status.
func (c *Client) Achievements(ctx context.Context, userID string) ([]AchievementStatus, error) {
	u, err := c.userURL(userID, "achievements")
	if err != nil {
		return nil, err
	}
	var list []AchievementStatus
	err = c.do(ctx, http.MethodGet, u, nil, &list)
	return list, err
}

// CheckAchievements asks the server to evaluate the catalog and returns new unlocks.
func (c *Client) CheckAchievements(ctx context.Context, userID string) ([]core.Achievement, error) {
	u, err := c.userURL(userID, "achievements", "check")
	if err != nil {
		return nil, err
	}
	var body struct {
		Unlocked []core.Achievement `json:"unlocked"`
	}
	err = c.do(ctx, http.MethodPost, u, nil, &body)
	return body.Unlocked, err
}

// Stats fetches the user's summary statistics.
func (c *Client) Stats(ctx context.Context, userID string) (Stats, error) {
	u, err := c.userURL(userID, "analytics", "stats")
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	err = c.do(ctx, http.MethodGet, u, nil, &s)
	return s, err
}

// Leaderboard returns the top n users by XP.
func (c *Client) Leaderboard(ctx context.Context, n int) ([]Standing, error) {
	u := fmt.Sprintf("%s/leaderboard?limit=%d", c.baseURL, n)
	var rows []Standing
	err := c.do(ctx, http.MethodGet, u, nil, &rows)
	return rows, err
}

// Health calls /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.do(ctx, http.MethodGet, c.baseURL+"/healthz", nil, &hs)
	return hs, err
}

// SubscribeEvents connects to the WebSocket stream and emits core.Event values.
// A non-empty userID limits the stream to that user's events.
// The returned channel closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, userID string, types ...core.EventType) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if userID != "" {
		q.Set("user", userID)
	}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		q.Set("types", strings.Join(names, ","))
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Event, 32)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(out)
		defer close(done)
		defer conn.Close()
		for {
			var evt core.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			default:
				// drop if consumer is slow
			}
		}
	}()
	return out, nil
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
