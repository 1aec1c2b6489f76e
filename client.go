package chatbird

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://api.chatbird.io"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the HTTP Backend of a ChatBird server. Push events reach it
// through realtime connections (ConnectWS, ConnectSSE) or a Webhook and are
// fanned out by its Registry.
type Client struct {
	*Registry

	token      string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

var _ Backend = (*Client)(nil)

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithClientLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a client authenticating with token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Registry = NewRegistry(c.log)
	return c
}

// SetToken replaces the auth token used by later requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) BaseURL() string { return c.baseURL }

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
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
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
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
	c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("Request done")

	if resp.StatusCode >= 400 && !json.Valid(data) {
		return nil, &APIError{
			Code:    "HTTP_" + strconv.Itoa(resp.StatusCode),
			Message: strings.TrimSpace(string(data)),
		}
	}
	return data, nil
}

// do performs a request and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, query url.Values, out interface{}) error {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return err
	}
	res, err := decodeJSON[apiResult](data)
	if err != nil {
		return err
	}
	if err := res.decode(out); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func channelPath(channelID string, rest ...string) string {
	p := "/api/channels/" + url.PathEscape(channelID)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

// ============================================================================
// Backend
// ============================================================================

func (c *Client) MessagesBefore(ctx context.Context, channelID string, ts int64, limit int) ([]Message, error) {
	return c.messages(ctx, channelID, "before", ts, limit)
}

func (c *Client) MessagesAfter(ctx context.Context, channelID string, ts int64, limit int) ([]Message, error) {
	return c.messages(ctx, channelID, "after", ts, limit)
}

func (c *Client) messages(ctx context.Context, channelID, dir string, ts int64, limit int) ([]Message, error) {
	q := url.Values{}
	q.Set(dir, strconv.FormatInt(ts, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var msgs []Message
	if err := c.do(ctx, http.MethodGet, channelPath(channelID, "messages"), nil, q, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Send posts out to the channel and returns the stored message.
func (c *Client) Send(ctx context.Context, channelID string, out Outgoing) (Message, error) {
	if out.Kind == KindFile && out.File != nil && out.File.MimeType == "" {
		f := *out.File
		f.MimeType = guessMimeType(f.Name)
		out.File = &f
	}
	var m Message
	if err := c.do(ctx, http.MethodPost, channelPath(channelID, "messages"), &out, nil, &m); err != nil {
		return Message{}, err
	}
	if m.RequestID == "" {
		m.RequestID = out.RequestID
	}
	return m, nil
}

func (c *Client) MarkAsRead(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodPost, channelPath(channelID, "read"), struct{}{}, nil, nil)
}

// GetChannel fetches channel metadata, including its member count.
func (c *Client) GetChannel(ctx context.Context, channelID string) (Channel, error) {
	var ch Channel
	if err := c.do(ctx, http.MethodGet, channelPath(channelID), nil, nil, &ch); err != nil {
		return Channel{}, err
	}
	return ch, nil
}

// ============================================================================
// Realtime factories
// ============================================================================

// WSURL returns the WebSocket endpoint for token.
func (c *Client) WSURL(token string) string {
	base := strings.Replace(c.baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	if token != "" {
		return base + "/ws?token=" + url.QueryEscape(token)
	}
	return base + "/ws"
}

// SSEURL returns the server-sent events endpoint for token.
func (c *Client) SSEURL(token string) string {
	if token != "" {
		return c.baseURL + "/sse?token=" + url.QueryEscape(token)
	}
	return c.baseURL + "/sse"
}

// ConnectWS creates a WebSocket client publishing into c's registry. Call
// Connect to establish the connection.
func (c *Client) ConnectWS(config *RealtimeConfig) *RealtimeWSClient {
	cfg := c.realtimeConfig(config)
	return &RealtimeWSClient{
		realtimeConn: newRealtimeConn(c.WSURL(cfg.Token), cfg, c.Registry, c.log.With().Str("transport", "ws").Logger()),
		pendingPings: make(map[string]chan PongPayload),
	}
}

// ConnectSSE creates an SSE client publishing into c's registry. Call
// Connect to establish the connection.
func (c *Client) ConnectSSE(config *RealtimeConfig) *RealtimeSSEClient {
	cfg := c.realtimeConfig(config)
	return &RealtimeSSEClient{
		realtimeConn: newRealtimeConn(c.SSEURL(cfg.Token), cfg, c.Registry, c.log.With().Str("transport", "sse").Logger()),
	}
}

func (c *Client) realtimeConfig(config *RealtimeConfig) *RealtimeConfig {
	var cfg RealtimeConfig
	if config != nil {
		cfg = *config
	}
	if cfg.Token == "" {
		cfg.Token = c.token
	}
	cfg.defaults()
	return &cfg
}

// ============================================================================
// Helpers
// ============================================================================

// guessMimeType returns MIME type from file extension.
func guessMimeType(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return "application/octet-stream"
	}
	// Not in Go's builtin registry on every platform
	fallback := map[string]string{
		".md": "text/markdown", ".yaml": "text/yaml", ".yml": "text/yaml",
		".webp": "image/webp", ".webm": "video/webm", ".heic": "image/heic",
	}
	if m, ok := fallback[ext]; ok {
		return m
	}
	t := mime.TypeByExtension(ext)
	if t != "" {
		if idx := strings.Index(t, ";"); idx > 0 {
			t = strings.TrimSpace(t[:idx])
		}
		return t
	}
	return "application/octet-stream"
}
