package chatbird

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// ============================================================================
// Wire Types
// ============================================================================

// Realtime event types. Message, receipt, typing and member events are
// published into the owning client's Registry; the rest are connection
// level.
const (
	EventAuthenticated   = "authenticated"
	EventMessageReceived = string(MessageReceived)
	EventMessageUpdated  = string(MessageUpdated)
	EventMessageDeleted  = string(MessageDeleted)
	EventReadReceipt     = "read.receipt"
	EventTypingStatus    = "typing.status"
	EventMemberJoined    = "member.joined"
	EventMemberLeft      = "member.left"
	EventPong            = "pong"
	EventError           = "error"
)

// AuthenticatedPayload is sent when a real-time connection is authenticated.
type AuthenticatedPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// PongPayload is the response to a ping command.
type PongPayload struct {
	RequestID string `json:"requestId"`
}

// RealtimeErrorPayload is sent when a server-side error occurs.
type RealtimeErrorPayload struct {
	Message string `json:"message"`
}

type messageDeletedPayload struct {
	ChannelID string `json:"channelId"`
	MessageID int64  `json:"messageId"`
}

type memberPayload struct {
	ChannelID string `json:"channelId"`
	Member    Member `json:"member"`
}

// RealtimeEnvelope is the wire format for all real-time events.
type RealtimeEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// RealtimeCommand is a client-to-server command (WebSocket only).
type RealtimeCommand struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	RequestID string      `json:"requestId,omitempty"`
}

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures real-time clients. Zero fields take defaults;
// an empty Token falls back to the client's token. A negative
// MaxReconnectAttempts retries forever.
type RealtimeConfig struct {
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	StaleTimeout         time.Duration
	HTTPClient           *http.Client
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.StaleTimeout == 0 {
		c.StaleTimeout = 45 * time.Second
	}
	// Not the REST client: its request timeout would cut SSE streams.
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// ConnState represents the connection state of a realtime client.
type ConnState string

const (
	ConnDisconnected ConnState = "disconnected"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnReconnecting ConnState = "reconnecting"
)

// ============================================================================
// Event Router
// ============================================================================

// eventRouter turns envelopes into Registry publishes and runs the
// connection-level callbacks.
type eventRouter struct {
	registry *Registry
	log      zerolog.Logger

	mu              sync.RWMutex
	onAuthenticated []func(AuthenticatedPayload)
	onError         []func(RealtimeErrorPayload)
	onConnected     []func()
	onDisconnected  []func(int, string)
	onReconnecting  []func(int, time.Duration)
}

func newEventRouter(registry *Registry, log zerolog.Logger) *eventRouter {
	return &eventRouter{registry: registry, log: log}
}

func (d *eventRouter) dispatch(env RealtimeEnvelope) {
	switch env.Type {
	case EventAuthenticated:
		var p AuthenticatedPayload
		if d.decode(env, &p) {
			d.mu.RLock()
			handlers := append([]func(AuthenticatedPayload){}, d.onAuthenticated...)
			d.mu.RUnlock()
			for _, h := range handlers {
				go h(p)
			}
		}
	case EventMessageReceived, EventMessageUpdated:
		var m Message
		if d.decode(env, &m) {
			if env.Type == EventMessageUpdated && m.ID == 0 {
				d.log.Warn().Str("type", env.Type).Msg("Dropping update without message id")
				return
			}
			d.registry.PublishMessage(MessageEvent{
				Type:      MessageEventType(env.Type),
				ChannelID: m.ChannelID,
				Message:   m,
			})
		}
	case EventMessageDeleted:
		var p messageDeletedPayload
		if d.decode(env, &p) {
			if p.MessageID == 0 {
				d.log.Warn().Str("type", env.Type).Msg("Dropping delete without message id")
				return
			}
			d.registry.PublishMessage(MessageEvent{
				Type:      MessageDeleted,
				ChannelID: p.ChannelID,
				MessageID: p.MessageID,
			})
		}
	case EventReadReceipt:
		var rr ReadReceipt
		if d.decode(env, &rr) {
			d.registry.PublishReadReceipt(rr)
		}
	case EventTypingStatus:
		var ts TypingStatus
		if d.decode(env, &ts) {
			d.registry.PublishTyping(ts)
		}
	case EventMemberJoined, EventMemberLeft:
		var p memberPayload
		if d.decode(env, &p) {
			d.registry.PublishMember(MemberEvent{
				ChannelID: p.ChannelID,
				Member:    p.Member,
				Joined:    env.Type == EventMemberJoined,
			})
		}
	case EventError:
		var p RealtimeErrorPayload
		if d.decode(env, &p) {
			d.log.Warn().Str("error", p.Message).Msg("Server reported error")
			d.mu.RLock()
			handlers := append([]func(RealtimeErrorPayload){}, d.onError...)
			d.mu.RUnlock()
			for _, h := range handlers {
				go h(p)
			}
		}
	case EventPong:
	default:
		d.log.Debug().Str("type", env.Type).Msg("Ignoring realtime event")
	}
}

func (d *eventRouter) decode(env RealtimeEnvelope, v interface{}) bool {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		d.log.Warn().Err(err).Str("type", env.Type).Msg("Malformed realtime payload")
		return false
	}
	return true
}

func (d *eventRouter) emitConnected() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h()
	}
}

func (d *eventRouter) emitDisconnected(code int, reason string) {
	d.mu.RLock()
	handlers := append([]func(int, string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h(code, reason)
	}
}

func (d *eventRouter) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts < 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

// nextDelay is exponential with up to 50% jitter. A connection that stayed
// up for a minute resets the attempt counter.
func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// Shared connection state
// ============================================================================

// realtimeConn is the state and callback surface shared by the WebSocket
// and SSE clients.
type realtimeConn struct {
	url    string
	config *RealtimeConfig
	router *eventRouter
	recon  *reconnector
	log    zerolog.Logger

	mu               sync.Mutex
	state            ConnState
	intentionalClose bool
	cancelFn         context.CancelFunc
	parent           context.Context
}

func newRealtimeConn(url string, config *RealtimeConfig, registry *Registry, log zerolog.Logger) *realtimeConn {
	return &realtimeConn{
		url:    url,
		config: config,
		router: newEventRouter(registry, log),
		recon:  newReconnector(config),
		log:    log,
		state:  ConnDisconnected,
	}
}

// OnAuthenticated registers a handler for the authenticated event.
func (c *realtimeConn) OnAuthenticated(h func(AuthenticatedPayload)) {
	c.router.mu.Lock()
	c.router.onAuthenticated = append(c.router.onAuthenticated, h)
	c.router.mu.Unlock()
}

// OnError registers a handler for server errors.
func (c *realtimeConn) OnError(h func(RealtimeErrorPayload)) {
	c.router.mu.Lock()
	c.router.onError = append(c.router.onError, h)
	c.router.mu.Unlock()
}

func (c *realtimeConn) OnConnected(h func()) {
	c.router.mu.Lock()
	c.router.onConnected = append(c.router.onConnected, h)
	c.router.mu.Unlock()
}

func (c *realtimeConn) OnDisconnected(h func(code int, reason string)) {
	c.router.mu.Lock()
	c.router.onDisconnected = append(c.router.onDisconnected, h)
	c.router.mu.Unlock()
}

func (c *realtimeConn) OnReconnecting(h func(attempt int, delay time.Duration)) {
	c.router.mu.Lock()
	c.router.onReconnecting = append(c.router.onReconnecting, h)
	c.router.mu.Unlock()
}

// State returns the current connection state.
func (c *realtimeConn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *realtimeConn) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// begin moves to connecting. It reports false when a connection is already
// up or being established.
func (c *realtimeConn) begin(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ConnConnected || c.state == ConnConnecting {
		return false
	}
	c.state = ConnConnecting
	c.intentionalClose = false
	c.parent = ctx
	return true
}

func (c *realtimeConn) intentional() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intentionalClose
}

// reconnectLoop calls connect with backoff until it succeeds, attempts run
// out, the context of the original Connect ends or Disconnect is called.
func (c *realtimeConn) reconnectLoop(connect func(context.Context) error) {
	c.mu.Lock()
	parent := c.parent
	c.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}

	for c.config.AutoReconnect && c.recon.shouldReconnect() {
		delay := c.recon.nextDelay()
		c.setState(ConnReconnecting)
		c.router.emitReconnecting(c.recon.attempt, delay)
		c.log.Info().Int("attempt", c.recon.attempt).Dur("delay", delay).Msg("Reconnecting")

		t := time.NewTimer(delay)
		select {
		case <-parent.Done():
			t.Stop()
			c.setState(ConnDisconnected)
			return
		case <-t.C:
		}
		if c.intentional() {
			return
		}

		err := connect(parent)
		if err == nil {
			return
		}
		c.log.Warn().Err(err).Int("attempt", c.recon.attempt).Msg("Reconnect failed")
	}
	c.setState(ConnDisconnected)
}

// ============================================================================
// RealtimeWSClient
// ============================================================================

// RealtimeWSClient is a WebSocket real-time client with auto-reconnect and heartbeat.
type RealtimeWSClient struct {
	*realtimeConn

	conn         *websocket.Conn
	pingCounter  atomic.Int64
	pendingPings map[string]chan PongPayload
	pendingMu    sync.Mutex
}

// Connect establishes the WebSocket connection and waits for the server's
// authenticated event. ctx bounds the lifetime of the connection and of
// any reconnects. It is a no-op while already connected.
func (ws *RealtimeWSClient) Connect(ctx context.Context) error {
	if !ws.begin(ctx) {
		return nil
	}

	conn, _, err := websocket.Dial(ctx, ws.url, nil)
	if err != nil {
		ws.setState(ConnDisconnected)
		return fmt.Errorf("websocket dial: %w", err)
	}

	// The first frame must be "authenticated"
	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		ws.setState(ConnDisconnected)
		return fmt.Errorf("read auth message: %w", err)
	}

	var env RealtimeEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != EventAuthenticated {
		conn.Close(websocket.StatusNormalClosure, "")
		ws.setState(ConnDisconnected)
		return fmt.Errorf("expected '%s', got '%s'", EventAuthenticated, env.Type)
	}

	connCtx, cancel := context.WithCancel(ctx)
	ws.mu.Lock()
	ws.conn = conn
	ws.state = ConnConnected
	ws.cancelFn = cancel
	ws.mu.Unlock()
	ws.recon.markConnected()
	ws.log.Info().Msg("Realtime connected")

	ws.router.dispatch(env)
	ws.router.emitConnected()

	go ws.readLoop(connCtx, conn)
	go ws.heartbeatLoop(connCtx)

	return nil
}

// Disconnect gracefully closes the connection and stops reconnecting.
func (ws *RealtimeWSClient) Disconnect() error {
	ws.mu.Lock()
	ws.intentionalClose = true
	cancel := ws.cancelFn
	ws.cancelFn = nil
	conn := ws.conn
	ws.conn = nil
	ws.state = ConnDisconnected
	ws.mu.Unlock()

	ws.clearPendingPings()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if cancel != nil {
		cancel()
	}
	ws.router.emitDisconnected(int(websocket.StatusNormalClosure), "client disconnect")
	return err
}

// JoinChannel asks the server to start pushing events for channelID.
func (ws *RealtimeWSClient) JoinChannel(ctx context.Context, channelID string) error {
	return ws.Send(ctx, &RealtimeCommand{
		Type:    "channel.join",
		Payload: map[string]string{"channelId": channelID},
	})
}

// StartTyping sends a typing start indicator.
func (ws *RealtimeWSClient) StartTyping(ctx context.Context, channelID string) error {
	return ws.Send(ctx, &RealtimeCommand{
		Type:    "typing.start",
		Payload: map[string]string{"channelId": channelID},
	})
}

// StopTyping sends a typing stop indicator.
func (ws *RealtimeWSClient) StopTyping(ctx context.Context, channelID string) error {
	return ws.Send(ctx, &RealtimeCommand{
		Type:    "typing.stop",
		Payload: map[string]string{"channelId": channelID},
	})
}

// Send sends a raw command over the WebSocket.
func (ws *RealtimeWSClient) Send(ctx context.Context, cmd *RealtimeCommand) error {
	ws.mu.Lock()
	conn := ws.conn
	ws.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Ping sends a ping and waits for the matching pong.
func (ws *RealtimeWSClient) Ping(ctx context.Context) (*PongPayload, error) {
	requestID := fmt.Sprintf("ping-%d", ws.pingCounter.Add(1))

	ch := make(chan PongPayload, 1)
	ws.pendingMu.Lock()
	ws.pendingPings[requestID] = ch
	ws.pendingMu.Unlock()

	forget := func() {
		ws.pendingMu.Lock()
		delete(ws.pendingPings, requestID)
		ws.pendingMu.Unlock()
	}

	err := ws.Send(ctx, &RealtimeCommand{
		Type:    "ping",
		Payload: map[string]string{"requestId": requestID},
	})
	if err != nil {
		forget()
		return nil, err
	}

	select {
	case pong, ok := <-ch:
		if !ok {
			return nil, errors.New("connection closed")
		}
		return &pong, nil
	case <-time.After(10 * time.Second):
		forget()
		return nil, fmt.Errorf("ping timeout")
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	}
}

func (ws *RealtimeWSClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ws.intentional() {
				return
			}

			ws.mu.Lock()
			if ws.conn == conn {
				ws.conn = nil
			}
			ws.state = ConnDisconnected
			ws.mu.Unlock()
			ws.clearPendingPings()

			ws.log.Warn().Err(err).Msg("Realtime connection lost")
			ws.router.emitDisconnected(int(websocket.CloseStatus(err)), err.Error())
			ws.reconnectLoop(ws.Connect)
			return
		}

		var env RealtimeEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			ws.log.Debug().Err(err).Msg("Skipping malformed frame")
			continue
		}

		if env.Type == EventPong {
			ws.resolvePing(env)
		}
		ws.router.dispatch(env)
	}
}

func (ws *RealtimeWSClient) resolvePing(env RealtimeEnvelope) {
	var p PongPayload
	if json.Unmarshal(env.Payload, &p) != nil || p.RequestID == "" {
		return
	}
	ws.pendingMu.Lock()
	ch, ok := ws.pendingPings[p.RequestID]
	if ok {
		delete(ws.pendingPings, p.RequestID)
	}
	ws.pendingMu.Unlock()
	if ok {
		ch <- p
	}
}

func (ws *RealtimeWSClient) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(ws.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ws.State() != ConnConnected {
				return
			}

			if _, err := ws.Ping(ctx); err != nil {
				ws.log.Warn().Err(err).Msg("Heartbeat failed")
				// readLoop notices the close and reconnects
				ws.mu.Lock()
				conn := ws.conn
				ws.mu.Unlock()
				if conn != nil {
					conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				}
				return
			}
		}
	}
}

func (ws *RealtimeWSClient) clearPendingPings() {
	ws.pendingMu.Lock()
	for k, ch := range ws.pendingPings {
		close(ch)
		delete(ws.pendingPings, k)
	}
	ws.pendingMu.Unlock()
}

// ============================================================================
// RealtimeSSEClient
// ============================================================================

// RealtimeSSEClient is an SSE real-time client (server-push only) with auto-reconnect.
type RealtimeSSEClient struct {
	*realtimeConn

	lastDataTime time.Time
}

// Connect opens the event stream. It is a no-op while already connected.
func (sse *RealtimeSSEClient) Connect(ctx context.Context) error {
	if !sse.begin(ctx) {
		return nil
	}

	connCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, sse.url, nil)
	if err != nil {
		cancel()
		sse.setState(ConnDisconnected)
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := sse.config.HTTPClient.Do(req)
	if err != nil {
		cancel()
		sse.setState(ConnDisconnected)
		return fmt.Errorf("SSE connect: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		sse.setState(ConnDisconnected)
		return fmt.Errorf("SSE HTTP %d", resp.StatusCode)
	}

	sse.mu.Lock()
	sse.state = ConnConnected
	sse.lastDataTime = time.Now()
	sse.cancelFn = cancel
	sse.mu.Unlock()
	sse.recon.markConnected()
	sse.log.Info().Msg("Realtime connected")
	sse.router.emitConnected()

	go sse.readLoop(resp)
	go sse.heartbeatWatchdog(connCtx, cancel)

	return nil
}

// Disconnect closes the stream and stops reconnecting.
func (sse *RealtimeSSEClient) Disconnect() error {
	sse.mu.Lock()
	sse.intentionalClose = true
	if sse.cancelFn != nil {
		sse.cancelFn()
		sse.cancelFn = nil
	}
	sse.state = ConnDisconnected
	sse.mu.Unlock()

	sse.router.emitDisconnected(1000, "client disconnect")
	return nil
}

func (sse *RealtimeSSEClient) readLoop(resp *http.Response) {
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		sse.mu.Lock()
		sse.lastDataTime = time.Now()
		sse.mu.Unlock()

		if strings.HasPrefix(line, ":") {
			continue // keep-alive comment
		}

		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var env RealtimeEnvelope
			if err := json.Unmarshal([]byte(payload), &env); err != nil {
				sse.log.Debug().Err(err).Msg("Skipping malformed event")
				continue
			}
			sse.router.dispatch(env)
		}
	}

	if sse.intentional() {
		return
	}

	sse.setState(ConnDisconnected)
	sse.log.Warn().Msg("Event stream ended")
	sse.router.emitDisconnected(0, "stream ended")
	sse.reconnectLoop(sse.Connect)
}

// heartbeatWatchdog drops the stream when nothing, not even a keep-alive
// comment, arrived within StaleTimeout.
func (sse *RealtimeSSEClient) heartbeatWatchdog(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(sse.config.StaleTimeout / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sse.mu.Lock()
			stale := time.Since(sse.lastDataTime) > sse.config.StaleTimeout
			sse.mu.Unlock()
			if stale {
				sse.log.Warn().Dur("timeout", sse.config.StaleTimeout).Msg("Event stream stale")
				cancel()
				return
			}
		}
	}
}
