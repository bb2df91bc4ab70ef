// Package deriv implements the WebSocket protocol client for the Deriv
// brokerage API: session authorization, request/response correlation over
// req_id, heartbeat keepalive, bounded reconnection, market data retrieval
// and contract execution.
package deriv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"deriv-trading-bot/config"
	"deriv-trading-bot/internal/logging"
	"deriv-trading-bot/internal/metrics"
)

var (
	// ErrRequestTimeout means no response arrived within the request deadline
	ErrRequestTimeout = errors.New("request timed out")
	// ErrNotConnected means the socket is down and not yet re-established
	ErrNotConnected = errors.New("not connected")
	// ErrNotAuthorized means the session has not completed authorization
	ErrNotAuthorized = errors.New("session not authorized")
	// ErrUnreachable means every reconnect attempt failed; the client is terminal
	ErrUnreachable = errors.New("brokerage unreachable after max reconnect attempts")
	// ErrClosed means the client was shut down deliberately
	ErrClosed = errors.New("client closed")
)

type tickStream struct {
	subID string
	ch    chan Tick
}

// Client is a single authorized WebSocket session against the brokerage.
// One client serves one API token; switching accounts means closing the
// client and dialing a fresh one with the other token.
type Client struct {
	cfg     config.DerivConfig
	token   string
	logger  *logging.Logger
	limiter *rate.Limiter
	pending *pendingTable

	mu          sync.Mutex
	conn        *websocket.Conn
	connDone    chan struct{}
	authorized  bool
	authCh      chan struct{}
	account     *AccountInfo
	closed      bool
	unreachable bool
	onOffline   func()

	writeMu sync.Mutex

	subMu    sync.Mutex
	tickSubs map[string]*tickStream
}

// NewClient builds a client for one API token. Connect must be called before
// any request method.
func NewClient(cfg config.DerivConfig, token string, logger *logging.Logger) *Client {
	fps := cfg.FramesPerSecond
	if fps <= 0 {
		fps = 5
	}
	return &Client{
		cfg:      cfg,
		token:    token,
		logger:   logger.WithComponent("deriv"),
		limiter:  rate.NewLimiter(rate.Limit(fps), int(fps)),
		pending:  newPendingTable(),
		authCh:   make(chan struct{}),
		tickSubs: make(map[string]*tickStream),
	}
}

// SetOfflineHandler registers a callback invoked once when the client gives
// up reconnecting. Must be set before Connect.
func (c *Client) SetOfflineHandler(fn func()) {
	c.mu.Lock()
	c.onOffline = fn
	c.mu.Unlock()
}

func (c *Client) endpoint() string {
	return fmt.Sprintf("%s?app_id=%s", c.cfg.Endpoint, c.cfg.AppID)
}

// Connect dials the brokerage and authorizes the session
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		return err
	}
	return c.authorize(ctx)
}

func (c *Client) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.endpoint(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.endpoint(), err)
	}

	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.connDone = done
	c.authorized = false
	c.authCh = make(chan struct{})
	c.mu.Unlock()

	c.pending.reset()

	go c.readLoop(conn, done)
	go c.heartbeat(done)

	c.logger.Info("connected", "endpoint", c.cfg.Endpoint)
	return nil
}

// authorize sends the token and records the account the session now acts as.
// Authorization does not survive a reconnect; dial resets the flag.
func (c *Client) authorize(ctx context.Context) error {
	raw, err := c.call(ctx, map[string]interface{}{"authorize": c.token}, c.cfg.RequestTimeout)
	if err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}

	var resp authorizeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("failed to parse authorize response: %w", err)
	}
	if resp.Authorize == nil {
		return fmt.Errorf("authorize response missing account")
	}

	c.mu.Lock()
	c.account = resp.Authorize
	c.authorized = true
	close(c.authCh)
	c.mu.Unlock()

	c.logger.Info("authorized", "loginid", resp.Authorize.LoginID, "currency", resp.Authorize.Currency)
	return nil
}

// AwaitAuthorization blocks until the session is authorized or the timeout
// elapses. Used after account switches.
func (c *Client) AwaitAuthorization(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	ch := c.authCh
	if c.authorized {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-time.After(timeout):
		return ErrNotAuthorized
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsAuthorized reports whether the current connection has completed authorization
func (c *Client) IsAuthorized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authorized
}

// Account returns the authorized account, or nil before authorization
func (c *Client) Account() *AccountInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account
}

// IsDemoAccount reports whether the authorized login is a virtual account.
// Deriv virtual login ids carry the VRTC prefix.
func (c *Client) IsDemoAccount() bool {
	acct := c.Account()
	if acct == nil {
		return false
	}
	return acct.IsVirtual == 1 || strings.HasPrefix(acct.LoginID, "VRTC")
}

// Unreachable reports whether reconnection has been exhausted
func (c *Client) Unreachable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unreachable
}

// Close shuts the client down; no reconnection follows
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.pending.failAll(ErrClosed)
	c.closeTickStreams()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) heartbeat(done chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.send(context.Background(), map[string]interface{}{"ping": 1}); err != nil {
				return
			}
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("unparseable frame dropped", "error", err.Error())
		return
	}

	if env.MsgType == "tick" {
		c.dispatchTick(data, &env)
	}

	if env.ReqID == 0 {
		return
	}
	if env.Error != nil {
		c.pending.resolve(env.ReqID, nil, env.Error)
		return
	}
	c.pending.resolve(env.ReqID, json.RawMessage(data), nil)
}

func (c *Client) dispatchTick(data []byte, env *envelope) {
	var resp tickResponse
	if err := json.Unmarshal(data, &resp); err != nil || resp.Tick == nil {
		return
	}

	c.subMu.Lock()
	sub, ok := c.tickSubs[resp.Tick.Symbol]
	if ok && sub.subID == "" && env.Subscription != nil {
		sub.subID = env.Subscription.ID
	}
	c.subMu.Unlock()

	if !ok {
		return
	}
	select {
	case sub.ch <- *resp.Tick:
	default:
		// slow consumer, drop the tick
	}
}

func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	closed := c.closed
	c.conn = nil
	c.authorized = false
	c.authCh = make(chan struct{})
	c.mu.Unlock()

	c.pending.failAll(ErrNotConnected)

	if closed {
		return
	}

	c.logger.Warn("connection lost", "error", err.Error())
	go c.reconnect()
}

// reconnectDelay is the wait before a reconnect attempt, growing linearly
// with the attempt number up to the configured cap.
func (c *Client) reconnectDelay(attempt int) time.Duration {
	delay := time.Duration(attempt) * c.cfg.ReconnectBaseDelay
	if delay > c.cfg.ReconnectMaxDelay {
		delay = c.cfg.ReconnectMaxDelay
	}
	return delay
}

// reconnect retries with the capped linear schedule; exhausting every
// attempt leaves the client terminal and fires the offline handler.
func (c *Client) reconnect() {
	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		time.Sleep(c.reconnectDelay(attempt))

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		metrics.ReconnectsTotal.Inc()
		c.logger.Info("reconnecting", "attempt", attempt, "max", c.cfg.MaxReconnectAttempts)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := c.dial(ctx)
		if err == nil {
			err = c.authorize(ctx)
		}
		cancel()

		if err == nil {
			c.logger.Info("reconnected", "attempt", attempt)
			c.resubscribeTicks()
			return
		}
		c.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err.Error())
	}

	c.mu.Lock()
	c.unreachable = true
	offline := c.onOffline
	c.mu.Unlock()

	c.logger.Error("brokerage unreachable, giving up")
	c.closeTickStreams()
	if offline != nil {
		offline()
	}
}

// send writes one frame, honoring the outbound rate limit
func (c *Client) send(ctx context.Context, frame interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// call sends a request and waits for the correlated response. The payload
// gets a fresh req_id; a missing response within timeout abandons the slot so
// a late reply is discarded rather than misdelivered.
func (c *Client) call(ctx context.Context, payload map[string]interface{}, timeout time.Duration) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.unreachable {
		c.mu.Unlock()
		return nil, ErrUnreachable
	}
	c.mu.Unlock()

	id, ch := c.pending.register()
	payload["req_id"] = id

	if err := c.send(ctx, payload); err != nil {
		c.pending.drop(id)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.data, res.err
	case <-timer.C:
		c.pending.drop(id)
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		c.pending.drop(id)
		return nil, ctx.Err()
	}
}

// SubscribeTicks opens a quote stream for a symbol. The returned cancel
// function forgets the subscription and closes the channel.
func (c *Client) SubscribeTicks(ctx context.Context, symbol string) (<-chan Tick, func(), error) {
	c.subMu.Lock()
	if _, exists := c.tickSubs[symbol]; exists {
		c.subMu.Unlock()
		return nil, nil, fmt.Errorf("already subscribed to %s", symbol)
	}
	sub := &tickStream{ch: make(chan Tick, 64)}
	c.tickSubs[symbol] = sub
	c.subMu.Unlock()

	_, err := c.call(ctx, map[string]interface{}{"ticks": symbol, "subscribe": 1}, c.cfg.RequestTimeout)
	if err != nil {
		c.subMu.Lock()
		delete(c.tickSubs, symbol)
		c.subMu.Unlock()
		close(sub.ch)
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", symbol, err)
	}

	cancel := func() {
		c.subMu.Lock()
		stored, ok := c.tickSubs[symbol]
		if ok {
			delete(c.tickSubs, symbol)
		}
		c.subMu.Unlock()
		if !ok {
			return
		}
		if stored.subID != "" {
			forgetCtx, forgetCancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, _ = c.call(forgetCtx, map[string]interface{}{"forget": stored.subID}, c.cfg.RequestTimeout)
			forgetCancel()
		}
		close(stored.ch)
	}

	return sub.ch, cancel, nil
}

// resubscribeTicks re-opens tick streams after a reconnect, keeping the
// original channels so consumers are undisturbed.
func (c *Client) resubscribeTicks() {
	c.subMu.Lock()
	symbols := make([]string, 0, len(c.tickSubs))
	for symbol, sub := range c.tickSubs {
		sub.subID = ""
		symbols = append(symbols, symbol)
	}
	c.subMu.Unlock()

	for _, symbol := range symbols {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := c.call(ctx, map[string]interface{}{"ticks": symbol, "subscribe": 1}, c.cfg.RequestTimeout)
		cancel()
		if err != nil {
			c.logger.Warn("tick resubscription failed", "symbol", symbol, "error", err.Error())
		}
	}
}

func (c *Client) closeTickStreams() {
	c.subMu.Lock()
	subs := c.tickSubs
	c.tickSubs = make(map[string]*tickStream)
	c.subMu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
	}
}

// Ping sends a keepalive probe and waits for the pong
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, map[string]interface{}{"ping": 1}, c.cfg.RequestTimeout)
	return err
}
