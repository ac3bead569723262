package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	promclient "github.com/spooky-finn/go-okx-bridge/infrastructure/prometheus"
)

var logger = log.New(os.Stdout, "[okx] ", log.LstdFlags)

const (
	loginVerifyPath = "/users/self/verify"

	defaultPingInterval = 15 * time.Second
	defaultIdleTimeout  = 30 * time.Second
	// The exchange drops sessions after roughly a day; reconnect on our own
	// schedule slightly before that window so the cut-over is controlled.
	defaultSessionMaxAge = 24*time.Hour - 5*time.Minute

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
	loginTimeout     = 10 * time.Second
	maxReconnectWait = 20 * time.Second
)

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrNotConnected         = errors.New("not connected")
	ErrLoginTimeout         = errors.New("timed out waiting for login ack")
)

type SessionState int32

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateAuthenticating
	StateAuthenticated
	StateAuthFailed
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateAuthenticating:
		return "Authenticating"
	case StateAuthenticated:
		return "Authenticated"
	case StateAuthFailed:
		return "AuthFailed"
	}
	return "Unknown"
}

type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
}

func (c Credentials) empty() bool {
	return c.APIKey == "" && c.SecretKey == "" && c.Passphrase == ""
}

// CredentialsFromEnv reads OKX_API_KEY / OKX_SECRET_KEY / OKX_PASSPHRASE.
func CredentialsFromEnv() Credentials {
	return Credentials{
		APIKey:     os.Getenv("OKX_API_KEY"),
		SecretKey:  os.Getenv("OKX_SECRET_KEY"),
		Passphrase: os.Getenv("OKX_PASSPHRASE"),
	}
}

// NewConnLimiter builds the token bucket bounding connection attempts per
// second. One limiter is shared by every socket of the same client identity.
func NewConnLimiter(attemptsPerSecond float64, burst int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(attemptsPerSecond), burst)
}

type StreamClientConfig struct {
	URL           string
	Credentials   Credentials
	PingInterval  time.Duration
	IdleTimeout   time.Duration
	SessionMaxAge time.Duration

	// ConnLimiter gates dial attempts; it blocks until a slot is available,
	// it never drops an attempt. Required.
	ConnLimiter *rate.Limiter
}

type wsArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId,omitempty"`
}

func (a wsArg) key() string {
	return a.Channel + "|" + a.InstID
}

type wsRequest struct {
	Op   string  `json:"op"`
	Args []wsArg `json:"args,omitempty"`
}

type loginArg struct {
	APIKey     string `json:"apiKey"`
	Passphrase string `json:"passphrase"`
	Timestamp  string `json:"timestamp"`
	Sign       string `json:"sign"`
}

type loginRequest struct {
	Op   string     `json:"op"`
	Args []loginArg `json:"args"`
}

type wsEnvelope struct {
	Event  string          `json:"event"`
	Code   string          `json:"code"`
	Msg    string          `json:"msg"`
	Arg    wsArg           `json:"arg"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// FrameHandler consumes one routed data frame. Handlers must not block: the
// read loop delivers frames inline and per-symbol buffering happens in the
// synchronizer behind the handler.
type FrameHandler func(arg wsArg, action string, data json.RawMessage)

type subscriptionEntry struct {
	arg     wsArg
	handler FrameHandler
}

// OKXStreamClient owns one websocket session: connect, login, heartbeat,
// idle watchdog, scheduled reconnect and frame routing.
type OKXStreamClient struct {
	cfg     StreamClientConfig
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	conn       *websocket.Conn
	connCancel context.CancelFunc
	state      SessionState
	loginWait  chan error

	writeMu sync.Mutex

	subsMu sync.RWMutex
	subs   map[string]subscriptionEntry

	lastInbound atomic.Int64 // unix nanos

	reconnecting atomic.Bool
	errs         chan error
}

func NewOKXStreamClient(cfg StreamClientConfig) *OKXStreamClient {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.SessionMaxAge <= 0 {
		cfg.SessionMaxAge = defaultSessionMaxAge
	}
	if cfg.ConnLimiter == nil {
		cfg.ConnLimiter = NewConnLimiter(1, 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &OKXStreamClient{
		cfg:     cfg,
		limiter: cfg.ConnLimiter,
		ctx:     ctx,
		cancel:  cancel,
		state:   StateDisconnected,
		subs:    make(map[string]subscriptionEntry),
		errs:    make(chan error, 8),
	}
}

// Connect dials, authenticates when credentials are configured, and
// restores tracked subscriptions. An authentication failure is returned to
// the caller and is never retried with unchanged credentials.
func (c *OKXStreamClient) Connect(ctx context.Context) error {
	return c.connectOnce(ctx)
}

func (c *OKXStreamClient) Close() error {
	c.cancel()

	c.mu.Lock()
	conn := c.conn
	connCancel := c.connCancel
	c.conn = nil
	c.connCancel = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if connCancel != nil {
		connCancel()
	}
	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return conn.Close()
	}
	return nil
}

func (c *OKXStreamClient) State() SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Errors surfaces session-level events the caller must see: authentication
// failures and repeated reconnect errors.
func (c *OKXStreamClient) Errors() <-chan error {
	return c.errs
}

// Subscribe registers the handler for (channel, instId) and sends the
// subscribe frame when a connection is up. The registration survives
// reconnects: every tracked channel is re-subscribed after re-login.
func (c *OKXStreamClient) Subscribe(channel, instID string, handler FrameHandler) error {
	arg := wsArg{Channel: channel, InstID: instID}

	c.subsMu.Lock()
	c.subs[arg.key()] = subscriptionEntry{arg: arg, handler: handler}
	c.subsMu.Unlock()

	err := c.writeJSON(wsRequest{Op: "subscribe", Args: []wsArg{arg}})
	if errors.Is(err, ErrNotConnected) {
		// Sent on (re)connect via resubscribeAll.
		return nil
	}
	return err
}

// Unsubscribe drops the registration and notifies the exchange. Idempotent.
func (c *OKXStreamClient) Unsubscribe(channel, instID string) error {
	arg := wsArg{Channel: channel, InstID: instID}

	c.subsMu.Lock()
	_, existed := c.subs[arg.key()]
	delete(c.subs, arg.key())
	c.subsMu.Unlock()

	if !existed {
		return nil
	}
	err := c.writeJSON(wsRequest{Op: "unsubscribe", Args: []wsArg{arg}})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// ForceReconnect tears the current connection down and dials again under
// the shared rate limiter. Only one cycle runs at a time.
func (c *OKXStreamClient) ForceReconnect(reason string) {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}

	logger.Printf("forcing reconnect: %s", reason)
	promclient.ReconnectCounter.Inc()

	go func() {
		defer c.reconnecting.Store(false)
		c.teardownConn()
		c.redial()
	}()
}

func (c *OKXStreamClient) connectOnce(ctx context.Context) error {
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
	}

	c.setState(StateConnecting)
	if err := c.limiter.Wait(ctx); err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("connection rate limiter: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	connCtx, connCancel := context.WithCancel(c.ctx)

	c.mu.Lock()
	c.conn = conn
	c.connCancel = connCancel
	c.state = StateConnected
	c.mu.Unlock()
	c.lastInbound.Store(time.Now().UnixNano())

	go c.readLoop(connCtx, conn)
	go c.heartbeatLoop(connCtx, conn)
	go c.watchdogLoop(connCtx)
	go c.sessionExpiryLoop(connCtx)

	if !c.cfg.Credentials.empty() {
		if err := c.login(conn); err != nil {
			// Teardown resets the state, so the terminal one goes last.
			c.teardownConn()
			c.setState(StateAuthFailed)
			return err
		}
		c.setState(StateAuthenticated)
	}

	if err := c.resubscribeAll(); err != nil {
		logger.Printf("resubscribe failed: %s", err)
	}
	return nil
}

// login sends the signed login frame and waits for its ack. The signature
// is a keyed hash over timestamp + "GET" + the fixed verification path.
func (c *OKXStreamClient) login(conn *websocket.Conn) error {
	wait := make(chan error, 1)
	c.mu.Lock()
	c.state = StateAuthenticating
	c.loginWait = wait
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.loginWait = nil
		c.mu.Unlock()
	}()

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req := loginRequest{
		Op: "login",
		Args: []loginArg{{
			APIKey:     c.cfg.Credentials.APIKey,
			Passphrase: c.cfg.Credentials.Passphrase,
			Timestamp:  timestamp,
			Sign:       sign(c.cfg.Credentials.SecretKey, timestamp),
		}},
	}
	if err := c.writeJSON(req); err != nil {
		return fmt.Errorf("send login: %w", err)
	}

	select {
	case err := <-wait:
		if err != nil {
			return fmt.Errorf("%w: %s", ErrAuthenticationFailed, err)
		}
		return nil
	case <-time.After(loginTimeout):
		return ErrLoginTimeout
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

func sign(secret, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "GET" + loginVerifyPath))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *OKXStreamClient) resubscribeAll() error {
	c.subsMu.RLock()
	args := make([]wsArg, 0, len(c.subs))
	for _, entry := range c.subs {
		args = append(args, entry.arg)
	}
	c.subsMu.RUnlock()

	if len(args) == 0 {
		return nil
	}
	return c.writeJSON(wsRequest{Op: "subscribe", Args: args})
}

func (c *OKXStreamClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			logger.Printf("read error: %s", err)
			c.ForceReconnect("read error")
			return
		}

		c.lastInbound.Store(time.Now().UnixNano())

		// Heartbeat frames are bare text, not JSON.
		switch string(data) {
		case "pong":
			continue
		case "ping":
			c.writeText("pong")
			continue
		}

		var envelope wsEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			logger.Printf("decode frame: %s", err)
			continue
		}
		c.dispatch(envelope)
	}
}

func (c *OKXStreamClient) dispatch(envelope wsEnvelope) {
	switch envelope.Event {
	case "login":
		if envelope.Code != "" && envelope.Code != "0" {
			c.deliverLoginResult(fmt.Errorf("exchange error code=%s: %s", envelope.Code, envelope.Msg))
			return
		}
		c.deliverLoginResult(nil)
		return
	case "error":
		err := fmt.Errorf("exchange error code=%s: %s", envelope.Code, envelope.Msg)
		if c.State() == StateAuthenticating {
			c.deliverLoginResult(err)
			return
		}
		logger.Printf("%s", err)
		c.reportError(err)
		return
	case "subscribe", "unsubscribe":
		return
	}

	if len(envelope.Data) == 0 {
		return
	}

	c.subsMu.RLock()
	entry, ok := c.subs[envelope.Arg.key()]
	c.subsMu.RUnlock()
	if !ok || entry.handler == nil {
		return
	}
	entry.handler(envelope.Arg, envelope.Action, envelope.Data)
}

func (c *OKXStreamClient) deliverLoginResult(err error) {
	c.mu.Lock()
	wait := c.loginWait
	c.mu.Unlock()

	if wait == nil {
		return
	}
	select {
	case wait <- err:
	default:
	}
}

// heartbeatLoop sends a lightweight keep-alive frame at a fixed interval.
// It stops when the connection context is cancelled, which the watchdog
// does before triggering a reconnect.
func (c *OKXStreamClient) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeText("ping"); err != nil {
				logger.Printf("write ping: %s", err)
				return
			}
		}
	}
}

// watchdogLoop forces exactly one reconnect cycle when no inbound message
// arrives within the idle timeout. The connection context is cancelled
// first, so the heartbeat cannot race a second timeout detection.
func (c *OKXStreamClient) watchdogLoop(ctx context.Context) {
	interval := c.cfg.IdleTimeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, c.lastInbound.Load()))
			if idle <= c.cfg.IdleTimeout {
				continue
			}
			logger.Printf("no inbound message for %s, reconnecting", idle.Round(time.Millisecond))
			c.ForceReconnect("idle timeout")
			return
		}
	}
}

// sessionExpiryLoop pre-empts the exchange's mandatory session drop with a
// controlled reconnect of our own.
func (c *OKXStreamClient) sessionExpiryLoop(ctx context.Context) {
	timer := time.NewTimer(c.cfg.SessionMaxAge)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
		c.ForceReconnect("scheduled session rollover")
	}
}

func (c *OKXStreamClient) teardownConn() {
	c.mu.Lock()
	conn := c.conn
	connCancel := c.connCancel
	c.conn = nil
	c.connCancel = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if connCancel != nil {
		connCancel()
	}
	if conn != nil {
		conn.Close()
	}
}

// redial re-establishes the session with exponential backoff. Dial attempts
// stay gated by the shared limiter inside connectOnce. An authentication
// failure stops the cycle: retrying unchanged credentials cannot succeed.
func (c *OKXStreamClient) redial() {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = maxReconnectWait

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		err := c.connectOnce(c.ctx)
		if err == nil {
			logger.Printf("reconnected to %s", c.cfg.URL)
			return
		}
		if errors.Is(err, ErrAuthenticationFailed) {
			c.setState(StateAuthFailed)
			c.reportError(err)
			return
		}

		logger.Printf("reconnect attempt failed: %s", err)
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			wait = maxReconnectWait
		}
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (c *OKXStreamClient) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *OKXStreamClient) writeText(s string) error {
	return c.write([]byte(s))
}

func (c *OKXStreamClient) write(data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *OKXStreamClient) setState(state SessionState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *OKXStreamClient) reportError(err error) {
	select {
	case c.errs <- err:
	default:
	}
}
