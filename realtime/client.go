// Package realtime maintains one logical websocket connection to the
// platform's realtime service, multiplexing phoenix-style channels over it.
// The client owns the socket, a heartbeat loop and an inbound message pump,
// and reconnects with a fixed delay on failure, rejoining every registered
// channel.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/altobase/altobase-go/auth"
	"github.com/altobase/altobase-go/internal/clock"
	"github.com/altobase/altobase-go/internal/watch"
)

// Status is the connection state.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

var (
	// ErrAlreadyConnected is returned by Connect when the connection is
	// already up. Programmer misuse: fail fast, never retried.
	ErrAlreadyConnected = errors.New("realtime: websocket already connected")
	// ErrNotConnected is returned when a frame is sent while disconnected.
	ErrNotConnected = errors.New("realtime: websocket not connected")
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	defaultReconnectDelay    = 7 * time.Second
	protocolVersion          = "1.0.0"
)

// SessionWatcher is the slice of the auth client the realtime client
// observes: token changes re-auth joined channels, session loss optionally
// disconnects.
type SessionWatcher interface {
	WatchStatus() (<-chan auth.SessionStatus, func())
}

// Config configures a realtime Client.
type Config struct {
	// URL is the websocket endpoint, e.g.
	// wss://project.example.com/realtime/v1/websocket. The api key and
	// protocol version are appended as query parameters.
	URL    string
	APIKey string

	// HeartbeatInterval between liveness probes. Defaults to 15 seconds.
	HeartbeatInterval time.Duration
	// ReconnectDelay before each reconnect attempt. Defaults to 7 seconds.
	ReconnectDelay time.Duration
	// DisconnectOnSessionLoss controls whether losing the auth session tears
	// down the connection. Defaults to true; set to a false pointer to keep
	// the socket open with anonymous access.
	DisconnectOnSessionLoss *bool
	// DisconnectOnNoSubscriptions tears down the connection when the last
	// channel is removed. Off by default; Connect/Disconnect stay explicit.
	DisconnectOnNoSubscriptions bool

	// Session, when set, is observed for token changes and session loss.
	Session SessionWatcher

	Dialer *websocket.Dialer
	Clock  clock.Clock
	Logger *slog.Logger
}

// Client is the realtime connection manager.
type Client struct {
	config Config
	dialer *websocket.Dialer
	clock  clock.Clock
	logger *slog.Logger
	status *watch.Value[Status]

	// mu guards the socket, the loop lifecycle, the dial slot and the shared
	// ref counter.
	mu           sync.Mutex
	conn         *websocket.Conn
	dial         *dialSlot
	loopCancel   context.CancelFunc
	loopWG       *sync.WaitGroup
	ref          int
	heartbeatRef int
	// stayDown records an explicit Disconnect. It blocks the reconnect path
	// until the next Connect, closing the window where a disconnect lands
	// between a loop failure and its reconnect taking the dial slot.
	stayDown bool

	// writeMu serializes frame writes; the websocket allows one concurrent
	// writer.
	writeMu sync.Mutex

	// chanMu guards the topic registry against concurrent structural
	// modification while the pump dispatches and the reconnect path rejoins.
	chanMu   sync.Mutex
	channels map[string]*Channel

	tokenMu sync.Mutex
	token   string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a realtime Client. When cfg.Session is set the client
// immediately subscribes to session status updates. Call Close to release
// everything.
func NewClient(cfg Config) *Client {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		config:   cfg,
		dialer:   dialer,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		status:   watch.New(Disconnected),
		channels: make(map[string]*Channel),
		ctx:      ctx,
		cancel:   cancel,
	}
	if cfg.Session != nil {
		go c.watchSession(cfg.Session)
	}
	return c
}

// Close disconnects and stops the session watcher.
func (c *Client) Close() {
	c.cancel()
	c.Disconnect()
}

// Status returns the current connection status.
func (c *Client) Status() Status { return c.status.Get() }

// WatchStatus subscribes to connection status transitions.
func (c *Client) WatchStatus() (<-chan Status, func()) { return c.status.Subscribe() }

// dialSlot marks one in-flight connect attempt. The client holds at most one:
// a second connect refuses instead of dialing a second socket, and Disconnect
// cancels the slot to stop a pending reconnect loop.
type dialSlot struct {
	cancel context.CancelFunc
}

// Connect opens the websocket connection. Calling Connect while connected or
// while a connect attempt is already in flight is an error. Dial failures are
// retried indefinitely with ReconnectDelay between attempts until ctx is
// cancelled, Disconnect is called or the client is closed.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, false)
}

func (c *Client) connect(ctx context.Context, reconnect bool) error {
	c.mu.Lock()
	if c.conn != nil || c.dial != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	if reconnect && c.stayDown {
		c.mu.Unlock()
		return context.Canceled
	}
	c.stayDown = false
	dialCtx, cancel := context.WithCancel(ctx)
	slot := &dialSlot{cancel: cancel}
	c.dial = slot
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.dial == slot {
			c.dial = nil
		}
		c.mu.Unlock()
		cancel()
	}()

	for {
		if reconnect {
			c.logger.Info("reconnecting to realtime websocket", "delay", c.config.ReconnectDelay)
			select {
			case <-dialCtx.Done():
				return dialCtx.Err()
			case <-c.ctx.Done():
				return c.ctx.Err()
			case <-c.clock.After(c.config.ReconnectDelay):
			}
		}
		c.status.Set(Connecting)
		conn, resp, err := c.dialer.DialContext(dialCtx, c.endpoint(), nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if dialCtx.Err() != nil {
				c.status.Set(Disconnected)
				return dialCtx.Err()
			}
			c.logger.Error("failed to connect to realtime websocket, retrying",
				"delay", c.config.ReconnectDelay, "error", err)
			c.status.Set(Disconnected)
			reconnect = true
			continue
		}

		loopCtx, loopCancel := context.WithCancel(c.ctx)
		wg := &sync.WaitGroup{}
		c.mu.Lock()
		if c.dial != slot || dialCtx.Err() != nil || c.stayDown {
			// Disconnect won the race between dial and install; the fresh
			// socket must not survive it.
			c.mu.Unlock()
			loopCancel()
			_ = conn.Close()
			c.status.Set(Disconnected)
			return context.Canceled
		}
		c.conn = conn
		c.loopCancel = loopCancel
		c.loopWG = wg
		c.ref = 0
		c.heartbeatRef = 0
		c.mu.Unlock()
		c.status.Set(Connected)
		c.logger.Info("connected to realtime websocket")

		wg.Add(2)
		go c.readPump(loopCtx, conn, wg)
		go c.heartbeatLoop(loopCtx, wg)

		if reconnect {
			c.rejoinChannels(ctx)
		}
		return nil
	}
}

// Disconnect cancels any pending connect attempt and the heartbeat and pump
// loops, waits for the loops to stop, closes the socket and resets the ref
// counter. The client stays disconnected until the next Connect. The channel
// registry is preserved so channels can be rejoined on the next connect.
// Safe to call when already disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.stayDown = true
	c.mu.Unlock()
	c.teardown()
}

// teardown is the shared cleanup behind Disconnect and the reconnect path.
// Unlike Disconnect it leaves reconnect eligibility alone.
func (c *Client) teardown() {
	c.mu.Lock()
	dial := c.dial
	cancel, conn, wg := c.loopCancel, c.conn, c.loopWG
	c.dial, c.loopCancel, c.conn, c.loopWG = nil, nil, nil, nil
	c.ref = 0
	c.heartbeatRef = 0
	c.mu.Unlock()

	if dial != nil {
		dial.cancel()
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if wg != nil {
		wg.Wait()
	}
	c.status.Set(Disconnected)
}

// reconnectAsync runs the teardown-then-reconnect path from a loop that is
// about to exit. It must not run inline: teardown waits for the calling loop
// to terminate. Colliding reconnects (read failure plus heartbeat timeout)
// collapse into one: the loser finds the dial slot taken. An explicit
// Disconnect anywhere in between wins via stayDown.
func (c *Client) reconnectAsync() {
	go func() {
		c.teardown()
		err := c.connect(c.ctx, true)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrAlreadyConnected) {
			c.logger.Error("realtime reconnect abandoned", "error", err)
		}
	}()
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				// explicit disconnect
				return
			}
			c.logger.Error("realtime read failed, reconnecting",
				"delay", c.config.ReconnectDelay, "error", err)
			c.reconnectAsync()
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("failed to decode realtime message", "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

// dispatch routes an inbound frame: a matching heartbeat ack clears the
// outstanding ref, anything else goes to the channel registered under its
// topic. Frames for unknown topics are dropped (late messages for removed
// channels).
func (c *Client) dispatch(msg Message) {
	c.mu.Lock()
	if c.heartbeatRef != 0 && msg.Ref == strconv.Itoa(c.heartbeatRef) {
		c.heartbeatRef = 0
		c.mu.Unlock()
		c.logger.Debug("heartbeat acknowledged")
		return
	}
	c.mu.Unlock()

	c.chanMu.Lock()
	channel := c.channels[msg.Topic]
	c.chanMu.Unlock()
	if channel == nil {
		return
	}
	channel.onMessage(msg)
}

func (c *Client) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(c.config.HeartbeatInterval):
		}
		if ctx.Err() != nil {
			return
		}
		if !c.sendHeartbeat() {
			c.reconnectAsync()
			return
		}
	}
}

// sendHeartbeat sends a liveness probe, or reports false when the previous
// probe was never acknowledged.
func (c *Client) sendHeartbeat() bool {
	c.mu.Lock()
	if c.heartbeatRef != 0 {
		c.heartbeatRef = 0
		c.ref = 0
		c.mu.Unlock()
		c.logger.Error("heartbeat timeout, reconnecting", "delay", c.config.ReconnectDelay)
		return false
	}
	c.ref++
	ref := c.ref
	c.heartbeatRef = ref
	c.mu.Unlock()

	msg := Message{Topic: heartbeatTopic, Event: EventHeartbeat, Payload: json.RawMessage("{}"), Ref: strconv.Itoa(ref)}
	if err := c.send(msg); err != nil {
		c.logger.Error("failed to send heartbeat", "error", err)
	}
	return true
}

// send writes one frame. Writes are serialized; the heartbeat loop, channel
// operations and the rejoin path all share the socket.
func (c *Client) send(msg Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send %s frame: %w", msg.Event, err)
	}
	return nil
}

// makeRef returns the next message reference. Heartbeat ids and general
// message refs share one counter, reset on disconnect.
func (c *Client) makeRef() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ref++
	return strconv.Itoa(c.ref)
}

// Channel creates (or replaces) the channel for a topic and registers it.
// The full topic is "realtime:" + topic.
func (c *Client) Channel(topic string, opts ...ChannelOption) *Channel {
	ch := newChannel(c, "realtime:"+topic, opts...)
	c.chanMu.Lock()
	defer c.chanMu.Unlock()
	c.channels[ch.topic] = ch
	return ch
}

// Channels returns a snapshot of the registered channels by topic.
func (c *Client) Channels() map[string]*Channel {
	c.chanMu.Lock()
	defer c.chanMu.Unlock()
	snapshot := make(map[string]*Channel, len(c.channels))
	for topic, ch := range c.channels {
		snapshot[topic] = ch
	}
	return snapshot
}

// RemoveChannel leaves a channel (when joined) and removes it from the
// registry.
func (c *Client) RemoveChannel(ctx context.Context, ch *Channel) error {
	switch ch.Status() {
	case ChannelJoined, ChannelJoining:
		return ch.Leave(ctx)
	default:
		c.removeChannel(ch.topic)
		return nil
	}
}

// RemoveAllChannels leaves and removes every registered channel. Failures
// are collected; one channel failing does not block the others.
func (c *Client) RemoveAllChannels(ctx context.Context) error {
	var errs []error
	for _, ch := range c.Channels() {
		if err := c.RemoveChannel(ctx, ch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) removeChannel(topic string) {
	c.chanMu.Lock()
	delete(c.channels, topic)
	empty := len(c.channels) == 0
	c.chanMu.Unlock()
	if empty && c.config.DisconnectOnNoSubscriptions && c.Status() == Connected {
		// Never inline: this may run on the pump goroutine, which Disconnect
		// waits for.
		go c.Disconnect()
	}
}

// rejoinChannels rejoins every registered channel after a reconnect. Each
// channel is rejoined independently; one failure does not block the rest.
func (c *Client) rejoinChannels(ctx context.Context) {
	for topic, ch := range c.Channels() {
		if err := ch.Join(ctx); err != nil {
			c.logger.Error("failed to rejoin channel", "topic", topic, "error", err)
		}
	}
}

func (c *Client) watchSession(session SessionWatcher) {
	updates, cancel := session.WatchStatus()
	defer cancel()
	// Only a transition away from Authenticated is a loss; the initial
	// NotAuthenticated of a fresh auth client must not tear anything down.
	wasAuthenticated := false
	for {
		select {
		case <-c.ctx.Done():
			return
		case status, ok := <-updates:
			if !ok {
				return
			}
			switch s := status.(type) {
			case auth.Authenticated:
				wasAuthenticated = true
				c.updateAuth(s.Session.AccessToken)
			case auth.NotAuthenticated:
				if !wasAuthenticated {
					continue
				}
				wasAuthenticated = false
				if c.disconnectOnSessionLoss() {
					c.logger.Warn("auth session lost, disconnecting from realtime websocket")
					c.Disconnect()
				}
			}
		}
	}
}

// updateAuth stores the latest access token and pushes it to every joined
// channel without disconnecting.
func (c *Client) updateAuth(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
	for topic, ch := range c.Channels() {
		if ch.Status() != ChannelJoined {
			continue
		}
		if err := ch.updateAuth(token); err != nil {
			c.logger.Error("failed to push new access token to channel", "topic", topic, "error", err)
		}
	}
}

func (c *Client) accessToken() string {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.token
}

func (c *Client) disconnectOnSessionLoss() bool {
	if c.config.DisconnectOnSessionLoss == nil {
		return true
	}
	return *c.config.DisconnectOnSessionLoss
}

func (c *Client) endpoint() string {
	query := url.Values{}
	query.Set("apikey", c.config.APIKey)
	query.Set("vsn", protocolVersion)
	separator := "?"
	if strings.Contains(c.config.URL, "?") {
		separator = "&"
	}
	return c.config.URL + separator + query.Encode()
}
