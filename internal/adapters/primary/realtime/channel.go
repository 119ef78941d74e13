// Package realtime maintains the push subscription side of the event layer:
// one authenticated websocket connection multiplexing every subscribed topic,
// with capped-backoff reconnects. There is no replay on reconnect; the poll
// fallback covers gaps.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
)

// Config holds channel tuning.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

// DefaultConfig returns sensible channel defaults.
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		WriteWait:        10 * time.Second,
		PongWait:         60 * time.Second,
		ReconnectInitial: time.Second,
		ReconnectMax:     30 * time.Second,
	}
}

// Channel is a reconnecting push subscription. Events are fanned out to every
// registered sink; the reconciler and the hand-off coordinator each get an
// independent copy of the stream.
type Channel struct {
	cfg    Config
	token  func() string
	logger *slog.Logger

	mu         sync.Mutex
	wmu        sync.Mutex // serializes writes; gorilla allows one writer
	conn       *websocket.Conn
	state      domain.ConnectionState
	topics     map[string]domain.Topic
	generation int
	attempts   int
	closed     bool
	done       chan struct{}

	sinks   []ports.EventSink
	onOpen  []func()
	onState func(domain.ConnectionState)
}

// NewChannel builds a channel. token supplies the current bearer token; an
// empty token means no connection is ever attempted.
func NewChannel(cfg Config, token func() string, logger *slog.Logger) *Channel {
	return &Channel{
		cfg:    cfg,
		token:  token,
		logger: logger.With("component", "realtime_channel"),
		state:  domain.StateClosed,
		topics: make(map[string]domain.Topic),
		done:   make(chan struct{}),
	}
}

// AddSink registers an event consumer. Register before Connect.
func (c *Channel) AddSink(sink ports.EventSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, sink)
}

// OnOpen registers a callback invoked after every successful (re)connect,
// once subscriptions have been replayed.
func (c *Channel) OnOpen(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = append(c.onOpen, fn)
}

// OnStateChange registers a connection-state observer.
func (c *Channel) OnStateChange(fn func(domain.ConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// State returns the current connection state.
func (c *Channel) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the backoff counter: consecutive failed dials since the
// last successful connect.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect establishes the subscription. Without credentials it is a no-op:
// the state stays Closed and an auth error is returned for the session layer
// to surface. Transport failures are absorbed and retried with backoff.
func (c *Channel) Connect(ctx context.Context) error {
	if c.token() == "" {
		c.logger.Warn("no credentials, realtime channel stays closed")
		return apperrors.NewAuthError("cannot open realtime channel without a token")
	}

	c.setState(domain.StateConnecting)
	if err := c.dial(ctx); err != nil {
		c.logger.Warn("initial dial failed, entering backoff", "error", err)
		c.setState(domain.StateReconnecting)
		go c.reconnectLoop(ctx)
	}
	return nil
}

// Subscribe adds a topic to the desired set and, when connected, announces it
// to the gateway.
func (c *Channel) Subscribe(topic domain.Topic) {
	c.mu.Lock()
	c.topics[topic.Name()] = topic
	conn := c.conn
	open := c.state == domain.StateOpen
	c.mu.Unlock()

	if open {
		c.send(conn, outboundFrame{Type: "subscribe", Topic: topic.Name()})
	}
}

// Unsubscribe removes a topic. Removal from the desired set happens before
// the gateway hears about it, so frames for the old topic are discarded even
// if they are already in flight.
func (c *Channel) Unsubscribe(topic domain.Topic) {
	c.mu.Lock()
	delete(c.topics, topic.Name())
	conn := c.conn
	open := c.state == domain.StateOpen
	c.mu.Unlock()

	if open {
		c.send(conn, outboundFrame{Type: "unsubscribe", Topic: topic.Name()})
	}
}

// Close tears the channel down and cancels any pending reconnect timer.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.setState(domain.StateClosed)
}

func (c *Channel) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token())

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		c.mu.Lock()
		c.attempts++
		c.mu.Unlock()
		return apperrors.NewTransportError(err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.generation++
	generation := c.generation
	c.conn = conn
	c.attempts = 0
	topics := make([]domain.Topic, 0, len(c.topics))
	for _, t := range c.topics {
		topics = append(topics, t)
	}
	onOpen := make([]func(), len(c.onOpen))
	copy(onOpen, c.onOpen)
	c.mu.Unlock()

	c.setState(domain.StateOpen)
	c.logger.Info("realtime channel open", "topics", len(topics))

	// Resume the same topics. There is no replay: events missed during the
	// outage arrive via the next poll cycle.
	for _, t := range topics {
		c.send(conn, outboundFrame{Type: "subscribe", Topic: t.Name()})
	}

	go c.readLoop(ctx, conn, generation)

	for _, fn := range onOpen {
		fn()
	}
	return nil
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn, generation int) {
	if c.cfg.PongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		conn.SetPingHandler(func(appData string) error {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
			deadline := time.Now().Add(c.cfg.WriteWait)
			return conn.WriteControl(websocket.PongMessage, []byte(appData), deadline)
		})
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if c.cfg.PongWait > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		}
		c.handleFrame(message, generation)
	}

	_ = conn.Close()

	c.mu.Lock()
	stale := c.closed || generation != c.generation
	if !stale {
		c.conn = nil
	}
	c.mu.Unlock()
	if stale {
		return
	}

	c.setState(domain.StateReconnecting)
	c.reconnectLoop(ctx)
}

// reconnectLoop retries the dial with exponential backoff capped at
// ReconnectMax, until it succeeds or the channel is torn down.
func (c *Channel) reconnectLoop(ctx context.Context) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.ReconnectInitial
	policy.MaxInterval = c.cfg.ReconnectMax
	policy.MaxElapsedTime = 0

	for {
		wait := policy.NextBackOff()
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		err := c.dial(ctx)
		if err == nil {
			return
		}
		c.logger.Warn("reconnect attempt failed",
			"error", err,
			"attempts", c.Attempts(),
		)
	}
}

// handleFrame decodes, filters and classifies one inbound frame. A malformed
// payload is dropped with a logged error; the connection stays up.
func (c *Channel) handleFrame(message []byte, generation int) {
	var frame wireFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.logger.Error("dropping malformed frame", "error", apperrors.NewDecodeError(err))
		return
	}

	c.mu.Lock()
	stale := generation != c.generation
	_, subscribed := c.topics[frame.Topic]
	if frame.Topic == "" {
		// Frames without a topic belong to the personal feed.
		_, subscribed = c.topics[domain.PersonalTopic().Name()]
	}
	sinks := make([]ports.EventSink, len(c.sinks))
	copy(sinks, c.sinks)
	c.mu.Unlock()

	if stale {
		return
	}
	if !subscribed {
		// Stale-topic frame from a subscription we already left.
		c.logger.Debug("dropping frame for unsubscribed topic", "topic", frame.Topic)
		return
	}

	ev, err := classifyFrame(frame, time.Now().UTC())
	if err != nil {
		c.logger.Error("dropping unclassifiable frame", "error", apperrors.NewDecodeError(err))
		return
	}

	for _, sink := range sinks {
		sink.Deliver(ev)
	}
}

func (c *Channel) send(conn *websocket.Conn, frame outboundFrame) {
	if conn == nil {
		return
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	if err := conn.WriteJSON(frame); err != nil {
		c.logger.Warn("failed to send control frame", "frame_type", frame.Type, "error", err)
	}
}

func (c *Channel) setState(state domain.ConnectionState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	onState := c.onState
	c.mu.Unlock()

	if onState != nil {
		onState(state)
	}
}
