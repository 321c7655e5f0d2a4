// Package client implements the dashboard's subscribing side: a persistent
// websocket connection with request/response correlation, a subscription
// router with the scope augmentation rules, and delivery of incoming events
// into the list-state engine.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/fleet-dashboard/internal/apierrors"
	"github.com/p-blackswan/fleet-dashboard/internal/liststate"
	"github.com/p-blackswan/fleet-dashboard/internal/model"
	"github.com/p-blackswan/fleet-dashboard/internal/protocol"
	"github.com/p-blackswan/fleet-dashboard/internal/topic"
)

// AckTimeout is the protocol deadline for subscribe and unsubscribe
// acknowledgements. Expiry surfaces as a TimeoutError; the client never
// retries on its own.
const AckTimeout = 15 * time.Second

// Config holds client settings.
type Config struct {
	// URL is the websocket endpoint, e.g. "ws://host:8080/ws".
	URL string

	// Token is the bearer token presented at upgrade time.
	Token string

	// OnlyIssues is the global "only show issues" toggle; it augments
	// all-namespaces subscriptions with unhealthyOnly.
	OnlyIssues bool

	// AckTimeout overrides the protocol deadline; zero means AckTimeout.
	AckTimeout time.Duration
}

// Client owns one connection and one list-state engine. One active
// subscription exists per topic at a time; SetSubscription fully replaces
// it.
type Client struct {
	cfg    Config
	engine *liststate.Engine
	logger zerolog.Logger

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	pending      map[string]chan protocol.Frame
	subscription *topic.Descriptor
	done         chan struct{}
}

// New creates a client feeding the given engine.
func New(cfg Config, engine *liststate.Engine, logger zerolog.Logger) *Client {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = AckTimeout
	}
	return &Client{
		cfg:     cfg,
		engine:  engine,
		logger:  logger.With().Str("component", "ws-client").Logger(),
		pending: make(map[string]chan protocol.Frame),
	}
}

// Connect dials the server and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := map[string][]string{}
	if c.cfg.Token != "" {
		header["Authorization"] = []string{"Bearer " + c.cfg.Token}
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("ws dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop()

	c.logger.Info().Str("url", c.cfg.URL).Msg("connected")
	return nil
}

// SetSubscription replaces the active subscription. A nil descriptor
// unsubscribes and clears all local state immediately. A non-nil
// descriptor is augmented per the scope rules, sent, and awaited; exactly
// one outbound request is issued per call, with no debouncing.
func (c *Client) SetSubscription(ctx context.Context, d *topic.Descriptor) error {
	if d == nil {
		return c.unsubscribe(ctx)
	}

	augmented := *d
	if augmented.Scope() == topic.ScopeAllNamespaces && c.cfg.OnlyIssues {
		augmented.UnhealthyOnly = true
	}
	if err := augmented.Validate(); err != nil {
		return err
	}

	params := protocol.SubscribeParams{
		Topic:  model.TopicShoots,
		Filter: augmented.EncodeFilter(),
	}
	resp, err := c.request(ctx, protocol.MethodSubscribe, params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return &apierrors.SubscriptionError{Code: resp.Error.Code, Message: resp.Error.Message}
	}

	c.mu.Lock()
	c.subscription = &augmented
	c.mu.Unlock()

	c.engine.SetIssuesScope(augmented.Scope() == topic.ScopeAllNamespaces && augmented.UnhealthyOnly)
	return nil
}

// Subscription returns the active descriptor, nil if unsubscribed.
func (c *Client) Subscription() *topic.Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscription == nil {
		return nil
	}
	d := *c.subscription
	return &d
}

func (c *Client) unsubscribe(ctx context.Context) error {
	// Local state goes first: unsubscribing clears everything immediately
	// and is not subject to the engine throttle.
	c.engine.Clear()
	c.mu.Lock()
	c.subscription = nil
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return nil
	}

	resp, err := c.request(ctx, protocol.MethodUnsubscribe, protocol.SubscribeParams{Topic: model.TopicShoots})
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return &apierrors.SubscriptionError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	return nil
}

// request sends one correlated request and waits for its acknowledgement
// or the protocol deadline.
func (c *Client) request(ctx context.Context, method string, params any) (protocol.Frame, error) {
	c.mu.Lock()
	if !c.connected || c.conn == nil {
		c.mu.Unlock()
		return protocol.Frame{}, apierrors.ErrClosed
	}
	c.mu.Unlock()

	raw, err := json.Marshal(params)
	if err != nil {
		return protocol.Frame{}, fmt.Errorf("marshaling params: %w", err)
	}

	reqID := uuid.New().String()
	frame := protocol.Frame{
		Type:   protocol.TypeRequest,
		ID:     reqID,
		Method: method,
		Params: raw,
	}

	respCh := make(chan protocol.Frame, 1)
	c.mu.Lock()
	c.pending[reqID] = respCh
	err = c.conn.WriteJSON(frame)
	c.mu.Unlock()
	if err != nil {
		c.dropPending(reqID)
		return protocol.Frame{}, fmt.Errorf("sending %s request: %w", method, err)
	}

	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		return resp, nil
	case <-timer.C:
		c.dropPending(reqID)
		return protocol.Frame{}, &apierrors.TimeoutError{Method: method, Timeout: c.cfg.AckTimeout.String()}
	case <-ctx.Done():
		c.dropPending(reqID)
		return protocol.Frame{}, ctx.Err()
	}
}

func (c *Client) dropPending(reqID string) {
	c.mu.Lock()
	delete(c.pending, reqID)
	c.mu.Unlock()
}

// readLoop dispatches responses to their waiters and events into the
// engine. Event handling is single-threaded: one event is applied to
// completion before the next is read.
func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		for id, ch := range c.pending {
			ch <- protocol.ErrorResponse(id, "disconnected", "connection lost")
			delete(c.pending, id)
		}
		done := c.done
		c.mu.Unlock()
		close(done)
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				c.logger.Debug().Err(err).Msg("read loop ended")
			}
			return
		}

		var frame protocol.Frame
		if err := json.Unmarshal(msg, &frame); err != nil {
			c.logger.Warn().Err(err).Msg("malformed frame ignored")
			continue
		}

		switch frame.Type {
		case protocol.TypeResponse:
			c.mu.Lock()
			ch, ok := c.pending[frame.ID]
			if ok {
				delete(c.pending, frame.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- frame
			}
		case protocol.TypeEvent:
			c.handleEvent(frame)
		}
	}
}

func (c *Client) handleEvent(frame protocol.Frame) {
	switch frame.Event {
	case model.TopicShoots:
		var ev model.ShootEvent
		if err := json.Unmarshal(frame.Payload, &ev); err != nil {
			c.logger.Warn().Err(err).Msg("malformed shoot event ignored")
			return
		}
		c.engine.Apply(ev)
	case model.TopicTickets:
		var ev model.TicketEvent
		if err := json.Unmarshal(frame.Payload, &ev); err != nil {
			c.logger.Warn().Err(err).Msg("malformed ticket event ignored")
			return
		}
		c.engine.ApplyTicket(ev)
	case model.TopicComments:
		var ev model.CommentEvent
		if err := json.Unmarshal(frame.Payload, &ev); err != nil {
			c.logger.Warn().Err(err).Msg("malformed comment event ignored")
			return
		}
		c.engine.ApplyComment(ev)
	default:
		c.logger.Debug().Str("event", frame.Event).Msg("unknown event topic ignored")
	}
}

// Close shuts the connection down and clears local state.
func (c *Client) Close() error {
	c.engine.Clear()

	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.connected = false
	c.subscription = nil
	done := c.done
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if connected {
		_ = conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}
	err := conn.Close()
	if done != nil {
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
	return err
}

// IsConnected reports whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
