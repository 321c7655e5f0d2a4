// Package server hosts the websocket endpoint clients subscribe through.
// Each connection is authenticated at upgrade time, carries at most one
// active subscription per topic, and receives room-scoped events through
// the hub.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/fleet-dashboard/internal/apierrors"
	"github.com/p-blackswan/fleet-dashboard/internal/hub"
	"github.com/p-blackswan/fleet-dashboard/internal/model"
	"github.com/p-blackswan/fleet-dashboard/internal/protocol"
	"github.com/p-blackswan/fleet-dashboard/internal/subscription"
	"github.com/p-blackswan/fleet-dashboard/internal/topic"
)

const (
	writeTimeout = 10 * time.Second
	// sendBuffer bounds per-connection queued frames; a slow consumer
	// overflowing it counts as a delivery failure.
	sendBuffer = 256
)

// Config holds websocket server settings.
type Config struct {
	// JWTSecret verifies client bearer tokens (HS256).
	JWTSecret []byte
}

// Metrics is the subset of the metrics surface the server records to.
type Metrics interface {
	ClientConnected()
	ClientDisconnected()
}

// Server upgrades connections and processes subscribe and unsubscribe
// requests against the subscription router.
type Server struct {
	cfg      Config
	hub      *hub.Hub
	router   *subscription.Router
	metrics  Metrics
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// New creates a websocket server.
func New(cfg Config, h *hub.Hub, router *subscription.Router, metrics Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		hub:     h,
		router:  router,
		metrics: metrics,
		logger:  logger.With().Str("component", "ws-server").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the http handler for the websocket endpoint.
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := authenticate(r, s.cfg.JWTSecret)
		if err != nil {
			s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade rejected")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn().Err(err).Msg("upgrade failed")
			return
		}

		conn := newConnection(ws, caller, s.logger)
		if s.metrics != nil {
			s.metrics.ClientConnected()
		}
		s.logger.Info().Str("conn", conn.ID()).Str("subject", caller.Subject).Msg("client connected")

		go conn.writeLoop()
		s.readLoop(conn)

		s.hub.Drop(conn.ID())
		conn.close()
		if s.metrics != nil {
			s.metrics.ClientDisconnected()
		}
		s.logger.Info().Str("conn", conn.ID()).Msg("client disconnected")
	}
}

func (s *Server) readLoop(conn *connection) {
	for {
		_, msg, err := conn.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Str("conn", conn.ID()).Msg("read loop ended")
			}
			return
		}

		var frame protocol.Frame
		if err := json.Unmarshal(msg, &frame); err != nil {
			s.logger.Warn().Err(err).Str("conn", conn.ID()).Msg("malformed frame ignored")
			continue
		}
		if frame.Type != protocol.TypeRequest {
			continue
		}

		switch frame.Method {
		case protocol.MethodSubscribe:
			s.handleSubscribe(conn, frame)
		case protocol.MethodUnsubscribe:
			s.handleUnsubscribe(conn, frame)
		default:
			conn.enqueue(protocol.ErrorResponse(frame.ID, protocol.CodeInvalidInput, "unknown method "+frame.Method))
		}
	}
}

func (s *Server) handleSubscribe(conn *connection, frame protocol.Frame) {
	var params protocol.SubscribeParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		conn.enqueue(protocol.ErrorResponse(frame.ID, protocol.CodeInvalidInput, "malformed params"))
		return
	}
	if params.Topic != model.TopicShoots {
		conn.enqueue(protocol.ErrorResponse(frame.ID, protocol.CodeInvalidInput, "unknown topic "+params.Topic))
		return
	}

	d, err := topic.ParseFilter(params.Filter)
	if err != nil {
		conn.enqueue(protocol.ErrorResponse(frame.ID, protocol.CodeInvalidInput, err.Error()))
		return
	}

	rooms, err := s.router.Rooms(conn.caller, d)
	if err != nil {
		code := protocol.CodeInternal
		if errors.Is(err, apierrors.ErrUnauthorized) {
			code = protocol.CodeForbidden
		}
		conn.enqueue(protocol.ErrorResponse(frame.ID, code, err.Error()))
		return
	}

	// Replaces the previous subscription: old rooms are fully left before
	// the new ones are joined, then the request is acknowledged.
	s.hub.SetRooms(conn, rooms)
	s.logger.Debug().
		Str("conn", conn.ID()).
		Str("filter", params.Filter).
		Int("rooms", len(rooms)).
		Msg("subscription replaced")
	conn.enqueue(protocol.OKResponse(frame.ID))
}

func (s *Server) handleUnsubscribe(conn *connection, frame protocol.Frame) {
	s.hub.Drop(conn.ID())
	conn.enqueue(protocol.OKResponse(frame.ID))
}

// connection wraps one websocket with an outbound queue so hub emits never
// block on a slow peer.
type connection struct {
	id     string
	ws     *websocket.Conn
	caller subscription.Caller
	logger zerolog.Logger

	mu     sync.Mutex
	sendCh chan protocol.Frame
	closed bool
}

func newConnection(ws *websocket.Conn, caller subscription.Caller, logger zerolog.Logger) *connection {
	return &connection{
		id:     uuid.New().String(),
		ws:     ws,
		caller: caller,
		logger: logger,
		sendCh: make(chan protocol.Frame, sendBuffer),
	}
}

// ID implements hub.Conn.
func (c *connection) ID() string { return c.id }

// Send implements hub.Conn: it queues one event frame for delivery.
func (c *connection) Send(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.enqueue(protocol.Frame{Type: protocol.TypeEvent, Event: event, Payload: raw})
}

func (c *connection) enqueue(frame protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return apierrors.ErrClosed
	}
	select {
	case c.sendCh <- frame:
		return nil
	default:
		return errors.New("send queue full")
	}
}

func (c *connection) writeLoop() {
	for frame := range c.sendCh {
		c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.ws.WriteJSON(frame); err != nil {
			c.logger.Debug().Err(err).Str("conn", c.id).Msg("write failed")
			return
		}
	}
}

func (c *connection) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.sendCh)
	}
	c.mu.Unlock()
	_ = c.ws.Close()
}
