package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voicelink-backend/internal/domain"
	"voicelink-backend/pkg/constants"
	"voicelink-backend/pkg/logger"
)

var errMissingToken = errors.New("missing auth token")

// Client is one live WebSocket connection. It implements registry.Sink: the
// fan-out enqueues encoded frames through Send and writePump drains them.
type Client struct {
	gateway  *Gateway
	conn     *websocket.Conn
	socketID string
	identity domain.Identity

	send   chan []byte
	closed chan struct{}
	once   sync.Once

	// Call involvement tracked for synchronous disconnect cleanup. Guarded
	// by mu; touched from readPump and from service event handling.
	mu          sync.Mutex
	directCalls map[uuid.UUID]struct{}
	groupCalls  map[uuid.UUID]struct{}
}

func newClient(g *Gateway, conn *websocket.Conn, identity domain.Identity) *Client {
	return &Client{
		gateway:     g,
		conn:        conn,
		socketID:    uuid.New().String(),
		identity:    identity,
		send:        make(chan []byte, constants.SendBufferSize),
		closed:      make(chan struct{}),
		directCalls: make(map[uuid.UUID]struct{}),
		groupCalls:  make(map[uuid.UUID]struct{}),
	}
}

// Send enqueues a frame without blocking. Returns false when the connection
// is closed or its buffer is full; the frame is dropped, never queued
// elsewhere.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- frame:
		if c.gateway.metrics != nil {
			c.gateway.metrics.MessageSent()
		}
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.closed) })
}

// trackDirectCall records involvement in a direct call. One user may hold
// concurrent calls with different peers, so this is a set, not a slot.
func (c *Client) trackDirectCall(callID uuid.UUID) {
	c.mu.Lock()
	c.directCalls[callID] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) untrackDirectCall(callID uuid.UUID) {
	c.mu.Lock()
	delete(c.directCalls, callID)
	c.mu.Unlock()
}

func (c *Client) trackedDirectCalls() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uuid.UUID, 0, len(c.directCalls))
	for id := range c.directCalls {
		out = append(out, id)
	}
	return out
}

func (c *Client) trackGroupCall(callID uuid.UUID) {
	c.mu.Lock()
	c.groupCalls[callID] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) untrackGroupCall(callID uuid.UUID) {
	c.mu.Lock()
	delete(c.groupCalls, callID)
	c.mu.Unlock()
}

func (c *Client) trackedGroupCalls() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uuid.UUID, 0, len(c.groupCalls))
	for id := range c.groupCalls {
		out = append(out, id)
	}
	return out
}

// readPump reads client commands until the connection dies, then runs the
// disconnect cleanup exactly once. Commands are dispatched synchronously so
// per-connection ordering holds.
func (c *Client) readPump() {
	defer func() {
		c.close()
		c.conn.Close()
		c.gateway.disconnect(c)
	}()

	c.conn.SetReadLimit(constants.MaxInboundMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval * 2))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval * 2))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket read error",
					zap.String("socket_id", c.socketID),
					zap.Error(err))
			}
			return
		}
		if c.gateway.metrics != nil {
			c.gateway.metrics.MessageReceived()
		}
		c.gateway.dispatch(c, message)
	}
}

// writePump drains the send queue, pings on an interval and refreshes the
// shared presence record so the TTL outlives quiet connections.
func (c *Client) writePump() {
	pingTicker := time.NewTicker(constants.WebSocketPingInterval * 9 / 10)
	presenceTicker := time.NewTicker(constants.PresenceRefreshInterval)
	defer func() {
		pingTicker.Stop()
		presenceTicker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-presenceTicker.C:
			c.refreshPresence()
		}
	}
}

func (c *Client) refreshPresence() {
	if c.gateway.presence == nil {
		return
	}
	ctx, cancel := contextWithDefaultTimeout()
	defer cancel()
	if err := c.gateway.presence.RefreshPresence(ctx, c.identity.ID); err != nil {
		logger.Debug("Presence refresh failed",
			zap.String("user_id", c.identity.ID.String()),
			zap.Error(err))
	}
}
