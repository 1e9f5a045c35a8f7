package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"voicelink-backend/internal/domain"
	"voicelink-backend/internal/notify"
	"voicelink-backend/internal/registry"
	"voicelink-backend/internal/service/call"
	"voicelink-backend/internal/service/groupcall"
	"voicelink-backend/internal/service/signaling"
	"voicelink-backend/pkg/constants"
	"voicelink-backend/pkg/env"
	"voicelink-backend/pkg/jwt"
	"voicelink-backend/pkg/logger"
	"voicelink-backend/pkg/metrics"
)

// PresenceStore mirrors the online/offline state to a shared store so sibling
// instances and HTTP consumers can read it. All methods tolerate a degraded
// store; presence is advisory.
type PresenceStore interface {
	SetUserOnline(ctx context.Context, userID uuid.UUID) error
	SetUserOffline(ctx context.Context, userID uuid.UUID) error
	RefreshPresence(ctx context.Context, userID uuid.UUID) error
}

// Gateway owns the WebSocket endpoint. It authenticates each connection,
// registers it, routes inbound commands to the call, group-call and
// signaling services, and runs the synchronous disconnect cleanup.
type Gateway struct {
	registry   *registry.Registry
	fanout     *notify.Fanout
	calls      *call.Service
	groupCalls *groupcall.Service
	signals    *signaling.Service
	presence   PresenceStore
	jwtManager *jwt.JWTManager
	metrics    *metrics.Metrics

	// Semaphore for limiting concurrent connections
	semaphore chan struct{}
}

// NewGateway creates the WebSocket gateway. presence and m may be nil.
func NewGateway(
	reg *registry.Registry,
	fanout *notify.Fanout,
	calls *call.Service,
	groupCalls *groupcall.Service,
	signals *signaling.Service,
	presence PresenceStore,
	jwtManager *jwt.JWTManager,
	m *metrics.Metrics,
) *Gateway {
	maxConns := env.GetInt("WS_MAX_CONNECTIONS", constants.DefaultMaxConnections)
	return &Gateway{
		registry:   reg,
		fanout:     fanout,
		calls:      calls,
		groupCalls: groupCalls,
		signals:    signals,
		presence:   presence,
		jwtManager: jwtManager,
		metrics:    m,
		semaphore:  make(chan struct{}, maxConns),
	}
}

// authenticate resolves the connecting user from either the Authorization
// header or, for browser clients that cannot set headers on the WebSocket
// handshake, a token query parameter.
func (g *Gateway) authenticate(c *gin.Context) (domain.Identity, error) {
	tokenString := c.Query("token")
	if tokenString == "" {
		authHeader := c.GetHeader("Authorization")
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			tokenString = parts[1]
		}
	}
	if tokenString == "" {
		return domain.Identity{}, errMissingToken
	}

	claims, err := g.jwtManager.ValidateToken(tokenString)
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{
		ID:       claims.UserID,
		Username: claims.Username,
	}, nil
}

// ServeWS handles WebSocket upgrade requests on GET /ws.
func (g *Gateway) ServeWS(c *gin.Context) {
	select {
	case g.semaphore <- struct{}{}:
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many connections"})
		return
	}

	identity, err := g.authenticate(c)
	if err != nil {
		<-g.semaphore
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-g.semaphore
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", identity.ID.String()),
			zap.Error(err))
		return
	}

	client := newClient(g, conn, identity)
	g.register(client)

	go client.writePump()
	go client.readPump()
}

// register adds the connection and, on the user's first connection,
// broadcasts the offline -> online transition.
func (g *Gateway) register(client *Client) {
	first := g.registry.Register(&registry.Connection{
		SocketID: client.socketID,
		UserID:   client.identity.ID,
		Identity: client.identity,
		Sink:     client,
	})

	if g.metrics != nil {
		g.metrics.ConnectionOpened()
		g.metrics.SetUsersOnline(g.registry.Count())
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()

	if g.presence != nil {
		if err := g.presence.SetUserOnline(ctx, client.identity.ID); err != nil {
			logger.Warn("Failed to mirror presence to store",
				zap.String("user_id", client.identity.ID.String()),
				zap.Error(err))
		}
	}

	if first {
		g.fanout.BroadcastAll(domain.PresenceChangedEvent{
			UserID:    client.identity.ID,
			Username:  client.identity.Username,
			Online:    true,
			Timestamp: time.Now(),
		})
	}

	logger.Info("WebSocket connected",
		zap.String("socket_id", client.socketID),
		zap.String("user_id", client.identity.ID.String()),
		zap.Bool("first_connection", first))
}

// disconnect runs the full cleanup for one connection, in order: leave every
// signaling room, force-leave joined group calls, end the active direct call,
// then unregister and broadcast offline if this was the user's last socket.
// Safe to call once per connection; readPump owns that guarantee.
func (g *Gateway) disconnect(client *Client) {
	defer func() { <-g.semaphore }()

	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()

	g.signals.LeaveAllRooms(ctx, client.socketID)

	for _, callID := range client.trackedGroupCalls() {
		if _, err := g.groupCalls.Leave(ctx, &groupcall.LeaveInput{
			CallID: callID,
			UserID: client.identity.ID,
			Reason: domain.EndedReasonDisconnected,
		}); err != nil {
			// Another device or the host may have already removed us.
			logger.Debug("Group call cleanup leave failed",
				zap.String("call_id", callID.String()),
				zap.String("user_id", client.identity.ID.String()),
				zap.Error(err))
		}
	}

	for _, callID := range client.trackedDirectCalls() {
		if _, err := g.calls.End(ctx, &call.EndInput{
			CallID: callID,
			UserID: client.identity.ID,
			Reason: domain.EndedReasonDisconnected,
		}); err != nil {
			logger.Debug("Direct call cleanup end failed",
				zap.String("call_id", callID.String()),
				zap.String("user_id", client.identity.ID.String()),
				zap.Error(err))
		}
	}

	_, last := g.registry.Unregister(client.socketID)

	if g.metrics != nil {
		g.metrics.ConnectionClosed()
		g.metrics.SetUsersOnline(g.registry.Count())
	}

	if last {
		if g.presence != nil {
			if err := g.presence.SetUserOffline(ctx, client.identity.ID); err != nil {
				logger.Warn("Failed to clear presence in store",
					zap.String("user_id", client.identity.ID.String()),
					zap.Error(err))
			}
		}
		g.fanout.BroadcastAll(domain.PresenceChangedEvent{
			UserID:    client.identity.ID,
			Username:  client.identity.Username,
			Online:    false,
			Timestamp: time.Now(),
		})
	}

	logger.Info("WebSocket disconnected",
		zap.String("socket_id", client.socketID),
		zap.String("user_id", client.identity.ID.String()),
		zap.Bool("last_connection", last))
}
