package presence

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voicelink-backend/pkg/response"
)

// OnlineReader reads the shared presence store.
type OnlineReader interface {
	GetOnlineUsers(ctx context.Context) ([]uuid.UUID, error)
	IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error)
	IsDegraded() bool
}

// Handler handles presence HTTP requests
type Handler struct {
	presence OnlineReader
}

// NewHandler creates a new presence handler
func NewHandler(presence OnlineReader) *Handler {
	return &Handler{presence: presence}
}

// GetOnlineUsers returns the ids of every currently-online user
// GET /v1/presence/online
func (h *Handler) GetOnlineUsers(c *gin.Context) {
	if h.presence.IsDegraded() {
		response.Error(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Presence store unavailable")
		return
	}

	userIDs, err := h.presence.GetOnlineUsers(c.Request.Context())
	if err != nil {
		response.InternalError(c, "Failed to read presence")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"user_ids": userIDs,
		"count":    len(userIDs),
	})
}

// GetUserPresence reports whether one user is online
// GET /v1/presence/:id
func (h *Handler) GetUserPresence(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	if h.presence.IsDegraded() {
		response.Error(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Presence store unavailable")
		return
	}

	online, err := h.presence.IsUserOnline(c.Request.Context(), userID)
	if err != nil {
		response.InternalError(c, "Failed to read presence")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"user_id": userID,
		"online":  online,
	})
}
