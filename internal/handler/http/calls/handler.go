package calls

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voicelink-backend/internal/domain"
	"voicelink-backend/internal/service/call"
	"voicelink-backend/pkg/constants"
	"voicelink-backend/pkg/pagination"
	"voicelink-backend/pkg/response"
)

// HistoryLister reads the append-only call history, newest first, with an
// opaque page-state cursor.
type HistoryLister interface {
	ListByUser(userID uuid.UUID, limit int, pageState []byte) ([]*domain.CallHistory, []byte, error)
}

// Handler handles call HTTP requests. The write path lives on the WebSocket;
// this is the read surface.
type Handler struct {
	callService *call.Service
	history     HistoryLister
}

// NewHandler creates a new call handler
func NewHandler(callService *call.Service, history HistoryLister) *Handler {
	return &Handler{
		callService: callService,
		history:     history,
	}
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

// GetCall retrieves one call, visible only to its two parties
// GET /v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	callRecord, err := h.callService.GetCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, callRecord)
}

// ListCalls returns the authenticated user's recent direct calls
// GET /v1/calls?page=&limit=
func (h *Handler) ListCalls(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	params, err := pagination.ParsePaginationParams(c.Query("page"), c.Query("limit"), "created_at", "desc")
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	calls, err := h.callService.GetUserCalls(c.Request.Context(), userID, params.Limit, params.Offset)
	if err != nil {
		response.AppError(c, err)
		return
	}

	total, err := h.callService.CountUserCalls(c.Request.Context(), userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, pagination.BuildPaginationResponse(params, total, calls))
}

// GetHistory returns the authenticated user's call history, newest first.
// The cursor is opaque; clients pass back next_cursor verbatim.
// GET /v1/calls/history?limit=&cursor=
func (h *Handler) GetHistory(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	limit := intQuery(c, "limit", constants.DefaultPageSize)
	if limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}

	var pageState []byte
	if cursor := c.Query("cursor"); cursor != "" {
		decoded, err := base64.URLEncoding.DecodeString(cursor)
		if err != nil {
			response.ValidationError(c, "Invalid cursor")
			return
		}
		pageState = decoded
	}

	history, nextPageState, err := h.history.ListByUser(userID, limit, pageState)
	if err != nil {
		response.AppError(c, err)
		return
	}

	nextCursor := ""
	if len(nextPageState) > 0 {
		nextCursor = base64.URLEncoding.EncodeToString(nextPageState)
	}

	response.Success(c, http.StatusOK, gin.H{
		"history":     history,
		"count":       len(history),
		"next_cursor": nextCursor,
	})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
