package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/translation-studio/collab/internal/ws"
)

// WebSocketHandler handles WebSocket connections for collaboration sessions.
type WebSocketHandler struct {
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{wsHandler: wsHandler}
}

// Connect handles GET /ws - opens the collaboration channel for a user.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "user_id is required")
		return
	}

	if err := h.wsHandler.HandleConnection(c.Writer, c.Request, userID); err != nil {
		// Error already written by the WebSocket handler
		return
	}
}

// RegisterRoutes registers the WebSocket handler routes on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ws", h.Connect)
}
