package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/agent-console/backend/internal/ws"
)

// WebSocketHandler exposes the WebSocket endpoint on the gin router.
type WebSocketHandler struct {
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{wsHandler: wsHandler}
}

// Connect handles GET /api/ws - upgrades to WebSocket. Session selection
// happens over the socket via subscribe messages, so one connection can move
// between sessions without reconnecting.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	if err := h.wsHandler.HandleConnection(c.Writer, c.Request); err != nil {
		// Upgrade failures already wrote an HTTP error response.
		return
	}
}

// RegisterRoutes registers the WebSocket route on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ws", h.Connect)
}
