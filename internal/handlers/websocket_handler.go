package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"trading-engine/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler upgrades /ws requests and attaches them to the hub.
type WebSocketHandler struct {
	hub    *services.WebSocketHub
	logger zerolog.Logger
}

func NewWebSocketHandler(hub *services.WebSocketHub, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, logger: logger}
}

func (h *WebSocketHandler) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}

	client := h.hub.RegisterClient(conn)
	h.logger.Debug().Str("remote", c.Request.RemoteAddr).Msg("WebSocket connection established")

	go client.WritePump()
	go client.ReadPump()
}
