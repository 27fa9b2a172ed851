package websocket

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mohsinalimat/watchparty/internal/hub"
	"github.com/mohsinalimat/watchparty/internal/room"
)

// Close codes sent when admission fails.
const (
	CloseNotAuthorized = 4001
	CloseRoomFull      = 4003
)

const maxRoomIDLength = 100

// WebSocketHandler upgrades room connections and hands them to the hub.
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
}

// NewWebSocketHandler creates a WebSocketHandler. allowedOrigin "*" accepts any origin.
func NewWebSocketHandler(h *hub.Hub, allowedOrigin string) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowedOrigin == "" || allowedOrigin == "*" || origin == "" || origin == allowedOrigin
		},
	}
	return &WebSocketHandler{upgrader: upgrader, hub: h}
}

// HandleConnection serves GET /ws/:roomId?password=&clientId=.
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	roomID := "/" + strings.TrimPrefix(c.Param("roomId"), "/")
	logCtx := logrus.WithField("room_id", roomID)
	if len(roomID) < 2 || len(roomID) > maxRoomIDLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid room ID"})
		return
	}
	if !h.hub.OwnsRoom(roomID) {
		logCtx.Debug("WS Handler: room belongs to another shard")
		c.JSON(http.StatusMisdirectedRequest, gin.H{"error": "Room is served by another shard"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logCtx.WithError(err).Warn("WS Handler: Failed to upgrade connection")
		return
	}
	connID := uuid.NewString()
	logCtx = logCtx.WithField("conn_id", connID)

	client := hub.NewClient(h.hub, conn, roomID, connID)
	go client.WritePump()

	hs := room.Handshake{Password: c.Query("password"), ClientID: c.Query("clientId")}
	if err := h.hub.Connect(c.Request.Context(), client, hs); err != nil {
		client.Reject(closeCode(err), err.Error())
		return
	}
	logCtx.Info("WS Handler: Connection admitted")
	go client.ReadPump()
}

func closeCode(err error) int {
	switch {
	case errors.Is(err, room.ErrUnauthorized):
		return CloseNotAuthorized
	case errors.Is(err, room.ErrRoomFull):
		return CloseRoomFull
	default:
		return websocket.CloseInternalServerErr
	}
}
