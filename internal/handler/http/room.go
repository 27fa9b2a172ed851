package http

import (
	"context"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mohsinalimat/watchparty/internal/hub"
	"github.com/mohsinalimat/watchparty/internal/room"
)

// SubtitleStore reads compressed subtitle blobs.
type SubtitleStore interface {
	LoadSubtitle(ctx context.Context, hash string) ([]byte, error)
}

// StatsSource reports live rooms and connections.
type StatsSource interface {
	Stats() hub.Stats
}

// RoomHandler serves the room-related REST endpoints.
type RoomHandler struct {
	subtitles SubtitleStore
	stats     StatsSource
	shardID   int
}

// NewRoomHandler creates a RoomHandler.
func NewRoomHandler(subtitles SubtitleStore, stats StatsSource, shardID int) *RoomHandler {
	if subtitles == nil {
		panic("SubtitleStore cannot be nil for RoomHandler")
	}
	if stats == nil {
		panic("StatsSource cannot be nil for RoomHandler")
	}
	return &RoomHandler{subtitles: subtitles, stats: stats, shardID: shardID}
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Shard int `json:"shard"`
	hub.Stats
}

// GetSubtitle returns the plain text of an uploaded subtitle.
// GET /api/subtitle/:hash
func (h *RoomHandler) GetSubtitle(c *gin.Context) {
	hash := c.Param("hash")
	if _, err := hex.DecodeString(hash); err != nil || len(hash) != 64 {
		abortWithError(c, http.StatusBadRequest, "Invalid subtitle hash")
		return
	}
	blob, err := h.subtitles.LoadSubtitle(c.Request.Context(), hash)
	if err != nil {
		HandleRepositoryError(c, err)
		return
	}
	text, err := room.DecompressSubtitle(blob)
	if err != nil {
		logrus.WithError(err).WithField("hash", hash).Error("Handler.GetSubtitle: stored blob is corrupt")
		abortWithError(c, http.StatusInternalServerError, "An unexpected error occurred")
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", text)
}

// GetStats reports this shard's load.
// GET /api/stats
func (h *RoomHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, StatsResponse{Shard: h.shardID, Stats: h.stats.Stats()})
}
