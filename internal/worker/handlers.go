package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/mohsinalimat/watchparty/internal/fleet"
	"github.com/mohsinalimat/watchparty/internal/tasks"
)

// Terminator resets a VM immediately; usually the fleet registry.
type Terminator interface {
	Terminate(ctx context.Context, pool fleet.Pool, id string) error
}

// Flusher persists every live room of this shard.
type Flusher interface {
	FlushAll(ctx context.Context) error
}

// VBrowserResetHandler handles tasks.TypeVBrowserReset.
type VBrowserResetHandler struct {
	terminator Terminator
}

// NewVBrowserResetHandler creates a VBrowserResetHandler.
func NewVBrowserResetHandler(terminator Terminator) *VBrowserResetHandler {
	if terminator == nil {
		panic("Terminator cannot be nil for VBrowserResetHandler")
	}
	return &VBrowserResetHandler{terminator: terminator}
}

// ProcessTask implements asynq.Handler.
func (h *VBrowserResetHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	currentRetry, _ := asynq.GetRetryCount(ctx)
	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID(t),
		"task_type": t.Type(),
		"retry":     currentRetry,
	})

	var payload tasks.VBrowserResetPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.ID == "" {
		logCtx.WithError(err).Error("Failed to unmarshal reset payload")
		return fmt.Errorf("invalid reset payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithFields(logrus.Fields{"vm_id": payload.ID, "pool": payload.Pool().Name()})

	if err := h.terminator.Terminate(ctx, payload.Pool(), payload.ID); err != nil {
		logCtx.WithError(err).Warn("Failed to reset VBrowser")
		return fmt.Errorf("failed to reset vm %s: %w", payload.ID, err)
	}
	logCtx.Info("VBrowser reset")
	return nil
}

// RoomFlushHandler handles tasks.TypeRoomFlush.
type RoomFlushHandler struct {
	flusher Flusher
}

// NewRoomFlushHandler creates a RoomFlushHandler.
func NewRoomFlushHandler(flusher Flusher) *RoomFlushHandler {
	if flusher == nil {
		panic("Flusher cannot be nil for RoomFlushHandler")
	}
	return &RoomFlushHandler{flusher: flusher}
}

// ProcessTask implements asynq.Handler. Rooms that failed to save are picked up by the next run.
func (h *RoomFlushHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := logrus.WithFields(logrus.Fields{"task_id": taskID(t), "task_type": t.Type()})
	if err := h.flusher.FlushAll(ctx); err != nil {
		logCtx.WithError(err).Warn("Periodic room flush incomplete")
		return nil
	}
	logCtx.Debug("Periodic room flush done")
	return nil
}
