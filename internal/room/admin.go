package room

import (
	"github.com/mohsinalimat/watchparty/internal/domain"
	"github.com/mohsinalimat/watchparty/internal/repository"
	"github.com/mohsinalimat/watchparty/internal/service"
)

const (
	msgDatabaseUnavailable = "Database is not available"
	msgAuthFailed          = "Failed to authenticate user"
	msgSettingsSaved       = "Saved admin settings"
)

func settingsView(s *domain.RoomSettings) SettingsView {
	return SettingsView{
		Password:       s.Password,
		Vanity:         s.Vanity,
		Owner:          s.Owner,
		IsChatDisabled: s.IsChatDisabled,
	}
}

// sendSettings pushes REC:getRoomState to connID. Nothing is sent without a settings store.
func (c *Coordinator) sendSettings(connID string) {
	if !c.deps.Settings.Available() {
		return
	}
	ctx, cancel := c.opContext()
	settings, err := c.deps.Settings.GetSettings(ctx, c.id)
	cancel()
	if err != nil {
		c.log.WithError(err).Warn("Failed to load room settings")
		return
	}
	if c.st.chatDisabled == nil {
		disabled := settings.ChatDisabled()
		c.st.chatDisabled = &disabled
	}
	c.send(connID, EventRoomSettings, settingsView(settings))
}

func (c *Coordinator) setRoomSettings(connID string, cmd SetRoomSettings) {
	if !c.deps.Settings.Available() {
		c.sendError(connID, msgDatabaseUnavailable)
		return
	}
	id := c.verify(cmd.UID, cmd.Token)
	if id == nil {
		c.sendError(connID, msgAuthFailed)
		return
	}
	ctx, cancel := c.opContext()
	defer cancel()
	if err := c.deps.Settings.ValidateOwner(ctx, c.id, id.UID); err != nil {
		c.sendServiceError(connID, err)
		return
	}
	settings, err := c.deps.Settings.UpdateSettings(ctx, c.id, id.UID, c.isSubscriber(id), cmd.Password, cmd.Vanity, cmd.IsChatDisabled)
	if err != nil {
		c.sendServiceError(connID, err)
		return
	}
	disabled := settings.ChatDisabled()
	c.st.chatDisabled = &disabled
	c.broadcast(EventRoomSettings, settingsView(settings))
	c.send(connID, EventSuccess, msgSettingsSaved)
}

// setRoomOwner claims or releases permanence. Owned rooms are saved without expiry.
func (c *Coordinator) setRoomOwner(connID string, cmd SetRoomOwner) {
	if !c.deps.Settings.Available() {
		c.sendError(connID, msgDatabaseUnavailable)
		return
	}
	id := c.verify(cmd.UID, cmd.Token)
	if id == nil {
		c.sendError(connID, msgAuthFailed)
		return
	}
	ctx, cancel := c.opContext()
	defer cancel()
	if err := c.deps.Settings.ValidateOwner(ctx, c.id, id.UID); err != nil {
		c.sendServiceError(connID, err)
		return
	}
	logCtx := c.log.WithField("uid", id.UID)

	if cmd.Undo {
		if err := c.deps.Settings.ReleaseOwnership(ctx, c.id); err != nil {
			c.sendServiceError(connID, err)
			return
		}
		c.send(connID, EventRoomSettings, SettingsView{})
		_ = c.save(repository.SaveExpiring)
		logCtx.Info("Room made temporary")
		return
	}

	settings, err := c.deps.Settings.ClaimOwnership(ctx, c.id, id.UID, c.isSubscriber(id), c.st.creationTime)
	if err != nil {
		c.sendServiceError(connID, err)
		return
	}
	c.send(connID, EventRoomSettings, SettingsView{
		Password: settings.Password,
		Vanity:   settings.Vanity,
		Owner:    settings.Owner,
	})
	_ = c.save(repository.SaveDurable)
	logCtx.Info("Room made permanent")
}

// sendServiceError reports err to connID when it has a user-facing text; others only log.
func (c *Coordinator) sendServiceError(connID string, err error) {
	if msg := service.UserMessage(err); msg != "" {
		c.sendError(connID, msg)
		return
	}
	c.log.WithError(err).WithField("conn_id", connID).Error("Room settings operation failed")
}
