package room

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/mohsinalimat/watchparty/internal/domain"
	"github.com/mohsinalimat/watchparty/internal/repository"
)

// Usage counter names.
const (
	counterURLStarts           = "urlStarts"
	counterChatMessages        = "chatMessages"
	counterVideoChatStarts     = "videoChatStarts"
	counterScreenShareStarts   = "screenShareStarts"
	counterFileShareStarts     = "fileShareStarts"
	counterSubUploads          = "subUploads"
	counterConnectStarts       = "connectStarts"
	counterConnectStartsUnique = "connectStartsDistinct"
)

const chatTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// admit is the connection gate: password, then capacity, then roster insert and state push.
func (c *Coordinator) admit(connID string, hs Handshake) error {
	logCtx := c.log.WithField("conn_id", connID)
	if c.st.inRoster(connID) {
		return nil
	}

	ctx, cancel := c.opContext()
	settings, err := c.deps.Settings.GetSettings(ctx, c.id)
	cancel()
	if err != nil {
		logCtx.WithError(err).Error("Admission failed: settings lookup error")
		return ErrUnavailable
	}
	if pw := settings.PasswordValue(); pw != "" && hs.Password != pw {
		logCtx.Info("Admission rejected: wrong password")
		return ErrUnauthorized
	}
	capacity := c.cfg.RoomCapacity
	if settings.SubRoom() {
		capacity = c.cfg.RoomCapacitySub
	}
	if capacity > 0 && len(c.st.roster) >= capacity {
		logCtx.WithField("capacity", capacity).Info("Admission rejected: room full")
		return ErrRoomFull
	}

	c.st.roster = append(c.st.roster, &domain.RosterEntry{ID: connID})
	c.st.clientIDMap[connID] = hs.ClientID
	c.count(counterConnectStarts)
	c.countDistinct(counterConnectStartsUnique, hs.ClientID)
	if c.deps.OnAdmit != nil {
		c.deps.OnAdmit(c.id, connID)
	}

	c.send(connID, EventHost, c.hostState())
	c.send(connID, EventNameMap, c.st.nameMap)
	c.send(connID, EventPictureMap, c.st.pictureMap)
	c.send(connID, EventTSMap, c.st.tsMapCopy())
	c.send(connID, EventLock, c.st.lock)
	c.send(connID, EventChatInit, c.st.chatCopy())
	c.sendSettings(connID)
	c.broadcast(EventRoster, c.st.rosterCopy())

	logCtx.WithField("roster_size", len(c.st.roster)).Info("Connection admitted")
	return nil
}

func (c *Coordinator) disconnect(connID string) {
	idx := -1
	for i, e := range c.st.roster {
		if e.ID == connID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	removed := c.st.roster[idx]
	c.st.roster = append(c.st.roster[:idx], c.st.roster[idx+1:]...)
	c.broadcast(EventRoster, c.st.rosterCopy())
	if removed.IsScreenShare {
		c.setHost(connID, "")
	}
	delete(c.st.tsMap, connID)
	delete(c.st.uidMap, connID)
	delete(c.st.clientIDMap, connID)
	c.log.WithField("conn_id", connID).Info("Connection left")
}

// hostState resolves the controller client back to a live connection id.
func (c *Coordinator) hostState() HostState {
	hs := HostState{
		Video:    c.st.video,
		VideoTS:  c.st.videoTS,
		Subtitle: c.st.subtitle,
		Paused:   c.st.paused,
	}
	if vb := c.st.vBrowser; vb != nil {
		hs.IsVBrowserLarge = vb.Large
		for _, e := range c.st.roster {
			if vb.ControllerClient != "" && c.st.clientIDMap[e.ID] == vb.ControllerClient {
				hs.Controller = e.ID
				break
			}
		}
	}
	return hs
}

// setHost replaces the video source and announces it. A non-empty source from a connection
// is also recorded in chat.
func (c *Coordinator) setHost(connID, source string) {
	c.st.resetHost(source)
	c.broadcast(EventTSMap, c.st.tsMapCopy())
	c.broadcast(EventHost, c.hostState())
	if connID != "" && source != "" {
		c.addChat(connID, domain.ChatMessage{ID: connID, Cmd: "host", Msg: source})
	}
}

func (c *Coordinator) addChat(connID string, msg domain.ChatMessage) {
	if msg.Cmd == "" && c.st.chatIsDisabled() {
		return
	}
	msg.Timestamp = c.now().UTC().Format(chatTimeLayout)
	if ts, ok := c.st.tsMap[connID]; ok {
		msg.VideoTS = &ts
	}
	c.st.appendChat(msg)
	c.broadcast(EventChat, msg)
}

func (c *Coordinator) startHosting(connID, source string) {
	if !c.st.validateLock(connID) {
		return
	}
	if c.st.sharer() != nil || c.st.vBrowser != nil || c.assignment != nil {
		return
	}
	c.count(counterURLStarts)
	c.setHost(connID, source)
}

func (c *Coordinator) play(connID string) {
	if !c.st.validateLock(connID) {
		return
	}
	c.st.paused = false
	c.broadcast(EventPlay, c.st.video)
	c.addChat(connID, domain.ChatMessage{ID: connID, Cmd: "play", Msg: c.lastTS(connID)})
}

func (c *Coordinator) pause(connID string) {
	if !c.st.validateLock(connID) {
		return
	}
	c.st.paused = true
	c.broadcast(EventPause, nil)
	c.addChat(connID, domain.ChatMessage{ID: connID, Cmd: "pause", Msg: c.lastTS(connID)})
}

func (c *Coordinator) lastTS(connID string) string {
	if ts, ok := c.st.tsMap[connID]; ok {
		return formatTS(ts)
	}
	return ""
}

func (c *Coordinator) seek(connID string, ts float64) {
	if !c.st.validateLock(connID) {
		return
	}
	c.st.videoTS = ts
	c.broadcast(EventSeek, ts)
	c.addChat(connID, domain.ChatMessage{ID: connID, Cmd: "seek", Msg: formatTS(ts)})
}

func (c *Coordinator) reportTimestamp(connID string, ts float64) {
	if ts > c.st.videoTS {
		c.st.videoTS = ts
	}
	c.st.tsMap[connID] = ts
}

func (c *Coordinator) chat(connID, msg string) {
	if c.cfg.DevMode && msg == "/clear" {
		c.st.chat = nil
		c.broadcast(EventChatInit, c.st.chatCopy())
		return
	}
	c.count(counterChatMessages)
	c.addChat(connID, domain.ChatMessage{ID: connID, Msg: msg})
}

func (c *Coordinator) authenticate(connID string, cmd Authenticate) {
	id := c.verify(cmd.UID, cmd.Token)
	if id == nil {
		return
	}
	c.st.uidMap[connID] = id.UID
}

func (c *Coordinator) setVideoChat(connID string, on bool) {
	if e := c.st.member(connID); e != nil {
		e.IsVideoChat = on
		if on {
			c.count(counterVideoChatStarts)
		}
	}
	c.broadcast(EventRoster, c.st.rosterCopy())
}

func (c *Coordinator) joinScreenShare(connID string, file bool) {
	if !c.st.validateLock(connID) {
		return
	}
	if c.st.sharer() != nil || c.st.vBrowser != nil || c.assignment != nil {
		return
	}
	if file {
		c.setHost(connID, "fileshare://"+connID)
		c.count(counterFileShareStarts)
	} else {
		c.setHost(connID, "screenshare://"+connID)
		c.count(counterScreenShareStarts)
	}
	if e := c.st.member(connID); e != nil {
		e.IsScreenShare = true
	}
	c.broadcast(EventRoster, c.st.rosterCopy())
}

func (c *Coordinator) leaveScreenShare(connID string) {
	sharer := c.st.sharer()
	if sharer == nil || sharer.ID != connID {
		return
	}
	sharer.IsScreenShare = false
	c.setHost(connID, "")
	c.broadcast(EventRoster, c.st.rosterCopy())
}

func (c *Coordinator) lockRoom(connID string, cmd Lock) {
	id := c.verify(cmd.UID, cmd.Token)
	if id == nil {
		return
	}
	if !c.st.validateLock(connID) {
		return
	}
	if cmd.Locked {
		c.st.lock = id.UID
	} else {
		c.st.lock = ""
	}
	c.broadcast(EventLock, c.st.lock)
	action := "unlock"
	if cmd.Locked {
		action = "lock"
	}
	c.addChat(connID, domain.ChatMessage{ID: connID, Cmd: action})
}

func (c *Coordinator) changeController(connID, target string) {
	if !c.st.validateLock(connID) {
		return
	}
	if c.st.vBrowser == nil {
		return
	}
	c.st.vBrowser.ControllerClient = c.st.clientIDMap[target]
	c.broadcast(EventChangeController, target)
}

// uploadSubtitle stores the gzipped text under its sha256 so identical uploads share a blob.
func (c *Coordinator) uploadSubtitle(connID, text string) {
	if !c.st.validateLock(connID) {
		return
	}
	if c.deps.Store == nil {
		return
	}
	sum := sha256.Sum256([]byte(text))
	hash := hex.EncodeToString(sum[:])
	blob, err := compressSubtitle(text)
	if err != nil {
		c.log.WithError(err).Error("Failed to compress subtitle")
		return
	}
	ctx, cancel := c.opContext()
	defer cancel()
	if err := c.deps.Store.SaveSubtitle(ctx, hash, blob); err != nil {
		c.log.WithError(err).Warn("Failed to store subtitle")
		return
	}
	c.st.subtitle = hash
	c.broadcast(EventSubtitle, hash)
	c.count(counterSubUploads)
}

// save persists the snapshot to the cache and mirrors it to the settings store.
// Failures are logged and returned, never fatal.
func (c *Coordinator) save(mode repository.SaveMode) error {
	data, err := c.st.snapshot().Marshal()
	if err != nil {
		c.log.WithError(err).Error("Failed to serialize room")
		return err
	}
	ctx, cancel := c.opContext()
	defer cancel()
	if err := c.deps.Settings.MirrorSnapshot(ctx, c.id, data, c.now()); err != nil {
		c.log.WithError(err).Warn("Failed to mirror snapshot to database")
	}
	if c.deps.Store == nil {
		return nil
	}
	if err := c.deps.Store.SaveSnapshot(ctx, c.id, data, mode); err != nil {
		c.log.WithError(err).WithField("mode", mode.String()).Warn("Failed to save snapshot")
		return err
	}
	return nil
}

// endOfDay is the next UTC midnight, so every shard rolls the daily counters over together.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
