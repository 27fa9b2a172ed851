package room

import (
	"strconv"
	"time"

	"github.com/mohsinalimat/watchparty/internal/domain"
)

const maxChatHistory = 100

// state is the authoritative in-memory room.
type state struct {
	video    string
	videoTS  float64
	paused   bool
	subtitle string

	chat       []domain.ChatMessage
	roster     []*domain.RosterEntry
	nameMap    map[string]string
	pictureMap map[string]string
	// tsMap is never persisted.
	tsMap       map[string]float64
	clientIDMap map[string]string
	uidMap      map[string]string

	lock         string
	vBrowser     *domain.VBrowserSession
	creationTime time.Time
	// chatDisabled is nil until first read from the settings store, then cached.
	chatDisabled *bool
}

// restore builds a state from a snapshot; missing fields keep their defaults.
func restore(snap *domain.Snapshot, now time.Time) *state {
	st := &state{
		nameMap:      map[string]string{},
		pictureMap:   map[string]string{},
		tsMap:        map[string]float64{},
		clientIDMap:  map[string]string{},
		uidMap:       map[string]string{},
		creationTime: now,
	}
	if snap == nil {
		return st
	}
	st.video = snap.Video
	st.videoTS = snap.VideoTS
	st.paused = snap.Paused
	st.subtitle = snap.Subtitle
	st.lock = snap.Lock
	st.vBrowser = snap.VBrowser
	if len(snap.Chat) > 0 {
		st.chat = snap.Chat
		if len(st.chat) > maxChatHistory {
			st.chat = st.chat[len(st.chat)-maxChatHistory:]
		}
	}
	for k, v := range snap.NameMap {
		st.nameMap[k] = v
	}
	for k, v := range snap.PictureMap {
		st.pictureMap[k] = v
	}
	if !snap.CreationTime.IsZero() {
		st.creationTime = snap.CreationTime
	}
	return st
}

// snapshot serializes the persisted fields. Name and picture maps are pruned to ids that
// still appear in chat.
func (st *state) snapshot() *domain.Snapshot {
	inChat := make(map[string]bool, len(st.chat))
	for _, m := range st.chat {
		inChat[m.ID] = true
	}
	names := make(map[string]string)
	for id, v := range st.nameMap {
		if inChat[id] {
			names[id] = v
		}
	}
	pictures := make(map[string]string)
	for id, v := range st.pictureMap {
		if inChat[id] {
			pictures[id] = v
		}
	}
	chat := make([]domain.ChatMessage, len(st.chat))
	copy(chat, st.chat)
	var vb *domain.VBrowserSession
	if st.vBrowser != nil {
		cp := *st.vBrowser
		vb = &cp
	}
	return &domain.Snapshot{
		Video:        st.video,
		VideoTS:      st.videoTS,
		Subtitle:     st.subtitle,
		Paused:       st.paused,
		Chat:         chat,
		NameMap:      names,
		PictureMap:   pictures,
		VBrowser:     vb,
		CreationTime: st.creationTime,
		Lock:         st.lock,
	}
}

func (st *state) resetHost(source string) {
	st.video = source
	st.videoTS = 0
	st.paused = false
	st.subtitle = ""
	st.tsMap = map[string]float64{}
}

func (st *state) appendChat(msg domain.ChatMessage) {
	st.chat = append(st.chat, msg)
	if len(st.chat) > maxChatHistory {
		trimmed := make([]domain.ChatMessage, maxChatHistory)
		copy(trimmed, st.chat[len(st.chat)-maxChatHistory:])
		st.chat = trimmed
	}
}

func (st *state) member(connID string) *domain.RosterEntry {
	for _, e := range st.roster {
		if e.ID == connID {
			return e
		}
	}
	return nil
}

func (st *state) inRoster(connID string) bool {
	return st.member(connID) != nil
}

func (st *state) sharer() *domain.RosterEntry {
	for _, e := range st.roster {
		if e.IsScreenShare {
			return e
		}
	}
	return nil
}

// validateLock passes when the room is unlocked or connID is authenticated as the holder.
func (st *state) validateLock(connID string) bool {
	return st.lock == "" || st.uidMap[connID] == st.lock
}

func (st *state) chatIsDisabled() bool {
	return st.chatDisabled != nil && *st.chatDisabled
}

func (st *state) rosterCopy() []domain.RosterEntry {
	out := make([]domain.RosterEntry, len(st.roster))
	for i, e := range st.roster {
		out[i] = *e
	}
	return out
}

func (st *state) tsMapCopy() map[string]float64 {
	out := make(map[string]float64, len(st.tsMap))
	for k, v := range st.tsMap {
		out[k] = v
	}
	return out
}

func (st *state) chatCopy() []domain.ChatMessage {
	out := make([]domain.ChatMessage, len(st.chat))
	copy(out, st.chat)
	return out
}

func formatTS(ts float64) string {
	return strconv.FormatFloat(ts, 'f', -1, 64)
}
