package room

import "encoding/json"

// Outbound event names.
const (
	EventHost             = "REC:host"
	EventPlay             = "REC:play"
	EventPause            = "REC:pause"
	EventSeek             = "REC:seek"
	EventChat             = "REC:chat"
	EventChatInit         = "chatinit"
	EventRoster           = "roster"
	EventNameMap          = "REC:nameMap"
	EventPictureMap       = "REC:pictureMap"
	EventTSMap            = "REC:tsMap"
	EventLock             = "REC:lock"
	EventRoomSettings     = "REC:getRoomState"
	EventChangeController = "REC:changeController"
	EventSubtitle         = "REC:subtitle"
	EventError            = "errorMessage"
	EventSuccess          = "successMessage"
	EventSignal           = "signal"
	EventSignalSS         = "signalSS"
)

// Publisher delivers events to the connections of a room. Implementations must be safe for
// concurrent use by many coordinators and must encode payload before returning, since the
// coordinator keeps mutating its maps. Sends to unknown connections are dropped.
type Publisher interface {
	Broadcast(roomID, event string, payload interface{})
	Send(roomID, connID, event string, payload interface{})
}

// HostState is the payload of REC:host.
type HostState struct {
	Video           string  `json:"video"`
	VideoTS         float64 `json:"videoTS"`
	Subtitle        string  `json:"subtitle"`
	Paused          bool    `json:"paused"`
	IsVBrowserLarge bool    `json:"isVBrowserLarge"`
	Controller      string  `json:"controller,omitempty"`
}

// SettingsView is the payload of REC:getRoomState.
type SettingsView struct {
	Password       *string `json:"password,omitempty"`
	Vanity         *string `json:"vanity,omitempty"`
	Owner          *string `json:"owner,omitempty"`
	IsChatDisabled *bool   `json:"isChatDisabled,omitempty"`
}

type signalPayload struct {
	From string          `json:"from"`
	Msg  json.RawMessage `json:"msg"`
}

type signalSSPayload struct {
	From   string          `json:"from"`
	Sharer string          `json:"sharer"`
	Msg    json.RawMessage `json:"msg"`
}
