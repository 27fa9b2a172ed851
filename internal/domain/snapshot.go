package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChatMessage is one entry of a room's chat history. Cmd is empty for free-text
// chat and names the system event otherwise (host, play, pause, seek, lock, unlock).
type ChatMessage struct {
	ID        string   `json:"id"`
	Msg       string   `json:"msg"`
	Cmd       string   `json:"cmd,omitempty"`
	Timestamp string   `json:"timestamp"`
	VideoTS   *float64 `json:"videoTS,omitempty"`
}

// RosterEntry describes one live connection in a room.
type RosterEntry struct {
	ID            string `json:"id"`
	IsVideoChat   bool   `json:"isVideoChat,omitempty"`
	IsScreenShare bool   `json:"isScreenShare,omitempty"`
}

// VBrowserSession is a VM assigned to a room.
type VBrowserSession struct {
	ID               string `json:"id"`
	Host             string `json:"host"`
	Pass             string `json:"pass"`
	Provider         string `json:"provider"`
	Region           string `json:"region,omitempty"`
	Large            bool   `json:"large"`
	AssignTime       int64  `json:"assignTime"` // unix millis
	ControllerClient string `json:"controllerClient,omitempty"`
	CreatorUID       string `json:"creatorUID,omitempty"`
	CreatorClientID  string `json:"creatorClientID,omitempty"`
}

// Snapshot is the persisted form of a room.
type Snapshot struct {
	Video        string            `json:"video"`
	VideoTS      float64           `json:"videoTS"`
	Subtitle     string            `json:"subtitle"`
	Paused       bool              `json:"paused"`
	Chat         []ChatMessage     `json:"chat"`
	NameMap      map[string]string `json:"nameMap"`
	PictureMap   map[string]string `json:"pictureMap"`
	VBrowser     *VBrowserSession  `json:"vBrowser"`
	CreationTime time.Time         `json:"creationTime"`
	Lock         string            `json:"lock"`
}

// Marshal encodes the snapshot, always emitting empty collections rather than null.
func (s *Snapshot) Marshal() ([]byte, error) {
	out := *s
	if out.Chat == nil {
		out.Chat = []ChatMessage{}
	}
	if out.NameMap == nil {
		out.NameMap = map[string]string{}
	}
	if out.PictureMap == nil {
		out.PictureMap = map[string]string{}
	}
	b, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return b, nil
}

// ParseSnapshot decodes a persisted snapshot. Missing or null fields keep the zero value so
// that older blobs stay readable.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &s, nil
}
