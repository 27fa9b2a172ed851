package room

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

var (
	// ErrUnknownCommand is returned by DecodeCommand for names it does not know.
	ErrUnknownCommand = errors.New("room: unknown command")
	// ErrMalformedPayload covers payloads that are unparsable or over their size bound.
	ErrMalformedPayload = errors.New("room: malformed payload")
)

// Payload size bounds.
const (
	maxHostLen       = 20000
	maxTimestampLen  = 100
	maxChatLen       = 10000
	maxNameLen       = 50
	maxPictureLen    = 10000
	maxControllerLen = 100
	maxSubtitleLen   = 1000000
)

// Command is one client request. The set is closed: every implementation lives in this file
// and is handled by the switch in Coordinator.handle.
type Command interface {
	isCommand()
}

type (
	Host             struct{ Source string }
	Play             struct{}
	Pause            struct{}
	Seek             struct{ TS float64 }
	ReportTimestamp  struct{ TS float64 }
	Chat             struct{ Msg string }
	SetName          struct{ Name string }
	SetPicture       struct{ Picture string }
	Authenticate     struct{ UID, Token string }
	JoinVideo        struct{}
	LeaveVideo       struct{}
	JoinScreenShare  struct{ File bool }
	LeaveScreenShare struct{}
	StartVBrowser    struct {
		UID, Token, RCToken string
		Size, Region        string
	}
	StopVBrowser     struct{}
	ChangeController struct{ Target string }
	UploadSubtitle   struct{ Text string }
	Lock             struct {
		UID, Token string
		Locked     bool
	}
	AskHost         struct{}
	GetRoomSettings struct{}
	SetRoomSettings struct {
		UID, Token       string
		Password, Vanity string
		IsChatDisabled   bool
	}
	SetRoomOwner struct {
		UID, Token string
		Undo       bool
	}
	Signal struct {
		To  string
		Msg json.RawMessage
	}
	SignalScreenShare struct {
		To, Sharer string
		Msg        json.RawMessage
	}
	Disconnect struct{}
)

func (Host) isCommand()              {}
func (Play) isCommand()              {}
func (Pause) isCommand()             {}
func (Seek) isCommand()              {}
func (ReportTimestamp) isCommand()   {}
func (Chat) isCommand()              {}
func (SetName) isCommand()           {}
func (SetPicture) isCommand()        {}
func (Authenticate) isCommand()      {}
func (JoinVideo) isCommand()         {}
func (LeaveVideo) isCommand()        {}
func (JoinScreenShare) isCommand()   {}
func (LeaveScreenShare) isCommand()  {}
func (StartVBrowser) isCommand()     {}
func (StopVBrowser) isCommand()      {}
func (ChangeController) isCommand()  {}
func (UploadSubtitle) isCommand()    {}
func (Lock) isCommand()              {}
func (AskHost) isCommand()           {}
func (GetRoomSettings) isCommand()   {}
func (SetRoomSettings) isCommand()   {}
func (SetRoomOwner) isCommand()      {}
func (Signal) isCommand()            {}
func (SignalScreenShare) isCommand() {}
func (Disconnect) isCommand()        {}

type credentials struct {
	UID   string `json:"uid"`
	Token string `json:"token"`
}

// DecodeCommand turns a wire frame into a Command. Callers drop frames that fail to decode.
func DecodeCommand(name string, raw json.RawMessage) (Command, error) {
	switch name {
	case "CMD:host":
		s, err := decodeString(raw, maxHostLen)
		if err != nil {
			return nil, err
		}
		return Host{Source: s}, nil
	case "CMD:play":
		return Play{}, nil
	case "CMD:pause":
		return Pause{}, nil
	case "CMD:seek":
		ts, err := decodeTimestamp(raw)
		if err != nil {
			return nil, err
		}
		return Seek{TS: ts}, nil
	case "CMD:ts":
		ts, err := decodeTimestamp(raw)
		if err != nil {
			return nil, err
		}
		return ReportTimestamp{TS: ts}, nil
	case "CMD:chat":
		s, err := decodeString(raw, maxChatLen)
		if err != nil {
			return nil, err
		}
		return Chat{Msg: s}, nil
	case "CMD:name":
		s, err := decodeString(raw, maxNameLen)
		if err != nil || s == "" {
			return nil, ErrMalformedPayload
		}
		return SetName{Name: s}, nil
	case "CMD:picture":
		s, err := decodeString(raw, maxPictureLen)
		if err != nil {
			return nil, err
		}
		return SetPicture{Picture: s}, nil
	case "CMD:uid":
		var p credentials
		if err := decodeObject(raw, &p); err != nil {
			return nil, err
		}
		return Authenticate{UID: p.UID, Token: p.Token}, nil
	case "CMD:joinVideo":
		return JoinVideo{}, nil
	case "CMD:leaveVideo":
		return LeaveVideo{}, nil
	case "CMD:joinScreenShare":
		var p struct {
			File bool `json:"file"`
		}
		if len(raw) > 0 && string(raw) != "null" {
			if err := decodeObject(raw, &p); err != nil {
				return nil, err
			}
		}
		return JoinScreenShare{File: p.File}, nil
	case "CMD:leaveScreenShare":
		return LeaveScreenShare{}, nil
	case "CMD:startVBrowser":
		var p struct {
			credentials
			RCToken string `json:"rcToken"`
			Options struct {
				Size   string `json:"size"`
				Region string `json:"region"`
			} `json:"options"`
		}
		if err := decodeObject(raw, &p); err != nil {
			return nil, err
		}
		return StartVBrowser{UID: p.UID, Token: p.Token, RCToken: p.RCToken, Size: p.Options.Size, Region: p.Options.Region}, nil
	case "CMD:stopVBrowser":
		return StopVBrowser{}, nil
	case "CMD:changeController":
		s, err := decodeString(raw, maxControllerLen)
		if err != nil {
			return nil, err
		}
		return ChangeController{Target: s}, nil
	case "CMD:subtitle":
		s, err := decodeString(raw, maxSubtitleLen)
		if err != nil {
			return nil, err
		}
		return UploadSubtitle{Text: s}, nil
	case "CMD:lock":
		var p struct {
			credentials
			Locked bool `json:"locked"`
		}
		if err := decodeObject(raw, &p); err != nil {
			return nil, err
		}
		return Lock{UID: p.UID, Token: p.Token, Locked: p.Locked}, nil
	case "CMD:askHost":
		return AskHost{}, nil
	case "CMD:getRoomState":
		return GetRoomSettings{}, nil
	case "CMD:setRoomState":
		var p struct {
			credentials
			Password       string `json:"password"`
			Vanity         string `json:"vanity"`
			IsChatDisabled bool   `json:"isChatDisabled"`
		}
		if err := decodeObject(raw, &p); err != nil {
			return nil, err
		}
		return SetRoomSettings{UID: p.UID, Token: p.Token, Password: p.Password, Vanity: p.Vanity, IsChatDisabled: p.IsChatDisabled}, nil
	case "CMD:setRoomOwner":
		var p struct {
			credentials
			Undo bool `json:"undo"`
		}
		if err := decodeObject(raw, &p); err != nil {
			return nil, err
		}
		return SetRoomOwner{UID: p.UID, Token: p.Token, Undo: p.Undo}, nil
	case "signal":
		var p struct {
			To  string          `json:"to"`
			Msg json.RawMessage `json:"msg"`
		}
		if err := decodeObject(raw, &p); err != nil || p.To == "" {
			return nil, ErrMalformedPayload
		}
		return Signal{To: p.To, Msg: p.Msg}, nil
	case "signalSS":
		var p struct {
			To     string          `json:"to"`
			Sharer string          `json:"sharer"`
			Msg    json.RawMessage `json:"msg"`
		}
		if err := decodeObject(raw, &p); err != nil || p.To == "" {
			return nil, ErrMalformedPayload
		}
		return SignalScreenShare{To: p.To, Sharer: p.Sharer, Msg: p.Msg}, nil
	default:
		return nil, ErrUnknownCommand
	}
}

// decodeString accepts a JSON string of at most max bytes. A missing or null payload is "".
func decodeString(raw json.RawMessage, max int) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", ErrMalformedPayload
	}
	if len(s) > max {
		return "", ErrMalformedPayload
	}
	return s, nil
}

// decodeTimestamp accepts a number, or a numeric string, whose text is at most 100 bytes.
// Quotes around a string do not count towards the limit.
func decodeTimestamp(raw json.RawMessage) (float64, error) {
	text := bytes.TrimSpace(raw)
	if len(text) == 0 {
		return 0, ErrMalformedPayload
	}
	if text[0] != '"' {
		if len(text) > maxTimestampLen {
			return 0, ErrMalformedPayload
		}
		var ts float64
		if err := json.Unmarshal(text, &ts); err != nil {
			return 0, ErrMalformedPayload
		}
		return ts, nil
	}
	var s string
	if err := json.Unmarshal(text, &s); err != nil || len(s) > maxTimestampLen {
		return 0, ErrMalformedPayload
	}
	ts, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, ErrMalformedPayload
	}
	return ts, nil
}

func decodeObject(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return ErrMalformedPayload
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return ErrMalformedPayload
	}
	return nil
}
