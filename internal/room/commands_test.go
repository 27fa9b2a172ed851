package room

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		raw     string
		want    Command
		wantErr error
	}{
		{name: "host", event: "CMD:host", raw: `"https://example.com/a.mp4"`, want: Host{Source: "https://example.com/a.mp4"}},
		{name: "play without payload", event: "CMD:play", want: Play{}},
		{name: "seek number", event: "CMD:seek", raw: `12.5`, want: Seek{TS: 12.5}},
		{name: "seek numeric string", event: "CMD:seek", raw: `"12.5"`, want: Seek{TS: 12.5}},
		{name: "seek garbage", event: "CMD:seek", raw: `"soon"`, wantErr: ErrMalformedPayload},
		{name: "ts too long", event: "CMD:ts", raw: strings.Repeat("1", 101), wantErr: ErrMalformedPayload},
		{name: "seek string at length limit", event: "CMD:seek", raw: `"1` + strings.Repeat("0", 99) + `"`, want: Seek{TS: 1e99}},
		{name: "seek string over length limit", event: "CMD:seek", raw: `"1` + strings.Repeat("0", 100) + `"`, wantErr: ErrMalformedPayload},
		{name: "chat", event: "CMD:chat", raw: `"hello"`, want: Chat{Msg: "hello"}},
		{name: "chat too long", event: "CMD:chat", raw: `"` + strings.Repeat("x", maxChatLen+1) + `"`, wantErr: ErrMalformedPayload},
		{name: "empty name", event: "CMD:name", raw: `""`, wantErr: ErrMalformedPayload},
		{name: "name too long", event: "CMD:name", raw: `"` + strings.Repeat("n", maxNameLen+1) + `"`, wantErr: ErrMalformedPayload},
		{name: "uid", event: "CMD:uid", raw: `{"uid":"alice","token":"t"}`, want: Authenticate{UID: "alice", Token: "t"}},
		{name: "screenshare default", event: "CMD:joinScreenShare", want: JoinScreenShare{}},
		{name: "fileshare", event: "CMD:joinScreenShare", raw: `{"file":true}`, want: JoinScreenShare{File: true}},
		{
			name:  "start vbrowser",
			event: "CMD:startVBrowser",
			raw:   `{"uid":"alice","token":"t","rcToken":"rc","options":{"size":"large","region":"US"}}`,
			want:  StartVBrowser{UID: "alice", Token: "t", RCToken: "rc", Size: "large", Region: "US"},
		},
		{name: "start vbrowser without body", event: "CMD:startVBrowser", wantErr: ErrMalformedPayload},
		{name: "lock", event: "CMD:lock", raw: `{"uid":"alice","token":"t","locked":true}`, want: Lock{UID: "alice", Token: "t", Locked: true}},
		{name: "room state", event: "CMD:setRoomState", raw: `{"uid":"a","token":"t","password":"p","vanity":"v","isChatDisabled":true}`,
			want: SetRoomSettings{UID: "a", Token: "t", Password: "p", Vanity: "v", IsChatDisabled: true}},
		{name: "owner undo", event: "CMD:setRoomOwner", raw: `{"uid":"a","token":"t","undo":true}`, want: SetRoomOwner{UID: "a", Token: "t", Undo: true}},
		{name: "signal", event: "signal", raw: `{"to":"c2","msg":{"sdp":"x"}}`, want: Signal{To: "c2", Msg: json.RawMessage(`{"sdp":"x"}`)}},
		{name: "signal without target", event: "signal", raw: `{"msg":{}}`, wantErr: ErrMalformedPayload},
		{name: "unknown", event: "CMD:explode", wantErr: ErrUnknownCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw json.RawMessage
			if tt.raw != "" {
				raw = json.RawMessage(tt.raw)
			}
			got, err := DecodeCommand(tt.event, raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
