package room

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohsinalimat/watchparty/internal/domain"
)

func TestSnapshotRoundTrip(t *testing.T) {
	ts := 4.5
	snap := &domain.Snapshot{
		Video:    "https://example.com/a.mp4",
		VideoTS:  42,
		Subtitle: "abc",
		Paused:   true,
		Chat: []domain.ChatMessage{
			{ID: "c1", Msg: "hi", Timestamp: "2024-03-01T12:00:00.000Z", VideoTS: &ts},
			{ID: "c2", Cmd: "pause", Timestamp: "2024-03-01T12:00:01.000Z"},
		},
		NameMap:      map[string]string{"c1": "Alice", "c2": "Bob"},
		PictureMap:   map[string]string{"c1": "https://example.com/alice.png"},
		VBrowser:     &domain.VBrowserSession{ID: "vm-1", Host: "10.0.0.1:5000", Pass: "pw", Provider: "DO", AssignTime: 1000},
		CreationTime: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Lock:         "alice",
	}

	data, err := restore(snap, testNow).snapshot().Marshal()
	require.NoError(t, err)
	parsed, err := domain.ParseSnapshot(data)
	require.NoError(t, err)
	again, err := restore(parsed, testNow).snapshot().Marshal()
	require.NoError(t, err)

	assert.Equal(t, snap, parsed)
	assert.JSONEq(t, string(data), string(again))
}

func TestSnapshotPrunesMapsToChatAuthors(t *testing.T) {
	st := restore(nil, testNow)
	st.nameMap["c1"] = "Alice"
	st.nameMap["gone"] = "Ghost"
	st.pictureMap["gone"] = "https://example.com/ghost.png"
	st.appendChat(domain.ChatMessage{ID: "c1", Msg: "hi"})

	snap := st.snapshot()

	assert.Equal(t, map[string]string{"c1": "Alice"}, snap.NameMap)
	assert.Empty(t, snap.PictureMap)
	// Live maps are untouched.
	assert.Contains(t, st.nameMap, "gone")
}

func TestRestoreAcceptsOldBlobs(t *testing.T) {
	snap, err := domain.ParseSnapshot([]byte(`{"video":"https://example.com/a.mp4","chat":null,"nameMap":null}`))
	require.NoError(t, err)

	st := restore(snap, testNow)

	assert.Equal(t, "https://example.com/a.mp4", st.video)
	assert.NotNil(t, st.nameMap)
	assert.NotNil(t, st.pictureMap)
	assert.Empty(t, st.chat)
	assert.Nil(t, st.vBrowser)
	assert.Equal(t, testNow, st.creationTime)

	data, err := st.snapshot().Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"chat":[]`)
	assert.Contains(t, string(data), `"nameMap":{}`)
}

func TestRestoreCapsChat(t *testing.T) {
	snap := &domain.Snapshot{}
	for i := 0; i < 150; i++ {
		snap.Chat = append(snap.Chat, domain.ChatMessage{ID: "c1", Msg: strconv.Itoa(i)})
	}
	st := restore(snap, testNow)
	require.Len(t, st.chat, maxChatHistory)
	assert.Equal(t, "50", st.chat[0].Msg)
	assert.Equal(t, "149", st.chat[maxChatHistory-1].Msg)
}

func TestResetHostClearsPlayback(t *testing.T) {
	st := restore(nil, testNow)
	st.video, st.videoTS, st.paused, st.subtitle = "a", 10, true, "hash"
	st.tsMap["c1"] = 10

	st.resetHost("b")

	assert.Equal(t, "b", st.video)
	assert.Zero(t, st.videoTS)
	assert.False(t, st.paused)
	assert.Empty(t, st.subtitle)
	assert.Empty(t, st.tsMap)
}
