package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohsinalimat/watchparty/internal/auth"
	"github.com/mohsinalimat/watchparty/internal/billing"
	"github.com/mohsinalimat/watchparty/internal/domain"
	redisstate "github.com/mohsinalimat/watchparty/internal/infra/state/redis"
	"github.com/mohsinalimat/watchparty/internal/room"
	"github.com/mohsinalimat/watchparty/internal/service"
)

const lobby = "/lobby"

func newTestHub(t *testing.T, capacity int) (*Hub, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	verifier, err := auth.NewHMACVerifier("test-secret", "")
	require.NoError(t, err)

	h := New(room.Deps{
		Store:    redisstate.NewRedisStateRepository(client, ""),
		Settings: service.NewSettingsService(nil, false),
		Auth:     verifier,
		Billing:  billing.Disabled{},
		Config:   room.Config{RoomCapacity: capacity, TickInterval: time.Hour, OpTimeout: time.Second},
	}, Options{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
	})
	return h, mr
}

func connect(t *testing.T, h *Hub, roomID, connID string) *Client {
	t.Helper()
	c := NewClient(h, nil, roomID, connID)
	require.NoError(t, h.Connect(context.Background(), c, room.Handshake{ClientID: "client-" + connID}))
	return c
}

// nextFrame reads queued frames until one of type event shows up.
func nextFrame(t *testing.T, c *Client, event string) json.RawMessage {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-c.send:
			var f inboundFrame
			require.NoError(t, json.Unmarshal(msg, &f))
			if f.Type == event {
				return f.Data
			}
		case <-timeout:
			t.Fatalf("no %s frame for %s", event, c.connID)
			return nil
		}
	}
}

func storedSnapshot(t *testing.T, mr *miniredis.Miniredis, roomID string) *domain.Snapshot {
	t.Helper()
	raw, err := mr.Get(roomID)
	require.NoError(t, err)
	snap, err := domain.ParseSnapshot([]byte(raw))
	require.NoError(t, err)
	return snap
}

func TestBroadcastReachesEveryConnection(t *testing.T) {
	h, _ := newTestHub(t, 5)
	c1 := connect(t, h, lobby, "c1")
	c2 := connect(t, h, lobby, "c2")

	h.Dispatch(lobby, "c1", room.Chat{Msg: "hi"})

	for _, c := range []*Client{c1, c2} {
		var msg domain.ChatMessage
		require.NoError(t, json.Unmarshal(nextFrame(t, c, room.EventChat), &msg))
		assert.Equal(t, "hi", msg.Msg)
		assert.Equal(t, "c1", msg.ID)
	}
}

func TestAdmissionPushesStateToNewConnection(t *testing.T) {
	h, _ := newTestHub(t, 5)
	c1 := connect(t, h, lobby, "c1")

	var hs room.HostState
	require.NoError(t, json.Unmarshal(nextFrame(t, c1, room.EventHost), &hs))
	assert.Equal(t, "", hs.Video)
	var roster []domain.RosterEntry
	require.NoError(t, json.Unmarshal(nextFrame(t, c1, room.EventRoster), &roster))
	assert.Equal(t, []domain.RosterEntry{{ID: "c1"}}, roster)
}

func TestConnectRejectsWhenFull(t *testing.T) {
	h, _ := newTestHub(t, 1)
	connect(t, h, lobby, "c1")

	err := h.Connect(context.Background(), NewClient(h, nil, lobby, "c2"), room.Handshake{})

	assert.ErrorIs(t, err, room.ErrRoomFull)
	assert.Equal(t, Stats{Rooms: 1, Connections: 1}, h.Stats())
}

func TestIdleRoomIsReleasedAndRestored(t *testing.T) {
	h, mr := newTestHub(t, 5)
	c1 := connect(t, h, lobby, "c1")
	h.Dispatch(lobby, "c1", room.Chat{Msg: "hello"})
	h.Disconnect(c1)

	require.Eventually(t, func() bool { return h.Stats().Rooms == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, h.Stats().Connections)
	assert.Equal(t, redisstate.ExpiringSnapshotTTL, mr.TTL(lobby))

	c2 := connect(t, h, lobby, "c2")
	var chat []domain.ChatMessage
	require.NoError(t, json.Unmarshal(nextFrame(t, c2, room.EventChatInit), &chat))
	require.Len(t, chat, 1)
	assert.Equal(t, "hello", chat[0].Msg)
}

func TestFlushAllPersistsRooms(t *testing.T) {
	h, mr := newTestHub(t, 5)
	connect(t, h, lobby, "c1")
	connect(t, h, "/other", "c2")
	h.Dispatch(lobby, "c1", room.Host{Source: "https://example.com/a.mp4"})

	require.NoError(t, h.FlushAll(context.Background()))

	assert.Equal(t, "https://example.com/a.mp4", storedSnapshot(t, mr, lobby).Video)
	assert.True(t, mr.Exists("/other"))
}

func TestShutdownSavesRoomsAndClosesClients(t *testing.T) {
	h, mr := newTestHub(t, 5)
	c1 := connect(t, h, lobby, "c1")
	h.Dispatch(lobby, "c1", room.Host{Source: "https://example.com/b.mp4"})

	require.NoError(t, h.Shutdown(context.Background()))

	assert.Equal(t, "https://example.com/b.mp4", storedSnapshot(t, mr, lobby).Video)
	select {
	case <-c1.done:
	default:
		t.Fatal("client was not closed")
	}
}

func TestPendingConnectionGetsOnlyDirectFrames(t *testing.T) {
	h, _ := newTestHub(t, 5)
	c1 := connect(t, h, lobby, "c1")
	pending := NewClient(h, nil, lobby, "c2")
	h.registerClient(pending)

	h.Dispatch(lobby, "c1", room.Chat{Msg: "hi"})
	nextFrame(t, c1, room.EventChat)
	h.Send(lobby, "c2", room.EventError, "direct")

	require.Len(t, pending.send, 1)
	var f inboundFrame
	require.NoError(t, json.Unmarshal(<-pending.send, &f))
	assert.Equal(t, room.EventError, f.Type)

	h.markAdmitted(lobby, "c2")
	h.Broadcast(lobby, room.EventPlay, "")
	var got inboundFrame
	require.NoError(t, json.Unmarshal(<-pending.send, &got))
	assert.Equal(t, room.EventPlay, got.Type)
}

func TestSendToUnknownConnectionIsDropped(t *testing.T) {
	h, _ := newTestHub(t, 5)
	assert.NotPanics(t, func() {
		h.Send(lobby, "nobody", room.EventError, "x")
		h.Broadcast("/empty", room.EventPlay, "")
	})
}

func TestOwnsRoomPartitionsRooms(t *testing.T) {
	single := New(room.Deps{}, Options{})
	assert.True(t, single.OwnsRoom(lobby))

	shard0 := New(room.Deps{}, Options{ShardID: 0, ShardCount: 2})
	shard1 := New(room.Deps{}, Options{ShardID: 1, ShardCount: 2})
	for i := 0; i < 20; i++ {
		roomID := fmt.Sprintf("/room-%d", i)
		assert.NotEqual(t, shard0.OwnsRoom(roomID), shard1.OwnsRoom(roomID), roomID)
	}
}
