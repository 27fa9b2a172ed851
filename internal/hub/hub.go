package hub

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mohsinalimat/watchparty/internal/domain"
	"github.com/mohsinalimat/watchparty/internal/repository"
	"github.com/mohsinalimat/watchparty/internal/room"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer. Subtitle uploads are the largest frames.
	maxMessageSize = 2 << 20

	sendBufferSize = 256

	// connectAttempts bounds retries when a room shuts down under a joining connection.
	connectAttempts = 3

	flushConcurrency = 8
)

// Options configure shard ownership.
type Options struct {
	ShardID    int
	ShardCount int
}

// Stats is a point-in-time view of this shard.
type Stats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

type frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub is the room registry of this shard. It creates a coordinator on the first connection to
// a room, drops it once the room goes idle, and delivers the coordinators' events to clients.
type Hub struct {
	deps  room.Deps
	store repository.SnapshotRepository
	opts  Options
	log   *logrus.Entry

	roomsMu sync.RWMutex
	rooms   map[string]*room.Coordinator

	clientsMu sync.RWMutex
	// clients is map[roomID]map[connID]*Client
	clients map[string]map[string]*Client
}

// New creates a Hub. deps is the template for every coordinator; its Publisher and OnIdle are
// replaced by the hub.
func New(deps room.Deps, opts Options) *Hub {
	if opts.ShardCount < 1 {
		opts.ShardCount = 1
	}
	h := &Hub{
		deps:    deps,
		store:   deps.Store,
		opts:    opts,
		log:     logrus.WithField("component", "hub"),
		rooms:   make(map[string]*room.Coordinator),
		clients: make(map[string]map[string]*Client),
	}
	h.deps.Publisher = h
	h.deps.OnIdle = h.release
	h.deps.OnAdmit = h.markAdmitted
	return h
}

// OwnsRoom reports whether roomID is served by this shard.
func (h *Hub) OwnsRoom(roomID string) bool {
	if h.opts.ShardCount <= 1 {
		return true
	}
	f := fnv.New32a()
	_, _ = f.Write([]byte(roomID))
	return int(f.Sum32()%uint32(h.opts.ShardCount)) == h.opts.ShardID
}

// Connect registers client as pending and runs admission for it. Pending clients only get
// frames addressed to them; room broadcasts start once the coordinator admits them. On error
// the client is unregistered and the caller closes the socket.
func (h *Hub) Connect(ctx context.Context, client *Client, hs room.Handshake) error {
	logCtx := h.log.WithFields(logrus.Fields{"room_id": client.roomID, "conn_id": client.connID})
	h.registerClient(client)

	var err error
	for attempt := 0; attempt < connectAttempts; attempt++ {
		var c *room.Coordinator
		c, err = h.getOrCreate(ctx, client.roomID)
		if err != nil {
			break
		}
		err = c.Join(ctx, client.connID, hs)
		if !errors.Is(err, room.ErrStopped) {
			break
		}
		logCtx.Debug("Room stopped during join, retrying")
		h.release(client.roomID, c)
	}
	if err != nil {
		h.unregisterClient(client)
		logCtx.WithError(err).Info("Connection rejected")
		return err
	}
	return nil
}

// Dispatch hands a decoded command to the room's coordinator.
func (h *Hub) Dispatch(roomID, connID string, cmd room.Command) {
	h.roomsMu.RLock()
	c := h.rooms[roomID]
	h.roomsMu.RUnlock()
	if c == nil || !c.Submit(connID, cmd) {
		h.log.WithFields(logrus.Fields{"room_id": roomID, "conn_id": connID}).Debug("Dropping command for inactive room")
	}
}

// Disconnect stops delivery to the client and tells its room it left.
func (h *Hub) Disconnect(client *Client) {
	h.unregisterClient(client)
	h.Dispatch(client.roomID, client.connID, room.Disconnect{})
}

// Broadcast implements room.Publisher.
func (h *Hub) Broadcast(roomID, event string, payload interface{}) {
	msg, err := encodeFrame(event, payload)
	if err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "event": event}).Error("Failed to encode event")
		return
	}
	h.clientsMu.RLock()
	roomClients := h.clients[roomID]
	recipients := make([]*Client, 0, len(roomClients))
	for _, c := range roomClients {
		if c.admitted.Load() {
			recipients = append(recipients, c)
		}
	}
	h.clientsMu.RUnlock()

	for _, c := range recipients {
		c.enqueue(msg)
	}
}

// Send implements room.Publisher.
func (h *Hub) Send(roomID, connID, event string, payload interface{}) {
	h.clientsMu.RLock()
	c := h.clients[roomID][connID]
	h.clientsMu.RUnlock()
	if c == nil {
		return
	}
	msg, err := encodeFrame(event, payload)
	if err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "event": event}).Error("Failed to encode event")
		return
	}
	c.enqueue(msg)
}

// FlushAll persists every live room with its current expiry.
func (h *Hub) FlushAll(ctx context.Context) error {
	coordinators := h.snapshotRooms()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(flushConcurrency)
	for _, c := range coordinators {
		c := c
		g.Go(func() error {
			if err := c.Flush(gctx); err != nil && !errors.Is(err, room.ErrStopped) {
				h.log.WithError(err).WithField("room_id", c.ID()).Warn("Room flush failed")
				return err
			}
			return nil
		})
	}
	err := g.Wait()
	h.log.WithField("rooms", len(coordinators)).Debug("Flushed rooms")
	return err
}

// Shutdown stops every coordinator, each saving its room, and closes all clients.
func (h *Hub) Shutdown(ctx context.Context) error {
	coordinators := h.snapshotRooms()
	var wg sync.WaitGroup
	for _, c := range coordinators {
		wg.Add(1)
		go func(c *room.Coordinator) {
			defer wg.Done()
			c.Stop()
		}(c)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	h.clientsMu.RLock()
	var all []*Client
	for _, roomClients := range h.clients {
		for _, c := range roomClients {
			all = append(all, c)
		}
	}
	h.clientsMu.RUnlock()
	for _, c := range all {
		c.close()
	}

	select {
	case <-done:
		h.log.WithField("rooms", len(coordinators)).Info("All rooms stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats counts live rooms and connections.
func (h *Hub) Stats() Stats {
	h.roomsMu.RLock()
	rooms := len(h.rooms)
	h.roomsMu.RUnlock()
	h.clientsMu.RLock()
	conns := 0
	for _, roomClients := range h.clients {
		conns += len(roomClients)
	}
	h.clientsMu.RUnlock()
	return Stats{Rooms: rooms, Connections: conns}
}

// getOrCreate returns the live coordinator of roomID, restoring it from the cache if needed.
// The snapshot is loaded without holding the lock; a concurrent creator may win.
func (h *Hub) getOrCreate(ctx context.Context, roomID string) (*room.Coordinator, error) {
	h.roomsMu.RLock()
	c, ok := h.rooms[roomID]
	h.roomsMu.RUnlock()
	if ok {
		return c, nil
	}

	snap, err := h.loadSnapshot(ctx, roomID)
	if err != nil {
		return nil, err
	}

	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	if c, ok := h.rooms[roomID]; ok {
		return c, nil
	}
	c = room.New(roomID, snap, h.deps)
	h.rooms[roomID] = c
	go c.Run()
	h.log.WithFields(logrus.Fields{"room_id": roomID, "restored": snap != nil}).Info("Room activated")
	return c, nil
}

func (h *Hub) loadSnapshot(ctx context.Context, roomID string) (*domain.Snapshot, error) {
	if h.store == nil {
		return nil, nil
	}
	data, err := h.store.LoadSnapshot(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrSnapshotNotFound) {
			return nil, nil
		}
		h.log.WithError(err).WithField("room_id", roomID).Error("Failed to load room snapshot")
		return nil, room.ErrUnavailable
	}
	snap, err := domain.ParseSnapshot(data)
	if err != nil {
		h.log.WithError(err).WithField("room_id", roomID).Error("Discarding unreadable room snapshot")
		return nil, nil
	}
	return snap, nil
}

// release forgets c if it is still the registered coordinator of roomID. It runs on the
// coordinator's goroutine when the room goes idle, so it must not wait on coordinators.
func (h *Hub) release(roomID string, c *room.Coordinator) {
	h.roomsMu.Lock()
	if h.rooms[roomID] == c {
		delete(h.rooms, roomID)
		h.log.WithField("room_id", roomID).Info("Room released")
	}
	h.roomsMu.Unlock()
}

func (h *Hub) snapshotRooms() []*room.Coordinator {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	out := make([]*room.Coordinator, 0, len(h.rooms))
	for _, c := range h.rooms {
		out = append(out, c)
	}
	return out
}

func (h *Hub) markAdmitted(roomID, connID string) {
	h.clientsMu.RLock()
	c := h.clients[roomID][connID]
	h.clientsMu.RUnlock()
	if c != nil {
		c.admitted.Store(true)
	}
}

func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	roomClients, ok := h.clients[client.roomID]
	if !ok {
		roomClients = make(map[string]*Client)
		h.clients[client.roomID] = roomClients
	}
	roomClients[client.connID] = client
}

func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	roomClients, ok := h.clients[client.roomID]
	if !ok || roomClients[client.connID] != client {
		return
	}
	delete(roomClients, client.connID)
	if len(roomClients) == 0 {
		delete(h.clients, client.roomID)
	}
}

func encodeFrame(event string, payload interface{}) ([]byte, error) {
	return json.Marshal(frame{Type: event, Data: payload})
}
