package room

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/mohsinalimat/watchparty/internal/auth"
	"github.com/mohsinalimat/watchparty/internal/billing"
	"github.com/mohsinalimat/watchparty/internal/captcha"
	"github.com/mohsinalimat/watchparty/internal/domain"
	"github.com/mohsinalimat/watchparty/internal/fleet"
	redisstate "github.com/mohsinalimat/watchparty/internal/infra/state/redis"
	"github.com/mohsinalimat/watchparty/internal/service"
)

const testRoomID = "/test"

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type recordedEvent struct {
	connID string // empty for broadcasts
	name   string
	data   json.RawMessage
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Broadcast(_, event string, payload interface{}) {
	p.record("", event, payload)
}

func (p *recordingPublisher) Send(_, connID, event string, payload interface{}) {
	p.record(connID, event, payload)
}

func (p *recordingPublisher) record(connID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{connID: connID, name: event, data: data})
}

func (p *recordingPublisher) matching(connID, event string) []json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []json.RawMessage
	for _, e := range p.events {
		if e.connID == connID && e.name == event {
			out = append(out, e.data)
		}
	}
	return out
}

func (p *recordingPublisher) broadcasts(event string) []json.RawMessage {
	return p.matching("", event)
}

func (p *recordingPublisher) errorsFor(connID string) []string {
	var out []string
	for _, raw := range p.matching(connID, EventError) {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			out = append(out, s)
		}
	}
	return out
}

func (p *recordingPublisher) hostBroadcasts() []HostState {
	var out []HostState
	for _, raw := range p.broadcasts(EventHost) {
		var hs HostState
		if err := json.Unmarshal(raw, &hs); err == nil {
			out = append(out, hs)
		}
	}
	return out
}

// fakeVerifier accepts token "tok-<uid>" for uid.
type fakeVerifier struct{}

func (fakeVerifier) Verify(_ context.Context, uid, token string) (*domain.Identity, error) {
	if uid == "" || token != "tok-"+uid {
		return nil, auth.ErrAuthenticationFailed
	}
	return &domain.Identity{UID: uid, Email: uid + "@example.com"}, nil
}

type fakeSettings struct {
	available bool
	settings  *domain.RoomSettings
	getErr    error
	claimErr  error
	released  bool
	mirrored  int
}

func (f *fakeSettings) Available() bool { return f.available }

func (f *fakeSettings) GetSettings(_ context.Context, roomID string) (*domain.RoomSettings, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.settings == nil {
		return &domain.RoomSettings{RoomID: roomID}, nil
	}
	return f.settings, nil
}

func (f *fakeSettings) ValidateOwner(_ context.Context, _, uid string) error {
	if owner := f.settings.OwnerValue(); owner != "" && owner != uid {
		return service.ErrNotOwner
	}
	return nil
}

func (f *fakeSettings) UpdateSettings(_ context.Context, roomID, uid string, _ bool, password, vanity string, chatDisabled bool) (*domain.RoomSettings, error) {
	owner := uid
	f.settings = &domain.RoomSettings{
		RoomID:         roomID,
		Password:       &password,
		Vanity:         &vanity,
		Owner:          &owner,
		IsChatDisabled: &chatDisabled,
	}
	return f.settings, nil
}

func (f *fakeSettings) ClaimOwnership(_ context.Context, roomID, uid string, _ bool, creationTime time.Time) (*domain.RoomSettings, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	owner := uid
	f.settings = &domain.RoomSettings{RoomID: roomID, Owner: &owner, CreationTime: creationTime}
	return f.settings, nil
}

func (f *fakeSettings) ReleaseOwnership(context.Context, string) error {
	f.released = true
	f.settings = nil
	return nil
}

func (f *fakeSettings) MirrorSnapshot(context.Context, string, []byte, time.Time) error {
	f.mirrored++
	return nil
}

type fakeCaptcha struct{ verdict captcha.Verdict }

func (f fakeCaptcha) Verify(context.Context, string) (captcha.Verdict, error) {
	return f.verdict, nil
}

type fakeConn struct {
	closed int32
}

func (c *fakeConn) BRPop(context.Context, time.Duration, ...string) *redis.StringSliceCmd {
	return nil
}
func (c *fakeConn) HGetAll(context.Context, string) *redis.StringStringMapCmd { return nil }
func (c *fakeConn) ZAdd(context.Context, string, ...*redis.Z) *redis.IntCmd   { return nil }
func (c *fakeConn) Close() error {
	atomic.AddInt32(&c.closed, 1)
	return nil
}

// fakeDriver hands out session. With block set, Assign waits for release or cancellation.
type fakeDriver struct {
	session *domain.VBrowserSession
	err     error
	block   bool
	release chan struct{}
	entered chan struct{}
	calls   int32
}

func newFakeDriver(session *domain.VBrowserSession, block bool) *fakeDriver {
	return &fakeDriver{
		session: session,
		block:   block,
		release: make(chan struct{}),
		entered: make(chan struct{}, 8),
	}
}

func (d *fakeDriver) Pool() fleet.Pool { return fleet.Pool{Provider: "DO"} }

func (d *fakeDriver) Assign(ctx context.Context, _ fleet.Conn, _ time.Duration) (*domain.VBrowserSession, error) {
	atomic.AddInt32(&d.calls, 1)
	d.entered <- struct{}{}
	if d.block {
		select {
		case <-d.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.session == nil {
		return nil, d.err
	}
	s := *d.session
	return &s, d.err
}

func (d *fakeDriver) Reset(context.Context, string) error { return nil }

type fakeFleet struct{ driver *fakeDriver }

func (f fakeFleet) Resolve(fleet.Pool) fleet.Driver {
	if f.driver == nil {
		return nil
	}
	return f.driver
}

type recordingTerminator struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingTerminator) Terminate(_ context.Context, _ fleet.Pool, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

type testRoom struct {
	*Coordinator
	pub      *recordingPublisher
	settings *fakeSettings
	mr       *miniredis.Miniredis
}

func newTestRoom(t *testing.T, mutate func(*Deps)) *testRoom {
	t.Helper()
	mr := miniredis.RunT(t)
	// EXPIREAT deadlines are computed from the room clock.
	mr.SetTime(testNow)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	pub := &recordingPublisher{}
	settings := &fakeSettings{}
	deps := Deps{
		Publisher: pub,
		Store:     redisstate.NewRedisStateRepository(client, ""),
		Settings:  settings,
		Auth:      fakeVerifier{},
		Billing:   billing.Disabled{},
		Now:       func() time.Time { return testNow },
		Config: Config{
			VMManagerID:     "DO",
			RoomCapacity:    5,
			RoomCapacitySub: 10,
			TickInterval:    time.Hour,
			OpTimeout:       time.Second,
		},
	}
	if mutate != nil {
		mutate(&deps)
	}
	return &testRoom{Coordinator: New(testRoomID, nil, deps), pub: pub, settings: settings, mr: mr}
}

// admitAll runs admission synchronously. Each connection gets client id "client-<connID>".
func (r *testRoom) admitAll(t *testing.T, connIDs ...string) {
	t.Helper()
	for _, id := range connIDs {
		require.NoError(t, r.admit(id, Handshake{ClientID: "client-" + id}))
	}
}

// start runs the loop and stops it when the test ends.
func (r *testRoom) start(t *testing.T) {
	t.Helper()
	go r.Run()
	t.Cleanup(r.Stop)
}

func (r *testRoom) storedSnapshot(t *testing.T) *domain.Snapshot {
	t.Helper()
	raw, err := r.mr.Get(testRoomID)
	require.NoError(t, err)
	snap, err := domain.ParseSnapshot([]byte(raw))
	require.NoError(t, err)
	return snap
}
