package room

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mohsinalimat/watchparty/internal/auth"
	"github.com/mohsinalimat/watchparty/internal/billing"
	"github.com/mohsinalimat/watchparty/internal/captcha"
	"github.com/mohsinalimat/watchparty/internal/domain"
	"github.com/mohsinalimat/watchparty/internal/fleet"
	"github.com/mohsinalimat/watchparty/internal/repository"
)

// Admission errors. Their text is what the transport reports to the rejected client.
var (
	ErrUnauthorized = errors.New("not authorized")
	ErrRoomFull     = errors.New("room full")
	ErrUnavailable  = errors.New("room unavailable")
	// ErrStopped means the coordinator shut down before handling the request; callers retry
	// against a fresh coordinator.
	ErrStopped = errors.New("room: coordinator stopped")
)

const inboxSize = 256

// Settings is the relational room settings store as the coordinator sees it.
type Settings interface {
	Available() bool
	GetSettings(ctx context.Context, roomID string) (*domain.RoomSettings, error)
	ValidateOwner(ctx context.Context, roomID, uid string) error
	UpdateSettings(ctx context.Context, roomID, uid string, isSubscriber bool, password, vanity string, chatDisabled bool) (*domain.RoomSettings, error)
	ClaimOwnership(ctx context.Context, roomID, uid string, isSubscriber bool, creationTime time.Time) (*domain.RoomSettings, error)
	ReleaseOwnership(ctx context.Context, roomID string) error
	MirrorSnapshot(ctx context.Context, roomID string, data []byte, at time.Time) error
}

// Fleet resolves the driver serving a VM pool. A nil driver means the pool is not configured.
type Fleet interface {
	Resolve(pool fleet.Pool) fleet.Driver
}

// Terminator releases a VM after its session ended.
type Terminator interface {
	Terminate(ctx context.Context, pool fleet.Pool, id string) error
}

// Config holds the per-room policy knobs.
type Config struct {
	VMManagerID       string
	RoomCapacity      int
	RoomCapacitySub   int
	SessionLimit      time.Duration
	SessionLimitLarge time.Duration
	DevMode           bool
	// TickInterval is the REC:tsMap broadcast period.
	TickInterval time.Duration
	// OpTimeout bounds every call to an external collaborator.
	OpTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 10 * time.Second
	}
	if c.SessionLimit <= 0 {
		c.SessionLimit = 3 * time.Hour
	}
	if c.SessionLimitLarge <= 0 {
		c.SessionLimitLarge = c.SessionLimit
	}
	return c
}

// Deps are the collaborators injected into every coordinator. Publisher, Settings and Auth
// are required; the rest may be nil, which disables the features that need them.
type Deps struct {
	Publisher  Publisher
	Store      repository.StateRepository
	Settings   Settings
	Auth       auth.Verifier
	Billing    billing.Checker
	Captcha    captcha.Verifier
	Fleet      Fleet
	OpenConn   func(ctx context.Context) (fleet.Conn, error)
	Terminator Terminator
	// OnIdle is called from the coordinator goroutine right before it exits because the
	// room emptied out.
	OnIdle func(roomID string, c *Coordinator)
	// OnAdmit is called from the coordinator goroutine once connID is in the roster, before
	// any event addressed to the room includes it.
	OnAdmit func(roomID, connID string)
	Now    func() time.Time
	Config Config
}

// Handshake is what a connecting client presents.
type Handshake struct {
	Password string
	ClientID string
}

type message struct {
	connID string
	cmd    Command
}

// Internal requests share the inbox with client commands so that they are ordered with them.
type (
	joinRequest struct {
		hs    Handshake
		reply chan error
	}
	flushRequest struct {
		reply chan error
	}
	assignmentDone struct {
		token   *assignment
		session *domain.VBrowserSession
		err     error
	}
)

func (joinRequest) isCommand()    {}
func (flushRequest) isCommand()   {}
func (assignmentDone) isCommand() {}

// Coordinator owns one room. All state is touched only by the goroutine running Run.
type Coordinator struct {
	id   string
	deps Deps
	cfg  Config
	log  *logrus.Entry
	now  func() time.Time

	inbox  chan message
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	st         *state
	fresh      bool
	assignment *assignment
}

// New creates a coordinator for roomID, restoring snap when it is non-nil.
// The coordinator does nothing until Run is started.
func New(roomID string, snap *domain.Snapshot, deps Deps) *Coordinator {
	if deps.Publisher == nil {
		panic("Publisher cannot be nil for room Coordinator")
	}
	if deps.Settings == nil {
		panic("Settings cannot be nil for room Coordinator")
	}
	if deps.Auth == nil {
		panic("Auth verifier cannot be nil for room Coordinator")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		id:     roomID,
		deps:   deps,
		cfg:    deps.Config.withDefaults(),
		log:    logrus.WithFields(logrus.Fields{"component": "room", "room_id": roomID}),
		now:    now,
		inbox:  make(chan message, inboxSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		fresh:  snap == nil,
	}
	c.st = restore(snap, now())
	return c
}

// ID returns the room id.
func (c *Coordinator) ID() string { return c.id }

// Done is closed once the coordinator has exited.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Run processes the inbox until the room goes idle or Stop is called.
func (c *Coordinator) Run() {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	if c.fresh {
		_ = c.save(repository.SaveExpiring)
	}
	c.log.Debug("Coordinator started")

	for {
		select {
		case <-c.ctx.Done():
			c.teardown()
			return
		case <-ticker.C:
			if c.st.video != "" {
				c.broadcast(EventTSMap, c.st.tsMapCopy())
			}
		case m := <-c.inbox:
			c.handle(m.connID, m.cmd)
			if c.idle() {
				c.shutdownIdle()
				return
			}
		}
	}
}

// Submit queues a command from connID. It returns false if the coordinator has exited.
func (c *Coordinator) Submit(connID string, cmd Command) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.inbox <- message{connID: connID, cmd: cmd}:
		return true
	case <-c.done:
		return false
	}
}

// Join runs admission for connID and, on success, sends it the full room state.
func (c *Coordinator) Join(ctx context.Context, connID string, hs Handshake) error {
	reply := make(chan error, 1)
	if !c.Submit(connID, joinRequest{hs: hs, reply: reply}) {
		return ErrStopped
	}
	return c.await(ctx, reply)
}

// Flush persists the room with its current expiry.
func (c *Coordinator) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	if !c.Submit("", flushRequest{reply: reply}) {
		return ErrStopped
	}
	return c.await(ctx, reply)
}

// Stop shuts the coordinator down after a final save and waits for it to exit.
func (c *Coordinator) Stop() {
	c.cancel()
	<-c.done
}

func (c *Coordinator) await(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-c.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers an internal result without blocking past the coordinator's lifetime.
func (c *Coordinator) post(cmd Command) {
	select {
	case c.inbox <- message{cmd: cmd}:
	case <-c.done:
	}
}

func (c *Coordinator) handle(connID string, cmd Command) {
	switch cmd := cmd.(type) {
	case joinRequest:
		cmd.reply <- c.admit(connID, cmd.hs)
		return
	case flushRequest:
		cmd.reply <- c.save(repository.SaveRefresh)
		return
	case assignmentDone:
		c.finishAssignment(cmd)
		return
	}

	if !c.st.inRoster(connID) {
		c.log.WithField("conn_id", connID).Debug("Dropping command from connection not in roster")
		return
	}

	switch cmd := cmd.(type) {
	case Host:
		c.startHosting(connID, cmd.Source)
	case Play:
		c.play(connID)
	case Pause:
		c.pause(connID)
	case Seek:
		c.seek(connID, cmd.TS)
	case ReportTimestamp:
		c.reportTimestamp(connID, cmd.TS)
	case Chat:
		c.chat(connID, cmd.Msg)
	case SetName:
		c.st.nameMap[connID] = cmd.Name
		c.broadcast(EventNameMap, c.st.nameMap)
	case SetPicture:
		c.st.pictureMap[connID] = cmd.Picture
		c.broadcast(EventPictureMap, c.st.pictureMap)
	case Authenticate:
		c.authenticate(connID, cmd)
	case JoinVideo:
		c.setVideoChat(connID, true)
	case LeaveVideo:
		c.setVideoChat(connID, false)
	case JoinScreenShare:
		c.joinScreenShare(connID, cmd.File)
	case LeaveScreenShare:
		c.leaveScreenShare(connID)
	case StartVBrowser:
		c.startVBrowser(connID, cmd)
	case StopVBrowser:
		c.stopVBrowser(connID)
	case ChangeController:
		c.changeController(connID, cmd.Target)
	case UploadSubtitle:
		c.uploadSubtitle(connID, cmd.Text)
	case Lock:
		c.lockRoom(connID, cmd)
	case AskHost:
		c.send(connID, EventHost, c.hostState())
	case GetRoomSettings:
		c.sendSettings(connID)
	case SetRoomSettings:
		c.setRoomSettings(connID, cmd)
	case SetRoomOwner:
		c.setRoomOwner(connID, cmd)
	case Signal:
		c.send(cmd.To, EventSignal, signalPayload{From: connID, Msg: cmd.Msg})
	case SignalScreenShare:
		c.send(cmd.To, EventSignalSS, signalSSPayload{From: connID, Sharer: cmd.Sharer, Msg: cmd.Msg})
	case Disconnect:
		c.disconnect(connID)
	default:
		c.log.WithField("command", cmd).Warn("Unhandled command type")
	}
}

func (c *Coordinator) idle() bool {
	return len(c.st.roster) == 0 && c.assignment == nil
}

// shutdownIdle persists the room, unregisters it and answers anything still queued.
func (c *Coordinator) shutdownIdle() {
	_ = c.save(repository.SaveRefresh)
	if c.deps.OnIdle != nil {
		c.deps.OnIdle(c.id, c)
	}
	c.cancel()
	for {
		select {
		case m := <-c.inbox:
			switch cmd := m.cmd.(type) {
			case joinRequest:
				cmd.reply <- ErrStopped
			case flushRequest:
				cmd.reply <- ErrStopped
			}
		default:
			c.log.Debug("Coordinator stopped: room is idle")
			return
		}
	}
}

// teardown runs on Stop: abandon any assignment in flight and persist.
func (c *Coordinator) teardown() {
	if c.assignment != nil {
		c.assignment.cancel()
		c.assignment = nil
		c.st.resetHost("")
	}
	_ = c.save(repository.SaveRefresh)
	c.log.Debug("Coordinator stopped")
}

func (c *Coordinator) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.cfg.OpTimeout)
}

func (c *Coordinator) broadcast(event string, payload interface{}) {
	c.deps.Publisher.Broadcast(c.id, event, payload)
}

func (c *Coordinator) send(connID, event string, payload interface{}) {
	c.deps.Publisher.Send(c.id, connID, event, payload)
}

func (c *Coordinator) sendError(connID, msg string) {
	c.send(connID, EventError, msg)
}

// count bumps a usage counter. Failures only log.
func (c *Coordinator) count(name string) {
	if c.deps.Store == nil {
		return
	}
	ctx, cancel := c.opContext()
	defer cancel()
	if err := c.deps.Store.Count(ctx, name); err != nil {
		c.log.WithError(err).WithField("counter", name).Warn("Failed to increment counter")
	}
}

func (c *Coordinator) countDistinct(name, member string) {
	if c.deps.Store == nil || member == "" {
		return
	}
	ctx, cancel := c.opContext()
	defer cancel()
	if err := c.deps.Store.CountDistinct(ctx, name, member); err != nil {
		c.log.WithError(err).WithField("counter", name).Warn("Failed to add to distinct counter")
	}
}

// verify checks a (uid, token) pair. A nil identity means verification failed.
func (c *Coordinator) verify(uid, token string) *domain.Identity {
	ctx, cancel := c.opContext()
	defer cancel()
	id, err := c.deps.Auth.Verify(ctx, uid, token)
	if err != nil {
		c.log.WithError(err).WithField("uid", uid).Debug("Token rejected")
		return nil
	}
	return id
}

// isSubscriber looks up billing. Lookup failures count as "not a subscriber".
func (c *Coordinator) isSubscriber(id *domain.Identity) bool {
	if c.deps.Billing == nil || id == nil || id.Email == "" {
		return false
	}
	ctx, cancel := c.opContext()
	defer cancel()
	active, err := c.deps.Billing.SubscriptionActive(ctx, id.Email)
	if err != nil {
		c.log.WithError(err).WithField("uid", id.UID).Warn("Subscription lookup failed, continuing as free user")
		return false
	}
	return active
}
