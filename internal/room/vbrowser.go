package room

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mohsinalimat/watchparty/internal/captcha"
	"github.com/mohsinalimat/watchparty/internal/fleet"
	"github.com/mohsinalimat/watchparty/internal/repository"
)

const (
	vbrowserScheme = "vbrowser://"

	counterVBrowserStarts          = "vBrowserStarts"
	counterVBrowserFails           = "vBrowserFails"
	counterVBrowserTerminateManual = "vBrowserTerminateManual"
	counterRecaptchaLowScore       = "recaptchaRejectsLowScore"
	counterRecaptchaOther          = "recaptchaRejectsOther"

	msgRoomLocked       = "Room is locked."
	msgInvalidToken     = "Invalid user token."
	msgInvalidRecaptcha = "Invalid ReCAPTCHA."
	msgNotConfigured    = "Server is not configured properly for VBrowsers."
	msgAssignFailed     = "Failed to assign VBrowser. Please try again later."
)

// assignment is the Requesting state. Its pointer identity is the cancellation token: a
// result whose token no longer matches c.assignment is discarded.
type assignment struct {
	cancel    context.CancelFunc
	pool      fleet.Pool
	requester string
	clientID  string
	uid       string
}

// startVBrowser moves Idle -> Requesting and launches the fleet assignment off the loop.
func (c *Coordinator) startVBrowser(connID string, cmd StartVBrowser) {
	if c.st.vBrowser != nil || c.assignment != nil || c.st.sharer() != nil {
		return
	}
	if !c.st.validateLock(connID) {
		c.sendError(connID, msgRoomLocked)
		return
	}
	id := c.verify(cmd.UID, cmd.Token)
	if id == nil {
		c.sendError(connID, msgInvalidToken)
		return
	}
	logCtx := c.log.WithFields(logrus.Fields{"conn_id": connID, "uid": id.UID})

	clientID := c.st.clientIDMap[connID]
	uid := c.st.uidMap[connID]
	c.recordDailyUsage(clientID, uid)

	pool := fleet.Pool{Provider: c.cfg.VMManagerID}
	if c.isSubscriber(id) {
		pool.Large = cmd.Size == "large"
		pool.Region = cmd.Region
	}

	if c.deps.Captcha != nil {
		ctx, cancel := c.opContext()
		verdict, err := c.deps.Captcha.Verify(ctx, cmd.RCToken)
		cancel()
		switch {
		case err != nil:
			logCtx.WithError(err).Warn("ReCAPTCHA check failed, allowing start")
		case verdict == captcha.RejectedLowScore:
			c.count(counterRecaptchaLowScore)
			c.sendError(connID, msgInvalidRecaptcha)
			return
		case verdict == captcha.RejectedOther:
			c.count(counterRecaptchaOther)
			c.sendError(connID, msgInvalidRecaptcha)
			return
		}
	}

	var driver fleet.Driver
	if c.deps.Fleet != nil {
		driver = c.deps.Fleet.Resolve(pool)
	}
	if driver == nil || c.deps.OpenConn == nil {
		c.sendError(connID, msgNotConfigured)
		return
	}

	c.count(counterVBrowserStarts)
	c.setHost(connID, vbrowserScheme)

	ctx, cancel := context.WithCancel(c.ctx)
	conn, err := c.deps.OpenConn(ctx)
	if err != nil {
		cancel()
		logCtx.WithError(err).Error("Failed to open coordination handle")
		c.failAssignment(connID)
		return
	}
	token := &assignment{cancel: cancel, pool: pool, requester: connID, clientID: clientID, uid: uid}
	c.assignment = token

	limit := c.cfg.SessionLimit
	if pool.Large {
		limit = c.cfg.SessionLimitLarge
	}
	logCtx.WithField("pool", pool.Name()).Info("Requesting VBrowser")
	go func() {
		session, err := driver.Assign(ctx, conn, limit)
		if cerr := conn.Close(); cerr != nil {
			logCtx.WithError(cerr).Debug("Closing coordination handle failed")
		}
		c.post(assignmentDone{token: token, session: session, err: err})
	}()
}

// finishAssignment is Requesting -> Assigned or Requesting -> Idle.
func (c *Coordinator) finishAssignment(res assignmentDone) {
	if c.assignment != res.token {
		if res.session != nil {
			c.log.WithField("vm_id", res.session.ID).Warn("Releasing VBrowser assigned after cancellation")
			c.terminate(res.token.pool, res.session.ID)
		}
		return
	}
	c.assignment = nil
	res.token.cancel()

	if res.err != nil || res.session == nil {
		if res.err != nil {
			c.log.WithError(res.err).Error("VBrowser assignment failed")
		}
		c.failAssignment(res.token.requester)
		return
	}

	vb := res.session
	vb.ControllerClient = res.token.clientID
	vb.CreatorUID = res.token.uid
	vb.CreatorClientID = res.token.clientID
	c.st.vBrowser = vb
	c.setHost("", vbrowserScheme+vb.Pass+"@"+vb.Host)
	c.log.WithField("vm_id", vb.ID).Info("VBrowser assigned")
}

func (c *Coordinator) failAssignment(requester string) {
	c.st.vBrowser = nil
	c.setHost("", "")
	c.sendError(requester, msgAssignFailed)
	c.count(counterVBrowserFails)
}

func (c *Coordinator) stopVBrowser(connID string) {
	if c.st.vBrowser == nil && c.assignment == nil && !isVBrowserURL(c.st.video) {
		return
	}
	if !c.st.validateLock(connID) {
		return
	}
	c.stopVBrowserInternal()
	c.count(counterVBrowserTerminateManual)
}

// stopVBrowserInternal ends Requesting or Assigned. Termination of the VM is best effort.
func (c *Coordinator) stopVBrowserInternal() {
	if c.assignment != nil {
		c.assignment.cancel()
		c.assignment = nil
	}
	vb := c.st.vBrowser
	c.st.vBrowser = nil
	c.setHost("", "")
	_ = c.save(repository.SaveRefresh)

	if vb == nil {
		return
	}
	if vb.AssignTime > 0 && c.deps.Store != nil {
		ctx, cancel := c.opContext()
		d := c.now().Sub(time.UnixMilli(vb.AssignTime))
		if err := c.deps.Store.PushSessionDuration(ctx, d); err != nil {
			c.log.WithError(err).WithField("vm_id", vb.ID).Warn("Failed to record session duration")
		}
		cancel()
	}
	provider := vb.Provider
	if provider == "" {
		provider = c.cfg.VMManagerID
	}
	c.terminate(fleet.Pool{Provider: provider, Large: vb.Large, Region: vb.Region}, vb.ID)
}

// terminate hands a VM back for reset. Failures are logged; the fleet reaps expired VMs anyway.
func (c *Coordinator) terminate(pool fleet.Pool, id string) {
	if id == "" || c.deps.Terminator == nil {
		return
	}
	ctx, cancel := c.opContext()
	defer cancel()
	if err := c.deps.Terminator.Terminate(ctx, pool, id); err != nil {
		c.log.WithError(err).WithField("vm_id", id).Warn("Failed to terminate VBrowser")
	}
}

// recordDailyUsage bumps the per-client and per-user daily start counters.
func (c *Coordinator) recordDailyUsage(clientID, uid string) {
	if c.deps.Store == nil {
		return
	}
	ctx, cancel := c.opContext()
	defer cancel()
	expireAt := endOfDay(c.now())
	bump := func(key, member string) {
		if _, err := c.deps.Store.IncrDailyUsage(ctx, key, member, expireAt); err != nil {
			c.log.WithError(err).WithField("counter", key).Warn("Failed to record VBrowser usage")
		}
	}
	if clientID != "" {
		bump(repository.CounterVBrowserClientIDs, clientID)
		bump(repository.CounterVBrowserClientIDMinutes, clientID)
	}
	if uid != "" {
		bump(repository.CounterVBrowserUIDs, uid)
		bump(repository.CounterVBrowserUIDMinutes, uid)
	}
}

// isVBrowserURL reports whether source points at a VBrowser.
func isVBrowserURL(source string) bool {
	return strings.HasPrefix(source, vbrowserScheme)
}
