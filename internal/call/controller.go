package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BioHazard786/Huddle/internal/api"
	"github.com/BioHazard786/Huddle/internal/errs"
	"github.com/BioHazard786/Huddle/internal/media"
	"github.com/BioHazard786/Huddle/internal/metrics"
	"github.com/BioHazard786/Huddle/internal/peer"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

const defaultCallLogTimeout = 10 * time.Second

// Options wires a Controller to its collaborators.
type Options struct {
	// Self is the local user, resolved once by the caller.
	Self     api.User
	Signaler Signaler
	Media    MediaService
	Links    LinkFactory
	// CallLog may be nil, in which case finished calls are not persisted.
	CallLog        CallLogger
	CallLogTimeout time.Duration
	Metrics        *metrics.Recorder
	Logger         *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Controller is the single owner of call state. Every transition runs on
// one goroutine; public methods post work to it and wait for the result.
type Controller struct {
	opts Options
	log  *zap.Logger

	actions chan func()
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
	logs    sync.WaitGroup
	offs    []func()

	lmu       sync.RWMutex
	listeners []listener
	nextID    int

	smu  sync.RWMutex
	snap snapshot

	// Loop-owned state below.
	status        Status
	session       *Session
	invite        *Invite
	handle        *media.Handle
	link          PeerLink
	gen           uint64
	cancelAcquire context.CancelFunc
	offerPending  bool
	early         []webrtc.ICECandidateInit
	earlyOffer    *peer.Description
	room          string
}

type snapshot struct {
	status  Status
	session *Session
	invite  *Invite
	media   MediaState
}

// New starts the controller loop and subscribes to call events.
func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CallLogTimeout <= 0 {
		opts.CallLogTimeout = defaultCallLogTimeout
	}

	c := &Controller{
		opts:    opts,
		log:     opts.Logger.With(zap.String("module", "call"), zap.String("user", opts.Self.ID)),
		actions: make(chan func(), 64),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		status:  StatusIdle,
		snap:    snapshot{status: StatusIdle},
	}

	c.subscribe()
	go c.run()
	go c.watchSignaling()
	return c
}

func (c *Controller) run() {
	defer close(c.stopped)
	for {
		select {
		case fn := <-c.actions:
			fn()
			c.publish()
		case <-c.quit:
			return
		}
	}
}

// post queues fn on the loop. It reports false once the controller is closed.
func (c *Controller) post(fn func()) bool {
	select {
	case c.actions <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// exec runs fn on the loop and waits for its result.
func (c *Controller) exec(fn func() error) error {
	res := make(chan error, 1)
	if !c.post(func() { res <- fn() }) {
		return errs.Wrap("call", errs.ErrNoActiveCall, "controller closed")
	}
	select {
	case err := <-res:
		return err
	case <-c.stopped:
		return errs.Wrap("call", errs.ErrNoActiveCall, "controller closed")
	}
}

func (c *Controller) watchSignaling() {
	done := c.opts.Signaler.Done()
	if done == nil {
		return
	}
	select {
	case <-done:
		c.post(func() {
			if c.status != StatusIdle {
				c.log.Warn("signaling lost during call")
				c.teardown(ReasonSignalingLost, errs.New("signaling", errs.ErrSignalingDeliveryUnavailable))
			}
		})
	case <-c.quit:
	}
}

type listener struct {
	id int
	fn func(Event)
}

// OnEvent registers a listener and returns a function that removes it.
// Listeners run on the controller goroutine and must not call controller
// methods synchronously.
func (c *Controller) OnEvent(fn func(Event)) (off func()) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners = append(c.listeners, listener{id: id, fn: fn})
	return func() {
		c.lmu.Lock()
		defer c.lmu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

func (c *Controller) emit(ev Event) {
	c.lmu.RLock()
	ls := append([]listener{}, c.listeners...)
	c.lmu.RUnlock()
	for _, l := range ls {
		l.fn(ev)
	}
}

// publish copies loop state into the snapshot read by accessors.
func (c *Controller) publish() {
	s := snapshot{status: c.status}
	if c.session != nil {
		cp := *c.session
		cp.Status = c.status
		s.session = &cp
	}
	if c.invite != nil {
		cp := *c.invite
		s.invite = &cp
	}
	if h := c.handle; h != nil {
		s.media = MediaState{
			Acquired:     true,
			AudioEnabled: h.Enabled(media.KindAudio),
			VideoEnabled: h.Enabled(media.KindVideo),
			HasVideo:     h.Has(media.KindVideo),
		}
	}
	c.smu.Lock()
	c.snap = s
	c.smu.Unlock()
}

// Status returns the current call state.
func (c *Controller) Status() Status {
	c.smu.RLock()
	defer c.smu.RUnlock()
	return c.snap.status
}

// Session returns a copy of the active session.
func (c *Controller) Session() (Session, bool) {
	c.smu.RLock()
	defer c.smu.RUnlock()
	if c.snap.session == nil {
		return Session{}, false
	}
	return *c.snap.session, true
}

// Invite returns the pending inbound call while ringing.
func (c *Controller) Invite() (Invite, bool) {
	c.smu.RLock()
	defer c.smu.RUnlock()
	if c.snap.invite == nil {
		return Invite{}, false
	}
	return *c.snap.invite, true
}

// Media returns the local track flags.
func (c *Controller) Media() MediaState {
	c.smu.RLock()
	defer c.smu.RUnlock()
	return c.snap.media
}

func (c *Controller) setStatus(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	if c.session != nil {
		c.session.Status = s
	}
	c.publish()
	ev := Event{Kind: EventStateChanged, Status: s}
	if c.session != nil {
		cp := *c.session
		ev.Session = &cp
	}
	c.emit(ev)
}

func (c *Controller) notice(reason Reason, err error) {
	c.emit(Event{Kind: EventNotice, Status: c.status, Notice: Notice{Reason: reason, Err: err}})
}

func (c *Controller) callLog() *zap.Logger {
	if c.session == nil {
		return c.log
	}
	return c.log.With(zap.String("channel", c.session.ID), zap.String("role", string(c.session.Role)))
}

// StartCall rings target in room. Media is acquired in the background; a
// failure there ends the call with a notice.
func (c *Controller) StartCall(room, targetID, targetName string, callType media.CallType) error {
	return c.exec(func() error {
		if c.status != StatusIdle {
			return errs.New("start call", errs.ErrCallAlreadyActive)
		}
		if room == "" || targetID == "" {
			return errs.Wrap("start call", errs.ErrInvalidTransition, "room and target are required")
		}
		if !callType.Valid() {
			return errs.Wrap("start call", errs.ErrInvalidTransition, "unknown call type "+string(callType))
		}

		c.gen++
		c.session = &Session{
			ID:              room,
			Type:            callType,
			Role:            RoleCaller,
			CounterpartID:   targetID,
			CounterpartName: targetName,
			StartedAt:       c.opts.Now(),
			AudioEnabled:    true,
			VideoEnabled:    callType == media.CallVideo,
		}
		c.opts.Metrics.CallStarted(string(RoleCaller))
		c.setStatus(StatusCalling)
		c.callLog().Info("starting call", zap.String("target", targetID), zap.String("type", string(callType)))

		c.acquire(c.gen, callType, c.callerMediaReady)
		return nil
	})
}

// AcceptCall answers the pending invite.
func (c *Controller) AcceptCall() error {
	return c.exec(func() error {
		switch {
		case c.status == StatusRinging && c.invite != nil:
		case c.status == StatusIdle:
			return errs.New("accept call", errs.ErrNoActiveCall)
		default:
			return errs.New("accept call", errs.ErrCallAlreadyActive)
		}

		inv := c.invite
		c.invite = nil
		c.gen++
		c.session = &Session{
			ID:                inv.ChannelID,
			Type:              inv.CallType,
			Role:              RoleCallee,
			CounterpartID:     inv.CallerID,
			CounterpartName:   inv.CallerName,
			CounterpartAvatar: inv.CallerAvatar,
			StartedAt:         c.opts.Now(),
			AudioEnabled:      true,
			VideoEnabled:      inv.CallType == media.CallVideo,
		}
		c.opts.Metrics.CallStarted(string(RoleCallee))
		c.setStatus(StatusConnecting)
		c.callLog().Info("accepting call", zap.String("caller", inv.CallerID))

		c.acquire(c.gen, inv.CallType, c.calleeMediaReady)
		return nil
	})
}

// RejectCall declines the pending invite. No media is touched.
func (c *Controller) RejectCall() error {
	return c.exec(func() error {
		if c.status != StatusRinging || c.invite == nil {
			return errs.New("reject call", errs.ErrNoActiveCall)
		}
		inv := c.invite
		if err := c.opts.Signaler.Emit(EmitReject, inv.ChannelID, replyPayload{
			ChannelID:    inv.ChannelID,
			UserID:       c.opts.Self.ID,
			TargetUserID: inv.CallerID,
		}); err != nil {
			c.log.Warn("reject not delivered", zap.Error(err))
		}
		c.teardown(ReasonDeclined, nil)
		return nil
	})
}

// EndCall hangs up. It also cancels a call that is still ringing the other
// side or negotiating.
func (c *Controller) EndCall() error {
	return c.exec(func() error {
		switch c.status {
		case StatusCalling, StatusConnecting, StatusConnected:
		default:
			return errs.New("end call", errs.ErrNoActiveCall)
		}

		s := *c.session
		if err := c.opts.Signaler.Emit(EmitEnd, s.ID, replyPayload{
			ChannelID:    s.ID,
			UserID:       c.opts.Self.ID,
			TargetUserID: s.CounterpartID,
		}); err != nil {
			c.log.Warn("end not delivered", zap.Error(err))
		}
		c.saveCallLog(s)
		c.teardown(ReasonLocalEnded, nil)
		return nil
	})
}

// ToggleAudio flips the microphone and tells the other side. It returns the
// new enabled state.
func (c *Controller) ToggleAudio() (bool, error) {
	return c.toggle(media.KindAudio, EmitToggleAudio)
}

// ToggleVideo flips the camera and tells the other side.
func (c *Controller) ToggleVideo() (bool, error) {
	return c.toggle(media.KindVideo, EmitToggleVideo)
}

func (c *Controller) toggle(kind media.Kind, event string) (bool, error) {
	var enabled bool
	err := c.exec(func() error {
		op := "toggle " + string(kind)
		switch c.status {
		case StatusConnected:
		case StatusIdle, StatusRinging:
			return errs.New(op, errs.ErrNoActiveCall)
		default:
			return errs.Wrap(op, errs.ErrInvalidTransition, "call not connected")
		}
		if c.handle == nil || !c.handle.Has(kind) {
			return errs.New(op, errs.ErrNoSuchTrack)
		}

		enabled = !c.handle.Enabled(kind)
		if err := c.opts.Media.SetTrackEnabled(c.handle, kind, enabled); err != nil {
			return err
		}
		if kind == media.KindAudio {
			c.session.AudioEnabled = enabled
		} else {
			c.session.VideoEnabled = enabled
		}

		if err := c.opts.Signaler.Emit(event, c.session.ID, togglePayload{
			ChannelID:    c.session.ID,
			UserID:       c.opts.Self.ID,
			Enabled:      enabled,
			TargetUserID: c.session.CounterpartID,
		}); err != nil {
			c.callLog().Warn("toggle not delivered", zap.Error(err))
		}
		return nil
	})
	return enabled, err
}

// Close ends any call without notifying the other side, unsubscribes from
// signaling and waits for pending call-log writes.
func (c *Controller) Close() {
	c.once.Do(func() {
		c.exec(func() error {
			c.teardown(ReasonClosed, nil)
			return nil
		})
		for _, off := range c.offs {
			off()
		}
		close(c.quit)
		<-c.stopped
		c.logs.Wait()
	})
}

// acquire runs media acquisition off the loop and posts the result back.
// Results for a stale generation are released on arrival.
func (c *Controller) acquire(gen uint64, callType media.CallType, ready func(*media.Handle)) {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelAcquire = cancel

	go func() {
		h, err := c.opts.Media.Acquire(ctx, callType)
		posted := c.post(func() {
			cancel()
			if gen != c.gen {
				if h != nil {
					c.opts.Media.Release(h)
				}
				return
			}
			c.cancelAcquire = nil
			if err != nil {
				c.mediaFailed(err)
				return
			}
			c.handle = h
			ready(h)
		})
		if !posted && h != nil {
			c.opts.Media.Release(h)
		}
	}()
}

func (c *Controller) mediaFailed(err error) {
	kind := "device_unavailable"
	if errors.Is(err, errs.ErrMediaAccessDenied) {
		kind = "access_denied"
	}
	c.opts.Metrics.MediaFailure(kind)
	c.callLog().Warn("media acquisition failed", zap.Error(err))

	if c.session != nil && c.session.Role == RoleCallee {
		if emitErr := c.opts.Signaler.Emit(EmitReject, c.session.ID, replyPayload{
			ChannelID:    c.session.ID,
			UserID:       c.opts.Self.ID,
			TargetUserID: c.session.CounterpartID,
		}); emitErr != nil {
			c.log.Warn("reject not delivered", zap.Error(emitErr))
		}
	}
	c.teardown(ReasonMediaFailed, err)
}

func (c *Controller) join(room string) error {
	if c.room == room {
		return nil
	}
	if err := c.opts.Signaler.JoinRoom(room); err != nil {
		return err
	}
	c.room = room
	return nil
}

func (c *Controller) callerMediaReady(h *media.Handle) {
	s := c.session
	if err := c.join(s.ID); err != nil {
		c.teardown(ReasonSignalingLost, err)
		return
	}
	err := c.opts.Signaler.Emit(EmitInitiate, s.ID, invitePayload{
		ChannelID:      s.ID,
		TargetUserID:   s.CounterpartID,
		TargetUserName: s.CounterpartName,
		CallType:       string(s.Type),
		CallerID:       c.opts.Self.ID,
		CallerName:     c.opts.Self.DisplayName(),
		CallerAvatar:   c.opts.Self.AvatarURL,
		StartTime:      s.StartedAt.UnixMilli(),
	})
	if err != nil {
		c.teardown(ReasonSignalingLost, err)
	}
}

func (c *Controller) calleeMediaReady(h *media.Handle) {
	s := c.session
	if err := c.join(s.ID); err != nil {
		c.teardown(ReasonSignalingLost, err)
		return
	}
	err := c.opts.Signaler.Emit(EmitAccept, s.ID, replyPayload{
		ChannelID:    s.ID,
		UserID:       c.opts.Self.ID,
		TargetUserID: s.CounterpartID,
	})
	if err != nil {
		c.teardown(ReasonSignalingLost, err)
		return
	}
	if offer := c.earlyOffer; offer != nil {
		c.earlyOffer = nil
		c.answer(*offer)
	}
}

// saveCallLog posts the entry in the background. Failures are logged and
// counted only.
func (c *Controller) saveCallLog(s Session) {
	if c.opts.CallLog == nil {
		return
	}

	participants := []string{c.opts.Self.ID}
	if s.CounterpartID != "" {
		participants = append(participants, s.CounterpartID)
	}
	entry := api.CallLogEntry{
		ChannelID:    s.ID,
		CallType:     string(s.Type),
		Duration:     int64(c.opts.Now().Sub(s.StartedAt) / time.Second),
		Participants: participants,
		StartedAt:    s.StartedAt.UTC(),
	}

	log := c.callLog()
	c.logs.Add(1)
	go func() {
		defer c.logs.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.CallLogTimeout)
		defer cancel()
		if err := c.opts.CallLog.SaveCallLog(ctx, entry); err != nil {
			c.opts.Metrics.CallLogFailed()
			log.Warn("call log not saved", zap.Error(err))
			return
		}
		log.Debug("call log saved", zap.Int64("duration", entry.Duration))
	}()
}

// teardown releases everything the session holds and returns to idle. It
// is the single exit for every terminal trigger and is a no-op when idle.
func (c *Controller) teardown(reason Reason, cause error) {
	if c.status == StatusIdle && c.session == nil && c.invite == nil {
		return
	}

	log := c.callLog()
	c.gen++

	if c.cancelAcquire != nil {
		c.cancelAcquire()
		c.cancelAcquire = nil
	}
	if c.link != nil {
		if err := c.link.Close(); err != nil {
			log.Debug("closing peer link", zap.Error(err))
		}
		c.link = nil
	}
	if c.handle != nil {
		c.opts.Media.Release(c.handle)
		c.handle = nil
	}
	if c.room != "" {
		if err := c.opts.Signaler.LeaveRoom(c.room); err != nil {
			log.Debug("leaving room", zap.Error(err))
		}
		c.room = ""
	}
	c.early = nil
	c.earlyOffer = nil
	c.offerPending = false
	c.session = nil
	c.invite = nil

	c.opts.Metrics.Teardown()
	c.opts.Metrics.CallEnded(string(reason))
	log.Info("call ended", zap.String("reason", string(reason)), zap.Error(cause))

	c.setStatus(StatusIdle)

	switch reason {
	case ReasonLocalEnded, ReasonDeclined, ReasonClosed:
	default:
		c.notice(reason, cause)
	}
}

// fail maps a link or negotiation error onto a teardown reason.
func (c *Controller) fail(err error) {
	reason := ReasonNegotiationFailed
	if errors.Is(err, errs.ErrSessionLost) {
		reason = ReasonSessionLost
	}
	c.teardown(reason, err)
}
