package call

import (
	"github.com/BioHazard786/Huddle/internal/errs"
	"github.com/BioHazard786/Huddle/internal/media"
	"github.com/BioHazard786/Huddle/internal/peer"
	"github.com/BioHazard786/Huddle/internal/signaling"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// subscribe decodes inbound call events on the signaling goroutine and posts
// them to the loop.
func (c *Controller) subscribe() {
	on := func(event string, decode func(signaling.Event) (func(), error)) {
		off := c.opts.Signaler.On(event, func(ev signaling.Event) {
			fn, err := decode(ev)
			if err != nil {
				c.log.Warn("dropping malformed call event", zap.String("event", event), zap.Error(err))
				return
			}
			c.post(fn)
		})
		c.offs = append(c.offs, off)
	}

	on(OnIncoming, func(ev signaling.Event) (func(), error) {
		var p invitePayload
		err := ev.Decode(&p)
		return func() { c.handleIncoming(p) }, err
	})
	on(OnAccepted, func(ev signaling.Event) (func(), error) {
		var p replyPayload
		err := ev.Decode(&p)
		return func() { c.handleAccepted(p) }, err
	})
	on(OnRejected, func(ev signaling.Event) (func(), error) {
		var p replyPayload
		err := ev.Decode(&p)
		return func() { c.handleRejected(p) }, err
	})
	on(OnEnded, func(ev signaling.Event) (func(), error) {
		var p replyPayload
		err := ev.Decode(&p)
		return func() { c.handleEnded(p) }, err
	})
	on(EventOffer, func(ev signaling.Event) (func(), error) {
		var p offerPayload
		err := ev.Decode(&p)
		return func() { c.handleOffer(p) }, err
	})
	on(EventAnswer, func(ev signaling.Event) (func(), error) {
		var p answerPayload
		err := ev.Decode(&p)
		return func() { c.handleAnswer(p) }, err
	})
	on(EventCandidate, func(ev signaling.Event) (func(), error) {
		var p candidatePayload
		err := ev.Decode(&p)
		return func() { c.handleCandidate(p) }, err
	})
	on(OnAudioToggled, func(ev signaling.Event) (func(), error) {
		var p togglePayload
		err := ev.Decode(&p)
		return func() { c.handleRemoteToggle(media.KindAudio, p) }, err
	})
	on(OnVideoToggled, func(ev signaling.Event) (func(), error) {
		var p togglePayload
		err := ev.Decode(&p)
		return func() { c.handleRemoteToggle(media.KindVideo, p) }, err
	})
}

// current reports whether channelID belongs to the active session.
func (c *Controller) current(channelID string) bool {
	return c.session != nil && c.session.ID == channelID
}

func (c *Controller) handleIncoming(p invitePayload) {
	if p.CallerID == c.opts.Self.ID {
		return
	}
	callType := media.CallType(p.CallType)
	if !callType.Valid() || p.ChannelID == "" {
		c.log.Warn("ignoring invalid invite", zap.String("channel", p.ChannelID), zap.String("type", p.CallType))
		return
	}

	if c.status != StatusIdle {
		c.log.Info("rejecting call while busy",
			zap.String("channel", p.ChannelID),
			zap.String("caller", p.CallerID),
			zap.Error(errs.New("incoming call", errs.ErrCallAlreadyActive)))
		if err := c.opts.Signaler.Emit(EmitReject, p.ChannelID, replyPayload{
			ChannelID:    p.ChannelID,
			UserID:       c.opts.Self.ID,
			TargetUserID: p.CallerID,
			Reason:       busyReason,
		}); err != nil {
			c.log.Warn("busy reject not delivered", zap.Error(err))
		}
		return
	}

	c.invite = &Invite{
		ChannelID:    p.ChannelID,
		CallerID:     p.CallerID,
		CallerName:   p.CallerName,
		CallerAvatar: p.CallerAvatar,
		CallType:     callType,
	}
	c.setStatus(StatusRinging)
	inv := *c.invite
	c.emit(Event{Kind: EventIncoming, Status: c.status, Invite: &inv})
}

func (c *Controller) handleAccepted(p replyPayload) {
	if c.status != StatusCalling || !c.current(p.ChannelID) || c.session.Role != RoleCaller {
		return
	}
	if c.handle == nil || c.link != nil || c.offerPending {
		return
	}

	c.offerPending = true
	c.setStatus(StatusConnecting)

	link, err := c.openLink()
	if err != nil {
		c.fail(err)
		return
	}

	offer, err := link.CreateOffer()
	if err != nil {
		c.fail(err)
		return
	}
	c.offerPending = false

	if err := c.opts.Signaler.Emit(EventOffer, c.session.ID, offerPayload{
		ChannelID:    c.session.ID,
		Offer:        offer,
		TargetUserID: c.session.CounterpartID,
		SenderID:     c.opts.Self.ID,
	}); err != nil {
		c.teardown(ReasonSignalingLost, err)
	}
}

func (c *Controller) handleRejected(p replyPayload) {
	if c.status != StatusCalling || !c.current(p.ChannelID) {
		return
	}
	c.callLog().Info("call rejected", zap.String("by", p.UserID), zap.String("reason", p.Reason))
	c.teardown(ReasonRejected, nil)
}

func (c *Controller) handleEnded(p replyPayload) {
	switch {
	case c.status == StatusRinging && c.invite != nil && c.invite.ChannelID == p.ChannelID:
		c.teardown(ReasonCancelled, nil)
	case c.status != StatusIdle && c.current(p.ChannelID):
		c.teardown(ReasonRemoteEnded, nil)
	}
}

func (c *Controller) handleOffer(p offerPayload) {
	if c.status != StatusConnecting || !c.current(p.ChannelID) || c.session.Role != RoleCallee {
		return
	}
	if c.link != nil {
		c.callLog().Warn("ignoring renegotiation offer")
		return
	}
	if c.handle == nil {
		// Answered once local media is ready.
		offer := p.Offer
		c.earlyOffer = &offer
		c.callLog().Debug("offer queued until local media is ready")
		return
	}
	c.answer(p.Offer)
}

// answer opens the callee's Link for offer and sends the answer back.
func (c *Controller) answer(offer peer.Description) {
	link, err := c.openLink()
	if err != nil {
		c.fail(err)
		return
	}

	answer, err := link.CreateAnswer(offer)
	if err != nil {
		c.fail(err)
		return
	}

	if err := c.opts.Signaler.Emit(EventAnswer, c.session.ID, answerPayload{
		ChannelID:    c.session.ID,
		Answer:       answer,
		TargetUserID: c.session.CounterpartID,
		SenderID:     c.opts.Self.ID,
	}); err != nil {
		c.teardown(ReasonSignalingLost, err)
	}
}

func (c *Controller) handleAnswer(p answerPayload) {
	if c.status != StatusConnecting || !c.current(p.ChannelID) || c.session.Role != RoleCaller || c.link == nil {
		return
	}
	if err := c.link.ApplyRemoteDescription(p.Answer); err != nil {
		c.fail(err)
		return
	}
	c.setStatus(StatusConnected)
}

func (c *Controller) handleCandidate(p candidatePayload) {
	if p.Candidate == nil || !c.current(p.ChannelID) {
		return
	}
	switch c.status {
	case StatusCalling, StatusConnecting, StatusConnected:
	default:
		return
	}

	if c.link == nil {
		c.early = append(c.early, *p.Candidate)
		c.opts.Metrics.CandidateQueued("no_link")
		return
	}
	if err := c.link.ApplyRemoteCandidate(*p.Candidate); err != nil {
		c.callLog().Warn("remote candidate rejected", zap.Error(err))
	}
}

func (c *Controller) handleRemoteToggle(kind media.Kind, p togglePayload) {
	if c.status == StatusIdle || !c.current(p.ChannelID) || p.UserID == c.opts.Self.ID {
		return
	}
	if kind == media.KindAudio {
		c.session.RemoteAudio = p.Enabled
	} else {
		c.session.RemoteVideo = p.Enabled
		if p.Enabled && c.link != nil {
			if err := c.link.RequestKeyframe(); err != nil {
				c.callLog().Debug("keyframe request failed", zap.Error(err))
			}
		}
	}
	c.emit(Event{Kind: EventRemoteToggle, Status: c.status, Toggle: Toggle{Kind: kind, Enabled: p.Enabled}})
}

// openLink creates the session's only Link and hands it any candidates that
// arrived before it existed.
func (c *Controller) openLink() (PeerLink, error) {
	link, err := c.opts.Links.CreateLink(c.handle, c.linkEvents(c.gen))
	if err != nil {
		return nil, errs.Negotiation("create link", err)
	}
	c.link = link

	early := c.early
	c.early = nil
	for _, cand := range early {
		if err := link.ApplyRemoteCandidate(cand); err != nil {
			c.callLog().Warn("early candidate rejected", zap.Error(err))
		}
	}
	return link, nil
}

// linkEvents routes Link callbacks back onto the loop, dropping those that
// belong to an older session.
func (c *Controller) linkEvents(gen uint64) peer.Events {
	return peer.Events{
		OnCandidate: func(cand webrtc.ICECandidateInit) {
			c.post(func() {
				if gen != c.gen || c.session == nil {
					return
				}
				if err := c.opts.Signaler.Emit(EventCandidate, c.session.ID, candidatePayload{
					ChannelID:    c.session.ID,
					Candidate:    &cand,
					TargetUserID: c.session.CounterpartID,
					SenderID:     c.opts.Self.ID,
				}); err != nil {
					c.callLog().Debug("candidate not delivered", zap.Error(err))
				}
			})
		},
		OnRemoteTrack: func(t peer.RemoteTrack) {
			c.post(func() {
				if gen != c.gen {
					return
				}
				if t.Kind == "video" {
					c.session.RemoteVideo = true
				} else {
					c.session.RemoteAudio = true
				}
				c.emit(Event{Kind: EventRemoteStream, Status: c.status, Track: t})
			})
		},
		OnEstablished: func() {
			c.post(func() {
				if gen != c.gen {
					return
				}
				if c.status == StatusConnecting {
					c.setStatus(StatusConnected)
				}
			})
		},
		OnLost: func(err error) {
			c.post(func() {
				if gen != c.gen {
					return
				}
				c.fail(err)
			})
		},
	}
}
