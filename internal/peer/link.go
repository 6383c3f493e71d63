package peer

import (
	"fmt"
	"sync"

	"github.com/BioHazard786/Huddle/internal/errs"
	"github.com/BioHazard786/Huddle/internal/metrics"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// State is the lifecycle of a Link as seen by the call controller.
type State string

const (
	StateNew          State = "new"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

func stateFrom(s webrtc.PeerConnectionState) State {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	case webrtc.PeerConnectionStateClosed:
		return StateClosed
	default:
		return StateNew
	}
}

// Description is a session description in its wire form.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func (d Description) pion() (webrtc.SessionDescription, error) {
	t := webrtc.NewSDPType(d.Type)
	if t == webrtc.SDPTypeUnknown {
		return webrtc.SessionDescription{}, fmt.Errorf("unknown sdp type %q", d.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}, nil
}

func fromPion(d *webrtc.SessionDescription) Description {
	return Description{Type: d.Type.String(), SDP: d.SDP}
}

// Link is one peer connection plus its negotiation state.
type Link struct {
	pc      *webrtc.PeerConnection
	ev      Events
	metrics *metrics.Recorder
	log     *zap.Logger
	remote  *RemoteStream

	mu          sync.Mutex
	state       State
	closed      bool
	established bool
	lost        bool
	remoteSet   bool
	pending     []webrtc.ICECandidateInit

	closeOnce sync.Once
}

func newLink(pc *webrtc.PeerConnection, ev Events, rec *metrics.Recorder, log *zap.Logger) *Link {
	return &Link{
		pc:      pc,
		ev:      ev,
		metrics: rec,
		log:     log,
		remote:  newRemoteStream(),
		state:   StateNew,
	}
}

func (l *Link) wire() {
	l.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || l.isClosed() || l.ev.OnCandidate == nil {
			return
		}
		l.ev.OnCandidate(c.ToJSON())
	})

	l.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if l.isClosed() {
			return
		}
		info := l.remote.add(track)
		l.log.Info("remote track", zap.String("kind", info.Kind), zap.String("codec", info.Codec))
		go l.remote.drain(track)
		if l.ev.OnRemoteTrack != nil {
			l.ev.OnRemoteTrack(info)
		}
	})

	l.pc.OnConnectionStateChange(l.onState)
}

func (l *Link) onState(s webrtc.PeerConnectionState) {
	state := stateFrom(s)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.state = state

	var fireEstablished, fireLost bool
	var lostErr error
	switch state {
	case StateConnected:
		if !l.established && !l.lost {
			l.established = true
			fireEstablished = true
		}
	case StateDisconnected, StateFailed:
		if !l.lost {
			l.lost = true
			fireLost = true
			if l.established {
				lostErr = errs.Wrap("peer link", errs.ErrSessionLost, string(state))
			} else {
				lostErr = errs.Wrap("peer link", errs.ErrNegotiationFailed, "ice "+string(state))
			}
		}
	}
	l.mu.Unlock()

	l.log.Debug("connection state", zap.String("state", string(state)))

	if fireEstablished && l.ev.OnEstablished != nil {
		l.ev.OnEstablished()
	}
	if fireLost && l.ev.OnLost != nil {
		l.ev.OnLost(lostErr)
	}
}

func (l *Link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// CreateOffer creates an offer and sets it as the local description.
func (l *Link) CreateOffer() (Description, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return Description{}, errs.Negotiation("create offer", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return Description{}, errs.Negotiation("set local description", err)
	}
	return fromPion(l.pc.LocalDescription()), nil
}

// CreateAnswer applies offer as the remote description and answers it.
func (l *Link) CreateAnswer(offer Description) (Description, error) {
	if err := l.ApplyRemoteDescription(offer); err != nil {
		return Description{}, err
	}

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return Description{}, errs.Negotiation("create answer", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return Description{}, errs.Negotiation("set local description", err)
	}
	return fromPion(l.pc.LocalDescription()), nil
}

// ApplyRemoteDescription sets the remote description and flushes candidates
// that arrived before it, in arrival order.
func (l *Link) ApplyRemoteDescription(d Description) error {
	desc, err := d.pion()
	if err != nil {
		return errs.Negotiation("set remote description", err)
	}
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return errs.Negotiation("set remote description", err)
	}

	l.mu.Lock()
	l.remoteSet = true
	queued := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, c := range queued {
		if err := l.pc.AddICECandidate(c); err != nil {
			l.log.Warn("dropping queued candidate", zap.Error(err))
		}
	}
	return nil
}

// ApplyRemoteCandidate adds c, or queues it when the remote description is
// not set yet. A malformed candidate is logged and dropped.
func (l *Link) ApplyRemoteCandidate(c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		l.mu.Unlock()
		l.metrics.CandidateQueued("no_remote_description")
		return nil
	}
	l.mu.Unlock()

	if err := l.pc.AddICECandidate(c); err != nil {
		l.log.Warn("dropping remote candidate", zap.Error(err))
	}
	return nil
}

// Pending reports how many remote candidates are waiting for the remote
// description.
func (l *Link) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// RequestKeyframe asks the remote sender for a fresh keyframe on every
// inbound video track.
func (l *Link) RequestKeyframe() error {
	var pkts []rtcp.Packet
	for _, t := range l.remote.videoSSRCs() {
		pkts = append(pkts, &rtcp.PictureLossIndication{MediaSSRC: t})
	}
	if len(pkts) == 0 || l.isClosed() {
		return nil
	}
	return l.pc.WriteRTCP(pkts)
}

// RemoteStream exposes the inbound tracks.
func (l *Link) RemoteStream() *RemoteStream { return l.remote }

// State returns the current connection state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Close shuts the peer connection. Later callbacks are suppressed.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.state = StateClosed
		l.pending = nil
		l.mu.Unlock()

		err = l.pc.Close()
	})
	return err
}
