package call

import (
	"time"

	"github.com/BioHazard786/Huddle/internal/media"
	"github.com/BioHazard786/Huddle/internal/peer"
)

// Status is the controller's call state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusCalling    Status = "calling"
	StatusRinging    Status = "ringing"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
)

// Role is the local side of a call.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// Session is the active call as seen by the UI. Callers always get copies.
type Session struct {
	ID                string
	Type              media.CallType
	Role              Role
	CounterpartID     string
	CounterpartName   string
	CounterpartAvatar string
	StartedAt         time.Time
	Status            Status

	AudioEnabled bool
	VideoEnabled bool
	RemoteAudio  bool
	RemoteVideo  bool
}

// Invite is a pending inbound call while the controller is ringing.
type Invite struct {
	ChannelID    string
	CallerID     string
	CallerName   string
	CallerAvatar string
	CallType     media.CallType
}

// MediaState reports the local track flags.
type MediaState struct {
	Acquired     bool
	AudioEnabled bool
	VideoEnabled bool
	HasVideo     bool
}

// Reason explains why a call returned to idle.
type Reason string

const (
	ReasonLocalEnded        Reason = "local_ended"
	ReasonRemoteEnded       Reason = "remote_ended"
	ReasonDeclined          Reason = "declined"
	ReasonRejected          Reason = "rejected"
	ReasonMediaFailed       Reason = "media_failed"
	ReasonNegotiationFailed Reason = "negotiation_failed"
	ReasonSessionLost       Reason = "session_lost"
	ReasonSignalingLost     Reason = "signaling_lost"
	ReasonCancelled         Reason = "cancelled"
	ReasonClosed            Reason = "closed"
)

// EventKind tags an Event.
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventIncoming
	EventNotice
	EventRemoteStream
	EventRemoteToggle
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventIncoming:
		return "incoming"
	case EventNotice:
		return "notice"
	case EventRemoteStream:
		return "remote_stream"
	case EventRemoteToggle:
		return "remote_toggle"
	}
	return "unknown"
}

// Notice is a user-facing message about a call ending abnormally.
type Notice struct {
	Reason Reason
	Err    error
}

// Toggle reports a remote mute change.
type Toggle struct {
	Kind    media.Kind
	Enabled bool
}

// Event is delivered to listeners on the controller goroutine.
type Event struct {
	Kind    EventKind
	Status  Status
	Session *Session
	Invite  *Invite
	Notice  Notice
	Track   peer.RemoteTrack
	Toggle  Toggle
}
