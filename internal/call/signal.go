package call

import (
	"github.com/BioHazard786/Huddle/internal/peer"
	"github.com/pion/webrtc/v4"
)

// Events emitted by the client.
const (
	EmitInitiate    = "call:initiate"
	EmitAccept      = "call:accept"
	EmitReject      = "call:reject"
	EmitEnd         = "call:end"
	EmitToggleAudio = "call:toggle-audio"
	EmitToggleVideo = "call:toggle-video"
)

// Events delivered by the server.
const (
	OnIncoming     = "call:incoming"
	OnAccepted     = "call:accepted"
	OnRejected     = "call:rejected"
	OnEnded        = "call:ended"
	OnAudioToggled = "call:audio-toggled"
	OnVideoToggled = "call:video-toggled"
)

// Negotiation events keep their name in both directions.
const (
	EventOffer     = "call:offer"
	EventAnswer    = "call:answer"
	EventCandidate = "call:ice-candidate"
)

// invitePayload is sent with call:initiate and received as call:incoming.
type invitePayload struct {
	ChannelID      string `json:"channelId"`
	TargetUserID   string `json:"targetUserId,omitempty"`
	TargetUserName string `json:"targetUserName,omitempty"`
	CallType       string `json:"callType"`
	CallerID       string `json:"callerId"`
	CallerName     string `json:"callerName,omitempty"`
	CallerAvatar   string `json:"callerAvatar,omitempty"`
	StartTime      int64  `json:"startTime,omitempty"`
}

// replyPayload carries accept, reject and end.
type replyPayload struct {
	ChannelID    string `json:"channelId"`
	UserID       string `json:"userId"`
	TargetUserID string `json:"targetUserId,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

type offerPayload struct {
	ChannelID    string           `json:"channelId"`
	Offer        peer.Description `json:"offer"`
	TargetUserID string           `json:"targetUserId,omitempty"`
	SenderID     string           `json:"senderId,omitempty"`
}

type answerPayload struct {
	ChannelID    string           `json:"channelId"`
	Answer       peer.Description `json:"answer"`
	TargetUserID string           `json:"targetUserId,omitempty"`
	SenderID     string           `json:"senderId,omitempty"`
}

type candidatePayload struct {
	ChannelID    string                   `json:"channelId"`
	Candidate    *webrtc.ICECandidateInit `json:"candidate"`
	TargetUserID string                   `json:"targetUserId,omitempty"`
	SenderID     string                   `json:"senderId,omitempty"`
}

type togglePayload struct {
	ChannelID    string `json:"channelId"`
	UserID       string `json:"userId"`
	Enabled      bool   `json:"enabled"`
	TargetUserID string `json:"targetUserId,omitempty"`
}

// busyReason marks an automatic rejection of a second incoming call.
const busyReason = "busy"
