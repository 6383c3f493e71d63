package call

import (
	"context"

	"github.com/BioHazard786/Huddle/internal/api"
	"github.com/BioHazard786/Huddle/internal/media"
	"github.com/BioHazard786/Huddle/internal/peer"
	"github.com/BioHazard786/Huddle/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// Signaler is the slice of the signaling client the controller uses.
type Signaler interface {
	JoinRoom(room string) error
	LeaveRoom(room string) error
	Emit(event, room string, payload any) error
	On(event string, fn signaling.Handler) (off func())
	Done() <-chan struct{}
}

// MediaService acquires and mutes local media.
type MediaService interface {
	Acquire(ctx context.Context, callType media.CallType) (*media.Handle, error)
	SetTrackEnabled(h *media.Handle, kind media.Kind, enabled bool) error
	Release(h *media.Handle)
}

// PeerLink is one negotiated peer connection.
type PeerLink interface {
	CreateOffer() (peer.Description, error)
	CreateAnswer(offer peer.Description) (peer.Description, error)
	ApplyRemoteDescription(d peer.Description) error
	ApplyRemoteCandidate(c webrtc.ICECandidateInit) error
	RequestKeyframe() error
	Close() error
}

// LinkFactory opens peer links for a media handle.
type LinkFactory interface {
	CreateLink(local peer.LocalMedia, ev peer.Events) (PeerLink, error)
}

// CallLogger persists finished calls.
type CallLogger interface {
	SaveCallLog(ctx context.Context, entry api.CallLogEntry) error
}

// PeerLinks adapts a peer.Manager to LinkFactory.
func PeerLinks(m *peer.Manager) LinkFactory {
	return managerLinks{m}
}

type managerLinks struct{ m *peer.Manager }

func (f managerLinks) CreateLink(local peer.LocalMedia, ev peer.Events) (PeerLink, error) {
	l, err := f.m.CreateLink(local, ev)
	if err != nil {
		return nil, err
	}
	return l, nil
}
