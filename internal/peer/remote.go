package peer

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack is a snapshot of one inbound track.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     string
	Codec    string
	SSRC     uint32
	Packets  uint64
	Bytes    uint64
}

type remoteTrack struct {
	info    RemoteTrack
	packets atomic.Uint64
	bytes   atomic.Uint64
}

// RemoteStream is the read-only view of what the remote peer sends.
type RemoteStream struct {
	mu     sync.RWMutex
	tracks map[string]*remoteTrack
}

func newRemoteStream() *RemoteStream {
	return &RemoteStream{tracks: make(map[string]*remoteTrack)}
}

func (s *RemoteStream) add(t *webrtc.TrackRemote) RemoteTrack {
	info := RemoteTrack{
		ID:       t.ID(),
		StreamID: t.StreamID(),
		Kind:     t.Kind().String(),
		Codec:    t.Codec().MimeType,
		SSRC:     uint32(t.SSRC()),
	}
	s.mu.Lock()
	s.tracks[info.ID] = &remoteTrack{info: info}
	s.mu.Unlock()
	return info
}

// drain reads RTP until the track ends, keeping counters current.
func (s *RemoteStream) drain(t *webrtc.TrackRemote) {
	s.mu.RLock()
	rt := s.tracks[t.ID()]
	s.mu.RUnlock()
	if rt == nil {
		return
	}

	buf := make([]byte, 1500)
	var pkt rtp.Packet
	for {
		n, _, err := t.Read(buf)
		if err != nil {
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		rt.packets.Add(1)
		rt.bytes.Add(uint64(len(pkt.Payload)))
	}
}

// Tracks returns a snapshot of every inbound track, sorted by kind.
func (s *RemoteStream) Tracks() []RemoteTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RemoteTrack, 0, len(s.tracks))
	for _, rt := range s.tracks {
		info := rt.info
		info.Packets = rt.packets.Load()
		info.Bytes = rt.bytes.Load()
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

func (s *RemoteStream) videoSSRCs() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []uint32
	for _, rt := range s.tracks {
		if rt.info.Kind == webrtc.RTPCodecTypeVideo.String() {
			out = append(out, rt.info.SSRC)
		}
	}
	return out
}
