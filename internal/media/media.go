package media

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// CallType selects which devices a call needs.
type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

// Valid reports whether t is a known call type.
func (t CallType) Valid() bool {
	return t == CallAudio || t == CallVideo
}

// Kind names a local track slot.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Track is a local track that can be muted in place. Disabling a track keeps
// it attached to the peer connection; it sends silence or black frames.
type Track interface {
	webrtc.TrackLocal
	SetEnabled(enabled bool)
	Enabled() bool
	// Stop releases the underlying device or pump.
	Stop() error
}

// Constraints describe what a Source must open.
type Constraints struct {
	Audio  bool
	Video  bool
	Width  int
	Height int
}

// Handle owns the tracks of one acquisition. Only the Service hands them out.
type Handle struct {
	callType CallType

	mu       sync.Mutex
	audio    Track
	video    Track
	released bool

	once      sync.Once
	onRelease func()
}

func newHandle(callType CallType, audio, video Track, onRelease func()) *Handle {
	return &Handle{callType: callType, audio: audio, video: video, onRelease: onRelease}
}

func (h *Handle) CallType() CallType { return h.callType }

// Tracks returns the local tracks to attach to a peer connection.
func (h *Handle) Tracks() []webrtc.TrackLocal {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}

	var out []webrtc.TrackLocal
	if h.audio != nil {
		out = append(out, h.audio)
	}
	if h.video != nil {
		out = append(out, h.video)
	}
	return out
}

// Has reports whether the handle carries a track of kind.
func (h *Handle) Has(kind Kind) bool {
	return h.track(kind) != nil
}

// Enabled reports whether the track of kind is present and enabled.
func (h *Handle) Enabled(kind Kind) bool {
	t := h.track(kind)
	return t != nil && t.Enabled()
}

// Released reports whether Release already ran.
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

func (h *Handle) track(kind Kind) Track {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	switch kind {
	case KindAudio:
		return h.audio
	case KindVideo:
		return h.video
	}
	return nil
}

// Release stops every track. Only the first call has an effect.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.mu.Lock()
		tracks := []Track{h.audio, h.video}
		h.released = true
		h.mu.Unlock()

		for _, t := range tracks {
			if t != nil {
				t.Stop()
			}
		}
		if h.onRelease != nil {
			h.onRelease()
		}
	})
}
