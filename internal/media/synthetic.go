package media

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const opusFrame = 20 * time.Millisecond

// SyntheticSource produces tracks without touching any device. Audio carries
// Opus silence while enabled, video stays idle. Used for headless runs.
type SyntheticSource struct {
	// Fail, when set, is returned by Open instead of tracks.
	Fail error
	// Delay holds Open back, simulating a slow permission prompt.
	Delay time.Duration
}

func (s *SyntheticSource) Open(ctx context.Context, c Constraints) (Track, Track, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
		}
	}
	if s.Fail != nil {
		return nil, nil, s.Fail
	}

	stream := "huddle-" + uuid.NewString()

	var audio, video Track
	if c.Audio {
		t, err := newSampleTrack(webrtc.MimeTypeOpus, "audio", stream, opusSilence)
		if err != nil {
			return nil, nil, err
		}
		audio = t
	}
	if c.Video {
		t, err := newSampleTrack(webrtc.MimeTypeVP8, "video", stream, nil)
		if err != nil {
			stopAll(audio)
			return nil, nil, err
		}
		video = t
	}
	return audio, video, nil
}

// sampleTrack is a TrackLocalStaticSample fed by an optional frame pump.
type sampleTrack struct {
	*webrtc.TrackLocalStaticSample

	enabled atomic.Bool
	stop    chan struct{}
	once    sync.Once
}

func newSampleTrack(mime, id, stream string, frame []byte) (*sampleTrack, error) {
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, stream)
	if err != nil {
		return nil, err
	}
	t := &sampleTrack{TrackLocalStaticSample: local, stop: make(chan struct{})}
	t.enabled.Store(true)
	if frame != nil {
		go t.pump(frame)
	}
	return t, nil
}

func (t *sampleTrack) pump(frame []byte) {
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if !t.enabled.Load() {
				continue
			}
			if err := t.WriteSample(pionmedia.Sample{Data: frame, Duration: opusFrame}); err != nil {
				return
			}
		}
	}
}

func (t *sampleTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *sampleTrack) Enabled() bool { return t.enabled.Load() }

func (t *sampleTrack) Stop() error {
	t.once.Do(func() { close(t.stop) })
	return nil
}
