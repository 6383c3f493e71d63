//go:build linux && cgo

package media

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/BioHazard786/Huddle/internal/errs"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
)

// DeviceSource captures the default camera and microphone (V4L2 + malgo).
type DeviceSource struct{}

func (DeviceSource) Open(ctx context.Context, c Constraints) (Track, Track, error) {
	if len(mediadevices.EnumerateDevices()) == 0 {
		return nil, nil, errs.Wrap("open devices", errs.ErrMediaDeviceUnavailable, "no media devices found")
	}

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, err
	}

	constraints := mediadevices.MediaStreamConstraints{
		Codec: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}
	if c.Audio {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}
	if c.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			mc.Width = prop.Int(c.Width)
			mc.Height = prop.Int(c.Height)
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, nil, err
	}

	var audioTrack, videoTrack Track
	if ts := stream.GetAudioTracks(); len(ts) > 0 {
		dt := newDeviceTrack(ts[0])
		if at, ok := ts[0].(*mediadevices.AudioTrack); ok {
			at.Transform(silenceWhenDisabled(&dt.enabled))
		}
		audioTrack = dt
	}
	if ts := stream.GetVideoTracks(); len(ts) > 0 {
		dt := newDeviceTrack(ts[0])
		if vt, ok := ts[0].(*mediadevices.VideoTrack); ok {
			vt.Transform(blackWhenDisabled(&dt.enabled))
		}
		videoTrack = dt
	}

	if ctx.Err() != nil {
		stopAll(audioTrack, videoTrack)
		return nil, nil, ctx.Err()
	}
	if c.Audio && audioTrack == nil {
		stopAll(videoTrack)
		return nil, nil, fmt.Errorf("microphone produced no track")
	}
	return audioTrack, videoTrack, nil
}

type deviceTrack struct {
	mediadevices.Track
	enabled atomic.Bool
	once    sync.Once
}

func newDeviceTrack(t mediadevices.Track) *deviceTrack {
	dt := &deviceTrack{Track: t}
	dt.enabled.Store(true)
	return dt
}

func (t *deviceTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *deviceTrack) Enabled() bool { return t.enabled.Load() }

func (t *deviceTrack) Stop() error {
	var err error
	t.once.Do(func() { err = t.Track.Close() })
	return err
}

// silenceWhenDisabled replaces captured chunks with zeroed ones while the
// track is muted.
func silenceWhenDisabled(enabled *atomic.Bool) audio.TransformFunc {
	return func(r audio.Reader) audio.Reader {
		return audio.ReaderFunc(func() (wave.Audio, func(), error) {
			chunk, release, err := r.Read()
			if err != nil || enabled.Load() {
				return chunk, release, err
			}
			if release != nil {
				release()
			}
			return wave.NewInt16Interleaved(chunk.ChunkInfo()), func() {}, nil
		})
	}
}

// blackWhenDisabled replaces captured frames with black ones of the same
// size while the track is disabled.
func blackWhenDisabled(enabled *atomic.Bool) video.TransformFunc {
	return func(r video.Reader) video.Reader {
		return video.ReaderFunc(func() (image.Image, func(), error) {
			img, release, err := r.Read()
			if err != nil || enabled.Load() {
				return img, release, err
			}
			black := blackFrame(img)
			if release != nil {
				release()
			}
			return black, func() {}, nil
		})
	}
}

func blackFrame(img image.Image) image.Image {
	if y, ok := img.(*image.YCbCr); ok {
		out := image.NewYCbCr(y.Rect, y.SubsampleRatio)
		for i := range out.Cb {
			out.Cb[i] = 128
		}
		for i := range out.Cr {
			out.Cr[i] = 128
		}
		return out
	}
	return image.NewRGBA(img.Bounds())
}
