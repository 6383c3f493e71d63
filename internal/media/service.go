package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"syscall"

	"github.com/BioHazard786/Huddle/internal/errs"
	"go.uber.org/zap"
)

// Source opens local tracks. Either returned track may be nil when the
// constraints did not ask for it.
type Source interface {
	Open(ctx context.Context, c Constraints) (audio, video Track, err error)
}

// Options for a Service.
type Options struct {
	Width  int
	Height int
}

// Service hands out at most one open Handle at a time.
type Service struct {
	src  Source
	opts Options
	log  *zap.Logger

	mu   sync.Mutex
	busy bool
	open *Handle
}

// NewService creates a Service over src.
func NewService(src Source, opts Options, logger *zap.Logger) *Service {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1280, 720
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Service{src: src, opts: opts, log: logger.With(zap.String("module", "media"))}
}

type openResult struct {
	audio, video Track
	err          error
}

// Acquire opens the microphone, and the camera for video calls. It returns
// as soon as ctx is done; tracks that open after that are stopped on arrival.
func (s *Service) Acquire(ctx context.Context, callType CallType) (*Handle, error) {
	if !callType.Valid() {
		return nil, errs.Wrap("acquire", errs.ErrMediaDeviceUnavailable, fmt.Sprintf("unknown call type %q", callType))
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, errs.New("acquire", errs.ErrMediaBusy)
	}
	s.busy = true
	s.mu.Unlock()

	c := Constraints{
		Audio:  true,
		Video:  callType == CallVideo,
		Width:  s.opts.Width,
		Height: s.opts.Height,
	}

	done := make(chan openResult, 1)
	go func() {
		audio, video, err := s.src.Open(ctx, c)
		done <- openResult{audio: audio, video: video, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil && ctx.Err() != nil {
			stopAll(res.audio, res.video)
			s.free(nil)
			return nil, errs.Wrap("acquire", ctx.Err(), "cancelled")
		}
		return s.finish(callType, res)

	case <-ctx.Done():
		// The devices stay reserved until the abandoned open returns.
		go func() {
			res := <-done
			if res.err == nil {
				s.log.Debug("releasing late media result")
				stopAll(res.audio, res.video)
			}
			s.free(nil)
		}()
		return nil, errs.Wrap("acquire", ctx.Err(), "cancelled")
	}
}

func (s *Service) finish(callType CallType, res openResult) (*Handle, error) {
	if res.err != nil {
		s.free(nil)
		return nil, classify(res.err)
	}
	if res.audio == nil || (callType == CallVideo && res.video == nil) {
		stopAll(res.audio, res.video)
		s.free(nil)
		return nil, errs.Wrap("acquire", errs.ErrMediaDeviceUnavailable, "source returned no track")
	}

	var h *Handle
	h = newHandle(callType, res.audio, res.video, func() { s.free(h) })

	s.mu.Lock()
	s.open = h
	s.mu.Unlock()

	s.log.Info("media acquired", zap.String("call_type", string(callType)))
	return h, nil
}

func (s *Service) free(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h != nil && s.open != h {
		return
	}
	s.open = nil
	s.busy = false
}

// SetTrackEnabled mutes or unmutes a track in place.
func (s *Service) SetTrackEnabled(h *Handle, kind Kind, enabled bool) error {
	if h == nil {
		return errs.New("set track", errs.ErrNoSuchTrack)
	}
	t := h.track(kind)
	if t == nil {
		return errs.Wrap("set track", errs.ErrNoSuchTrack, string(kind))
	}
	t.SetEnabled(enabled)
	return nil
}

// Release stops every track of h. Repeated calls are no-ops.
func (s *Service) Release(h *Handle) {
	if h != nil {
		h.Release()
	}
}

// Busy reports whether a handle is open or an acquisition is in flight.
func (s *Service) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Open returns the currently open handle, if any.
func (s *Service) Open() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func stopAll(tracks ...Track) {
	for _, t := range tracks {
		if t != nil {
			t.Stop()
		}
	}
}

// classify maps source errors onto the media sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, errs.ErrMediaAccessDenied), errors.Is(err, errs.ErrMediaDeviceUnavailable):
		return err
	case isPermission(err):
		return errs.Wrap("acquire", errs.ErrMediaAccessDenied, err.Error())
	default:
		return errs.Wrap("acquire", errs.ErrMediaDeviceUnavailable, err.Error())
	}
}

func isPermission(err error) bool {
	return errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, syscall.EACCES) ||
		errors.Is(err, syscall.EPERM)
}
