package call

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BioHazard786/Huddle/internal/api"
	"github.com/BioHazard786/Huddle/internal/media"
	"github.com/BioHazard786/Huddle/internal/peer"
	"github.com/BioHazard786/Huddle/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type emitted struct {
	Event   string
	Room    string
	Payload any
}

// fakeSignaler records emits and lets tests inject inbound events.
type fakeSignaler struct {
	mu       sync.Mutex
	handlers map[string][]signaling.Handler
	emits    []emitted
	rooms    map[string]int
	done     chan struct{}
	emitErr  error
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{
		handlers: make(map[string][]signaling.Handler),
		rooms:    make(map[string]int),
		done:     make(chan struct{}),
	}
}

func (f *fakeSignaler) JoinRoom(room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[room]++
	return nil
}

func (f *fakeSignaler) LeaveRoom(room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rooms[room]--; f.rooms[room] <= 0 {
		delete(f.rooms, room)
	}
	return nil
}

func (f *fakeSignaler) Emit(event, room string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emits = append(f.emits, emitted{Event: event, Room: room, Payload: payload})
	return nil
}

func (f *fakeSignaler) On(event string, fn signaling.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], fn)
	return func() {}
}

func (f *fakeSignaler) Done() <-chan struct{} { return f.done }

func (f *fakeSignaler) deliver(t *testing.T, event, room string, payload any) {
	t.Helper()
	ev, err := signaling.NewEvent(signaling.JSON, event, room, payload)
	require.NoError(t, err)
	f.mu.Lock()
	hs := append([]signaling.Handler{}, f.handlers[event]...)
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (f *fakeSignaler) sent(event string) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.emits {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeSignaler) joined(room string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms[room]
}

// fakeTrack counts Stop calls.
type fakeTrack struct {
	*webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	stops   *atomic.Int32
}

func (t *fakeTrack) SetEnabled(v bool) { t.enabled.Store(v) }
func (t *fakeTrack) Enabled() bool     { return t.enabled.Load() }
func (t *fakeTrack) Stop() error {
	t.stops.Add(1)
	return nil
}

// fakeSource opens fakeTracks, optionally blocking until released.
type fakeSource struct {
	opens atomic.Int32
	stops atomic.Int32
	gate  chan struct{}
	fail  error
}

func (s *fakeSource) Open(ctx context.Context, c media.Constraints) (media.Track, media.Track, error) {
	s.opens.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
		}
	}
	if s.fail != nil {
		return nil, nil, s.fail
	}
	mk := func(mime, id string) media.Track {
		local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "test")
		if err != nil {
			panic(err)
		}
		t := &fakeTrack{TrackLocalStaticSample: local, stops: &s.stops}
		t.enabled.Store(true)
		return t
	}
	var a, v media.Track
	if c.Audio {
		a = mk(webrtc.MimeTypeOpus, "audio")
	}
	if c.Video {
		v = mk(webrtc.MimeTypeVP8, "video")
	}
	return a, v, nil
}

// fakeLink records negotiation calls.
type fakeLink struct {
	mu         sync.Mutex
	ev         peer.Events
	remote     []peer.Description
	candidates []webrtc.ICECandidateInit
	keyframes  int
	closes     int
	offerErr   error
}

func (l *fakeLink) CreateOffer() (peer.Description, error) {
	if l.offerErr != nil {
		return peer.Description{}, l.offerErr
	}
	return peer.Description{Type: "offer", SDP: "v=0 offer"}, nil
}

func (l *fakeLink) CreateAnswer(offer peer.Description) (peer.Description, error) {
	if err := l.ApplyRemoteDescription(offer); err != nil {
		return peer.Description{}, err
	}
	return peer.Description{Type: "answer", SDP: "v=0 answer"}, nil
}

func (l *fakeLink) ApplyRemoteDescription(d peer.Description) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remote = append(l.remote, d)
	return nil
}

func (l *fakeLink) ApplyRemoteCandidate(c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.candidates = append(l.candidates, c)
	return nil
}

func (l *fakeLink) RequestKeyframe() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keyframes++
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
	return nil
}

func (l *fakeLink) snapshot() (remote []peer.Description, cands []webrtc.ICECandidateInit, keyframes, closes int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]peer.Description{}, l.remote...), append([]webrtc.ICECandidateInit{}, l.candidates...), l.keyframes, l.closes
}

type fakeLinks struct {
	mu    sync.Mutex
	links []*fakeLink
}

func (f *fakeLinks) CreateLink(_ peer.LocalMedia, ev peer.Events) (PeerLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := &fakeLink{ev: ev}
	f.links = append(f.links, l)
	return l, nil
}

func (f *fakeLinks) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.links)
}

func (f *fakeLinks) last() *fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.links) == 0 {
		return nil
	}
	return f.links[len(f.links)-1]
}

type fakeCallLog struct {
	mu      sync.Mutex
	entries []api.CallLogEntry
	err     error
}

func (f *fakeCallLog) SaveCallLog(_ context.Context, e api.CallLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return f.err
}

type harness struct {
	t      *testing.T
	ctrl   *Controller
	sig    *fakeSignaler
	src    *fakeSource
	media  *media.Service
	links  *fakeLinks
	logs   *fakeCallLog
	events chan Event
	now    atomic.Pointer[time.Time]
}

func newHarness(t *testing.T, self api.User) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		sig:    newFakeSignaler(),
		src:    &fakeSource{},
		links:  &fakeLinks{},
		logs:   &fakeCallLog{},
		events: make(chan Event, 64),
	}
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h.now.Store(&start)

	h.media = media.NewService(h.src, media.Options{}, zap.NewNop())
	h.ctrl = New(Options{
		Self:     self,
		Signaler: h.sig,
		Media:    h.media,
		Links:    h.links,
		CallLog:  h.logs,
		Logger:   zap.NewNop(),
		Now:      func() time.Time { return *h.now.Load() },
	})
	h.ctrl.OnEvent(func(ev Event) {
		select {
		case h.events <- ev:
		default:
		}
	})
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) advance(d time.Duration) {
	next := h.now.Load().Add(d)
	h.now.Store(&next)
}

// barrier waits until every previously posted action has run.
func (h *harness) barrier() {
	h.t.Helper()
	require.NoError(h.t, h.ctrl.exec(func() error { return nil }))
}

func (h *harness) waitStatus(s Status) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.ctrl.Status() == s }, 2*time.Second, 5*time.Millisecond,
		"status %s, want %s", h.ctrl.Status(), s)
}

func (h *harness) waitEmit(event string, n int) []emitted {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return len(h.sig.sent(event)) >= n }, 2*time.Second, 5*time.Millisecond,
		"waiting for %d x %s", n, event)
	return h.sig.sent(event)
}

func (h *harness) nextNotice() Notice {
	h.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if ev.Kind == EventNotice {
				return ev.Notice
			}
		case <-deadline:
			h.t.Fatal("no notice emitted")
			return Notice{}
		}
	}
}

var errBackendDown = errors.New("backend down")
