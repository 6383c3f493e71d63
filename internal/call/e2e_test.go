package call_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/Huddle/internal/api"
	"github.com/BioHazard786/Huddle/internal/call"
	"github.com/BioHazard786/Huddle/internal/media"
	"github.com/BioHazard786/Huddle/internal/peer"
	"github.com/BioHazard786/Huddle/internal/relay"
	"github.com/BioHazard786/Huddle/internal/signaling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type endpoint struct {
	ctrl    *call.Controller
	streams chan peer.RemoteTrack
	notices chan call.Notice
}

func newEndpoint(t *testing.T, url string, self api.User, codec signaling.Codec) *endpoint {
	t.Helper()
	sig := signaling.NewClient(signaling.Options{URL: url, UserID: self.ID, Codec: codec}, zap.NewNop())
	require.NoError(t, sig.Connect(context.Background()))
	t.Cleanup(sig.Close)

	links, err := peer.NewManager(peer.Config{LoopbackOnly: true}, zap.NewNop())
	require.NoError(t, err)

	ctrl := call.New(call.Options{
		Self:     self,
		Signaler: sig,
		Media:    media.NewService(&media.SyntheticSource{}, media.Options{}, zap.NewNop()),
		Links:    call.PeerLinks(links),
		Logger:   zap.NewNop(),
	})
	t.Cleanup(ctrl.Close)

	e := &endpoint{
		ctrl:    ctrl,
		streams: make(chan peer.RemoteTrack, 8),
		notices: make(chan call.Notice, 8),
	}
	ctrl.OnEvent(func(ev call.Event) {
		switch ev.Kind {
		case call.EventIncoming:
			// Listeners run on the controller loop; answer from elsewhere.
			go func() { assert.NoError(t, ctrl.AcceptCall()) }()
		case call.EventRemoteStream:
			select {
			case e.streams <- ev.Track:
			default:
			}
		case call.EventNotice:
			select {
			case e.notices <- ev.Notice:
			default:
			}
		}
	})
	return e
}

func TestVideoCallConnectsOverRelay(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real peer connections")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := relay.NewHub(zap.NewNop(), nil)
	go hub.Run(ctx)
	srv := httptest.NewServer(relay.Router(hub, nil))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	alice := newEndpoint(t, url, api.User{ID: "alice", Name: "Alice"}, signaling.JSON)
	bob := newEndpoint(t, url, api.User{ID: "bob", Name: "Bob"}, signaling.MsgPack)

	require.NoError(t, alice.ctrl.StartCall("dm-alice-bob", "bob", "Bob", media.CallVideo))

	connected := func(e *endpoint) func() bool {
		return func() bool { return e.ctrl.Status() == call.StatusConnected }
	}
	require.Eventually(t, connected(alice), 15*time.Second, 20*time.Millisecond)
	require.Eventually(t, connected(bob), 15*time.Second, 20*time.Millisecond)

	s, ok := bob.ctrl.Session()
	require.True(t, ok)
	assert.Equal(t, call.RoleCallee, s.Role)
	assert.Equal(t, "alice", s.CounterpartID)
	assert.Equal(t, media.CallVideo, s.Type)

	for _, e := range []*endpoint{alice, bob} {
		select {
		case tr := <-e.streams:
			assert.NotEmpty(t, tr.Kind)
		case <-time.After(10 * time.Second):
			t.Fatal("no remote track")
		}
	}

	require.NoError(t, alice.ctrl.EndCall())
	require.Eventually(t, func() bool { return bob.ctrl.Status() == call.StatusIdle }, 5*time.Second, 20*time.Millisecond)
	select {
	case n := <-bob.notices:
		assert.Equal(t, call.ReasonRemoteEnded, n.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("callee saw no notice")
	}
}
