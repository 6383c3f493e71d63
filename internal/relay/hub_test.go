package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/Huddle/internal/metrics"
	"github.com/BioHazard786/Huddle/internal/signaling"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testRelay struct {
	srv *httptest.Server
	rec *metrics.Recorder
}

func startRelay(t *testing.T) *testRelay {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	rec := metrics.New()
	hub := NewHub(zap.NewNop(), rec)
	go hub.Run(ctx)

	srv := httptest.NewServer(Router(hub, rec))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &testRelay{srv: srv, rec: rec}
}

// peer is a signaling client that queues every event it receives.
type peer struct {
	*signaling.Client
	events chan signaling.Event
}

func (r *testRelay) dial(t *testing.T, userID string, codec signaling.Codec, events ...string) *peer {
	t.Helper()
	c := signaling.NewClient(signaling.Options{
		URL:    "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws",
		UserID: userID,
		Codec:  codec,
	}, zap.NewNop())
	p := &peer{Client: c, events: make(chan signaling.Event, 32)}
	for _, name := range append(events, signaling.EventError) {
		c.On(name, func(ev signaling.Event) { p.events <- ev })
	}
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(c.Close)
	return p
}

func (p *peer) next(t *testing.T) signaling.Event {
	t.Helper()
	select {
	case ev := <-p.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return signaling.Event{}
	}
}

func (p *peer) quiet(t *testing.T) {
	t.Helper()
	select {
	case ev := <-p.events:
		t.Fatalf("unexpected event %q", ev.Name)
	case <-time.After(100 * time.Millisecond):
	}
}

// sync waits until the relay has processed everything p sent so far.
func (p *peer) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, p.Emit("call:end", "", map[string]any{"unknown": true}))
	ev := p.next(t)
	require.Equal(t, signaling.EventError, ev.Name)
}

func TestTargetedEventReachesUserOutsideRoom(t *testing.T) {
	r := startRelay(t)
	a := r.dial(t, "alice", signaling.JSON)
	b := r.dial(t, "bob", signaling.JSON, "call:incoming")

	require.NoError(t, a.JoinRoom("room-1"))
	require.NoError(t, a.Emit("call:initiate", "room-1", map[string]any{
		"channelId":    "room-1",
		"targetUserId": "bob",
		"callerId":     "alice",
		"callType":     "video",
	}))

	ev := b.next(t)
	assert.Equal(t, "call:incoming", ev.Name)
	assert.Equal(t, "room-1", ev.Room)
	var p struct {
		CallerID string `json:"callerId"`
		CallType string `json:"callType"`
	}
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, "alice", p.CallerID)
	assert.Equal(t, "video", p.CallType)
}

func TestRoomEventsSkipSender(t *testing.T) {
	r := startRelay(t)
	a := r.dial(t, "alice", signaling.JSON, "user_typing")
	b := r.dial(t, "bob", signaling.JSON, "user_typing")
	c := r.dial(t, "carol", signaling.MsgPack, "user_typing")
	for _, p := range []*peer{a, b, c} {
		require.NoError(t, p.JoinRoom("general"))
		p.sync(t)
	}

	require.NoError(t, a.Emit("typing", "general", map[string]any{"channelId": "general", "username": "alice"}))

	for _, p := range []*peer{b, c} {
		ev := p.next(t)
		assert.Equal(t, "user_typing", ev.Name)
		var body struct {
			Username string `json:"username"`
		}
		require.NoError(t, ev.Decode(&body))
		assert.Equal(t, "alice", body.Username)
	}
	a.quiet(t)
}

func TestChatPayloadsAreReshaped(t *testing.T) {
	r := startRelay(t)
	a := r.dial(t, "alice", signaling.JSON)
	b := r.dial(t, "bob", signaling.JSON, "new_message", "message_removed", "message_read_update")
	require.NoError(t, a.JoinRoom("general"))
	require.NoError(t, b.JoinRoom("general"))
	b.sync(t)

	require.NoError(t, a.Emit("new_message_broadcast", "general", map[string]any{
		"channelId": "general",
		"message":   map[string]any{"id": "m1", "content": "hi"},
	}))
	ev := b.next(t)
	assert.Equal(t, "new_message", ev.Name)
	var msg map[string]any
	require.NoError(t, ev.Decode(&msg))
	assert.Equal(t, "m1", msg["id"])
	assert.Equal(t, "hi", msg["content"])

	require.NoError(t, a.Emit("message_deleted", "general", map[string]any{"channelId": "general", "messageId": "m1", "extra": 1}))
	ev = b.next(t)
	assert.Equal(t, "message_removed", ev.Name)
	var removed map[string]any
	require.NoError(t, ev.Decode(&removed))
	assert.Equal(t, map[string]any{"channelId": "general", "messageId": "m1"}, removed)

	require.NoError(t, a.Emit("mark_read", "general", map[string]any{"channelId": "general", "messageId": "m1", "userId": "alice"}))
	ev = b.next(t)
	assert.Equal(t, "message_read_update", ev.Name)
}

func TestIntegersSurviveCodecChange(t *testing.T) {
	r := startRelay(t)
	a := r.dial(t, "alice", signaling.JSON)
	b := r.dial(t, "bob", signaling.MsgPack, "call:incoming")

	require.NoError(t, a.Emit("call:initiate", "room-1", map[string]any{
		"targetUserId": "bob",
		"startTime":    int64(1767323045000),
	}))

	ev := b.next(t)
	var p struct {
		StartTime int64 `json:"startTime"`
	}
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, int64(1767323045000), p.StartTime)
}

func TestRelayRejectsBadFrames(t *testing.T) {
	r := startRelay(t)
	a := r.dial(t, "alice", signaling.JSON)

	require.NoError(t, a.Emit("typing", "nowhere", map[string]any{"channelId": "nowhere"}))
	ev := a.next(t)
	require.Equal(t, signaling.EventError, ev.Name)
	var p signaling.ErrorPayload
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, "join the room first", p.Error)

	require.NoError(t, a.Emit("shutdown", "", nil))
	ev = a.next(t)
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, "unknown event shutdown", p.Error)
}

func TestLeftRoomStopsDelivery(t *testing.T) {
	r := startRelay(t)
	a := r.dial(t, "alice", signaling.JSON)
	b := r.dial(t, "bob", signaling.JSON, "user_stop_typing")
	require.NoError(t, a.JoinRoom("general"))
	require.NoError(t, b.JoinRoom("general"))
	require.NoError(t, b.LeaveRoom("general"))
	b.sync(t)

	require.NoError(t, a.Emit("stop_typing", "general", map[string]any{"channelId": "general"}))
	a.sync(t)
	b.quiet(t)
}

func TestRelayCountsRoutedEvents(t *testing.T) {
	r := startRelay(t)
	a := r.dial(t, "alice", signaling.JSON)
	b := r.dial(t, "bob", signaling.JSON, "call:ended")

	require.NoError(t, a.Emit("call:end", "room-1", map[string]any{"targetUserId": "bob"}))
	b.next(t)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.rec.RelayEventsRouted.WithLabelValues("call:ended")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.rec.RelayPeers))

	res, err := http.Get(r.srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "huddle_relay_events_routed_total")
}

func TestHealthAndUpgradeChecks(t *testing.T) {
	r := startRelay(t)

	res, err := http.Get(r.srv.URL + "/health")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])

	res2, err := http.Get(r.srv.URL + "/ws?codec=json")
	require.NoError(t, err)
	res2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res2.StatusCode)

	res3, err := http.Get(r.srv.URL + "/ws?userId=a&codec=xml")
	require.NoError(t, err)
	res3.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res3.StatusCode)
}
