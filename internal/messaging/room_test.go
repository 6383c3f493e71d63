package messaging

import (
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/Huddle/internal/api"
	"github.com/BioHazard786/Huddle/internal/errs"
	"github.com/BioHazard786/Huddle/internal/metrics"
	"github.com/BioHazard786/Huddle/internal/signaling"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type emitted struct {
	event   string
	room    string
	payload any
}

type fakeBus struct {
	mu       sync.Mutex
	handlers map[string]map[int]signaling.Handler
	next     int
	joins    map[string]int
	leaves   map[string]int
	emits    []emitted
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		handlers: make(map[string]map[int]signaling.Handler),
		joins:    make(map[string]int),
		leaves:   make(map[string]int),
	}
}

func (f *fakeBus) JoinRoom(room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins[room]++
	return nil
}

func (f *fakeBus) LeaveRoom(room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves[room]++
	return nil
}

func (f *fakeBus) Emit(event, room string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, emitted{event, room, payload})
	return nil
}

func (f *fakeBus) On(event string, fn signaling.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers[event] == nil {
		f.handlers[event] = make(map[int]signaling.Handler)
	}
	id := f.next
	f.next++
	f.handlers[event][id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers[event], id)
	}
}

func (f *fakeBus) deliver(t *testing.T, event, room string, payload any) {
	t.Helper()
	ev, err := signaling.NewEvent(signaling.MsgPack, event, room, payload)
	require.NoError(t, err)
	f.mu.Lock()
	var hs []signaling.Handler
	for _, h := range f.handlers[event] {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (f *fakeBus) sent(event string) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.emits {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

var (
	me    = api.User{ID: "u-me", Username: "me", Name: "Me"}
	epoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
)

func newTestBridge(t *testing.T, typing time.Duration) (*Bridge, *fakeBus, *metrics.Recorder) {
	t.Helper()
	bus := newFakeBus()
	rec := metrics.New()
	b := NewBridge(Options{
		Self:          me,
		Signaler:      bus,
		TypingTimeout: typing,
		Metrics:       rec,
		Logger:        zap.NewNop(),
		Now:           func() time.Time { return epoch },
	})
	t.Cleanup(b.Close)
	return b, bus, rec
}

func msg(id, content string) Message {
	return Message{ID: id, SenderID: "u-other", Content: content, SentAt: epoch}
}

func contents(ms []Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Content
	}
	return out
}

func TestNewMessageMergesById(t *testing.T) {
	b, bus, rec := newTestBridge(t, time.Second)
	r, err := b.Join("general", []Message{msg("m1", "hello")})
	require.NoError(t, err)

	bus.deliver(t, OnNewMessage, "general", msg("m1", "hello again"))
	bus.deliver(t, OnNewMessage, "general", msg("m2", "second"))

	assert.Equal(t, []string{"hello again", "second"}, contents(r.Messages()))
	assert.Equal(t, 2.0, testutil.ToFloat64(rec.ChatEvents.WithLabelValues(OnNewMessage)))
}

func TestUpdateForUnknownIdIsIgnored(t *testing.T) {
	b, bus, _ := newTestBridge(t, time.Second)
	r, err := b.Join("general", []Message{msg("m1", "hello")})
	require.NoError(t, err)

	var changes []Change
	r.OnChange(func(c Change) { changes = append(changes, c) })

	before := r.Messages()
	bus.deliver(t, OnMessageUpdated, "general", msg("nope", "ghost"))
	assert.Equal(t, before, r.Messages())
	assert.Empty(t, changes)

	bus.deliver(t, OnMessageUpdated, "general", msg("m1", "edited"))
	assert.Equal(t, []string{"edited"}, contents(r.Messages()))
	require.Len(t, changes, 1)
	assert.Equal(t, Change{Kind: ChangeMessages, Room: "general", Event: OnMessageUpdated, MessageID: "m1"}, changes[0])
}

func TestRemoveIsSoft(t *testing.T) {
	b, bus, _ := newTestBridge(t, time.Second)
	r, err := b.Join("general", []Message{msg("m1", "hello"), msg("m2", "bye")})
	require.NoError(t, err)

	bus.deliver(t, OnMessageRemoved, "general", removedPayload{MessageID: "m1"})
	bus.deliver(t, OnMessageRemoved, "general", removedPayload{MessageID: "unknown"})

	ms := r.Messages()
	require.Len(t, ms, 2)
	assert.True(t, ms[0].Deleted)
	assert.Empty(t, ms[0].Content)
	assert.False(t, ms[1].Deleted)
}

func TestReadUpdateAddsReaderOnce(t *testing.T) {
	b, bus, _ := newTestBridge(t, time.Second)
	r, err := b.Join("general", []Message{msg("m1", "hello")})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		bus.deliver(t, OnReadUpdate, "general", readPayload{MessageID: "m1", UserID: "u-b"})
	}
	bus.deliver(t, OnReadUpdate, "general", readPayload{MessageID: "m1", UserID: "u-c"})
	bus.deliver(t, OnReadUpdate, "general", readPayload{MessageID: "ghost", UserID: "u-c"})

	assert.Equal(t, []string{"u-b", "u-c"}, r.Messages()[0].ReadBy)
}

func TestEventsForOtherRoomsAreIgnored(t *testing.T) {
	b, bus, _ := newTestBridge(t, time.Second)
	general, err := b.Join("general", nil)
	require.NoError(t, err)
	random, err := b.Join("random", nil)
	require.NoError(t, err)

	bus.deliver(t, OnNewMessage, "random", msg("m1", "hi"))
	assert.Empty(t, general.Messages())
	assert.Len(t, random.Messages(), 1)
}

func TestRemoteTypingClearsOnStopOrTimeout(t *testing.T) {
	b, bus, _ := newTestBridge(t, 50*time.Millisecond)
	r, err := b.Join("general", nil)
	require.NoError(t, err)

	bus.deliver(t, OnUserTyping, "general", typingPayload{Username: "alice"})
	bus.deliver(t, OnUserTyping, "general", typingPayload{Username: "bob"})
	bus.deliver(t, OnUserTyping, "general", typingPayload{Username: me.Username})
	assert.Equal(t, []string{"alice", "bob"}, r.Typists())

	bus.deliver(t, OnUserStopTyping, "general", typingPayload{Username: "alice"})
	assert.Equal(t, []string{"bob"}, r.Typists())

	require.Eventually(t, func() bool { return len(r.Typists()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestLocalTypingIsDebounced(t *testing.T) {
	b, bus, _ := newTestBridge(t, 50*time.Millisecond)
	r, err := b.Join("general", nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Typing())
	}
	assert.Len(t, bus.sent(EmitTyping), 1)
	assert.Empty(t, bus.sent(EmitStopTyping))

	require.Eventually(t, func() bool { return len(bus.sent(EmitStopTyping)) == 1 }, time.Second, 5*time.Millisecond)
	stop := bus.sent(EmitStopTyping)[0]
	assert.Equal(t, typingPayload{ChannelID: "general", Username: me.Username}, stop.payload)

	// A new burst starts over.
	require.NoError(t, r.Typing())
	assert.Len(t, bus.sent(EmitTyping), 2)
}

func TestSendAppendsAndBroadcasts(t *testing.T) {
	b, bus, _ := newTestBridge(t, time.Second)
	r, err := b.Join("general", nil)
	require.NoError(t, err)
	require.NoError(t, r.Typing())

	sent, err := r.Send(Message{Content: "hi all"})
	require.NoError(t, err)
	assert.NotEmpty(t, sent.ID)
	assert.Equal(t, me.ID, sent.SenderID)
	assert.Equal(t, epoch, sent.SentAt)
	assert.Equal(t, "general", sent.ChannelID)

	out := bus.sent(EmitNewMessage)
	require.Len(t, out, 1)
	assert.Equal(t, broadcastPayload{ChannelID: "general", Message: sent}, out[0].payload)
	assert.Len(t, bus.sent(EmitStopTyping), 1)
	assert.Equal(t, []string{"hi all"}, contents(r.Messages()))

	// The echo of our own message does not duplicate it.
	bus.deliver(t, OnNewMessage, "general", sent)
	assert.Len(t, r.Messages(), 1)
}

func TestEditDeleteAndMarkRead(t *testing.T) {
	b, bus, _ := newTestBridge(t, time.Second)
	r, err := b.Join("general", []Message{msg("m1", "hello"), msg("m2", "typo")})
	require.NoError(t, err)

	edited, err := r.Edit("m2", "fixed")
	require.NoError(t, err)
	require.NotNil(t, edited.UpdatedAt)
	assert.Equal(t, epoch, *edited.UpdatedAt)
	require.Len(t, bus.sent(EmitEdited), 1)

	require.NoError(t, r.Delete("m1"))
	assert.Equal(t, removedPayload{ChannelID: "general", MessageID: "m1"}, bus.sent(EmitDeleted)[0].payload)

	require.NoError(t, r.MarkRead("m2"))
	require.NoError(t, r.MarkRead("m2"))
	assert.Len(t, bus.sent(EmitMarkRead), 1)
	assert.Equal(t, []string{me.ID}, r.Messages()[1].ReadBy)

	_, err = r.Edit("ghost", "x")
	assert.ErrorIs(t, err, errs.ErrUnknownMessage)
	assert.ErrorIs(t, r.Delete("ghost"), errs.ErrUnknownMessage)
	assert.ErrorIs(t, r.MarkRead("ghost"), errs.ErrUnknownMessage)
}

func TestJoinOnceAndLeave(t *testing.T) {
	b, bus, _ := newTestBridge(t, time.Second)
	r1, err := b.Join("general", nil)
	require.NoError(t, err)
	r2, err := b.Join("general", nil)
	require.NoError(t, err)
	assert.Same(t, r1, r2)
	assert.Equal(t, 1, bus.joins["general"])

	require.NoError(t, b.Leave("general"))
	assert.Equal(t, 1, bus.leaves["general"])
	_, ok := b.Room("general")
	assert.False(t, ok)

	bus.deliver(t, OnNewMessage, "general", msg("m1", "late"))
	assert.Empty(t, r1.Messages())

	assert.ErrorIs(t, b.Leave("general"), errs.ErrNotJoined)
	_, err = r1.Send(Message{Content: "after leave"})
	assert.ErrorIs(t, err, errs.ErrNotJoined)
}
