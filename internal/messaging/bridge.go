package messaging

import (
	"sync"
	"time"

	"github.com/BioHazard786/Huddle/internal/api"
	"github.com/BioHazard786/Huddle/internal/errs"
	"github.com/BioHazard786/Huddle/internal/metrics"
	"github.com/BioHazard786/Huddle/internal/signaling"
	"go.uber.org/zap"
)

const defaultTypingTimeout = time.Second

// Signaler is the slice of the signaling client the bridge uses.
type Signaler interface {
	JoinRoom(room string) error
	LeaveRoom(room string) error
	Emit(event, room string, payload any) error
	On(event string, fn signaling.Handler) (off func())
}

// Options configures a Bridge.
type Options struct {
	Self     api.User
	Signaler Signaler
	// TypingTimeout clears a remote typist and ends local typing after this
	// much inactivity.
	TypingTimeout time.Duration
	Metrics       *metrics.Recorder
	Logger        *zap.Logger
	Now           func() time.Time
}

// Bridge keeps the message lists of joined channels in step with the bus.
type Bridge struct {
	opts Options
	log  *zap.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewBridge(opts Options) *Bridge {
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = defaultTypingTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Bridge{
		opts:  opts,
		log:   opts.Logger.With(zap.String("module", "messaging")),
		rooms: make(map[string]*Room),
	}
}

// Join subscribes to channel id, seeding it with history. Joining a channel
// that is already open returns the open Room.
func (b *Bridge) Join(id string, history []Message) (*Room, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.rooms[id]; ok {
		return r, nil
	}

	if err := b.opts.Signaler.JoinRoom(id); err != nil {
		return nil, err
	}
	r := newRoom(b, id, history)
	r.subscribe()
	b.rooms[id] = r
	b.log.Debug("joined channel", zap.String("channel", id), zap.Int("history", len(history)))
	return r, nil
}

// Room returns the open room for id.
func (b *Bridge) Room(id string) (*Room, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rooms[id]
	return r, ok
}

// Leave closes channel id and releases the bridge's hold on the bus room.
func (b *Bridge) Leave(id string) error {
	b.mu.Lock()
	r, ok := b.rooms[id]
	delete(b.rooms, id)
	b.mu.Unlock()
	if !ok {
		return errs.Wrap("leave channel", errs.ErrNotJoined, id)
	}
	r.close()
	return b.opts.Signaler.LeaveRoom(id)
}

// Close leaves every open channel.
func (b *Bridge) Close() {
	b.mu.Lock()
	ids := make([]string, 0, len(b.rooms))
	for id := range b.rooms {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	for _, id := range ids {
		if err := b.Leave(id); err != nil {
			b.log.Debug("leaving channel", zap.String("channel", id), zap.Error(err))
		}
	}
}
