package messaging

import (
	"sort"
	"sync"
	"time"

	"github.com/BioHazard786/Huddle/internal/errs"
	"github.com/BioHazard786/Huddle/internal/signaling"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Room is one joined channel: its message list, who is typing, and the
// outbound operations of the local user.
type Room struct {
	ID string

	b   *Bridge
	log *zap.Logger

	mu        sync.Mutex
	messages  []Message
	index     map[string]int
	typists   map[string]*typist
	typing    bool
	debounce  *time.Timer
	closed    bool
	offs      []func()
	listeners []func(Change)
}

func newRoom(b *Bridge, id string, history []Message) *Room {
	r := &Room{
		ID:      id,
		b:       b,
		log:     b.log.With(zap.String("channel", id)),
		index:   make(map[string]int),
		typists: make(map[string]*typist),
	}
	for _, m := range history {
		r.put(m.clone())
	}
	return r
}

func (r *Room) subscribe() {
	on := func(event string, apply func(signaling.Event) (string, ChangeKind, bool)) {
		off := r.b.opts.Signaler.On(event, func(ev signaling.Event) {
			if ev.Room != r.ID {
				return
			}
			id, kind, changed := apply(ev)
			if !changed {
				return
			}
			r.b.opts.Metrics.ChatEvent(event)
			r.notify(Change{Kind: kind, Room: r.ID, Event: event, MessageID: id})
		})
		r.offs = append(r.offs, off)
	}

	on(OnNewMessage, func(ev signaling.Event) (string, ChangeKind, bool) {
		var m Message
		if !r.decode(ev, &m) || m.ID == "" {
			return "", ChangeMessages, false
		}
		return m.ID, ChangeMessages, r.applyNew(m)
	})
	on(OnMessageUpdated, func(ev signaling.Event) (string, ChangeKind, bool) {
		var m Message
		if !r.decode(ev, &m) {
			return "", ChangeMessages, false
		}
		return m.ID, ChangeMessages, r.applyUpdate(m)
	})
	on(OnMessageRemoved, func(ev signaling.Event) (string, ChangeKind, bool) {
		var p removedPayload
		if !r.decode(ev, &p) {
			return "", ChangeMessages, false
		}
		return p.MessageID, ChangeMessages, r.applyRemove(p.MessageID)
	})
	on(OnReadUpdate, func(ev signaling.Event) (string, ChangeKind, bool) {
		var p readPayload
		if !r.decode(ev, &p) {
			return "", ChangeMessages, false
		}
		return p.MessageID, ChangeMessages, r.applyRead(p.MessageID, p.UserID)
	})
	on(OnUserTyping, func(ev signaling.Event) (string, ChangeKind, bool) {
		var p typingPayload
		if !r.decode(ev, &p) || p.Username == "" || p.Username == r.b.opts.Self.Username {
			return "", ChangeTyping, false
		}
		return "", ChangeTyping, r.startTypist(p.Username)
	})
	on(OnUserStopTyping, func(ev signaling.Event) (string, ChangeKind, bool) {
		var p typingPayload
		if !r.decode(ev, &p) {
			return "", ChangeTyping, false
		}
		return "", ChangeTyping, r.stopTypist(p.Username)
	})
}

func (r *Room) decode(ev signaling.Event, v any) bool {
	if err := ev.Decode(v); err != nil {
		r.log.Warn("dropping malformed chat event", zap.String("event", ev.Name), zap.Error(err))
		return false
	}
	return true
}

// OnChange registers fn to run after every applied change. It runs on the
// signaling dispatch goroutine or a typing timer.
func (r *Room) OnChange(fn func(Change)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Room) notify(c Change) {
	r.mu.Lock()
	ls := append([]func(Change){}, r.listeners...)
	r.mu.Unlock()
	for _, fn := range ls {
		fn(c)
	}
}

// Messages returns a copy of the message list in arrival order.
func (r *Room) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.clone()
	}
	return out
}

// Typists returns the users currently typing, sorted.
func (r *Room) Typists() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.typists))
	for name := range r.typists {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// put inserts m or replaces the message with the same id. Callers hold mu.
func (r *Room) put(m Message) {
	if i, ok := r.index[m.ID]; ok {
		r.messages[i] = m
		return
	}
	r.index[m.ID] = len(r.messages)
	r.messages = append(r.messages, m)
}

func (r *Room) applyNew(m Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.put(m)
	return true
}

func (r *Room) applyUpdate(m Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if _, ok := r.index[m.ID]; !ok {
		return false
	}
	r.put(m)
	return true
}

func (r *Room) applyRemove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok || r.closed {
		return false
	}
	r.messages[i].Deleted = true
	r.messages[i].Content = ""
	return true
}

func (r *Room) applyRead(id, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok || r.closed || userID == "" {
		return false
	}
	m := &r.messages[i]
	if m.readBy(userID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, userID)
	return true
}

type typist struct{ timer *time.Timer }

func (r *Room) startTypist(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	old, known := r.typists[name]
	if known {
		old.timer.Stop()
	}
	t := &typist{}
	t.timer = time.AfterFunc(r.b.opts.TypingTimeout, func() { r.expireTypist(name, t) })
	r.typists[name] = t
	return !known
}

func (r *Room) stopTypist(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.typists[name]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(r.typists, name)
	return true
}

// expireTypist clears name unless a newer keystroke replaced t.
func (r *Room) expireTypist(name string, t *typist) {
	r.mu.Lock()
	if r.typists[name] != t {
		r.mu.Unlock()
		return
	}
	delete(r.typists, name)
	r.mu.Unlock()
	r.notify(Change{Kind: ChangeTyping, Room: r.ID, Event: OnUserStopTyping})
}

// Send appends m locally and broadcasts it. Missing ids, sender and time
// are filled in.
func (r *Room) Send(m Message) (Message, error) {
	self := r.b.opts.Self
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.SenderID == "" {
		m.SenderID = self.ID
		u := self
		m.Sender = &u
	}
	if m.SentAt.IsZero() {
		m.SentAt = r.b.opts.Now().UTC()
	}
	m.ChannelID = r.ID

	if !r.applyNew(m.clone()) {
		return Message{}, errs.Wrap("send message", errs.ErrNotJoined, r.ID)
	}
	if err := r.emit(EmitNewMessage, broadcastPayload{ChannelID: r.ID, Message: m}); err != nil {
		return m, err
	}
	r.endTyping()
	return m, nil
}

// Edit replaces the content of a known message and broadcasts the result.
func (r *Room) Edit(id, content string) (Message, error) {
	r.mu.Lock()
	i, ok := r.index[id]
	if !ok || r.closed {
		r.mu.Unlock()
		return Message{}, errs.Wrap("edit message", errs.ErrUnknownMessage, id)
	}
	now := r.b.opts.Now().UTC()
	m := &r.messages[i]
	m.Content = content
	m.UpdatedAt = &now
	out := m.clone()
	r.mu.Unlock()

	return out, r.emit(EmitEdited, broadcastPayload{ChannelID: r.ID, Message: out})
}

// Delete soft-deletes a known message and broadcasts the removal.
func (r *Room) Delete(id string) error {
	if !r.applyRemove(id) {
		return errs.Wrap("delete message", errs.ErrUnknownMessage, id)
	}
	return r.emit(EmitDeleted, removedPayload{ChannelID: r.ID, MessageID: id})
}

// MarkRead records the local user as a reader of id and tells the room.
func (r *Room) MarkRead(id string) error {
	self := r.b.opts.Self.ID
	r.mu.Lock()
	_, ok := r.index[id]
	r.mu.Unlock()
	if !ok {
		return errs.Wrap("mark read", errs.ErrUnknownMessage, id)
	}
	if !r.applyRead(id, self) {
		return nil
	}
	return r.emit(EmitMarkRead, readPayload{ChannelID: r.ID, MessageID: id, UserID: self})
}

// Typing signals a keystroke. The first one emits typing; stop_typing
// follows once keystrokes pause for the typing timeout.
func (r *Room) Typing() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errs.Wrap("typing", errs.ErrNotJoined, r.ID)
	}
	first := !r.typing
	r.typing = true
	if r.debounce != nil {
		r.debounce.Stop()
	}
	r.debounce = time.AfterFunc(r.b.opts.TypingTimeout, r.endTyping)
	r.mu.Unlock()

	if !first {
		return nil
	}
	return r.emit(EmitTyping, typingPayload{ChannelID: r.ID, Username: r.b.opts.Self.Username})
}

func (r *Room) endTyping() {
	r.mu.Lock()
	if !r.typing {
		r.mu.Unlock()
		return
	}
	r.typing = false
	if r.debounce != nil {
		r.debounce.Stop()
		r.debounce = nil
	}
	r.mu.Unlock()

	if err := r.emit(EmitStopTyping, typingPayload{ChannelID: r.ID, Username: r.b.opts.Self.Username}); err != nil {
		r.log.Debug("stop_typing not delivered", zap.Error(err))
	}
}

func (r *Room) emit(event string, payload any) error {
	return r.b.opts.Signaler.Emit(event, r.ID, payload)
}

func (r *Room) close() {
	r.endTyping()

	r.mu.Lock()
	r.closed = true
	offs := r.offs
	r.offs = nil
	for name, t := range r.typists {
		t.timer.Stop()
		delete(r.typists, name)
	}
	r.mu.Unlock()

	for _, off := range offs {
		off()
	}
}
