package relay

import (
	"context"

	"github.com/BioHazard786/Huddle/internal/metrics"
	"github.com/BioHazard786/Huddle/internal/signaling"
	"go.uber.org/zap"
)

// Hub is the central brain of the relay. It owns every room and connected
// client; all state changes happen on the goroutine running Run.
type Hub struct {
	rooms map[string]*Room
	users map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	done       chan struct{}

	log     *zap.Logger
	metrics *metrics.Recorder
}

// NewHub creates a new Hub. Call Run to start it.
func NewHub(logger *zap.Logger, rec *metrics.Recorder) *Hub {
	if logger == nil {
		logger = zap.L()
	}
	return &Hub{
		rooms:      make(map[string]*Room),
		users:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 64),
		done:       make(chan struct{}),
		log:        logger.With(zap.String("module", "relay")),
		metrics:    rec,
	}
}

// Run processes registrations and frames until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for _, conns := range h.users {
			for c := range conns {
				close(c.send)
			}
		}
		h.users = map[string]map[*Client]struct{}{}
		h.rooms = map[string]*Room{}
		close(h.done)
	}()

	for {
		select {
		case c := <-h.register:
			conns, ok := h.users[c.UserID]
			if !ok {
				conns = make(map[*Client]struct{})
				h.users[c.UserID] = conns
			}
			conns[c] = struct{}{}
			h.metrics.RelayPeerDelta(1)
			c.log.Info("client registered")

		case c := <-h.unregister:
			h.drop(c)

		case in := <-h.inbound:
			h.handle(in)

		case <-ctx.Done():
			return
		}
	}
}

// join registers c with the hub. It reports false once the hub has stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) submit(in inbound) bool {
	select {
	case h.inbound <- in:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) drop(c *Client) {
	conns, ok := h.users[c.UserID]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	for id := range c.rooms {
		h.part(c, id)
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.users, c.UserID)
	}
	close(c.send)
	h.metrics.RelayPeerDelta(-1)
	c.log.Info("client unregistered")
}

func (h *Hub) part(c *Client, id string) {
	delete(c.rooms, id)
	room, ok := h.rooms[id]
	if !ok {
		return
	}
	delete(room.members, c)
	if room.empty() {
		delete(h.rooms, id)
		h.log.Debug("room deleted", zap.String("room", id))
	}
}

func (h *Hub) handle(in inbound) {
	c := in.from
	// Frames still buffered from a client that already unregistered.
	if _, ok := h.users[c.UserID][c]; !ok {
		return
	}
	if in.err != nil {
		c.log.Debug("malformed frame", zap.Error(in.err))
		h.fail(c, "malformed frame")
		return
	}

	ev := in.ev
	switch ev.Name {
	case signaling.EventJoinChannel:
		if ev.Room == "" {
			h.fail(c, "room is required")
			return
		}
		room, ok := h.rooms[ev.Room]
		if !ok {
			room = newRoom(ev.Room)
			h.rooms[ev.Room] = room
		}
		room.members[c] = struct{}{}
		c.rooms[ev.Room] = struct{}{}
		c.log.Debug("joined room", zap.String("room", ev.Room))

	case signaling.EventLeaveChannel:
		h.part(c, ev.Room)
		c.log.Debug("left room", zap.String("room", ev.Room))

	default:
		h.route(c, ev)
	}
}

// route delivers ev to its addressee, or to the other members of its room
// when the payload names no target.
func (h *Hub) route(from *Client, ev signaling.Event) {
	name, ok := delivered[ev.Name]
	if !ok {
		h.fail(from, "unknown event "+ev.Name)
		return
	}

	payload, err := decodePayload(ev)
	if err != nil {
		h.fail(from, "malformed payload")
		return
	}
	target := targetOf(payload)
	msg := &signaling.Message{Event: name, Room: ev.Room, Payload: reshape(ev.Name, payload)}

	var recipients []*Client
	if target != "" {
		for c := range h.users[target] {
			if c != from {
				recipients = append(recipients, c)
			}
		}
	} else {
		room, ok := h.rooms[ev.Room]
		if !ok || !room.has(from) {
			h.fail(from, "join the room first")
			return
		}
		for c := range room.members {
			if c != from {
				recipients = append(recipients, c)
			}
		}
	}

	h.metrics.RelayRouted(name)
	for _, c := range recipients {
		h.deliver(c, msg)
	}
	from.log.Debug("relayed",
		zap.String("event", name),
		zap.String("room", ev.Room),
		zap.String("target", target),
		zap.Int("recipients", len(recipients)))
}

// deliver encodes msg in the recipient's codec. A client whose buffer is
// full misses the frame.
func (h *Hub) deliver(c *Client, msg *signaling.Message) {
	frame, err := c.codec.Encode(msg)
	if err != nil {
		c.log.Warn("encoding frame", zap.String("event", msg.Event), zap.Error(err))
		return
	}
	select {
	case c.send <- frame:
	default:
		c.log.Warn("send buffer full, dropping frame", zap.String("event", msg.Event))
	}
}

func (h *Hub) fail(c *Client, reason string) {
	h.deliver(c, &signaling.Message{Event: signaling.EventError, Payload: signaling.ErrorPayload{Error: reason}})
}
