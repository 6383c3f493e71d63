package signaling

// Message is the envelope for every frame exchanged with the signaling
// server. Payload is encoded inline by the connection's codec.
type Message struct {
	Event   string `json:"event"`
	Room    string `json:"room,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Room membership events understood by the server.
const (
	EventJoinChannel  = "join_channel"
	EventLeaveChannel = "leave_channel"
	EventError        = "error"
)

// ErrorPayload represents error messages from server.
type ErrorPayload struct {
	Error string `json:"error"`
}

// Event is one inbound frame as handed to handlers. The payload stays in its
// wire encoding until a handler decodes it into the type it expects.
type Event struct {
	Name  string
	Room  string
	raw   []byte
	codec Codec
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.raw) == 0 {
		return nil
	}
	return e.codec.DecodePayload(e.raw, v)
}

// Raw returns the payload bytes in the wire encoding of Codec.
func (e Event) Raw() []byte { return e.raw }

// Codec returns the codec the payload was encoded with.
func (e Event) Codec() Codec { return e.codec }

// NewEvent builds an inbound event from a payload value. The relay uses it
// when re-addressing frames, tests use it to feed handlers directly.
func NewEvent(codec Codec, name, room string, payload any) (Event, error) {
	ev := Event{Name: name, Room: room, codec: codec}
	if payload == nil {
		return ev, nil
	}
	raw, err := codec.EncodePayload(payload)
	if err != nil {
		return Event{}, err
	}
	ev.raw = raw
	return ev, nil
}
