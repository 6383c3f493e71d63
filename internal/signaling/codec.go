package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns envelopes into WebSocket frames and back. Both codecs honour
// the json struct tags of payload types so the same Go types travel over
// either wire format.
type Codec interface {
	Name() string
	// FrameType is the WebSocket message type used for this codec.
	FrameType() int
	Encode(msg *Message) ([]byte, error)
	Decode(data []byte) (Event, error)
	EncodePayload(v any) ([]byte, error)
	DecodePayload(raw []byte, v any) error
}

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", JSON.Name():
		return JSON, nil
	case MsgPack.Name():
		return MsgPack, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

var (
	JSON    Codec = jsonCodec{}
	MsgPack Codec = msgpackCodec{}
)

type jsonCodec struct{}

type jsonFrame struct {
	Event   string          `json:"event"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (jsonCodec) Name() string   { return "json" }
func (jsonCodec) FrameType() int { return websocket.TextMessage }

func (jsonCodec) Encode(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (c jsonCodec) Decode(data []byte) (Event, error) {
	var f jsonFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Event{}, err
	}
	ev := Event{Name: f.Event, Room: f.Room, codec: c}
	if len(f.Payload) > 0 && !bytes.Equal(f.Payload, []byte("null")) {
		ev.raw = f.Payload
	}
	return ev, nil
}

func (jsonCodec) EncodePayload(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) DecodePayload(raw []byte, v any) error { return json.Unmarshal(raw, v) }

type msgpackCodec struct{}

type msgpackFrame struct {
	Event   string             `json:"event"`
	Room    string             `json:"room,omitempty"`
	Payload msgpack.RawMessage `json:"payload,omitempty"`
}

func (msgpackCodec) Name() string   { return "msgpack" }
func (msgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (c msgpackCodec) Encode(msg *Message) ([]byte, error) {
	return c.EncodePayload(msg)
}

func (c msgpackCodec) Decode(data []byte) (Event, error) {
	var f msgpackFrame
	if err := c.DecodePayload(data, &f); err != nil {
		return Event{}, err
	}
	ev := Event{Name: f.Event, Room: f.Room, codec: c}
	if len(f.Payload) > 0 {
		ev.raw = f.Payload
	}
	return ev, nil
}

func (msgpackCodec) EncodePayload(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) DecodePayload(raw []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
