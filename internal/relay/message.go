package relay

import (
	"bytes"
	"encoding/json"

	"github.com/BioHazard786/Huddle/internal/signaling"
)

// delivered maps the event a client emits to the event its peers receive.
// Events missing from the table are rejected.
var delivered = map[string]string{
	"call:initiate":      "call:incoming",
	"call:accept":        "call:accepted",
	"call:reject":        "call:rejected",
	"call:end":           "call:ended",
	"call:toggle-audio":  "call:audio-toggled",
	"call:toggle-video":  "call:video-toggled",
	"call:offer":         "call:offer",
	"call:answer":        "call:answer",
	"call:ice-candidate": "call:ice-candidate",

	"new_message_broadcast": "new_message",
	"message_edited":        "message_updated",
	"message_deleted":       "message_removed",
	"typing":                "user_typing",
	"stop_typing":           "user_stop_typing",
	"mark_read":             "message_read_update",
}

// inbound is one frame read from a client, or the error decoding it.
type inbound struct {
	from *Client
	ev   signaling.Event
	err  error
}

// targetOf returns the user a payload is addressed to, if any.
func targetOf(payload any) string {
	m, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m["targetUserId"].(string)
	return s
}

// reshape adapts a client payload to what receivers of the delivered event
// expect. Chat messages travel wrapped in {channelId, message} and arrive
// as the bare message.
func reshape(event string, payload any) any {
	m, ok := payload.(map[string]any)
	if !ok {
		return payload
	}
	switch event {
	case "new_message_broadcast", "message_edited":
		if msg, ok := m["message"]; ok {
			return msg
		}
	case "message_deleted":
		return map[string]any{"channelId": m["channelId"], "messageId": m["messageId"]}
	case "mark_read":
		return map[string]any{"channelId": m["channelId"], "messageId": m["messageId"], "userId": m["userId"]}
	}
	return payload
}

// decodePayload decodes the payload of ev into generic values. JSON numbers
// that are integral stay integers so they survive re-encoding as msgpack.
func decodePayload(ev signaling.Event) (any, error) {
	var v any
	if ev.Codec() != signaling.JSON || len(ev.Raw()) == 0 {
		err := ev.Decode(&v)
		return v, err
	}
	dec := json.NewDecoder(bytes.NewReader(ev.Raw()))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return numbers(v), nil
}

func numbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = numbers(e)
		}
	case []any:
		for i, e := range t {
			t[i] = numbers(e)
		}
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	}
	return v
}
