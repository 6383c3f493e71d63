package messaging

import (
	"time"

	"github.com/BioHazard786/Huddle/internal/api"
)

// Message is one chat message as the channel view holds it.
type Message struct {
	ID        string     `json:"id"`
	ChannelID string     `json:"channelId,omitempty"`
	SenderID  string     `json:"senderId"`
	Sender    *api.User  `json:"sender,omitempty"`
	Content   string     `json:"content"`
	SentAt    time.Time  `json:"sentAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	Deleted   bool       `json:"deleted,omitempty"`
	ReadBy    []string   `json:"readBy,omitempty"`
}

func (m Message) clone() Message {
	if m.ReadBy != nil {
		m.ReadBy = append([]string(nil), m.ReadBy...)
	}
	if m.Sender != nil {
		s := *m.Sender
		m.Sender = &s
	}
	return m
}

func (m *Message) readBy(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Inbound events delivered to room members.
const (
	OnNewMessage     = "new_message"
	OnMessageUpdated = "message_updated"
	OnMessageRemoved = "message_removed"
	OnUserTyping     = "user_typing"
	OnUserStopTyping = "user_stop_typing"
	OnReadUpdate     = "message_read_update"
)

// Outbound events emitted by the local user.
const (
	EmitNewMessage = "new_message_broadcast"
	EmitEdited     = "message_edited"
	EmitDeleted    = "message_deleted"
	EmitTyping     = "typing"
	EmitStopTyping = "stop_typing"
	EmitMarkRead   = "mark_read"
)

type broadcastPayload struct {
	ChannelID string  `json:"channelId"`
	Message   Message `json:"message"`
}

type removedPayload struct {
	ChannelID string `json:"channelId,omitempty"`
	MessageID string `json:"messageId"`
}

type typingPayload struct {
	ChannelID string `json:"channelId,omitempty"`
	Username  string `json:"username"`
}

type readPayload struct {
	ChannelID string `json:"channelId,omitempty"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// ChangeKind says which part of a room changed.
type ChangeKind int

const (
	ChangeMessages ChangeKind = iota
	ChangeTyping
)

// Change is reported to room listeners after every applied event.
type Change struct {
	Kind      ChangeKind
	Room      string
	Event     string
	MessageID string
}
