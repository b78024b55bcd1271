package ws

import (
	"time"

	"github.com/HerbHall/tagwatch/internal/event"
)

// MessageType discriminates WebSocket messages.
type MessageType string

const (
	MessageLine  MessageType = "line"
	MessageTag   MessageType = "tag"
	MessageState MessageType = "state"
)

// ParseMessageType resolves a message type name.
func ParseMessageType(s string) (MessageType, bool) {
	switch t := MessageType(s); t {
	case MessageLine, MessageTag, MessageState:
		return t, true
	}
	return "", false
}

// messageTypeForTopic maps a bus topic to its message type.
func messageTypeForTopic(topic string) (MessageType, bool) {
	switch topic {
	case event.TopicLine:
		return MessageLine, true
	case event.TopicTagObserved:
		return MessageTag, true
	case event.TopicState:
		return MessageState, true
	}
	return "", false
}

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      MessageType `json:"type"`
	Source    string      `json:"source,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}
