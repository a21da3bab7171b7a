package models

import (
	"fmt"
	"time"
)

// MessageKind is the content type of a chat message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
)

// ParseKind maps a wire value onto a MessageKind. Empty means text.
func ParseKind(s string) (MessageKind, error) {
	switch MessageKind(s) {
	case "":
		return KindText, nil
	case KindText, KindImage, KindFile:
		return MessageKind(s), nil
	}
	return "", fmt.Errorf("unknown message type %q", s)
}

// Message is a persisted point-to-point chat message.
// Read is the only field that changes after Append.
type Message struct {
	ID         string      `json:"id"`
	ChatID     string      `json:"chatId"`
	SenderID   string      `json:"senderId"`
	ReceiverID string      `json:"receiverId"`
	Body       string      `json:"message"`
	Kind       MessageKind `json:"type"`
	Read       bool        `json:"read"`
	Delivered  bool        `json:"delivered"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// Notification is the lightweight payload pushed to a receiver's room on send.
type Notification struct {
	From string    `json:"from"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// PresenceSnapshot is the onlineUsers payload. LastSeen values are unix millis.
type PresenceSnapshot struct {
	Online   []string         `json:"online"`
	LastSeen map[string]int64 `json:"lastSeen"`
}
