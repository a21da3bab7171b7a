package chat

import "encoding/json"

// Inbound events.
const (
	EventJoin        = "join"
	EventSendMessage = "sendMessage"
	EventMarkAsRead  = "markAsRead"
	EventLeave       = "leave"
)

// Outbound events.
const (
	EventOnlineUsers    = "onlineUsers"
	EventReceiveMessage = "receiveMessage"
	EventNotification   = "notification"
	EventErrorFrame     = "error"
)

// Envelope is the frame exchanged over the websocket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SendPayload is the data of a sendMessage event.
// SenderID is optional; when set it must match the bound identity.
type SendPayload struct {
	SenderID   string `json:"senderId,omitempty"`
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text"`
	Type       string `json:"type,omitempty"` // text | image | file
}

// MarkReadPayload is the data of a markAsRead event.
// UserID is optional; when set it must match the bound identity.
type MarkReadPayload struct {
	UserID     string `json:"userId,omitempty"`
	WithUserID string `json:"withUserId"`
}

// ErrorPayload is sent back to the originating connection when an event fails.
type ErrorPayload struct {
	Event   string `json:"event"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Envelope{Event: event, Data: raw})
}
