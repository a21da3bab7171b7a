package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mahiavincent123-commits/skill-in/internal/metrics"
	"github.com/mahiavincent123-commits/skill-in/internal/models"
	"github.com/mahiavincent123-commits/skill-in/internal/store"
)

type eventHandler func(ctx context.Context, c *Client, data json.RawMessage) error

// ChatManager routes inbound events to presence, rooms and the message store
// and fans outbound frames out to connections.
//
// mu guards clients and rooms. Presence mutations that feed a broadcast run
// while mu is held so every connection sees snapshots in mutation order.
type ChatManager struct {
	mu sync.RWMutex

	clients  map[string]*Client // conn id -> client
	rooms    *Rooms
	presence *Presence
	store    store.MessageStore

	handlers map[string]eventHandler
	log      zerolog.Logger
	now      func() time.Time
}

func NewManager(s store.MessageStore, p *Presence, logger zerolog.Logger) *ChatManager {
	m := &ChatManager{
		clients:  map[string]*Client{},
		rooms:    NewRooms(),
		presence: p,
		store:    s,
		log:      logger,
		now:      time.Now,
	}
	m.handlers = map[string]eventHandler{
		EventJoin:        m.handleJoin,
		EventSendMessage: m.handleSend,
		EventMarkAsRead:  m.handleMarkAsRead,
		EventLeave:       m.handleLeave,
	}
	return m
}

// Register adds a freshly opened, unbound connection.
func (m *ChatManager) Register(c *Client) {
	m.mu.Lock()
	m.clients[c.ID] = c
	m.mu.Unlock()
	metrics.ConnectionsOpen.Inc()
	c.logger().Debug().Msg("connection opened")
}

// Disconnect closes the session. Only the first call per client has effect.
func (m *ChatManager) Disconnect(c *Client) {
	c.closeOnce.Do(func() {
		m.mu.Lock()
		delete(m.clients, c.ID)
		m.rooms.LeaveAll(c)
		userID, bound := c.markClosed()
		if bound {
			m.broadcastPresenceLocked(m.presence.MarkOffline(userID))
		}
		m.mu.Unlock()

		metrics.ConnectionsOpen.Dec()
		c.logger().Info().Bool("was_bound", bound).Msg("connection closed")
	})
}

// Dispatch decodes one inbound frame and runs its handler. Failures are
// reported to c as an error frame; a panicking handler is contained to the event.
func (m *ChatManager) Dispatch(ctx context.Context, c *Client, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.fail(c, protocolErr("", "malformed frame"))
		return
	}

	h, ok := m.handlers[env.Event]
	if !ok {
		m.fail(c, protocolErr(env.Event, "unknown event"))
		return
	}

	err := m.safeHandle(ctx, h, c, env.Data)
	metrics.EventsTotal.WithLabelValues(env.Event, kindOf(err)).Inc()
	if err != nil {
		m.fail(c, err)
	}
}

func (m *ChatManager) safeHandle(ctx context.Context, h eventHandler, c *Client, data json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger().Error().Interface("panic", r).Msg("event handler panicked")
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, c, data)
}

func (m *ChatManager) fail(c *Client, err error) {
	payload := ErrorPayload{Kind: kindOf(err), Message: "internal error"}
	var ee *EventError
	if errors.As(err, &ee) {
		payload.Event = ee.Event
		payload.Message = ee.Message
	}

	l := c.logger()
	if errors.Is(err, ErrPersistence) || payload.Kind == "internal" {
		l.Error().Err(err).Msg("event failed")
	} else {
		l.Debug().Err(err).Msg("event rejected")
	}

	frame, encErr := encodeFrame(EventErrorFrame, payload)
	if encErr != nil {
		return
	}
	m.deliver(c, frame)
}

func (m *ChatManager) handleJoin(_ context.Context, c *Client, data json.RawMessage) error {
	var identity string
	if err := json.Unmarshal(data, &identity); err != nil {
		return validationErr(EventJoin, "join expects an identity string")
	}
	return m.Join(c, identity)
}

// Join binds c to identity, puts it in the identity's room, marks the
// identity online and broadcasts presence to every connection.
func (m *ChatManager) Join(c *Client, identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return validationErr(EventJoin, "identity is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, bound := c.identity()
	if c.State() == StateClosed {
		return protocolErr(EventJoin, "connection closed")
	}
	if bound && current != identity && m.rooms.Has(current, c) {
		return protocolErr(EventJoin, fmt.Sprintf("already joined as %q, leave that room first", current))
	}

	c.bind(identity)
	m.rooms.Join(identity, c)
	m.broadcastPresenceLocked(m.presence.MarkOnline(identity))
	c.logger().Info().Msg("joined")
	return nil
}

func (m *ChatManager) handleSend(ctx context.Context, c *Client, data json.RawMessage) error {
	var p SendPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return validationErr(EventSendMessage, "malformed sendMessage payload")
	}
	_, err := m.SendMessage(ctx, c, p)
	return err
}

// SendMessage persists a message from the bound identity and delivers it to
// the receiver's room, echoes it to c and notifies the receiver's room.
// Nothing is emitted when the store rejects the message.
func (m *ChatManager) SendMessage(ctx context.Context, c *Client, p SendPayload) (*models.Message, error) {
	sender, bound := c.identity()
	if !bound {
		return nil, protocolErr(EventSendMessage, "join before sending")
	}
	if p.SenderID != "" && p.SenderID != sender {
		return nil, validationErr(EventSendMessage, "senderId does not match the joined identity")
	}
	receiver := strings.TrimSpace(p.ReceiverID)
	if receiver == "" {
		return nil, validationErr(EventSendMessage, "receiverId is required")
	}
	body := strings.TrimSpace(p.Text)
	if body == "" {
		return nil, validationErr(EventSendMessage, "text is required")
	}
	kind, err := models.ParseKind(p.Type)
	if err != nil {
		return nil, validationErr(EventSendMessage, err.Error())
	}

	stored, err := m.store.Append(ctx, &models.Message{
		ChatID:     models.ConversationID(sender, receiver),
		SenderID:   sender,
		ReceiverID: receiver,
		Body:       body,
		Kind:       kind,
	})
	if err != nil {
		return nil, persistenceErr(EventSendMessage, err)
	}
	metrics.MessagesStored.Inc()

	msgFrame, err := encodeFrame(EventReceiveMessage, stored)
	if err != nil {
		return nil, err
	}
	noteFrame, err := encodeFrame(EventNotification, models.Notification{
		From: sender,
		Text: body,
		Time: m.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	m.emitLocked(receiver, msgFrame)
	m.deliver(c, msgFrame)
	m.emitLocked(receiver, noteFrame)
	m.mu.RUnlock()

	c.logger().Debug().Str("to", receiver).Str("message_id", stored.ID).Msg("message sent")
	return stored, nil
}

func (m *ChatManager) handleMarkAsRead(ctx context.Context, c *Client, data json.RawMessage) error {
	var p MarkReadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return validationErr(EventMarkAsRead, "malformed markAsRead payload")
	}
	reader, bound := c.identity()
	if !bound {
		return protocolErr(EventMarkAsRead, "join before marking messages read")
	}
	if p.UserID != "" && p.UserID != reader {
		return validationErr(EventMarkAsRead, "userId does not match the joined identity")
	}
	_, err := m.MarkRead(ctx, reader, p.WithUserID)
	return err
}

// MarkRead flags every unread message from other to reader as read.
func (m *ChatManager) MarkRead(ctx context.Context, reader, other string) (int64, error) {
	reader, other = strings.TrimSpace(reader), strings.TrimSpace(other)
	if reader == "" || other == "" {
		return 0, validationErr(EventMarkAsRead, "both participants are required")
	}
	n, err := m.store.MarkRead(ctx, reader, other)
	if err != nil {
		return 0, persistenceErr(EventMarkAsRead, err)
	}
	m.log.Debug().Str("reader", reader).Str("with", other).Int64("updated", n).Msg("messages marked read")
	return n, nil
}

func (m *ChatManager) handleLeave(_ context.Context, c *Client, data json.RawMessage) error {
	var room string
	if err := json.Unmarshal(data, &room); err != nil {
		return validationErr(EventLeave, "leave expects a room name")
	}
	return m.Leave(c, room)
}

// Leave marks the bound identity offline, broadcasts presence and removes c
// from room, which need not be the identity's own room.
func (m *ChatManager) Leave(c *Client, room string) error {
	userID, bound := c.identity()
	if !bound {
		return protocolErr(EventLeave, "join before leaving")
	}
	room = normalizeRoom(room)
	if room == "" {
		return validationErr(EventLeave, "room is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcastPresenceLocked(m.presence.MarkOffline(userID))
	m.rooms.Leave(room, c)
	c.logger().Info().Str("room", room).Msg("left room")
	return nil
}

// History returns the conversation between a and b, oldest first.
func (m *ChatManager) History(ctx context.Context, a, b string) ([]models.Message, error) {
	msgs, err := m.store.ListByConversation(ctx, models.ConversationID(a, b))
	if err != nil {
		return nil, persistenceErr("history", err)
	}
	return msgs, nil
}

func (m *ChatManager) OnlineUsers() models.PresenceSnapshot {
	return m.presence.Snapshot()
}

// Ping checks the message store.
func (m *ChatManager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// 在线连接列表（可排除自己：按连接 id 或身份）
type ClientJson struct {
	Id     string `json:"id"`
	UserID string `json:"userId,omitempty"`
	State  string `json:"state"`
}

func (m *ChatManager) ListClients(exclude string) []ClientJson {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ClientJson, 0, len(m.clients))
	for id, c := range m.clients {
		userID := c.UserID()
		if exclude != "" && (exclude == id || exclude == userID) {
			continue
		}
		out = append(out, ClientJson{Id: id, UserID: userID, State: c.State().String()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Id < out[j].Id
	})
	return out
}

// broadcastPresenceLocked sends snap to every connection. Callers hold mu.
func (m *ChatManager) broadcastPresenceLocked(snap models.PresenceSnapshot) {
	metrics.OnlineUsers.Set(float64(len(snap.Online)))
	frame, err := encodeFrame(EventOnlineUsers, snap)
	if err != nil {
		m.log.Error().Err(err).Msg("encode presence snapshot")
		return
	}
	for _, c := range m.clients {
		m.deliver(c, frame)
	}
}

// emitLocked sends frame to every connection in room. Callers hold mu.
func (m *ChatManager) emitLocked(room string, frame []byte) {
	for _, c := range m.rooms.Members(room) {
		m.deliver(c, frame)
	}
}

func (m *ChatManager) deliver(c *Client, frame []byte) {
	if !c.enqueue(frame) {
		metrics.FramesDropped.Inc()
		c.logger().Warn().Msg("outbound frame dropped")
	}
}
