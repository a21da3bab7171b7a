package handlers

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mahiavincent123-commits/skill-in/internal/chat"
)

// Handler holds the dependencies shared by the HTTP and websocket handlers.
type Handler struct {
	manager    *chat.ChatManager
	sendBuffer int
	log        zerolog.Logger
}

func NewHandler(manager *chat.ChatManager, sendBuffer int, logger zerolog.Logger) *Handler {
	return &Handler{manager: manager, sendBuffer: sendBuffer, log: logger}
}

// RequireUpgrade rejects plain HTTP requests on the websocket route.
func (h *Handler) RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Connect GET /ws
// The connection starts unbound; the client must send a join event first.
func (h *Handler) Connect(conn *websocket.Conn) {
	client := chat.NewClient(uuid.NewString(), conn, h.sendBuffer, h.log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.manager.Register(client)
	writerDone := make(chan struct{})
	go func() {
		client.WritePump()
		close(writerDone)
	}()

	client.ReadPump(ctx, h.manager)
	h.manager.Disconnect(client)
	<-writerDone
}

// HistoryHandler GET /messages/:userId/:receiverId
func (h *Handler) HistoryHandler(c *fiber.Ctx) error {
	userID, err1 := pathParam(c, "userId")
	receiverID, err2 := pathParam(c, "receiverId")
	if err1 != nil || err2 != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed userId or receiverId"})
	}
	if userID == "" || receiverID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing userId or receiverId"})
	}
	msgs, err := h.manager.History(c.UserContext(), userID, receiverID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Str("receiver_id", receiverID).Msg("fetch history")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch messages"})
	}
	return c.JSON(msgs)
}

// pathParam returns the percent-decoded, trimmed route parameter.
func pathParam(c *fiber.Ctx, key string) (string, error) {
	v, err := url.PathUnescape(c.Params(key))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}

type markReadRequest struct {
	UserID     string `json:"userId"`
	WithUserID string `json:"withUserId"`
}

// MarkReadHandler POST /messages/read {"userId": reader, "withUserId": other}
func (h *Handler) MarkReadHandler(c *fiber.Ctx) error {
	var req markReadRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON body"})
	}
	n, err := h.manager.MarkRead(c.UserContext(), req.UserID, req.WithUserID)
	switch {
	case errors.Is(err, chat.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing userId or withUserId"})
	case err != nil:
		h.log.Error().Err(err).Msg("mark read")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to mark messages read"})
	}
	return c.JSON(fiber.Map{"updated": n})
}

// OnlineHandler GET /online
func (h *Handler) OnlineHandler(c *fiber.Ctx) error {
	return c.JSON(h.manager.OnlineUsers())
}

// ShowClientsHandler GET /api/clients?exclude=connIdOrUserId
func (h *Handler) ShowClientsHandler(c *fiber.Ctx) error {
	ex := c.Query("exclude")
	return c.JSON(h.manager.ListClients(ex))
}

// HealthHandler GET /healthz
func (h *Handler) HealthHandler(c *fiber.Ctx) error {
	if err := h.manager.Ping(c.UserContext()); err != nil {
		h.log.Warn().Err(err).Msg("health check failed")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
