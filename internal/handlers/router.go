package handlers

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewApp wires every route onto a fresh fiber app.
func NewApp(h *Handler, corsOrigins string, logger zerolog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{AllowOrigins: corsOrigins, AllowMethods: "GET,POST"}))
	app.Use(RequestLogger(logger))

	// WS
	app.Use("/ws", h.RequireUpgrade)
	app.Get("/ws", websocket.New(h.Connect))

	// APIs
	app.Get("/messages/:userId/:receiverId", h.HistoryHandler)
	app.Post("/messages/read", h.MarkReadHandler)
	app.Get("/online", h.OnlineHandler)
	app.Get("/api/clients", h.ShowClientsHandler) // ?exclude=connIdOrUserId

	app.Get("/healthz", h.HealthHandler)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return app
}
