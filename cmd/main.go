package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mahiavincent123-commits/skill-in/internal/chat"
	"github.com/mahiavincent123-commits/skill-in/internal/config"
	"github.com/mahiavincent123-commits/skill-in/internal/handlers"
	"github.com/mahiavincent123-commits/skill-in/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("invalid configuration")
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}
	logger = logger.Level(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	messages, err := store.Open(ctx, cfg.Store, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("message store unavailable")
	}
	defer messages.Close()

	// 聊天管理器：在线状态 + 房间 + 消息路由
	manager := chat.NewManager(messages, chat.NewPresence(cfg.LastSeenLimit), logger)
	h := handlers.NewHandler(manager, cfg.SendBuffer, logger)
	app := handlers.NewApp(h, cfg.CORSOrigins, logger)

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("store", cfg.Store.Driver).
			Msg("starting chat relay")

		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	logger.Info().Msg("server stopped")
}
