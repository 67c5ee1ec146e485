package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/duckmesh/sqlchat/internal/api"
	"github.com/duckmesh/sqlchat/internal/auth"
	"github.com/duckmesh/sqlchat/internal/bootstrap"
	"github.com/duckmesh/sqlchat/internal/chat"
	"github.com/duckmesh/sqlchat/internal/config"
	"github.com/duckmesh/sqlchat/internal/observability"
)

func main() {
	cfg, err := config.LoadFromEnv("sqlchat-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize tracing", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	app, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = app.Close() }()

	registry := chat.NewRegistry(app.NewSession, chat.RegistryConfig{
		TTL:         cfg.Chat.SessionTTL,
		MaxSessions: cfg.Chat.MaxSessions,
	}, logger)
	go func() {
		_ = registry.Run(ctx, time.Minute)
	}()

	deps := api.Dependencies{
		Logger:            logger,
		Readiness:         api.CheckHealth(app),
		DependencyTimeout: time.Second,
		Sessions:          registry,
		Schema:            app.Schema,
	}
	if app.Transcript != nil {
		deps.Transcript = app.Transcript
	}
	if cfg.HTTP.ChatRatePerSecond > 0 {
		deps.ChatLimiter = rate.NewLimiter(rate.Limit(cfg.HTTP.ChatRatePerSecond), max(cfg.HTTP.ChatBurst, 1))
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address), slog.Any("tables", app.Schema.Names()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
	}
}
