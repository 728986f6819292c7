package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/crosstalk/relay/adapters/translate"
	"github.com/crosstalk/relay/internal/api"
	"github.com/crosstalk/relay/internal/config"
	"github.com/crosstalk/relay/internal/metrics"
	"github.com/crosstalk/relay/internal/relay"
	"github.com/crosstalk/relay/internal/upstream"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// One upstream transcription session per relay session.
	dialer := func(ctx context.Context) (relay.UpstreamStream, error) {
		return upstream.Dial(ctx, upstream.Config{
			URL:              cfg.Upstream.URL,
			APIKey:           cfg.Upstream.APIKey,
			Model:            cfg.Upstream.Model,
			StreamingDelayMs: cfg.Upstream.StreamingDelayMs,
		}, logger)
	}

	relayServer := relay.NewServer(dialer, cfg.Upstream.HandshakeTimeout, cfg.Upstream.AudioQueueCap, m, logger)

	translator := translate.NewMistral(translate.Config{
		BaseURL: cfg.Translate.BaseURL,
		APIKey:  cfg.Translate.APIKey,
		Model:   cfg.Translate.Model,
	}, logger)

	// Initialize API routes; the Mistral client serves both translation and
	// summarization.
	api.InitRoutes(e, relayServer, translator, translator, m, registry, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Relay server started",
		zap.String("port", cfg.Server.Port),
		zap.String("upstream", cfg.Upstream.URL))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	relayServer.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
