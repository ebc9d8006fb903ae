package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/svirmi/webdesk/internal/config"
	"github.com/svirmi/webdesk/internal/connection"
	"github.com/svirmi/webdesk/internal/logger"
	"github.com/svirmi/webdesk/internal/status"
	"github.com/svirmi/webdesk/internal/storage"
	"github.com/svirmi/webdesk/internal/websocket"
)

const AppVersion = "1.0.0"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default: ./webdesk.yaml if present)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger
	logger.Init(cfg.Environment, cfg.LogLevel)

	log.Info().
		Str("version", AppVersion).
		Str("environment", cfg.Environment).
		Msg(fmt.Sprintf("Starting webdesk v%s", AppVersion))

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	store, err := storage.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("Failed to open database")
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	// Connection manager: one per process, injected into every view
	publisher := status.NewPublisher(cfg.BufferSize, status.Disconnected())
	manager := connection.NewManager(connection.Options{
		URL:              cfg.UpstreamURL,
		MaxAttempts:      cfg.MaxReconnectAttempts,
		BaseDelay:        cfg.ReconnectBaseDelay,
		MaxDelay:         cfg.ReconnectMaxDelay,
		HandshakeTimeout: cfg.HandshakeTimeout,
		PingInterval:     cfg.PingInterval,
		PongWait:         cfg.PongWait,
		WriteTimeout:     cfg.WriteTimeout,
		MaxMessageSize:   cfg.MaxMessageSize,
	}, publisher)

	log.Info().
		Str("upstream_url", cfg.UpstreamURL).
		Int("max_attempts", cfg.MaxReconnectAttempts).
		Dur("base_delay", cfg.ReconnectBaseDelay).
		Msg("Configured connection manager")

	recorder := storage.NewRecorder(store, cfg.WriteTimeout)
	detachRecorder := recorder.Attach(manager.OnStatusChange)
	defer detachRecorder()

	// Initialize WebSocket hub and server
	hub := websocket.NewHub(cfg.MaxConnections, cfg.BufferSize)
	wsServer := websocket.NewServer(cfg, hub, manager, store, manager)

	// Upstream events go straight to every browser session
	manager.SetMessageHandler(hub.ForwardEvent)

	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		if err := manager.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Connection manager error")
		}
	}()

	// Start WebSocket server
	go func() {
		log.Info().Str("port", cfg.WSPort).Msg("Starting WebSocket server")
		if err := wsServer.Run(ctx); err != nil {
			log.Error().Err(err).Msg("WebSocket server error")
		}
	}()

	// Print connection information
	log.Info().
		Str("ws_url", fmt.Sprintf("ws://%s%s/ws", cfg.Host, cfg.WSPort)).
		Str("health_url", fmt.Sprintf("http://%s%s/health", cfg.Host, cfg.WSPort)).
		Str("status_url", fmt.Sprintf("http://%s%s/api/connection", cfg.Host, cfg.WSPort)).
		Msg("Server endpoints available")

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().
		Str("signal", sig.String()).
		Msg("Received shutdown signal")

	// Stop all components in reverse order
	log.Info().Msg("Initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// Shutdown sequence
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("WebSocket server shutdown error")
	}
	log.Info().Msg("Stopped WebSocket server")

	cancel()

	select {
	case <-managerDone:
		log.Info().Msg("Stopped connection manager")
	case <-shutdownCtx.Done():
		log.Warn().Msg("Shutdown timeout exceeded")
	}

	publisher.Close()
	log.Info().Msg("Graceful shutdown completed")
}
