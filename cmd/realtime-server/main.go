package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/antoine2025-ux/lumi-work-os-sub004/internal/auth"
	"github.com/antoine2025-ux/lumi-work-os-sub004/internal/config"
	"github.com/antoine2025-ux/lumi-work-os-sub004/internal/realtime"
	"github.com/antoine2025-ux/lumi-work-os-sub004/internal/storage"
	"github.com/antoine2025-ux/lumi-work-os-sub004/internal/telemetry"
	"github.com/antoine2025-ux/lumi-work-os-sub004/internal/transport/ws"
)

func main() {
	ctx := context.Background()

	otelShutdown, err := telemetry.Init(ctx)
	if err != nil {
		slog.Error("Failed to initialize OpenTelemetry", "error", err)
		os.Exit(1)
	}
	defer otelShutdown(ctx)

	cfg := config.FromEnv()
	slog.Info("Starting realtime server", "listen", cfg.ListenAddr)

	store, err := storage.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		slog.Error("Failed to ensure schema", "error", err)
		os.Exit(1)
	}

	verifier, err := auth.NewVerifier(cfg.JWKSURL, cfg.JWTIssuer)
	if err != nil {
		slog.Error("Failed to initialize token verifier", "error", err)
		os.Exit(1)
	}
	defer verifier.Close()

	// The relay is optional: without NATS_URL this instance fans out
	// purely in-process.
	var nc *nats.Conn
	var relay *realtime.Relay
	if cfg.NATSURL != "" {
		for attempt := 1; attempt <= 30; attempt++ {
			nc, err = nats.Connect(cfg.NATSURL,
				nats.UserInfo(cfg.NATSUser, cfg.NATSPass),
				nats.Name("realtime-server"),
				nats.MaxReconnects(-1),
				nats.ReconnectWait(2*time.Second),
			)
			if err == nil {
				break
			}
			slog.Info("Waiting for NATS", "attempt", attempt, "error", err)
			time.Sleep(2 * time.Second)
		}
		if err != nil {
			slog.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		slog.Info("Connected to NATS", "url", nc.ConnectedUrl())
		relay = realtime.NewRelay(nc, uuid.NewString())
	}

	registry := realtime.NewRegistry()
	rooms := realtime.NewRooms()
	editing := realtime.NewEditingSessions()

	var dispatcher *realtime.Dispatcher
	if relay != nil {
		dispatcher = realtime.NewDispatcher(registry, rooms, relay)
	} else {
		dispatcher = realtime.NewDispatcher(registry, rooms, nil)
	}
	gateway := realtime.NewGateway(store, verifier, dispatcher)
	presence := realtime.NewPresence(registry, rooms, dispatcher)
	hub := realtime.NewHub(registry, rooms, editing, dispatcher, gateway, presence)

	if relay != nil {
		if err := relay.Start(dispatcher); err != nil {
			slog.Error("Failed to start broadcast relay", "error", err)
			os.Exit(1)
		}
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.AwayAfter > 0 {
		go presence.RunAwaySweep(sigCtx, cfg.AwayAfter, cfg.AwaySweepInterval)
		slog.Info("Auto-away sweep enabled", "after", cfg.AwayAfter, "interval", cfg.AwaySweepInterval)
	}

	wsServer := ws.NewServer(hub, verifier, cfg.HandshakeTimeout)
	mux := http.NewServeMux()
	mux.Handle("/ws", wsServer)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()
	slog.Info("Realtime server ready", "listen", cfg.ListenAddr)

	<-sigCtx.Done()
	slog.Info("Shutting down realtime server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	// Live websocket connections are hijacked, so srv.Shutdown alone
	// would leave them hanging: run their disconnect cascades and send
	// close frames first.
	wsServer.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown error", "error", err)
	}
	if nc != nil {
		nc.Drain()
	}
	slog.Info("Realtime server shutdown complete")
}
