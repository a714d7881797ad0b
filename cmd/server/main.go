package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"room-relay/internal"
	"room-relay/observability"
	"room-relay/protocol"
	"room-relay/repositories"
	"room-relay/runtime"
	"room-relay/runtime/workers"
	ws "room-relay/websocket"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const shutdownTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle, and centralizes
// error reporting, so every defer (database close included) executes before the
// process exits.
func run() (int, error) {
	// 1. Configuration & Logger
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using environment variables")
	}
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Relay core
	gateway := repositories.NewBadgerGateway(db, logger)
	registry := runtime.NewRegistry()
	lifecycle := runtime.NewLifecycle()
	monitor := observability.NewMonitor()
	broker := runtime.NewBroker(logger, registry, lifecycle, gateway, monitor,
		config.HistoryLimit, config.DeleteEmptyRooms)
	handler := protocol.NewHandler(broker, logger)

	if logger.Enabled(ctx, slog.LevelDebug) {
		endpoint := "/inspect"
		logger.Info("Debug inspector available",
			"url", fmt.Sprintf("http://localhost:%d%s", config.DebugPort, endpoint))
		internal.StartDebugServer(db, config.DebugPort, endpoint, internal.DefaultMapper, func() map[string]any {
			rooms, clients := registry.Counts()
			return map[string]any{"LiveRooms": rooms, "Clients": clients}
		})
	}

	// 4. Background workers
	supervisor := workers.NewSupervisor(logger)
	supervisor.Add(
		workers.NewTelemetryWorker(logger, registry, monitor, config.MetricInterval),
		workers.NewGCWorker(db, logger, config.GCInterval),
	)
	go supervisor.Run(ctx)
	defer supervisor.Stop()

	// 5. HTTP surface
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(broker, handler, logger, config))
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/stats", statsHandler(registry, monitor))

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler: mux,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Relay listening", "addr", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return exitRuntime, fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Relay shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return exitRuntime, fmt.Errorf("shutdown error: %w", err)
	}
	return exitOK, nil
}

func wsHandler(broker *runtime.Broker, handler *protocol.Handler, logger *slog.Logger, config internal.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("Upgrade error", "err", err)
			return
		}

		// Short server-assigned hash, unique per socket lifetime.
		id := uuid.NewString()[:13]
		conn := ws.NewConn(id, socket, broker, handler, logger,
			config.ConnectionBufferSize, config.WriteTimeout)
		conn.Start()
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func statsHandler(registry *runtime.Registry, monitor *observability.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		rooms, clients := registry.Counts()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"rooms":    rooms,
			"clients":  clients,
			"counters": monitor.Snapshot(),
		})
	}
}
