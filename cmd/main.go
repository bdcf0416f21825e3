package main

import (
	"context"
	"errors"
	"fmt"
	"meet-signal/domain/event"
	"meet-signal/infrastructure/api"
	grpcserver "meet-signal/infrastructure/grpc/server"
	"meet-signal/infrastructure/ws"
	"meet-signal/internal"
	"meet-signal/observability"
	"meet-signal/repositories"
	"meet-signal/runtime"
	"meet-signal/runtime/workers"
	"meet-signal/turn"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	serr "meet-signal/errors"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"golang.org/x/sync/errgroup"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Coordinator terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal or a server failure.
// Deferred cleanups always run before the exit code is returned.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	policy, err := config.Policy()
	if err != nil {
		return exitConfig, err
	}
	log := logs.GetLoggerFromString(config.LogLevel)
	debug := strings.EqualFold(config.LogLevel, "DEBUG")

	turnGenerator, err := turn.NewGenerator(turn.Config{
		SharedSecret:   config.TurnSharedSecret,
		TTL:            config.TurnTTL,
		UsernamePrefix: config.TurnUsernamePrefix,
		TurnURLs:       internal.SplitURLs(config.TurnURLs),
		StunURLs:       internal.SplitURLs(config.StunURLs),
	})
	switch {
	case errors.Is(err, serr.ErrTurnNotConfigured):
		log.Warn("TURN not configured, clients will receive a null token")
	case err != nil:
		return exitConfig, err
	}

	// 2. Database (BadgerDB)
	opts := badger.DefaultOptions(config.BadgerFilepath).WithLoggingLevel(badger.WARNING)
	if config.BadgerInMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.WARNING)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Coordinator
	telemetry := make(chan event.Event, config.TelemetryBufferSize)
	monitoring := observability.NewMonitoringManager(log)
	registry := runtime.NewRegistry()
	coordinator := runtime.NewCoordinator(
		log,
		registry,
		repositories.NewRoomRepository(db, log),
		workers.NewSupervisor(log, telemetry, config.RestartInterval),
		monitoring,
		telemetry,
		runtime.Options{
			CapacityPolicy:       policy,
			RoomQueueSize:        config.RoomQueueSize,
			SinkTimeout:          config.SinkTimeout,
			MetricInterval:       config.MetricInterval,
			LowCapacityThreshold: config.LowCapacityThreshold,
		},
	)

	// 4. Servers
	router := api.NewServer(api.Params{
		Log:         log,
		Coordinator: coordinator,
		WebSocket:   ws.NewServer(log, coordinator, config.ConnectionBufferSize, int64(config.MaxMessageSize)),
		Turn:        turnGenerator,
		Stats:       func() any { return coordinator.Stats() },
		DB:          db,
		Debug:       debug,
	})

	adminAddress := fmt.Sprintf("%s:%d", config.Host, config.AdminPort)
	adminListener, err := net.Listen("tcp", adminAddress)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", adminAddress, err)
	}
	healthServer := grpcserver.NewHealthServer(log)

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		coordinator.Start(gCtx)
		return nil
	})
	g.Go(func() error {
		return healthServer.Serve(adminListener)
	})
	g.Go(func() error {
		address := fmt.Sprintf("%s:%d", config.Host, config.Port)
		log.Info("Starting HTTP server", "address", address, "at", time.Now().UTC())
		if err := router.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	healthServer.SetServing(true)

	// 6. Wait for Stop or Error, then shut everything down
	g.Go(func() error {
		<-gCtx.Done()
		log.Info("Shutting down gracefully...")
		healthServer.SetServing(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		if err := router.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP shutdown incomplete", "error", err)
		}
		coordinator.Stop()
		healthServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		return exitRuntime, err
	}
	log.Info("Program stopped cleanly")
	return exitOK, nil
}
