// Package main is the entry point for the courier delivery service.
// It wires the message store, lock manager, transport, delivery engine,
// retry scheduler, cleanup collector, and the operator HTTP API, then
// runs them until a shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"courier-go/internal/api"
	"courier-go/internal/banner"
	"courier-go/internal/collector"
	"courier-go/internal/config"
	"courier-go/internal/domain"
	"courier-go/internal/engine"
	"courier-go/internal/lock"
	lockmem "courier-go/internal/lock/memory"
	lockredis "courier-go/internal/lock/redis"
	"courier-go/internal/scheduler"
	"courier-go/internal/store"
	storemem "courier-go/internal/store/memory"
	storepg "courier-go/internal/store/postgres"
	"courier-go/internal/transport"
	transportkafka "courier-go/internal/transport/kafka"
	transportmem "courier-go/internal/transport/memory"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	banner.Print()

	// Bootstrap logger for configuration errors
	logger := initLogger(&config.LoggerConfig{Level: "info", Format: "json"})

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err, "path", *configPath)
		os.Exit(1)
	}

	logger = initLogger(&cfg.Logger)
	logger.Info("configuration loaded",
		"path", *configPath,
		"storage_mode", cfg.Storage.Mode,
	)

	// Initialize dependencies based on storage mode
	deps, cleanup, err := initDependencies(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	// Create context that listens for shutdown signals
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Start the transport receive loop feeding the consume path
	go func() {
		if err := deps.receiver.Start(ctx, deps.engine.HandleDelivery); err != nil && ctx.Err() == nil {
			logger.Error("receiver error", "error", err)
			cancel()
		}
	}()

	// Start the retry scheduler
	go func() {
		if err := deps.scheduler.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("scheduler error", "error", err)
			cancel()
		}
	}()

	// Start the cleanup collector
	go func() {
		if err := deps.collector.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("collector error", "error", err)
			cancel()
		}
	}()

	// Start HTTP server
	go func() {
		if err := deps.server.Start(); err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	logger.Info("courier started",
		"address", cfg.Server.Address(),
		"storage_mode", cfg.Storage.Mode,
	)

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("shutdown signal received")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := deps.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("courier stopped")
}

// dependencies holds all initialized service dependencies.
type dependencies struct {
	engine    *engine.Engine
	receiver  transport.Receiver
	scheduler *scheduler.Scheduler
	collector *collector.Collector
	server    *api.Server
}

// initDependencies creates and wires all service dependencies based on config.
// Returns the dependencies and a cleanup function.
func initDependencies(cfg *config.Config, logger *slog.Logger) (*dependencies, func(), error) {
	var (
		messageStore store.MessageStore
		locker       lock.Locker
		sender       transport.Sender
		receiver     transport.Receiver
		cleanupFuncs []func()
	)

	if cfg.Storage.UseMemory() {
		// Initialize in-memory implementations
		logger.Info("initializing in-memory backends")

		messageStore = storemem.NewMessageStore()

		memLocker := lockmem.NewLocker()
		locker = memLocker
		cleanupFuncs = append(cleanupFuncs, func() { _ = memLocker.Close() })

		memTransport := transportmem.NewTransport(10000)
		sender = memTransport
		receiver = memTransport
		cleanupFuncs = append(cleanupFuncs, func() { _ = memTransport.Close() })
	} else {
		// Initialize real backends
		logger.Info("initializing production backends (Kafka, Redis, PostgreSQL)")

		ctx := context.Background()
		db, err := storepg.NewDB(ctx, &cfg.Postgres)
		if err != nil {
			runCleanups(cleanupFuncs)
			return nil, nil, err
		}
		cleanupFuncs = append(cleanupFuncs, db.Close)

		if err := db.RunMigrations(ctx); err != nil {
			runCleanups(cleanupFuncs)
			return nil, nil, err
		}
		messageStore = storepg.NewMessageStore(db)

		if cfg.Retry.UseStorageLock {
			redisLocker, err := lockredis.NewLocker(&cfg.Redis)
			if err != nil {
				runCleanups(cleanupFuncs)
				return nil, nil, err
			}
			locker = redisLocker
			cleanupFuncs = append(cleanupFuncs, func() { _ = redisLocker.Close() })
		}

		kafkaSender := transportkafka.NewSender(&cfg.Kafka)
		sender = kafkaSender
		cleanupFuncs = append(cleanupFuncs, func() { _ = kafkaSender.Close() })

		kafkaReceiver := transportkafka.NewReceiver(&cfg.Kafka, logger)
		receiver = kafkaReceiver
		cleanupFuncs = append(cleanupFuncs, func() { _ = kafkaReceiver.Close() })
	}

	registry := engine.NewRegistry()

	engineCfg := engine.ConfigFrom(cfg)
	engineCfg.OnExhausted = func(msg *domain.Message, lastError string) {
		logger.Error("message requires manual intervention",
			"id", msg.ID,
			"kind", msg.Kind,
			"name", msg.Name,
			"retries", msg.Retries,
			"last_error", lastError,
		)
	}

	eng := engine.NewEngine(messageStore, sender, registry, engineCfg, logger)
	sched := scheduler.NewScheduler(messageStore, eng, locker, cfg.Retry, logger)
	coll := collector.NewCollector(messageStore, cfg.Cleanup, logger)

	messageHandler := api.NewMessageHandler(messageStore, logger)
	server := api.NewServer(&cfg.Server, messageHandler, logger)

	deps := &dependencies{
		engine:    eng,
		receiver:  receiver,
		scheduler: sched,
		collector: coll,
		server:    server,
	}

	return deps, func() { runCleanups(cleanupFuncs) }, nil
}

// runCleanups runs cleanup functions in reverse order of registration.
func runCleanups(fns []func()) {
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// initLogger creates and configures the application logger.
func initLogger(cfg *config.LoggerConfig) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// parseLevel maps a config level string to a slog level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
