// Cotonestrum
// Sync core of the emoji moderation console

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	httpapi "github.com/Secineralyr/Cotonestrum/internal/api/http"
	"github.com/Secineralyr/Cotonestrum/internal/client"
	"github.com/Secineralyr/Cotonestrum/internal/config"
	"github.com/Secineralyr/Cotonestrum/internal/db"
	"github.com/Secineralyr/Cotonestrum/internal/db/repository"
	"github.com/Secineralyr/Cotonestrum/internal/events"
	"github.com/Secineralyr/Cotonestrum/internal/journal"
	"github.com/Secineralyr/Cotonestrum/internal/metrics"
	"github.com/Secineralyr/Cotonestrum/internal/reducer"
	"github.com/Secineralyr/Cotonestrum/internal/registry"
	"github.com/Secineralyr/Cotonestrum/internal/scheduler"
)

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (YAML)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Cotonestrum",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("environment", cfg.Env),
		zap.String("server", cfg.Server.Address),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Application error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Cotonestrum stopped")
}

// run initializes and runs all application components.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var wg sync.WaitGroup
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer func() {
		stopWorkers()
		wg.Wait()
	}()

	// 1. Metrics
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)

	// 2. Journal
	recent := journal.NewMemorySink(cfg.Journal.Recent)
	sinks := journal.Multi{journal.NewZapSink(logger), recent}
	var reader journal.Reader = recent

	var pool *db.Pool
	if cfg.Journal.Enabled() {
		logger.Info("Connecting to PostgreSQL...")
		p, err := db.NewPool(ctx, &cfg.Journal, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to journal database: %w", err)
		}
		defer p.Close()
		if err := p.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate journal database: %w", err)
		}
		pool = p

		persisted := journal.NewRepositorySink(repository.NewJournalRepository(pool), 0, cfg.Journal.Retain, logger)
		wg.Add(1)
		go persisted.Run(workerCtx, &wg)
		sinks = append(sinks, persisted)
		reader = persisted
		logger.Info("Journal persisted to PostgreSQL")
	}

	// 3. Registry, reducer and connection
	red := reducer.New(registry.New(), sinks, m, logger)
	conn := client.New(red, sinks, m, client.Options{
		HandshakeTimeout: cfg.Server.HandshakeTimeoutDuration(),
		WriteTimeout:     cfg.Server.WriteTimeoutDuration(),
		PingPeriod:       cfg.Server.PingPeriodDuration(),
		ReadLimit:        cfg.Server.ReadLimit,
		AutoFetch:        cfg.Server.AutoFetch,
		SendBuffer:       client.DefaultOptions().SendBuffer,
	}, logger)

	// 4. Change feed publisher (RabbitMQ)
	var publisher events.Publisher
	if cfg.RabbitMQ.Enabled() {
		logger.Info("Connecting to RabbitMQ...")
		p, err := events.NewRabbitMQPublisher(&cfg.RabbitMQ, logger)
		if err != nil {
			logger.Warn("Failed to connect to RabbitMQ, using no-op publisher", zap.Error(err))
			publisher = events.NewNoOpPublisher()
		} else {
			publisher = p
			defer p.Close()
		}
	} else {
		logger.Info("RabbitMQ not configured, using no-op publisher")
		publisher = events.NewNoOpPublisher()
	}

	forwarder := events.NewForwarder(publisher, cfg.RabbitMQ.QueueSize, logger)
	defer forwarder.Attach(red)()
	wg.Add(1)
	go forwarder.Run(workerCtx, &wg)

	// 5. Local change hub
	hub := httpapi.NewHub(logger)
	go hub.Run()
	defer hub.Shutdown()
	defer hub.Attach(red)()

	defer conn.OnStateChange(func(state client.State, cause error) {
		address := conn.Address().String()
		hub.BroadcastConnection(state.String(), address, cause)
		forwarder.Connection(state.String(), address, cause)
	})()

	// 6. Resync scheduler
	var resync *scheduler.ResyncScheduler
	if cfg.Resync.Enabled {
		s, err := scheduler.NewResyncScheduler(conn, cfg.Resync.Cron, logger)
		if err != nil {
			return fmt.Errorf("failed to create resync scheduler: %w", err)
		}
		s.Start()
		defer s.Stop()
		resync = s
		logger.Info("Resync scheduler started", zap.String("cron", cfg.Resync.Cron))
	}

	// 7. HTTP server (health/metrics + status API)
	var httpServer *httpapi.Server
	if cfg.HTTP.Enabled {
		httpapi.Version = Version
		httpAddr := fmt.Sprintf(":%d", cfg.HTTP.Port)
		httpServer = httpapi.NewServer(httpAddr, conn, hub, promRegistry, logger)
		httpServer.SetJournal(reader)
		if resync != nil {
			httpServer.SetResync(resync)
		}
		if pool != nil {
			httpServer.SetDatabase(pool)
		}

		go func() {
			if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", zap.Error(err))
			}
		}()
	}

	// 8. Connect and log in
	if err := conn.Connect(ctx, cfg.Server.Address); err != nil {
		logger.Error("Failed to connect to moderation server", zap.Error(err))
	} else if cfg.Server.Token != "" {
		level, err := conn.Authenticate(ctx, cfg.Server.Token)
		if err != nil {
			logger.Error("Authentication failed", zap.Error(err))
		} else {
			logger.Info("Logged in", zap.Stringer("level", level))
		}
	}

	logger.Info("Cotonestrum initialized and running")

	<-ctx.Done()

	logger.Info("Shutting down Cotonestrum...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", zap.Error(err))
		}
		logger.Info("HTTP server stopped")
	}

	if err := conn.Disconnect(); err != nil {
		logger.Error("Error closing connection", zap.Error(err))
	}
	logger.Info("Connection closed")

	// Flush queued events and journal entries before the publisher and
	// pool are closed.
	stopWorkers()
	wg.Wait()
	logger.Info("Workers stopped")

	return nil
}

// initLogger initializes the zap logger based on configuration.
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Logging.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Logging.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if cfg.Logging.OutputPath != "" {
		zapCfg.OutputPaths = []string{cfg.Logging.OutputPath}
	}

	return zapCfg.Build()
}
