// VigilGo is a cloud resource monitoring and alerting service. It ingests
// metric samples and security records, evaluates them against threshold
// rules and detection patterns, and manages alert lifecycle with hysteresis,
// notification dispatch, and a tamper-evident audit trail.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"vigil-go/internal/api"
	"vigil-go/internal/audit"
	"vigil-go/internal/banner"
	"vigil-go/internal/config"
	"vigil-go/internal/ingest"
	"vigil-go/internal/manager"
	"vigil-go/internal/notify"
	"vigil-go/internal/processor"
	"vigil-go/internal/queue"
	kafkaqueue "vigil-go/internal/queue/kafka"
	memqueue "vigil-go/internal/queue/memory"
	"vigil-go/internal/store"
	memstore "vigil-go/internal/store/memory"
	"vigil-go/internal/store/postgres"
	redisstore "vigil-go/internal/store/redis"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(&cfg.Logger)
	slog.SetDefault(logger)

	banner.Print()
	logger.Info("starting vigil",
		"version", banner.Version,
		"storage_mode", cfg.Storage.Mode,
		"address", cfg.Server.Address(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	// Evaluation pipeline.
	processorErr := make(chan error, 1)
	go func() {
		processorErr <- deps.processor.Start(ctx)
	}()

	// Rule hot reload. Edits take effect for subsequent samples only.
	go func() {
		err := config.WatchRules(ctx, cfg.Rules.Path, logger, func(rf *config.RulesFile) {
			deps.manager.SetRules(rf.Rules, rf.Patterns)
		})
		if err != nil && ctx.Err() == nil {
			logger.Error("rules watcher stopped", "error", err)
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- deps.server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("HTTP server failed", "error", err)
	case err := <-processorErr:
		if err != nil && ctx.Err() == nil {
			logger.Error("processor failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()

	if err := deps.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down HTTP server", "error", err)
	}

	logger.Info("vigil stopped")
}

// dependencies holds the wired application components.
type dependencies struct {
	server    *api.Server
	processor *processor.Service
	manager   *manager.Manager
}

// initLogger creates the application logger from config.
func initLogger(cfg *config.LoggerConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// initDependencies wires all application components based on the storage
// mode. Returns the dependencies, a cleanup function that releases resources
// in reverse order, and an error if any component fails to initialize.
func initDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*dependencies, func(), error) {
	var cleanupFuncs []func()
	cleanup := func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			cleanupFuncs[i]()
		}
	}

	var (
		alerts       store.AlertStore
		attempts     store.AttemptStore
		auditBackend audit.Backend
		producer     queue.Producer
		consumer     queue.Consumer
	)

	if cfg.Storage.UseMemory() {
		logger.Info("using in-memory storage")
		alerts = memstore.NewAlertStore()
		attempts = memstore.NewAttemptStore()
		auditBackend = audit.NewMemoryBackend()

		q := memqueue.NewQueue(1024)
		producer = q
		consumer = q
		cleanupFuncs = append(cleanupFuncs, func() { _ = q.Close() })
	} else {
		logger.Info("using storage backends",
			"alert_backend", cfg.Storage.AlertBackend,
			"kafka_brokers", cfg.Kafka.Brokers,
		)

		db, err := postgres.NewDB(ctx, &cfg.Postgres)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		cleanupFuncs = append(cleanupFuncs, db.Close)

		if err := db.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		attempts = postgres.NewAttemptStore(db)
		auditBackend = postgres.NewAuditBackend(db)

		switch cfg.Storage.AlertBackend {
		case config.AlertBackendRedis:
			redisAlerts, err := redisstore.NewAlertStore(&cfg.Redis)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
			}
			alerts = redisAlerts
		default:
			alerts = postgres.NewAlertStore(db)
		}
		cleanupFuncs = append(cleanupFuncs, func() { _ = alerts.Close() })

		kafkaProducer := kafkaqueue.NewProducer(&cfg.Kafka)
		producer = kafkaProducer
		cleanupFuncs = append(cleanupFuncs, func() { _ = kafkaProducer.Close() })

		kafkaConsumer := kafkaqueue.NewConsumer(&cfg.Kafka, logger)
		consumer = kafkaConsumer
		cleanupFuncs = append(cleanupFuncs, func() { _ = kafkaConsumer.Close() })
	}

	auditLog, err := audit.NewLog(ctx, auditBackend)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	channels, resolveChannels, err := buildChannels(cfg.Notify.Channels)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if len(channels) == 0 {
		logger.Warn("no notification channels configured")
	}

	dispatcher := notify.NewDispatcher(attempts, notify.Options{
		MaxAttempts: cfg.Notify.MaxAttempts,
		BackoffBase: cfg.Notify.BackoffBase,
		SendTimeout: cfg.Notify.SendTimeout,
	}, logger)

	mgr := manager.New(manager.Deps{
		Alerts:          alerts,
		Attempts:        attempts,
		Audit:           auditLog,
		Dispatcher:      dispatcher,
		Channels:        channels,
		ResolveChannels: resolveChannels,
		Logger:          logger,
	}, manager.Options{
		TransitionRetries:  cfg.Pipeline.TransitionRetries,
		RenotifyInterval:   cfg.Notify.RenotifyInterval,
		NotifyAcknowledged: cfg.Notify.NotifyAcknowledged,
	})

	rf, err := config.LoadRules(cfg.Rules.Path)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to load rules: %w", err)
	}
	mgr.SetRules(rf.Rules, rf.Patterns)
	logger.Info("rules loaded", "path", cfg.Rules.Path, "rules", len(rf.Rules), "patterns", len(rf.Patterns))

	ingestService := ingest.NewService(producer, logger)
	processorService := processor.NewService(consumer, mgr, logger)

	server := api.NewServer(api.ServerDeps{
		Config:          &cfg.Server,
		Logger:          logger,
		Health:          processorService,
		LagBound:        cfg.Pipeline.LagBound,
		IngestHandler:   api.NewIngestHandler(ingestService, logger),
		AlertHandler:    api.NewAlertHandler(alerts, mgr, logger),
		AuditHandler:    api.NewAuditHandler(auditLog, logger),
		ResourceHandler: api.NewResourceHandler(mgr, logger),
	})

	return &dependencies{
		server:    server,
		processor: processorService,
		manager:   mgr,
	}, cleanup, nil
}

// buildChannels constructs notification channels from config. The second
// return value is the subset that also receives resolution events.
func buildChannels(configs []config.ChannelConfig) ([]notify.Channel, []notify.Channel, error) {
	var channels, resolveChannels []notify.Channel
	for _, cc := range configs {
		var ch notify.Channel
		switch cc.Type {
		case "webhook":
			ch = notify.NewWebhookChannel(cc.Name, cc.URL)
		case "slack":
			ch = notify.NewSlackChannel(cc.Name, cc.URL)
		case "email":
			ch = notify.NewEmailChannel(cc.Name, cc.SMTPAddr, cc.Username, cc.Password, cc.From, cc.Recipients)
		default:
			return nil, nil, fmt.Errorf("unknown channel type %q for channel %q", cc.Type, cc.Name)
		}
		channels = append(channels, ch)
		if cc.NotifyResolved {
			resolveChannels = append(resolveChannels, ch)
		}
	}
	return channels, resolveChannels, nil
}
