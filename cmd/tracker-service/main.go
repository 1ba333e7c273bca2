package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/analysis-tracker/internal/config"
	"github.com/cuongbtq/analysis-tracker/internal/storage"
	"github.com/cuongbtq/analysis-tracker/internal/tracker"
	"github.com/cuongbtq/analysis-tracker/internal/worker"
	"github.com/cuongbtq/analysis-tracker/shared/database"
	"github.com/cuongbtq/analysis-tracker/shared/logger"
	"github.com/cuongbtq/analysis-tracker/shared/rabbitmq"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("TRACKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/tracker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateTrackerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging.LoggerConfig(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	appLogger = appLogger.With(slog.String("service", "tracker-service"))

	appLogger.Info("Starting tracker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := database.NewClient(cfg.Database.ClientConfig(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established", slog.String("driver", dbClient.Driver()))

	store := storage.NewStorage(dbClient, appLogger.Logger)
	if cfg.Database.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := store.Migrate(migrateCtx)
		cancel()
		if err != nil {
			return err
		}
	}

	// closed before the database so unacked deliveries are requeued first
	rabbitClient, err := rabbitmq.NewClient(cfg.RabbitMQ.ClientConfig(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	backend, err := tracker.NewClient(tracker.ClientConfig{
		BaseURL:        cfg.Backend.BaseURL,
		RequestTimeout: cfg.Backend.RequestTimeout,
		UserAgent:      cfg.App.Name + "/" + cfg.App.Version,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize backend client: %w", err)
	}

	w := worker.NewWorker(&worker.Config{
		Logger:              appLogger.Logger,
		Store:               store,
		Broker:              rabbitClient,
		Backend:             backend,
		Tracker:             cfg.Tracker.PollingConfig(),
		WorkerID:            newWorkerID(),
		Concurrency:         cfg.Worker.Concurrency,
		CancelCheckInterval: cfg.Worker.CancelCheckInterval,
		EventsPrefix:        cfg.RabbitMQ.EventsKey,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("worker failed: %w", err)
	}
	stop()

	appLogger.Info("Shutting down tracker service", slog.Duration("timeout", cfg.Worker.ShutdownTimeout))

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		appLogger.Info("Tracker service shutdown complete")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	return nil
}

// newWorkerID combines the hostname with a random suffix so replicas on one host stay distinct
func newWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "tracker"
	}
	return host + "-" + uuid.NewString()[:8]
}
