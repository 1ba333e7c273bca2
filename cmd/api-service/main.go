package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/analysis-tracker/internal/api/handler"
	"github.com/cuongbtq/analysis-tracker/internal/api/router"
	"github.com/cuongbtq/analysis-tracker/internal/config"
	"github.com/cuongbtq/analysis-tracker/internal/storage"
	"github.com/cuongbtq/analysis-tracker/shared/database"
	"github.com/cuongbtq/analysis-tracker/shared/logger"
	"github.com/cuongbtq/analysis-tracker/shared/rabbitmq"
	"github.com/gin-gonic/gin"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging.LoggerConfig(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	appLogger = appLogger.With(slog.String("service", "api-service"))

	appLogger.Info("Starting API service",
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

	rabbitClient, err := rabbitmq.NewClient(cfg.RabbitMQ.ClientConfig(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	r := initRouter(cfg, appLogger.Logger, dbClient, store, rabbitClient)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed to start", slog.Any("error", err))
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, dbClient *database.Client, store *storage.Storage, rabbitClient *rabbitmq.Client) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(&handler.Dependencies{
		Logger:           logger,
		Store:            store,
		Publisher:        rabbitClient,
		SubmitRoutingKey: cfg.RabbitMQ.RoutingKey,
		HealthCheck:      dbClient.HealthCheck,
	})
}
