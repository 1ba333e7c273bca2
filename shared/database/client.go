package database

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds SQL connection configuration
type Config struct {
	Driver          string
	Path            string // sqlite3 only
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Client represents a SQL database client
type Client struct {
	db     *sqlx.DB
	config *Config
	logger *slog.Logger
}

// DSN builds the driver specific data source name
func (c *Config) DSN() (string, error) {
	switch c.Driver {
	case DriverPostgres, "":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host,
			c.Port,
			c.User,
			c.Password,
			c.Database,
			c.SSLMode,
		), nil
	case DriverSQLite:
		if c.Path == "" {
			return "", fmt.Errorf("sqlite3 path is required")
		}
		params := url.Values{}
		params.Set("_busy_timeout", "5000")
		params.Set("_foreign_keys", "on")
		if !c.inMemory() {
			params.Set("_journal_mode", "WAL")
		}
		return fmt.Sprintf("file:%s?%s", c.Path, params.Encode()), nil
	default:
		return "", fmt.Errorf("unsupported database driver: %q", c.Driver)
	}
}

func (c *Config) driverName() string {
	if c.Driver == "" {
		return DriverPostgres
	}
	return c.Driver
}

func (c *Config) inMemory() bool {
	return c.Path == ":memory:" || strings.Contains(c.Path, "mode=memory")
}

// NewClient opens and verifies a connection pool for the configured driver
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	dsn, err := config.DSN()
	if err != nil {
		return nil, err
	}

	driver := config.driverName()
	if driver == DriverSQLite && !config.inMemory() {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	logger.Info("Connecting to database",
		slog.String("driver", driver),
		slog.String("host", config.Host),
		slog.String("database", config.Database),
		slog.String("path", config.Path),
	)

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		logger.Error("Failed to connect to database",
			slog.String("driver", driver),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// SQLite allows one writer; an in-memory database lives only as long as its connection
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	} else {
		db.SetMaxOpenConns(config.MaxOpenConns)
		db.SetMaxIdleConns(config.MaxIdleConns)
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("Failed to ping database",
			slog.Any("error", err),
		)
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}

	client := &Client{db: db, config: config, logger: logger}

	logger.Info("Successfully connected to database",
		slog.String("driver", driver),
		slog.Int("max_open_conns", client.MaxOpenConns()),
	)

	return client, nil
}

// GetDB returns the underlying sqlx.DB instance
func (c *Client) GetDB() *sqlx.DB {
	return c.db
}

// Driver returns the driver name the pool was opened with
func (c *Client) Driver() string {
	return c.config.driverName()
}

// Close logs the final pool statistics and closes the pool
func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}

	stats := c.db.Stats()
	c.logger.Info("Closing database connection",
		slog.String("driver", c.Driver()),
		slog.Int("open_conns", stats.OpenConnections),
		slog.Int("in_use", stats.InUse),
		slog.Int64("wait_count", stats.WaitCount),
		slog.Duration("wait_duration", stats.WaitDuration),
	)

	if err := c.db.Close(); err != nil {
		c.logger.Error("Failed to close database connection", slog.Any("error", err))
		return fmt.Errorf("failed to close %s: %w", c.Driver(), err)
	}

	return nil
}

// MaxOpenConns reports the pool limit applied for the driver
func (c *Client) MaxOpenConns() int {
	return c.db.Stats().MaxOpenConnections
}

// HealthCheck performs a health check on the database
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := c.db.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("database query health check failed: %w", err)
	}

	return nil
}
