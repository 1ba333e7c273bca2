package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/cuongbtq/analysis-tracker/internal/tracker"
	"github.com/cuongbtq/analysis-tracker/shared/database"
	"github.com/cuongbtq/analysis-tracker/shared/logger"
	"github.com/cuongbtq/analysis-tracker/shared/rabbitmq"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Backend  BackendConfig  `yaml:"backend"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the SQL store configuration.
// Driver is "postgres" for the services or "sqlite3" for local history.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Path            string        `yaml:"path"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// ClientConfig maps the yaml settings onto the SQL client
func (d DatabaseConfig) ClientConfig() *database.Config {
	return &database.Config{
		Driver:          d.Driver,
		Path:            d.Path,
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Database:        d.Database,
		SSLMode:         d.SSLMode,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnMaxIdleTime: d.ConnMaxIdleTime,
	}
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	EventsKey  string           `yaml:"events_routing_prefix"` // terminal events publish as <prefix>.<state>
	DeadLetter string           `yaml:"dead_letter_exchange"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ClientConfig flattens the nested yaml sections into the broker client settings
func (r RabbitMQConfig) ClientConfig() *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               r.Host,
		Port:               r.Port,
		User:               r.User,
		Password:           r.Password,
		VHost:              r.VHost,
		ExchangeName:       r.Exchange.Name,
		ExchangeType:       r.Exchange.Type,
		ExchangeDurable:    r.Exchange.Durable,
		ExchangeAutoDelete: r.Exchange.AutoDelete,
		QueueName:          r.Queue.Name,
		QueueDurable:       r.Queue.Durable,
		QueueAutoDelete:    r.Queue.AutoDelete,
		QueueExclusive:     r.Queue.Exclusive,
		RoutingKey:         r.RoutingKey,
		DeadLetterExchange: r.DeadLetter,
		PrefetchCount:      r.Consumer.PrefetchCount,
		RetryAttempts:      r.Connection.RetryAttempts,
		RetryInterval:      r.Connection.RetryInterval,
		Heartbeat:          r.Connection.Heartbeat,
		ConnectionTimeout:  r.Connection.ConnectionTimeout,
		PublishRetries:     r.Publish.RetryAttempts,
		PublishRetryDelay:  r.Publish.RetryInterval,
		PublishBackoffMult: r.Publish.BackoffMultiplier,
	}
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// LoggerConfig returns the logger settings with the given console time layout
func (l LoggingConfig) LoggerConfig(timeFormat string) *logger.Config {
	return &logger.Config{
		Level:        l.Level,
		Format:       l.Format,
		Output:       l.Output,
		EnableSource: l.EnableCaller,
		TimeFormat:   timeFormat,
	}
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// BackendConfig points at the analysis service that owns the jobs
type BackendConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// TrackerConfig holds the polling policy
type TrackerConfig struct {
	PollInterval        time.Duration `yaml:"poll_interval"`
	MaxRetries          int           `yaml:"max_retries"`
	StartCheckLimit     int           `yaml:"start_check_limit"`
	ForcedStartProgress int           `yaml:"forced_start_progress"`
	SettleDelay         time.Duration `yaml:"settle_delay"`
	Backoff             string        `yaml:"backoff"`
	BackoffInitial      time.Duration `yaml:"backoff_initial"`
	BackoffMax          time.Duration `yaml:"backoff_max"`
	FailFastOnNotFound  bool          `yaml:"fail_fast_on_not_found"`
	MonotonicProgress   bool          `yaml:"monotonic_progress"`
	KeepAliveTicks      int           `yaml:"keep_alive_ticks"`
}

// PollingConfig converts the yaml settings into the tracker's policy
func (t TrackerConfig) PollingConfig() tracker.Config {
	return tracker.Config{
		Interval:            t.PollInterval,
		MaxRetries:          t.MaxRetries,
		StartCheckLimit:     t.StartCheckLimit,
		ForcedStartProgress: t.ForcedStartProgress,
		SettleDelay:         t.SettleDelay,
		Backoff:             tracker.BackoffPolicy(t.Backoff),
		BackoffInitial:      t.BackoffInitial,
		BackoffMax:          t.BackoffMax,
		FailFastOnNotFound:  t.FailFastOnNotFound,
		MonotonicProgress:   t.MonotonicProgress,
		KeepAliveTicks:      t.KeepAliveTicks,
	}
}

// WorkerConfig holds tracker-service pool configuration
type WorkerConfig struct {
	Concurrency         int           `yaml:"concurrency"`
	CancelCheckInterval time.Duration `yaml:"cancel_check_interval"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
}

// Load reads and parses the configuration file.
// ${VAR} references are expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Default returns the configuration used when a file leaves a field out
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		RabbitMQ: RabbitMQConfig{
			Port:       5672,
			VHost:      "/",
			Exchange:   ExchangeConfig{Name: "analysis", Type: "topic", Durable: true},
			Queue:      QueueConfig{Name: "analysis.tracking", Durable: true},
			RoutingKey: "analysis.submitted",
			EventsKey:  "analysis",
			Connection: ConnectionConfig{
				RetryAttempts:     5,
				RetryInterval:     2 * time.Second,
				Heartbeat:         10 * time.Second,
				ConnectionTimeout: 10 * time.Second,
			},
			Publish: PublishConfig{
				RetryAttempts:     3,
				RetryInterval:     100 * time.Millisecond,
				BackoffMultiplier: 2,
			},
			Consumer: ConsumerConfig{PrefetchCount: 4},
		},
		Logging: LoggingConfig{Level: "info", Format: "console", Output: "stdout"},
		App:     AppConfig{Name: "analysis-tracker", Version: "dev", Environment: "development"},
		Backend: BackendConfig{RequestTimeout: 10 * time.Second},
		Tracker: TrackerConfig{
			PollInterval:        2 * time.Second,
			MaxRetries:          10,
			StartCheckLimit:     150,
			ForcedStartProgress: 5,
			SettleDelay:         1500 * time.Millisecond,
			Backoff:             "fixed",
			BackoffInitial:      time.Second,
			BackoffMax:          10 * time.Second,
			KeepAliveTicks:      5,
		},
		Worker: WorkerConfig{
			Concurrency:         4,
			CancelCheckInterval: 5 * time.Second,
			ShutdownTimeout:     30 * time.Second,
		},
	}
}

// ValidateAPIConfig checks the settings the api-service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	return c.validateRabbitMQ()
}

// ValidateTrackerConfig checks the settings the tracker-service needs
func (c *Config) ValidateTrackerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if err := c.validateBackend(); err != nil {
		return err
	}

	if err := c.validatePolling(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.CancelCheckInterval <= 0 {
		return fmt.Errorf("worker cancel_check_interval must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return nil
}

// ValidateCLIConfig checks the settings trackctl needs
func (c *Config) ValidateCLIConfig() error {
	if err := c.validateBackend(); err != nil {
		return err
	}
	return c.validatePolling()
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}

		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}

		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite3")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

func (c *Config) validateBackend() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base_url is required")
	}

	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid backend base_url: %q", c.Backend.BaseURL)
	}

	return nil
}

func (c *Config) validatePolling() error {
	t := c.Tracker

	if t.PollInterval <= 0 {
		return fmt.Errorf("tracker poll_interval must be greater than 0")
	}

	if t.MaxRetries <= 0 {
		return fmt.Errorf("tracker max_retries must be greater than 0")
	}

	if t.StartCheckLimit <= 0 {
		return fmt.Errorf("tracker start_check_limit must be greater than 0")
	}

	if t.ForcedStartProgress < 1 || t.ForcedStartProgress > 99 {
		return fmt.Errorf("tracker forced_start_progress must be between 1 and 99")
	}

	if t.KeepAliveTicks < 0 {
		return fmt.Errorf("tracker keep_alive_ticks must not be negative")
	}

	if t.SettleDelay < 0 {
		return fmt.Errorf("tracker settle_delay must not be negative")
	}

	if b := tracker.BackoffPolicy(t.Backoff); b != tracker.BackoffFixed && b != tracker.BackoffExponential {
		return fmt.Errorf("tracker backoff must be fixed or exponential, got %q", t.Backoff)
	}

	return nil
}
