package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConnected is returned when the channel is closed or was never opened
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	RoutingKey         string // binds QueueName and is the default publish key
	DeadLetterExchange string // rejected deliveries are routed here when set
	PrefetchCount      int
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// URL builds the AMQP connection string with escaped credentials
func (c *Config) URL() string {
	vhost := "/"
	if v := strings.TrimPrefix(c.VHost, "/"); v != "" {
		vhost += url.PathEscape(v)
	}

	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
	}
	return u.String() + vhost
}

// DeadLetterQueue is the queue that collects deliveries rejected from QueueName
func (c *Config) DeadLetterQueue() string {
	if c.DeadLetterExchange == "" {
		return ""
	}
	return c.QueueName + ".dead"
}

// queueArgs returns the x-arguments for the work queue
func (c *Config) queueArgs() amqp.Table {
	if c.DeadLetterExchange == "" {
		return nil
	}
	return amqp.Table{"x-dead-letter-exchange": c.DeadLetterExchange}
}

// Client publishes and consumes on one channel of one connection
type Client struct {
	config    *Config
	conn      *amqp.Connection
	channel   *amqp.Channel
	mu        sync.Mutex
	logger    *slog.Logger
	connected atomic.Bool
}

// NewClient dials RabbitMQ and declares the exchange and queue topology
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger,
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

func (c *Client) dial() (*amqp.Connection, error) {
	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	attempts := max(c.config.RetryAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.String("host", c.config.Host),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		conn, err := amqp.DialConfig(c.config.URL(), amqpConfig)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, lastErr)
}

func (c *Client) connect() error {
	conn, err := c.dial()
	if err != nil {
		return err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := declareTopology(channel, c.config); err != nil {
		channel.Close()
		conn.Close()
		return err
	}

	c.conn = conn
	c.channel = channel
	c.connected.Store(true)
	go c.watchClose(channel.NotifyClose(make(chan *amqp.Error, 1)))

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
		slog.String("dead_letter_queue", c.config.DeadLetterQueue()),
	)

	return nil
}

func (c *Client) watchClose(ch <-chan *amqp.Error) {
	amqpErr, ok := <-ch
	c.connected.Store(false)
	if ok && amqpErr != nil {
		c.logger.Error("RabbitMQ channel closed",
			slog.Int("code", amqpErr.Code),
			slog.String("reason", amqpErr.Reason),
		)
	}
}

// declareTopology declares the work exchange and queue, plus the dead letter pair when configured
func declareTopology(ch *amqp.Channel, cfg *Config) error {
	if cfg.DeadLetterExchange != "" {
		if err := ch.ExchangeDeclare(cfg.DeadLetterExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dead letter exchange: %w", err)
		}
		if _, err := ch.QueueDeclare(cfg.DeadLetterQueue(), true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dead letter queue: %w", err)
		}
		if err := ch.QueueBind(cfg.DeadLetterQueue(), "", cfg.DeadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind dead letter queue: %w", err)
		}
	}

	err := ch.ExchangeDeclare(
		cfg.ExchangeName,
		cfg.ExchangeType,
		cfg.ExchangeDurable,
		cfg.ExchangeAutoDelete,
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		cfg.QueueName,
		cfg.QueueDurable,
		cfg.QueueAutoDelete,
		cfg.QueueExclusive,
		false, // no-wait
		cfg.queueArgs(),
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(cfg.QueueName, cfg.RoutingKey, cfg.ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}

func (c *Client) routingKey(key string) string {
	if key == "" {
		return c.config.RoutingKey
	}
	return key
}

// Publish sends one persistent message. An empty routingKey uses the configured one.
func (c *Client) Publish(ctx context.Context, routingKey string, body []byte, contentType string) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}

	if err := c.publish(ctx, routingKey, body, contentType); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (c *Client) publish(ctx context.Context, routingKey string, body []byte, contentType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := amqp.Publishing{
		ContentType:  contentType,
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}
	return c.channel.PublishWithContext(ctx, c.config.ExchangeName, c.routingKey(routingKey), false, false, msg)
}

// PublishWithRetry publishes with exponential backoff between attempts
func (c *Client) PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}

	retries := c.config.PublishRetries
	if retries <= 0 {
		retries = 3
	}
	delay := c.config.PublishRetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	mult := c.config.PublishBackoffMult
	if mult <= 1 {
		mult = 2
	}

	key := c.routingKey(routingKey)

	var err error
	for attempt := 1; ; attempt++ {
		if err = c.publish(ctx, key, body, contentType); err == nil {
			c.logger.Debug("Message published to RabbitMQ",
				slog.String("routing_key", key),
				slog.Int("attempt", attempt),
				slog.Int("body_size", len(body)),
			)
			return nil
		}

		if attempt > retries {
			break
		}

		c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
			slog.String("routing_key", key),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", retries),
			slog.Duration("retry_after", delay),
			slog.Any("error", err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("publish canceled: %w", ctx.Err())
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * mult)
	}

	c.logger.Error("Failed to publish message to RabbitMQ after all retries",
		slog.String("routing_key", key),
		slog.Int("attempts", retries+1),
		slog.Any("error", err),
	)
	return fmt.Errorf("failed to publish message after %d attempts: %w", retries+1, err)
}

// Consume starts a manual-ack consumer on the work queue
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	if c.config.PrefetchCount > 0 {
		if err := c.channel.Qos(c.config.PrefetchCount, 0, false); err != nil {
			return nil, fmt.Errorf("failed to set prefetch: %w", err)
		}
	}

	deliveries, err := c.channel.Consume(c.config.QueueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", c.config.QueueName),
		slog.String("consumer_tag", consumerTag),
		slog.Int("prefetch", c.config.PrefetchCount),
	)

	return deliveries, nil
}

// IsConnected reports whether the channel is usable
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.conn != nil && !c.conn.IsClosed()
}

// Close closes the channel and the connection. Unacked deliveries return to the queue.
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")
	c.connected.Store(false)

	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ channel", slog.Any("error", err))
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ connection", slog.Any("error", err))
			return err
		}
	}

	c.logger.Info("RabbitMQ connection closed successfully")
	return nil
}
