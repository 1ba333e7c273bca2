package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/analysis-tracker/internal/storage"
	"github.com/cuongbtq/analysis-tracker/internal/tracker"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Store is the persistence the worker needs
type Store interface {
	CreateTracking(ctx context.Context, jobID string) (*storage.Tracking, bool, error)
	ClaimTracking(ctx context.Context, jobID, workerID string, staleAfter time.Duration) (*storage.Tracking, error)
	Heartbeat(ctx context.Context, jobID, workerID string) error
	ReleaseTracking(ctx context.Context, jobID, workerID string) error
	IsCancelRequested(ctx context.Context, jobID string) (bool, error)
	SaveSnapshot(ctx context.Context, snap tracker.Snapshot, result *tracker.AnalysisResult) error
	AppendMessage(ctx context.Context, jobID string, msg tracker.Message) error
}

// Broker is the message transport the worker consumes from and publishes to
type Broker interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// Config holds worker configuration
type Config struct {
	Logger              *slog.Logger
	Store               Store
	Broker              Broker
	Backend             tracker.Backend
	Tracker             tracker.Config
	WorkerID            string
	Concurrency         int
	CancelCheckInterval time.Duration
	EventsPrefix        string
	PersistTimeout      time.Duration
}

// Worker consumes tracking submissions and runs one tracker per submission
type Worker struct {
	logger              *slog.Logger
	store               Store
	broker              Broker
	manager             *tracker.Manager
	workerID            string
	concurrency         int
	cancelCheckInterval time.Duration
	eventsPrefix        string
	persistTimeout      time.Duration

	jobsChan chan *submissionMessage
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	mu       sync.Mutex
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	cancelCheck := cfg.CancelCheckInterval
	if cancelCheck <= 0 {
		cancelCheck = 5 * time.Second
	}

	persistTimeout := cfg.PersistTimeout
	if persistTimeout <= 0 {
		persistTimeout = 10 * time.Second
	}

	eventsPrefix := cfg.EventsPrefix
	if eventsPrefix == "" {
		eventsPrefix = "analysis"
	}

	w := &Worker{
		logger:              cfg.Logger.With(slog.String("worker_id", cfg.WorkerID)),
		store:               cfg.Store,
		broker:              cfg.Broker,
		workerID:            cfg.WorkerID,
		concurrency:         concurrency,
		cancelCheckInterval: cancelCheck,
		eventsPrefix:        eventsPrefix,
		persistTimeout:      persistTimeout,
		jobsChan:            make(chan *submissionMessage),
		stopChan:            make(chan struct{}),
	}
	w.manager = tracker.NewManager(cfg.Backend, cfg.Tracker, concurrency, cfg.Logger, w.handleEvent)

	return w
}

// Start consumes submissions until ctx is canceled or Stop is called
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
	defer cancel()

	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Duration("cancel_check_interval", w.cancelCheckInterval),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.startMessageDispatcher(ctx, deliveries)
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("Worker context canceled, stopping...")
	case <-w.stopChan:
	}

	return nil
}

// Stop gracefully stops the worker. In-flight submissions are requeued.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)

		w.mu.Lock()
		cancel := w.cancel
		w.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		w.wg.Wait()
		w.logger.Info("Worker stopped")
	})
}

// Active returns snapshots of the trackings this worker is running
func (w *Worker) Active() []tracker.Snapshot {
	return w.manager.Active()
}
