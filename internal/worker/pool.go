package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/analysis-tracker/internal/storage"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop tracks one submission at a time until the pool stops
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg := <-w.jobsChan:
			w.logger.Info("Worker received submission",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.JobID),
				slog.Uint64("delivery_tag", msg.Delivery.DeliveryTag),
			)

			err := w.processTracking(ctx, msg)
			w.settle(workerName, msg, err)
		}
	}
}

// settle acks or nacks the delivery according to the processing result
func (w *Worker) settle(workerName string, msg *submissionMessage, err error) {
	if err == nil {
		if ackErr := msg.Delivery.Ack(false); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.JobID),
				slog.String("error", ackErr.Error()),
			)
		}
		return
	}

	requeue := shouldRequeue(err)
	level := slog.LevelError
	if requeue {
		level = slog.LevelWarn
	}
	w.logger.Log(context.Background(), level, "Tracking did not finish",
		slog.String("worker_name", workerName),
		slog.String("job_id", msg.JobID),
		slog.Bool("requeue", requeue),
		slog.String("error", err.Error()),
	)

	if nackErr := msg.Delivery.Nack(false, requeue); nackErr != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.JobID),
			slog.String("error", nackErr.Error()),
		)
	}
}

// shouldRequeue determines if a submission should be redelivered based on the error type
func shouldRequeue(err error) bool {
	if errors.Is(err, storage.ErrAlreadyClaimed) {
		return false
	}

	if errors.Is(err, ErrInvalidSubmission) {
		return false
	}

	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
