package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/analysis-tracker/internal/tracker"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer starts consuming submissions with the worker id as consumer tag
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	deliveries, err := w.broker.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
	)

	return deliveries, nil
}

// decodeSubmission parses and validates a submission body
func decodeSubmission(body []byte) (string, error) {
	var msg Submission
	if err := json.Unmarshal(body, &msg); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
	}

	if err := tracker.ValidateJobID(msg.JobID); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
	}

	return msg.JobID, nil
}

// startMessageDispatcher listens to RabbitMQ deliveries and dispatches submissions to the worker pool
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			jobID, err := decodeSubmission(delivery.Body)
			if err != nil {
				w.logger.Error("Rejecting malformed submission",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// malformed messages go to the dead letter exchange, if one is bound
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			msg := &submissionMessage{JobID: jobID, Delivery: delivery}

			select {
			case w.jobsChan <- msg:
				w.logger.Debug("Submission dispatched to worker pool",
					slog.String("job_id", jobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching submission")
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}
		}
	}
}
