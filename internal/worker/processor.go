package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/analysis-tracker/internal/storage"
	"github.com/cuongbtq/analysis-tracker/internal/tracker"
)

// processTracking claims a submission and runs its tracker until it reaches a terminal state
func (w *Worker) processTracking(ctx context.Context, msg *submissionMessage) error {
	if err := w.claim(ctx, msg.JobID); err != nil {
		if errors.Is(err, storage.ErrAlreadyTerminal) {
			w.logger.Info("Tracking already finished, skipping",
				slog.String("job_id", msg.JobID),
			)
			return nil
		}
		if errors.Is(err, storage.ErrAlreadyClaimed) {
			return fmt.Errorf("tracking already claimed: %w", err)
		}
		return NewRetryableError(fmt.Errorf("failed to claim tracking: %w", err))
	}

	requested, err := w.store.IsCancelRequested(ctx, msg.JobID)
	if err != nil {
		return NewRetryableError(fmt.Errorf("failed to read cancel flag: %w", err))
	}
	if requested {
		w.cancelBeforeStart(msg.JobID)
		return nil
	}

	tr, err := w.manager.Track(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, tracker.ErrInvalidJobID) {
			return fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
		}
		return NewRetryableError(fmt.Errorf("failed to start tracking: %w", err))
	}

	stopWatch := make(chan struct{})
	watchExited := make(chan struct{})
	go w.watchTracking(ctx, msg.JobID, stopWatch, watchExited)

	<-tr.Done()
	close(stopWatch)
	<-watchExited

	snap := tr.Snapshot()
	if !snap.State.IsTerminal() {
		w.release(ctx, msg.JobID)
		return NewRetryableError(fmt.Errorf("%w: tracking of %s interrupted at %d%%", ErrShutdown, msg.JobID, snap.Progress))
	}

	w.logger.Info("Tracking finished",
		slog.String("job_id", msg.JobID),
		slog.String("state", string(snap.State)),
		slog.Int("event_count", snap.EventCount),
	)
	return nil
}

// claim takes ownership of the tracking, creating it for submissions that bypassed the API
func (w *Worker) claim(ctx context.Context, jobID string) error {
	staleAfter := 3 * w.cancelCheckInterval

	_, err := w.store.ClaimTracking(ctx, jobID, w.workerID, staleAfter)
	if errors.Is(err, storage.ErrNotFound) {
		if _, _, err := w.store.CreateTracking(ctx, jobID); err != nil {
			return err
		}
		_, err = w.store.ClaimTracking(ctx, jobID, w.workerID, staleAfter)
	}
	return err
}

// release hands the claim back before the delivery is requeued, so the next worker can claim it.
// ctx is usually canceled here, so the update runs on a detached context.
func (w *Worker) release(ctx context.Context, jobID string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.persistTimeout)
	defer cancel()

	if err := w.store.ReleaseTracking(releaseCtx, jobID, w.workerID); err != nil {
		w.logger.Error("Failed to release tracking",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// cancelBeforeStart settles a tracking whose cancel arrived before any polling
func (w *Worker) cancelBeforeStart(jobID string) {
	w.logger.Info("Cancel requested before tracking started",
		slog.String("job_id", jobID),
	)
	msg := tracker.CanceledMessage()
	w.handleEvent(tracker.Event{
		Kind: tracker.EventCanceled,
		Snapshot: tracker.Snapshot{
			JobID:     jobID,
			State:     tracker.StateCanceled,
			Status:    tracker.StatusPending,
			UpdatedAt: time.Now().UTC(),
		},
		Message: &msg,
		Err:     context.Canceled,
	})
}

// watchTracking refreshes the claim and stops the tracker once a cancel is requested
func (w *Worker) watchTracking(ctx context.Context, jobID string, stop <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)

	ticker := time.NewTicker(w.cancelCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Heartbeat(ctx, jobID, w.workerID); err != nil {
				w.logger.Warn("Failed to update tracking heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}

			requested, err := w.store.IsCancelRequested(ctx, jobID)
			if err != nil {
				w.logger.Warn("Failed to read cancel flag",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
				continue
			}

			if requested {
				w.logger.Info("Cancel requested, stopping tracker",
					slog.String("job_id", jobID),
				)
				if err := w.manager.Untrack(jobID); err != nil && !errors.Is(err, tracker.ErrNotTracked) {
					w.logger.Warn("Failed to stop tracker",
						slog.String("job_id", jobID),
						slog.String("error", err.Error()),
					)
				}
				return
			}
		}
	}
}

// handleEvent persists every tracker event and publishes terminal ones
func (w *Worker) handleEvent(ev tracker.Event) {
	w.persist(ev)

	if ev.Terminal() {
		w.publish(ev)
	}
}

func (w *Worker) persist(ev tracker.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), w.persistTimeout)
	defer cancel()

	if err := w.store.SaveSnapshot(ctx, ev.Snapshot, ev.Result); err != nil {
		w.logger.Error("Failed to save tracking snapshot",
			slog.String("job_id", ev.Snapshot.JobID),
			slog.String("event", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}

	if ev.Message == nil {
		return
	}

	if err := w.store.AppendMessage(ctx, ev.Snapshot.JobID, *ev.Message); err != nil {
		w.logger.Error("Failed to append tracking message",
			slog.String("job_id", ev.Snapshot.JobID),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) publish(ev tracker.Event) {
	n := Notification{
		JobID:      ev.Snapshot.JobID,
		State:      ev.Snapshot.State,
		Progress:   ev.Snapshot.Progress,
		EventCount: ev.Snapshot.EventCount,
		Message:    ev.Message,
		Result:     ev.Result,
		OccurredAt: ev.Snapshot.UpdatedAt,
	}
	if ev.Err != nil {
		n.Error = ev.Err.Error()
	}

	body, err := json.Marshal(n)
	if err != nil {
		w.logger.Error("Failed to marshal notification",
			slog.String("job_id", n.JobID),
			slog.String("error", err.Error()),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.persistTimeout)
	defer cancel()

	routingKey := w.eventsPrefix + "." + string(n.State)
	if err := w.broker.PublishWithRetry(ctx, routingKey, body, "application/json"); err != nil {
		w.logger.Error("Failed to publish notification",
			slog.String("job_id", n.JobID),
			slog.String("routing_key", routingKey),
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.Info("Notification published",
		slog.String("job_id", n.JobID),
		slog.String("routing_key", routingKey),
	)
}
