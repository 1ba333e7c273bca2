package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/cuongbtq/analysis-tracker/internal/tracker"
	"github.com/spf13/cobra"
)

var errCanceled = errors.New("tracking canceled")

func newWatchCommand(o *options) *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a job until its analysis finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runWatch(cmd, args[0], plain)
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Print log lines instead of the progress view")

	return cmd
}

func (o *options) runWatch(cmd *cobra.Command, jobID string, plain bool) error {
	if err := tracker.ValidateJobID(jobID); err != nil {
		return err
	}

	backend, err := o.newBackend()
	if err != nil {
		return err
	}

	var listeners []tracker.Listener
	if path := o.resolveHistoryPath(false); path != "" {
		h, err := openHistory(cmd.Context(), path, o.logger.Logger)
		if err != nil {
			return err
		}
		defer h.Close()

		if _, _, err := h.store.CreateTracking(cmd.Context(), jobID); err != nil {
			return err
		}
		listeners = append(listeners, h.record)
	}

	pollCfg := o.cfg.Tracker.PollingConfig()

	if plain {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		listeners = append(listeners, plainPrinter(cmd.OutOrStdout(), o.logger.Logger))
		tr := tracker.New(backend, pollCfg, o.logger.Logger, listeners...)
		return watchPlain(ctx, tr, jobID)
	}

	p := tea.NewProgram(newWatchModel(jobID), tea.WithContext(cmd.Context()), tea.WithOutput(cmd.OutOrStdout()))
	listeners = append(listeners, func(ev tracker.Event) { p.Send(eventMsg(ev)) })

	return watchUI(cmd.Context(), p, tracker.New(backend, pollCfg, o.uiLogger(), listeners...), jobID)
}

// watchPlain runs tr until the job finishes or ctx is canceled
func watchPlain(ctx context.Context, tr *tracker.Tracker, jobID string) error {
	// the session outlives ctx so an interrupt ends in a canceled event
	if err := tr.Start(context.WithoutCancel(ctx), jobID); err != nil {
		return err
	}

	select {
	case <-tr.Done():
	case <-ctx.Done():
		tr.Stop()
	}

	return finalError(tr.Snapshot())
}

// watchUI runs the progress view until the job finishes or the user quits.
// tr must already deliver its events to p.
func watchUI(ctx context.Context, p *tea.Program, tr *tracker.Tracker, jobID string) error {
	if err := tr.Start(context.WithoutCancel(ctx), jobID); err != nil {
		return err
	}

	_, err := p.Run()
	tr.Stop()

	if err != nil && !errors.Is(err, tea.ErrProgramKilled) && !errors.Is(err, tea.ErrInterrupted) {
		return fmt.Errorf("failed to run progress view: %w", err)
	}

	return finalError(tr.Snapshot())
}

func plainPrinter(w io.Writer, logger *slog.Logger) tracker.Listener {
	return func(ev tracker.Event) {
		snap := ev.Snapshot
		attrs := []any{
			slog.String("job_id", snap.JobID),
			slog.String("event", string(ev.Kind)),
			slog.String("state", string(snap.State)),
			slog.Int("progress", snap.Progress),
			slog.String("status", string(snap.Status)),
		}

		if ev.Kind == tracker.EventRetrying {
			logger.Warn("Progress request failed", append(attrs,
				slog.Int("retry_count", snap.RetryCount),
				slog.Any("error", ev.Err),
			)...)
		} else {
			logger.Info("Tracking update", attrs...)
		}

		if ev.Message != nil {
			fmt.Fprintln(w, renderMessage(*ev.Message))
		}
	}
}

// finalError maps the last snapshot to the command's exit error
func finalError(snap tracker.Snapshot) error {
	switch snap.State {
	case tracker.StateCompleted:
		return nil
	case tracker.StateFailed:
		if snap.LastError != "" {
			return fmt.Errorf("analysis failed: %s", snap.LastError)
		}
		return tracker.ErrAnalysisFailed
	case tracker.StateCanceled:
		return errCanceled
	default:
		return fmt.Errorf("tracking ended in state %s", snap.State)
	}
}
