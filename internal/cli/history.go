package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/cuongbtq/analysis-tracker/internal/storage"
	"github.com/cuongbtq/analysis-tracker/internal/tracker"
	"github.com/cuongbtq/analysis-tracker/shared/database"
	"github.com/spf13/cobra"
)

const historyWriteTimeout = 5 * time.Second

// historyStore is the local SQLite record of watched jobs
type historyStore struct {
	client *database.Client
	store  *storage.Storage
	logger *slog.Logger
}

func openHistory(ctx context.Context, path string, logger *slog.Logger) (*historyStore, error) {
	client, err := database.NewClient(&database.Config{Driver: database.DriverSQLite, Path: path}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	store := storage.NewStorage(client, logger)
	if err := store.Migrate(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return &historyStore{client: client, store: store, logger: logger}, nil
}

// record is a tracker.Listener that saves every event
func (h *historyStore) record(ev tracker.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	if err := h.store.SaveSnapshot(ctx, ev.Snapshot, ev.Result); err != nil {
		h.logger.Error("Failed to record snapshot",
			slog.String("job_id", ev.Snapshot.JobID),
			slog.String("error", err.Error()),
		)
		return
	}

	if ev.Message == nil {
		return
	}
	if err := h.store.AppendMessage(ctx, ev.Snapshot.JobID, *ev.Message); err != nil {
		h.logger.Error("Failed to record message",
			slog.String("job_id", ev.Snapshot.JobID),
			slog.String("error", err.Error()),
		)
	}
}

func (h *historyStore) Close() error {
	return h.client.Close()
}

func newHistoryCommand(o *options) *cobra.Command {
	var (
		state string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history [job-id]",
		Short: "List recorded trackings, or the messages of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openHistory(cmd.Context(), o.resolveHistoryPath(true), o.logger.Logger)
			if err != nil {
				return err
			}
			defer h.Close()

			if len(args) == 1 {
				return printMessages(cmd.Context(), cmd.OutOrStdout(), h.store, args[0])
			}
			return printTrackings(cmd.Context(), cmd.OutOrStdout(), h.store, state, limit)
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Only show trackings in this state")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of trackings to show")

	return cmd
}

func printTrackings(ctx context.Context, w io.Writer, store *storage.Storage, state string, limit int) error {
	if limit <= 0 {
		limit = 20
	}

	trackings, err := store.ListTrackings(ctx, storage.ListFilter{State: state, PageSize: limit})
	if err != nil {
		return err
	}
	if len(trackings) > limit {
		trackings = trackings[:limit]
	}

	if len(trackings) == 0 {
		fmt.Fprintln(w, "No recorded trackings.")
		return nil
	}

	rows := make([][]string, 0, len(trackings))
	for _, t := range trackings {
		rows = append(rows, []string{
			t.JobID,
			t.State,
			strconv.Itoa(t.Progress) + "%",
			strconv.Itoa(t.EventCount),
			t.UpdatedAt.Local().Format(time.DateTime),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("JOB ID", "STATE", "PROGRESS", "EVENTS", "UPDATED").
		Rows(rows...)

	fmt.Fprintln(w, tbl.String())
	return nil
}

func printMessages(ctx context.Context, w io.Writer, store *storage.Storage, jobID string) error {
	t, err := store.GetTracking(ctx, jobID)
	if err != nil {
		return fmt.Errorf("job %s: %w", jobID, err)
	}

	records, err := store.ListMessages(ctx, jobID)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Job %s: %s %d%%\n", t.JobID, t.State, t.Progress)
	for _, r := range records {
		fmt.Fprintf(w, "%s  %s\n", r.CreatedAt.Local().Format(time.TimeOnly), renderMessage(tracker.Message{
			Kind: tracker.MessageKind(r.Kind),
			Body: r.Body,
		}))
	}
	return nil
}
