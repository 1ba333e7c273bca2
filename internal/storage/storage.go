package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/analysis-tracker/internal/tracker"
	"github.com/cuongbtq/analysis-tracker/shared/database"
	"github.com/jmoiron/sqlx"
)

var (
	// ErrNotFound is returned when no tracking exists for a job id
	ErrNotFound = errors.New("tracking not found")

	// ErrAlreadyTerminal is returned when an operation needs a tracking that is still active
	ErrAlreadyTerminal = errors.New("tracking already finished")

	// ErrStillActive is returned when an operation needs a finished tracking
	ErrStillActive = errors.New("tracking still active")

	// ErrAlreadyClaimed is returned when another worker owns an active tracking
	ErrAlreadyClaimed = errors.New("tracking already claimed by another worker")
)

const trackingColumns = `
	job_id, state, progress, status, raw_status, has_started,
	retry_count, initial_check_count, event_count, last_error, result,
	cancel_requested, worker_id, last_heartbeat_at, created_at, updated_at
`

// ListFilter narrows and pages ListTrackings
type ListFilter struct {
	State    string
	PageSize int
	Cursor   *Cursor
}

// Cursor is the keyset position of the last row on the previous page
type Cursor struct {
	CreatedAt time.Time
	JobID     string
}

// Storage persists trackings and their messages on postgres or sqlite3
type Storage struct {
	db     *sqlx.DB
	driver string
	logger *slog.Logger
	now    func() time.Time
}

// NewStorage creates a Storage on top of an open database client
func NewStorage(client *database.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     client.GetDB(),
		driver: client.Driver(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Migrate creates the tables and indexes when missing
func (s *Storage) Migrate(ctx context.Context) error {
	idColumn := "BIGSERIAL PRIMARY KEY"
	if s.driver == database.DriverSQLite {
		idColumn = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS trackings (
			job_id              TEXT PRIMARY KEY,
			state               TEXT NOT NULL,
			progress            INTEGER NOT NULL DEFAULT 0,
			status              TEXT NOT NULL DEFAULT 'pending',
			raw_status          TEXT NOT NULL DEFAULT '',
			has_started         BOOLEAN NOT NULL DEFAULT FALSE,
			retry_count         INTEGER NOT NULL DEFAULT 0,
			initial_check_count INTEGER NOT NULL DEFAULT 0,
			event_count         INTEGER NOT NULL DEFAULT 0,
			last_error          TEXT NOT NULL DEFAULT '',
			result              TEXT,
			cancel_requested    BOOLEAN NOT NULL DEFAULT FALSE,
			worker_id           TEXT,
			last_heartbeat_at   TIMESTAMP,
			created_at          TIMESTAMP NOT NULL,
			updated_at          TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trackings_created ON trackings (created_at, job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trackings_state ON trackings (state, created_at)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tracking_messages (
			id         %s,
			job_id     TEXT NOT NULL REFERENCES trackings (job_id) ON DELETE CASCADE,
			kind       TEXT NOT NULL,
			body       TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`, idColumn),
		`CREATE INDEX IF NOT EXISTS idx_tracking_messages_job ON tracking_messages (job_id, id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}

	s.logger.Info("Database schema is up to date", slog.String("driver", s.driver))
	return nil
}

// CreateTracking inserts a queued tracking. It reports false when the job was already known.
func (s *Storage) CreateTracking(ctx context.Context, jobID string) (*Tracking, bool, error) {
	now := s.now()
	query := s.db.Rebind(`
		INSERT INTO trackings (job_id, state, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO NOTHING
	`)

	res, err := s.db.ExecContext(ctx, query, jobID, string(tracker.StateQueued), string(tracker.StatusPending), now, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create tracking: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	t, err := s.GetTracking(ctx, jobID)
	if err != nil {
		return nil, false, err
	}

	return t, affected > 0, nil
}

// GetTracking loads one tracking by job id
func (s *Storage) GetTracking(ctx context.Context, jobID string) (*Tracking, error) {
	var t Tracking
	query := s.db.Rebind(`SELECT ` + trackingColumns + ` FROM trackings WHERE job_id = ?`)

	if err := s.db.GetContext(ctx, &t, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tracking: %w", err)
	}

	return &t, nil
}

// ListTrackings returns up to PageSize+1 rows, newest first, so callers can tell whether more remain
func (s *Storage) ListTrackings(ctx context.Context, filter ListFilter) ([]Tracking, error) {
	query := `SELECT ` + trackingColumns + ` FROM trackings WHERE 1=1`
	args := []interface{}{}

	if filter.State != "" {
		query += " AND state = ?"
		args = append(args, filter.State)
	}

	if filter.Cursor != nil {
		query += " AND (created_at < ? OR (created_at = ? AND job_id < ?))"
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.JobID)
	}

	query += " ORDER BY created_at DESC, job_id DESC LIMIT ?"
	args = append(args, filter.PageSize+1)

	var trackings []Tracking
	if err := s.db.SelectContext(ctx, &trackings, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list trackings: %w", err)
	}

	return trackings, nil
}

// ClaimTracking assigns an active tracking to workerID.
// A tracking held by another worker is only taken over once its heartbeat is older than staleAfter.
func (s *Storage) ClaimTracking(ctx context.Context, jobID, workerID string, staleAfter time.Duration) (*Tracking, error) {
	now := s.now()
	query := s.db.Rebind(`
		UPDATE trackings
		SET state = ?,
		    worker_id = ?,
		    last_heartbeat_at = ?,
		    updated_at = ?
		WHERE job_id = ?
		  AND state IN (?, ?)
		  AND (worker_id IS NULL OR worker_id = ? OR last_heartbeat_at IS NULL OR last_heartbeat_at < ?)
	`)

	res, err := s.db.ExecContext(ctx, query,
		string(tracker.StateTracking), workerID, now, now,
		jobID,
		string(tracker.StateQueued), string(tracker.StateTracking),
		workerID, now.Add(-staleAfter),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim tracking: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	t, err := s.GetTracking(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if affected == 0 {
		if t.Terminal() {
			return t, ErrAlreadyTerminal
		}
		s.logger.Warn("Failed to claim tracking - owned by another worker",
			slog.String("job_id", jobID),
			slog.String("worker_id", workerID),
			slog.String("owner", t.WorkerID.String),
		)
		return t, ErrAlreadyClaimed
	}

	s.logger.Info("Tracking claimed",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
	)

	return t, nil
}

// Heartbeat refreshes the claim of workerID on an active tracking
func (s *Storage) Heartbeat(ctx context.Context, jobID, workerID string) error {
	now := s.now()
	query := s.db.Rebind(`
		UPDATE trackings
		SET last_heartbeat_at = ?
		WHERE job_id = ? AND worker_id = ?
	`)

	res, err := s.db.ExecContext(ctx, query, now, jobID, workerID)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Tracking heartbeat update - no rows affected",
			slog.String("job_id", jobID),
			slog.String("worker_id", workerID),
		)
	}

	return nil
}

// ReleaseTracking drops the claim of workerID so any worker may claim the tracking at once.
// Trackings owned by another worker or already finished are left untouched.
func (s *Storage) ReleaseTracking(ctx context.Context, jobID, workerID string) error {
	query := s.db.Rebind(`
		UPDATE trackings
		SET worker_id = NULL,
		    last_heartbeat_at = NULL,
		    updated_at = ?
		WHERE job_id = ? AND worker_id = ? AND state IN (?, ?)
	`)

	res, err := s.db.ExecContext(ctx, query,
		s.now(), jobID, workerID,
		string(tracker.StateQueued), string(tracker.StateTracking),
	)
	if err != nil {
		return fmt.Errorf("failed to release tracking: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		s.logger.Debug("Tracking release skipped - not owned or already finished",
			slog.String("job_id", jobID),
			slog.String("worker_id", workerID),
		)
		return nil
	}

	s.logger.Info("Tracking released",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
	)
	return nil
}

// SaveSnapshot upserts the latest tracker state. result is stored when non-nil.
func (s *Storage) SaveSnapshot(ctx context.Context, snap tracker.Snapshot, result *tracker.AnalysisResult) error {
	var resultJSON sql.NullString
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		resultJSON = sql.NullString{String: string(data), Valid: true}
	}

	updatedAt := snap.UpdatedAt.UTC().Truncate(time.Microsecond)
	if snap.UpdatedAt.IsZero() {
		updatedAt = s.now()
	}

	query := s.db.Rebind(`
		INSERT INTO trackings (
			job_id, state, progress, status, raw_status, has_started,
			retry_count, initial_check_count, event_count, last_error, result,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO UPDATE SET
			state = excluded.state,
			progress = excluded.progress,
			status = excluded.status,
			raw_status = excluded.raw_status,
			has_started = excluded.has_started,
			retry_count = excluded.retry_count,
			initial_check_count = excluded.initial_check_count,
			event_count = excluded.event_count,
			last_error = excluded.last_error,
			result = COALESCE(excluded.result, trackings.result),
			updated_at = excluded.updated_at
	`)

	_, err := s.db.ExecContext(ctx, query,
		snap.JobID,
		string(snap.State),
		snap.Progress,
		string(snap.Status),
		snap.RawStatus,
		snap.HasStarted,
		snap.RetryCount,
		snap.InitialCheckCount,
		snap.EventCount,
		snap.LastError,
		resultJSON,
		s.now(),
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

// RequestCancel flags an active tracking for cancellation by its worker
func (s *Storage) RequestCancel(ctx context.Context, jobID string) error {
	query := s.db.Rebind(`
		UPDATE trackings
		SET cancel_requested = ?, updated_at = ?
		WHERE job_id = ? AND state NOT IN (?, ?, ?)
	`)

	res, err := s.db.ExecContext(ctx, query,
		true, s.now(), jobID,
		string(tracker.StateCompleted), string(tracker.StateFailed), string(tracker.StateCanceled),
	)
	if err != nil {
		return fmt.Errorf("failed to request cancel: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		if _, err := s.GetTracking(ctx, jobID); err != nil {
			return err
		}
		return ErrAlreadyTerminal
	}

	s.logger.Info("Cancel requested", slog.String("job_id", jobID))
	return nil
}

// IsCancelRequested reports whether RequestCancel was called for jobID
func (s *Storage) IsCancelRequested(ctx context.Context, jobID string) (bool, error) {
	var requested bool
	query := s.db.Rebind(`SELECT cancel_requested FROM trackings WHERE job_id = ?`)

	if err := s.db.GetContext(ctx, &requested, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}

	return requested, nil
}

// DeleteTracking removes a finished tracking and its messages
func (s *Storage) DeleteTracking(ctx context.Context, jobID string) error {
	t, err := s.GetTracking(ctx, jobID)
	if err != nil {
		return err
	}
	if !t.Terminal() {
		return ErrStillActive
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM tracking_messages WHERE job_id = ?`), jobID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM trackings WHERE job_id = ? AND state IN (?, ?, ?)`),
		jobID, string(tracker.StateCompleted), string(tracker.StateFailed), string(tracker.StateCanceled),
	)
	if err != nil {
		return fmt.Errorf("failed to delete tracking: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrStillActive
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	s.logger.Info("Tracking deleted", slog.String("job_id", jobID))
	return nil
}

// AppendMessage records a presentation message for jobID
func (s *Storage) AppendMessage(ctx context.Context, jobID string, msg tracker.Message) error {
	query := s.db.Rebind(`
		INSERT INTO tracking_messages (job_id, kind, body, created_at)
		VALUES (?, ?, ?, ?)
	`)

	if _, err := s.db.ExecContext(ctx, query, jobID, string(msg.Kind), msg.Body, s.now()); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	return nil
}

// ListMessages returns the messages of jobID in emission order
func (s *Storage) ListMessages(ctx context.Context, jobID string) ([]MessageRecord, error) {
	query := s.db.Rebind(`
		SELECT id, job_id, kind, body, created_at
		FROM tracking_messages
		WHERE job_id = ?
		ORDER BY id ASC
	`)

	messages := []MessageRecord{}
	if err := s.db.SelectContext(ctx, &messages, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	return messages, nil
}
