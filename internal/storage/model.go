package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/analysis-tracker/internal/tracker"
)

// Tracking is one row of the trackings table
type Tracking struct {
	JobID             string         `db:"job_id"`
	State             string         `db:"state"`
	Progress          int            `db:"progress"`
	Status            string         `db:"status"`
	RawStatus         string         `db:"raw_status"`
	HasStarted        bool           `db:"has_started"`
	RetryCount        int            `db:"retry_count"`
	InitialCheckCount int            `db:"initial_check_count"`
	EventCount        int            `db:"event_count"`
	LastError         string         `db:"last_error"`
	Result            sql.NullString `db:"result"`
	CancelRequested   bool           `db:"cancel_requested"`
	WorkerID          sql.NullString `db:"worker_id"`
	LastHeartbeatAt   sql.NullTime   `db:"last_heartbeat_at"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

// Terminal reports whether the stored state ends tracking
func (t *Tracking) Terminal() bool {
	return tracker.State(t.State).IsTerminal()
}

// Snapshot converts the row back into the tracker's view of it
func (t *Tracking) Snapshot() tracker.Snapshot {
	return tracker.Snapshot{
		JobID:             t.JobID,
		State:             tracker.State(t.State),
		Progress:          t.Progress,
		Status:            tracker.Status(t.Status),
		RawStatus:         t.RawStatus,
		HasStarted:        t.HasStarted,
		RetryCount:        t.RetryCount,
		InitialCheckCount: t.InitialCheckCount,
		EventCount:        t.EventCount,
		LastError:         t.LastError,
		UpdatedAt:         t.UpdatedAt,
	}
}

// AnalysisResult decodes the stored result, or returns nil when none was saved
func (t *Tracking) AnalysisResult() (*tracker.AnalysisResult, error) {
	if !t.Result.Valid || t.Result.String == "" {
		return nil, nil
	}

	var result tracker.AnalysisResult
	if err := json.Unmarshal([]byte(t.Result.String), &result); err != nil {
		return nil, fmt.Errorf("failed to decode stored result: %w", err)
	}
	return &result, nil
}

// MessageRecord is one presentation message emitted for a tracking
type MessageRecord struct {
	ID        int64     `db:"id"`
	JobID     string    `db:"job_id"`
	Kind      string    `db:"kind"`
	Body      string    `db:"body"`
	CreatedAt time.Time `db:"created_at"`
}
