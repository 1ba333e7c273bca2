package tracker

import (
	"math"
	"time"
)

// ProgressReport is the body of GET <base>/progress/{jobId}.
// Progress may be fractional.
type ProgressReport struct {
	Progress    float64 `json:"progress"`
	Status      string  `json:"status"`
	IsCompleted bool    `json:"is_completed"`
	IsFailed    bool    `json:"is_failed"`
}

// Percent is the reported progress as a whole percentage in 0..100, rounded down
// so that a job never shows 100 before it completes.
func (r *ProgressReport) Percent() int {
	p := math.Floor(r.Progress)
	switch {
	case p <= 0:
		return 0
	case p >= 100:
		return 100
	}
	return int(p)
}

// DetectedEvent is a single object or event found in the analysed video.
type DetectedEvent struct {
	ID           string  `json:"id,omitempty"`
	Type         string  `json:"type"`
	Label        string  `json:"label,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
	StartTime    float64 `json:"start_time,omitempty"`
	EndTime      float64 `json:"end_time,omitempty"`
	Description  string  `json:"description,omitempty"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
}

// AnalysisResult is the body of GET <base>/result/{jobId}.
type AnalysisResult struct {
	VideoID string          `json:"video_id,omitempty"`
	Events  []DetectedEvent `json:"events"`
	Summary string          `json:"summary,omitempty"`
}

// Snapshot is the externally observable state of a tracking session.
type Snapshot struct {
	JobID             string    `json:"job_id"`
	State             State     `json:"state"`
	Progress          int       `json:"progress"`
	Status            Status    `json:"status"`
	RawStatus         string    `json:"raw_status,omitempty"`
	HasStarted        bool      `json:"has_started"`
	RetryCount        int       `json:"retry_count"`
	InitialCheckCount int       `json:"initial_check_count"`
	EventCount        int       `json:"event_count"`
	LastError         string    `json:"last_error,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}
