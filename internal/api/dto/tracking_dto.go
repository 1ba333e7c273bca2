package dto

import "github.com/cuongbtq/analysis-tracker/internal/tracker"

type CreateTrackingRequest struct {
	JobID string `json:"job_id" binding:"required"`
}

type ListTrackingsRequest struct {
	State    string `form:"state"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListTrackingsResponse struct {
	Trackings  []TrackingDTO `json:"trackings"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type TrackingDTO struct {
	JobID             string                  `json:"job_id"`
	State             string                  `json:"state"`
	Progress          int                     `json:"progress"`
	Status            string                  `json:"status"`
	RawStatus         string                  `json:"raw_status,omitempty"`
	HasStarted        bool                    `json:"has_started"`
	RetryCount        int                     `json:"retry_count"`
	InitialCheckCount int                     `json:"initial_check_count"`
	EventCount        int                     `json:"event_count"`
	LastError         string                  `json:"last_error,omitempty"`
	CancelRequested   bool                    `json:"cancel_requested"`
	Result            *tracker.AnalysisResult `json:"result,omitempty"`
	CreatedAt         string                  `json:"created_at"`
	UpdatedAt         string                  `json:"updated_at"`
}

type MessageDTO struct {
	Kind      string `json:"kind"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

type ListMessagesResponse struct {
	JobID    string       `json:"job_id"`
	Messages []MessageDTO `json:"messages"`
}
