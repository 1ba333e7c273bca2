package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/analysis-tracker/internal/storage"
)

// Store is the persistence the handlers read and write
type Store interface {
	CreateTracking(ctx context.Context, jobID string) (*storage.Tracking, bool, error)
	GetTracking(ctx context.Context, jobID string) (*storage.Tracking, error)
	ListTrackings(ctx context.Context, filter storage.ListFilter) ([]storage.Tracking, error)
	RequestCancel(ctx context.Context, jobID string) error
	DeleteTracking(ctx context.Context, jobID string) error
	ListMessages(ctx context.Context, jobID string) ([]storage.MessageRecord, error)
}

// Publisher hands submissions to the tracker service
type Publisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger           *slog.Logger
	Store            Store
	Publisher        Publisher
	SubmitRoutingKey string
	HealthCheck      func(ctx context.Context) error
}

// TrackingHandler handles tracking-related HTTP requests
type TrackingHandler struct {
	logger           *slog.Logger
	store            Store
	publisher        Publisher
	submitRoutingKey string
}

// NewTrackingHandler creates a new TrackingHandler instance
func NewTrackingHandler(deps *Dependencies) *TrackingHandler {
	return &TrackingHandler{
		logger:           deps.Logger,
		store:            deps.Store,
		publisher:        deps.Publisher,
		submitRoutingKey: deps.SubmitRoutingKey,
	}
}
