package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/analysis-tracker/internal/api/dto"
	"github.com/cuongbtq/analysis-tracker/internal/storage"
	"github.com/cuongbtq/analysis-tracker/internal/tracker"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateTracking handles POST /api/v1/trackings
// Registers a job for tracking and hands it to the tracker service
func (h *TrackingHandler) CreateTracking(c *gin.Context) {
	var req dto.CreateTrackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if err := tracker.ValidateJobID(req.JobID); err != nil {
		h.logger.Error("Invalid job_id", slog.String("job_id", req.JobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	ctx := c.Request.Context()

	t, created, err := h.store.CreateTracking(ctx, req.JobID)
	if err != nil {
		h.logger.Error("Failed to create tracking", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create tracking",
		})
		return
	}

	// finished trackings are reported as they are, nothing is resubmitted
	if t.Terminal() {
		h.respondTracking(c, http.StatusOK, t)
		return
	}

	// a queued tracking may have lost its submission, so it is published again
	if created || t.State == string(tracker.StateQueued) {
		if err := h.publishSubmission(c, req.JobID); err != nil {
			h.logger.Error("Failed to publish submission",
				slog.String("job_id", req.JobID),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Failed to submit tracking",
			})
			return
		}
	}

	h.logger.Info("Tracking submitted",
		slog.String("job_id", req.JobID),
		slog.Bool("created", created),
		slog.String("state", t.State),
	)

	h.respondTracking(c, http.StatusAccepted, t)
}

func (h *TrackingHandler) publishSubmission(c *gin.Context, jobID string) error {
	body, err := json.Marshal(gin.H{"job_id": jobID})
	if err != nil {
		return err
	}
	return h.publisher.PublishWithRetry(c.Request.Context(), h.submitRoutingKey, body, "application/json")
}

// GetTracking handles GET /api/v1/trackings/:job_id
func (h *TrackingHandler) GetTracking(c *gin.Context) {
	jobID := c.Param("job_id")

	t, err := h.store.GetTracking(c.Request.Context(), jobID)
	if err != nil {
		h.respondStoreError(c, jobID, "Failed to get tracking", err)
		return
	}

	h.respondTracking(c, http.StatusOK, t)
}

// ListTrackings handles GET /api/v1/trackings
// Lists trackings newest first with optional state filtering and cursor pagination
func (h *TrackingHandler) ListTrackings(c *gin.Context) {
	var req dto.ListTrackingsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.State != "" && !validState(tracker.State(req.State)) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid state filter",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeTrackingCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	trackings, err := h.store.ListTrackings(c.Request.Context(), storage.ListFilter{
		State:    req.State,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list trackings", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list trackings",
		})
		return
	}

	// the store returns one extra row when another page exists
	hasMore := len(trackings) > req.PageSize
	if hasMore {
		trackings = trackings[:req.PageSize]
	}

	items := make([]dto.TrackingDTO, 0, len(trackings))
	for i := range trackings {
		item, err := toTrackingDTO(&trackings[i])
		if err != nil {
			h.logger.Error("Failed to convert tracking",
				slog.String("job_id", trackings[i].JobID),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list trackings",
			})
			return
		}
		items = append(items, item)
	}

	var nextCursor string
	if hasMore {
		last := trackings[len(trackings)-1]
		nextCursor = EncodeTrackingCursor(&storage.Cursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListTrackingsResponse{
		Trackings:  items,
		NextCursor: nextCursor,
	})
}

// ListMessages handles GET /api/v1/trackings/:job_id/messages
func (h *TrackingHandler) ListMessages(c *gin.Context) {
	jobID := c.Param("job_id")
	ctx := c.Request.Context()

	if _, err := h.store.GetTracking(ctx, jobID); err != nil {
		h.respondStoreError(c, jobID, "Failed to list messages", err)
		return
	}

	records, err := h.store.ListMessages(ctx, jobID)
	if err != nil {
		h.respondStoreError(c, jobID, "Failed to list messages", err)
		return
	}

	messages := make([]dto.MessageDTO, len(records))
	for i, r := range records {
		messages[i] = dto.MessageDTO{
			Kind:      r.Kind,
			Body:      r.Body,
			CreatedAt: r.CreatedAt.Format(time.RFC3339Nano),
		}
	}

	c.JSON(http.StatusOK, dto.ListMessagesResponse{
		JobID:    jobID,
		Messages: messages,
	})
}

// CancelTracking handles POST /api/v1/trackings/:job_id/cancel
// Flags an active tracking; the owning worker stops it on its next check
func (h *TrackingHandler) CancelTracking(c *gin.Context) {
	jobID := c.Param("job_id")

	if err := h.store.RequestCancel(c.Request.Context(), jobID); err != nil {
		h.respondStoreError(c, jobID, "Failed to cancel tracking", err)
		return
	}

	h.logger.Info("Tracking cancel requested", slog.String("job_id", jobID))

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":           jobID,
		"cancel_requested": true,
	})
}

// DeleteTracking handles DELETE /api/v1/trackings/:job_id
// Removes a finished tracking together with its messages
func (h *TrackingHandler) DeleteTracking(c *gin.Context) {
	jobID := c.Param("job_id")

	if err := h.store.DeleteTracking(c.Request.Context(), jobID); err != nil {
		h.respondStoreError(c, jobID, "Failed to delete tracking", err)
		return
	}

	h.logger.Info("Tracking deleted", slog.String("job_id", jobID))
	c.Status(http.StatusNoContent)
}

func (h *TrackingHandler) respondTracking(c *gin.Context, status int, t *storage.Tracking) {
	item, err := toTrackingDTO(t)
	if err != nil {
		h.logger.Error("Failed to convert tracking",
			slog.String("job_id", t.JobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read tracking",
		})
		return
	}
	c.JSON(status, item)
}

func (h *TrackingHandler) respondStoreError(c *gin.Context, jobID, msg string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "Tracking not found",
			"job_id": jobID,
		})
	case errors.Is(err, storage.ErrAlreadyTerminal):
		c.JSON(http.StatusConflict, gin.H{
			"error":  "Tracking already finished",
			"job_id": jobID,
		})
	case errors.Is(err, storage.ErrStillActive):
		c.JSON(http.StatusConflict, gin.H{
			"error":  "Tracking still active",
			"job_id": jobID,
		})
	default:
		h.logger.Error(msg,
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": msg,
		})
	}
}

func toTrackingDTO(t *storage.Tracking) (dto.TrackingDTO, error) {
	result, err := t.AnalysisResult()
	if err != nil {
		return dto.TrackingDTO{}, err
	}

	return dto.TrackingDTO{
		JobID:             t.JobID,
		State:             t.State,
		Progress:          t.Progress,
		Status:            t.Status,
		RawStatus:         t.RawStatus,
		HasStarted:        t.HasStarted,
		RetryCount:        t.RetryCount,
		InitialCheckCount: t.InitialCheckCount,
		EventCount:        t.EventCount,
		LastError:         t.LastError,
		CancelRequested:   t.CancelRequested,
		Result:            result,
		CreatedAt:         t.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:         t.UpdatedAt.Format(time.RFC3339Nano),
	}, nil
}

func validState(s tracker.State) bool {
	switch s {
	case tracker.StateQueued, tracker.StateTracking, tracker.StateCompleted, tracker.StateFailed, tracker.StateCanceled:
		return true
	}
	return false
}
