package worker

import (
	"time"

	"github.com/cuongbtq/analysis-tracker/internal/tracker"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Submission is the body of a tracking request on the submissions queue
type Submission struct {
	JobID string `json:"job_id"`
}

// submissionMessage pairs a decoded submission with the delivery to settle
type submissionMessage struct {
	JobID    string
	Delivery amqp.Delivery
}

// Notification is published when a tracking reaches a terminal state
type Notification struct {
	JobID      string                  `json:"job_id"`
	State      tracker.State           `json:"state"`
	Progress   int                     `json:"progress"`
	EventCount int                     `json:"event_count"`
	Message    *tracker.Message        `json:"message,omitempty"`
	Result     *tracker.AnalysisResult `json:"result,omitempty"`
	Error      string                  `json:"error,omitempty"`
	OccurredAt time.Time               `json:"occurred_at"`
}
