package tracker

import (
	"errors"
	"fmt"
)

// MessageKind classifies a presentation message.
type MessageKind string

const (
	MessageInfo    MessageKind = "info"
	MessageSuccess MessageKind = "success"
	MessageWarning MessageKind = "warning"
	MessageError   MessageKind = "error"
)

// Message is a user-facing notification derived from a tracker transition.
type Message struct {
	Kind MessageKind `json:"kind"`
	Body string      `json:"body"`
}

const (
	msgStarted        = "Analysis started."
	msgNoEvents       = "Analysis complete. No events were detected in this video."
	msgResultsMissing = "Analysis completed, but the results could not be loaded."
	msgAnalysisFailed = "Video analysis failed. Please try uploading the video again."
	msgUnreachable    = "Lost contact with the analysis service. Please try again later."
	msgCanceled       = "Tracking canceled."
)

// CanceledMessage is shown when tracking is stopped before a terminal state.
func CanceledMessage() Message {
	return Message{Kind: MessageInfo, Body: msgCanceled}
}

// CompletionMessage builds the chat message for a finished analysis.
func CompletionMessage(result *AnalysisResult) Message {
	if result == nil {
		return Message{Kind: MessageWarning, Body: msgResultsMissing}
	}

	n := len(result.Events)
	if n == 0 {
		return Message{Kind: MessageSuccess, Body: msgNoEvents}
	}

	noun := "events"
	if n == 1 {
		noun = "event"
	}
	body := fmt.Sprintf("Analysis complete. %d %s found.", n, noun)
	if result.Summary != "" {
		body += " " + result.Summary
	}
	return Message{Kind: MessageSuccess, Body: body}
}

func failureMessage(err error) Message {
	if err == nil {
		return Message{Kind: MessageError, Body: msgAnalysisFailed}
	}
	if errors.Is(err, ErrRetriesExhausted) {
		return Message{Kind: MessageError, Body: msgUnreachable}
	}
	return Message{Kind: MessageError, Body: msgAnalysisFailed}
}
