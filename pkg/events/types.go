package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event flowing through the system.
type EventType string

const (
	SessionState       EventType = "session.state"
	PredictionReceived EventType = "prediction.received"
	HistoryCleared     EventType = "history.cleared"
	UploadProgress     EventType = "upload.progress"
	UploadCompleted    EventType = "upload.completed"
	UploadFailed       EventType = "upload.failed"
)

// Envelope is the standard event wrapper published to the event bus.
type Envelope struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Source    string            `json:"source"`
	SessionID string            `json:"session_id"`
	Timestamp time.Time         `json:"timestamp"`
	Data      json.RawMessage   `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SessionStateData is the payload for session.state events.
type SessionStateData struct {
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Reason    string `json:"reason,omitempty"`
}

// PredictionData is the payload for prediction.received events.
type PredictionData struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// HistoryClearedData is the payload for history.cleared events.
type HistoryClearedData struct {
	Removed int `json:"removed"`
}

// UploadProgressData is the payload for upload.progress events.
type UploadProgressData struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

// UploadCompletedData is the payload for upload.completed events.
type UploadCompletedData struct {
	JobID    string  `json:"job_id"`
	RemoteID string  `json:"remote_id"`
	Segments int     `json:"segments"`
	Duration float64 `json:"duration"`
	Summary  string  `json:"summary,omitempty"`
}

// UploadFailedData is the payload for upload.failed events.
type UploadFailedData struct {
	JobID string `json:"job_id"`
	Error string `json:"error"`
}
