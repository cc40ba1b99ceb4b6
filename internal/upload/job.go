// Package upload validates video files, uploads them to the batch
// recognizer and polls until a translation is available.
package upload

import (
	"errors"
	"time"

	"github.com/signbridge/signbridge/pkg/recognition"
)

var (
	ErrFileTooLarge      = errors.New("file too large")
	ErrUnsupportedFormat = errors.New("unsupported video format")
	ErrUploadFailed      = errors.New("upload failed")
	ErrProcessingFailed  = errors.New("processing failed")
)

// Status is the lifecycle stage of an upload job.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Job is a snapshot of the current upload.
type Job struct {
	ID          string `json:"id,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Status      Status `json:"status"`
	// Progress is the share of the file sent, 0..100.
	Progress int `json:"progress"`
	// ProcessingProgress is the remote progress reported while polling.
	ProcessingProgress int                            `json:"processing_progress"`
	RemoteID           string                         `json:"remote_id,omitempty"`
	Result             *recognition.TranslationResult `json:"result,omitempty"`
	Error              string                         `json:"error,omitempty"`
	CreatedAt          time.Time                      `json:"created_at,omitzero"`
	UpdatedAt          time.Time                      `json:"updated_at,omitzero"`
}

// Terminal reports whether the job has finished.
func (j Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusError
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to Status) bool {
	switch from {
	case StatusIdle:
		return to == StatusUploading
	case StatusUploading:
		return to == StatusProcessing || to == StatusError
	case StatusProcessing:
		return to == StatusCompleted || to == StatusError
	default:
		return false
	}
}
