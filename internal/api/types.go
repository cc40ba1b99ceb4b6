package api

import (
	"github.com/signbridge/signbridge/internal/history"
	"github.com/signbridge/signbridge/pkg/events"
	"github.com/signbridge/signbridge/pkg/webhook"
)

// UploadRequest is the request body for submitting a local video file.
type UploadRequest struct {
	Path string `json:"path"`
}

// ClearHistoryResponse reports how many predictions were removed.
type ClearHistoryResponse struct {
	Cleared int `json:"cleared"`
}

// HistoryResponse is the live prediction history, oldest first.
type HistoryResponse = history.Export

// EventsResponse is a page of recorded events.
type EventsResponse struct {
	Events []events.RecordedEvent `json:"events"`
	Last   int64                  `json:"last"`
}

// WebhooksResponse lists forwarding endpoints with delivery counters.
type WebhooksResponse struct {
	Webhooks []webhook.EndpointStatus `json:"webhooks"`
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
