// Package api exposes the translator's control surface over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pitabwire/util"

	"github.com/signbridge/signbridge/internal/capture"
	"github.com/signbridge/signbridge/internal/connection"
	"github.com/signbridge/signbridge/internal/runtime"
	"github.com/signbridge/signbridge/internal/session"
	"github.com/signbridge/signbridge/internal/upload"
	"github.com/signbridge/signbridge/pkg/events"
	"github.com/signbridge/signbridge/pkg/webhook"
)

const maxRequestBodySize = 1 << 20 // 1 MiB

// Handler provides REST endpoints for the live and batch pipelines.
type Handler struct {
	tr       *runtime.Translator
	recorder *events.Recorder
	webhooks *webhook.Subscriber
}

// HandlerOption enables optional endpoints.
type HandlerOption func(*Handler)

// WithRecorder serves recorded events from rec.
func WithRecorder(rec *events.Recorder) HandlerOption {
	return func(h *Handler) { h.recorder = rec }
}

// WithWebhooks reports forwarding status from ws.
func WithWebhooks(ws *webhook.Subscriber) HandlerOption {
	return func(h *Handler) { h.webhooks = ws }
}

// NewHandler creates a new control API handler.
func NewHandler(tr *runtime.Translator, opts ...HandlerOption) *Handler {
	h := &Handler{tr: tr}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes builds the router for all control endpoints.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1/live", func(r chi.Router) {
		r.Get("/", h.Status)
		r.Post("/camera/start", h.StartCamera)
		r.Post("/camera/stop", h.StopCamera)
		r.Post("/connect", h.Connect)
		r.Post("/start", h.StartRecognition)
		r.Post("/stop", h.StopRecognition)
		r.Post("/disconnect", h.Disconnect)
		r.Get("/history", h.History)
		r.Delete("/history", h.ClearHistory)
		r.Get("/history/export", h.ExportHistory)
	})

	r.Route("/api/v1/uploads", func(r chi.Router) {
		r.Post("/", h.Upload)
		r.Get("/current", h.CurrentUpload)
		r.Delete("/current", h.RemoveUpload)
	})

	r.Get("/api/v1/events", h.Events)
	r.Get("/api/v1/webhooks", h.Webhooks)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, capture.ErrDeviceBusy),
		errors.Is(err, capture.ErrNotStarted),
		errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, capture.ErrCameraUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, connection.ErrConnectionFailed):
		return http.StatusBadGateway
	case errors.Is(err, upload.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, upload.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		util.Log(r.Context()).WithError(err).Error(msg)
	}
	writeError(w, status, err.Error())
}

// Status handles GET /api/v1/live
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tr.Status())
}

// StartCamera handles POST /api/v1/live/camera/start
func (h *Handler) StartCamera(w http.ResponseWriter, r *http.Request) {
	if err := h.tr.StartCamera(r.Context()); err != nil {
		h.fail(w, r, err, "control api: start camera")
		return
	}
	writeJSON(w, http.StatusOK, h.tr.Status())
}

// StopCamera handles POST /api/v1/live/camera/stop
func (h *Handler) StopCamera(w http.ResponseWriter, r *http.Request) {
	h.tr.StopCamera(r.Context())
	writeJSON(w, http.StatusOK, h.tr.Status())
}

// Connect handles POST /api/v1/live/connect
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	if err := h.tr.Session().Connect(r.Context()); err != nil {
		h.fail(w, r, err, "control api: connect")
		return
	}
	writeJSON(w, http.StatusOK, h.tr.Session().Snapshot())
}

// StartRecognition handles POST /api/v1/live/start
func (h *Handler) StartRecognition(w http.ResponseWriter, r *http.Request) {
	if err := h.tr.StartRecognition(r.Context()); err != nil {
		h.fail(w, r, err, "control api: start recognition")
		return
	}
	writeJSON(w, http.StatusOK, h.tr.Session().Snapshot())
}

// StopRecognition handles POST /api/v1/live/stop
func (h *Handler) StopRecognition(w http.ResponseWriter, r *http.Request) {
	if err := h.tr.Session().StopRecognition(r.Context()); err != nil {
		h.fail(w, r, err, "control api: stop recognition")
		return
	}
	writeJSON(w, http.StatusOK, h.tr.Session().Snapshot())
}

// Disconnect handles POST /api/v1/live/disconnect
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.tr.Session().Disconnect(r.Context())
	writeJSON(w, http.StatusOK, h.tr.Session().Snapshot())
}

// History handles GET /api/v1/live/history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tr.Session().History().Export())
}

// ClearHistory handles DELETE /api/v1/live/history
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	n := h.tr.Session().ClearHistory(r.Context())
	writeJSON(w, http.StatusOK, ClearHistoryResponse{Cleared: n})
}

// ExportHistory handles GET /api/v1/live/history/export
func (h *Handler) ExportHistory(w http.ResponseWriter, r *http.Request) {
	export := h.tr.Session().History().Export()
	name := "signbridge-history-" + export.GeneratedAt.Format("20060102T150405Z") + ".json"
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	writeJSON(w, http.StatusOK, export)
}

// Upload handles POST /api/v1/uploads
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	file, err := upload.FileFromPath(req.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, upload.ErrUnsupportedFormat) {
			h.fail(w, r, err, "control api: open upload")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.tr.Uploads().UploadVideo(r.Context(), file)
	if err != nil {
		h.fail(w, r, err, "control api: upload video")
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// CurrentUpload handles GET /api/v1/uploads/current
func (h *Handler) CurrentUpload(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tr.Uploads().Current())
}

// RemoveUpload handles DELETE /api/v1/uploads/current
func (h *Handler) RemoveUpload(w http.ResponseWriter, r *http.Request) {
	h.tr.Uploads().RemoveFile()
	w.WriteHeader(http.StatusNoContent)
}

// Events handles GET /api/v1/events?after=<seq>
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if h.recorder == nil {
		writeError(w, http.StatusNotFound, "event recording is disabled")
		return
	}

	var after int64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = n
	}

	list := h.recorder.Since(after)
	resp := EventsResponse{Events: list, Last: after}
	if len(list) > 0 {
		resp.Last = list[len(list)-1].Seq
	}
	writeJSON(w, http.StatusOK, resp)
}

// Webhooks handles GET /api/v1/webhooks
func (h *Handler) Webhooks(w http.ResponseWriter, r *http.Request) {
	resp := WebhooksResponse{Webhooks: []webhook.EndpointStatus{}}
	if h.webhooks != nil {
		resp.Webhooks = h.webhooks.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}
