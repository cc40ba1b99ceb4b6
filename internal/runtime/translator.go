// Package runtime composes the live and batch recognition pipelines into
// one agent.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/pitabwire/frame/workerpool"
	"github.com/rs/xid"

	"github.com/signbridge/signbridge/config"
	"github.com/signbridge/signbridge/internal/capture"
	"github.com/signbridge/signbridge/internal/connection"
	"github.com/signbridge/signbridge/internal/session"
	"github.com/signbridge/signbridge/internal/upload"
	"github.com/signbridge/signbridge/pkg/events"
	"github.com/signbridge/signbridge/pkg/labels"
	"github.com/signbridge/signbridge/pkg/urlvalidation"
)

// Status is the combined view of both pipelines.
type Status struct {
	CameraRunning bool             `json:"camera_running"`
	CameraDriver  string           `json:"camera_driver"`
	Live          session.Snapshot `json:"live"`
	Upload        upload.Job       `json:"upload"`
}

// Option overrides a collaborator, mainly for tests.
type Option func(*Translator)

// WithPool runs background work on pool.
func WithPool(pool workerpool.WorkerPool) Option {
	return func(t *Translator) { t.pool = pool }
}

// WithPublisher emits events through pub.
func WithPublisher(pub *events.Publisher) Option {
	return func(t *Translator) { t.pub = pub }
}

// WithDevice replaces the configured camera driver.
func WithDevice(dev capture.Device) Option {
	return func(t *Translator) { t.device = dev }
}

// WithTransport replaces the websocket connection manager.
func WithTransport(tr session.Transport) Option {
	return func(t *Translator) { t.transport = tr }
}

// WithUploadClient replaces the batch API client.
func WithUploadClient(c upload.Client) Option {
	return func(t *Translator) { t.uploadClient = c }
}

// Translator owns the camera, the live session and the upload pipeline.
type Translator struct {
	cfg          *config.TranslatorConfig
	pool         workerpool.WorkerPool
	pub          *events.Publisher
	device       capture.Device
	transport    session.Transport
	uploadClient upload.Client

	source  *capture.Source
	session *session.Session
	uploads *upload.Pipeline
	labels  *labels.Loader

	mu sync.Mutex
}

// NewTranslator builds the agent from configuration.
func NewTranslator(cfg *config.TranslatorConfig, opts ...Option) (*Translator, error) {
	t := &Translator{cfg: cfg}
	for _, opt := range opts {
		opt(t)
	}

	t.labels = labels.NewLoader(cfg.LabelCatalogPath)
	if _, err := t.labels.Load(); err != nil {
		return nil, fmt.Errorf("load sign catalog: %w", err)
	}

	if t.device == nil {
		dev, err := capture.Drivers.Create(cfg.CameraDriver, capture.DeviceConfig{Path: cfg.CameraPath})
		if err != nil {
			return nil, err
		}
		t.device = dev
	}
	t.source = capture.NewSource(t.device, capture.Options{
		Width:        cfg.FrameWidth,
		Height:       cfg.FrameHeight,
		Quality:      cfg.JPEGQuality,
		StartTimeout: cfg.CameraStartTimeout(),
	})

	if t.transport == nil {
		socketURL := cfg.RecognizerSocketURL
		if cfg.RecognizerUserID != "" {
			u, err := urlvalidation.AppendPathSegment(socketURL, cfg.RecognizerUserID)
			if err != nil {
				return nil, fmt.Errorf("recognizer url: %w", err)
			}
			socketURL = u
		}
		backoffInitial, backoffMax := cfg.ReconnectBackoff()
		ping, write := cfg.SocketTimeouts()
		t.transport = connection.NewManager(connection.Config{
			URL:            socketURL,
			Header:         http.Header{"User-Agent": []string{"signbridge"}},
			MaxReconnects:  cfg.ReconnectMaxAttempts,
			BackoffInitial: backoffInitial,
			BackoffMax:     backoffMax,
			PingInterval:   ping,
			WriteTimeout:   write,
		})
	}

	sessionOpts := []session.Option{session.WithPublisher(t.pub)}
	if cfg.LabelCatalogPath != "" {
		sessionOpts = append(sessionOpts, session.WithResolver(t.labels))
	}
	t.session = session.New(t.transport, t.source, session.Config{
		ID:              xid.New().String(),
		CaptureInterval: cfg.CaptureInterval(),
		SendDataURL:     cfg.SendDataURL,
		HistorySize:     cfg.HistorySize,
	}, sessionOpts...)

	if t.uploadClient == nil {
		t.uploadClient = upload.NewHTTPClient(cfg.TranslateAPIURL, nil)
	}
	t.uploads = upload.NewPipeline(t.uploadClient, upload.Config{
		MaxBytes:          cfg.MaxUploadBytes(),
		Formats:           cfg.VideoFormats(),
		PollInterval:      cfg.PollInterval(),
		ProcessingTimeout: cfg.ProcessingTimeout(),
		FailureThreshold:  cfg.PollFailureThreshold,
	}, upload.WithPool(t.pool), upload.WithPublisher(t.pub))

	return t, nil
}

// Session returns the live recognition session.
func (t *Translator) Session() *session.Session {
	return t.session
}

// Uploads returns the batch upload pipeline.
func (t *Translator) Uploads() *upload.Pipeline {
	return t.uploads
}

// Status returns the combined state of both pipelines.
func (t *Translator) Status() Status {
	return Status{
		CameraRunning: t.source.Running(),
		CameraDriver:  t.cfg.CameraDriver,
		Live:          t.session.Snapshot(),
		Upload:        t.uploads.Current(),
	}
}

// StartCamera acquires the camera.
func (t *Translator) StartCamera(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.source.Start(ctx)
}

// StopCamera halts recognition, if running, and releases the camera.
func (t *Translator) StopCamera(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session.Snapshot().State == session.StateRecognizing {
		if err := t.session.StopRecognition(ctx); err != nil {
			slog.WarnContext(ctx, "translator: stop recognition", slog.String("error", err.Error()))
		}
	}
	t.source.Stop()
}

// StartRecognition begins streaming frames; the camera must be running.
func (t *Translator) StartRecognition(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.source.Running() {
		return fmt.Errorf("start recognition: %w", capture.ErrNotStarted)
	}
	return t.session.StartRecognition(ctx)
}

// WatchLabels hot-reloads the sign catalog until ctx ends.
func (t *Translator) WatchLabels(ctx context.Context) {
	if t.cfg.LabelCatalogPath == "" {
		return
	}
	fn := func() {
		if err := t.labels.WatchAndReload(ctx.Done()); err != nil {
			slog.ErrorContext(ctx, "translator: label watcher stopped", slog.String("error", err.Error()))
		}
	}
	if t.pool != nil {
		if err := t.pool.Submit(ctx, fn); err != nil {
			slog.ErrorContext(ctx, "translator: submit label watcher failed", slog.String("error", err.Error()))
		}
		return
	}
	go fn()
}

// Teardown cascades scheduler, socket, camera and upload shutdown. Every
// step is idempotent, so Teardown may run more than once.
func (t *Translator) Teardown(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.session.Disconnect(ctx)
	t.source.Stop()
	t.uploads.RemoveFile()
	slog.InfoContext(ctx, "translator: torn down")
}

// Close tears down and stops the session event loop.
func (t *Translator) Close(ctx context.Context) {
	t.Teardown(ctx)
	t.session.Close(ctx)
}
