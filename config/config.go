package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pitabwire/frame/config"

	"github.com/signbridge/signbridge/pkg/urlvalidation"
)

// TranslatorConfig holds configuration for the recognition agent.
type TranslatorConfig struct {
	config.ConfigurationDefault

	// Live recognition
	RecognizerSocketURL   string `envDefault:"ws://localhost:8000/ws/predict" env:"RECOGNIZER_SOCKET_URL"`
	RecognizerUserID      string `envDefault:""                               env:"RECOGNIZER_USER_ID"`
	SendDataURL           bool   `envDefault:"true"                           env:"SEND_DATA_URL"`
	CaptureIntervalMs     int    `envDefault:"150"                            env:"CAPTURE_INTERVAL_MS"`
	FrameWidth            int    `envDefault:"320"                            env:"FRAME_WIDTH"`
	FrameHeight           int    `envDefault:"240"                            env:"FRAME_HEIGHT"`
	JPEGQuality           int    `envDefault:"70"                             env:"JPEG_QUALITY"`
	CameraDriver          string `envDefault:"watch"                          env:"CAMERA_DRIVER"`
	CameraPath            string `envDefault:"./camera/frame.jpg"             env:"CAMERA_PATH"`
	CameraStartTimeoutSec int    `envDefault:"10"                             env:"CAMERA_START_TIMEOUT_SEC"`
	HistorySize           int    `envDefault:"50"                             env:"HISTORY_SIZE"`
	LabelCatalogPath      string `envDefault:""                               env:"LABEL_CATALOG_PATH"`

	// Socket keepalive and reconnect
	ReconnectMaxAttempts  int `envDefault:"3"    env:"RECONNECT_MAX_ATTEMPTS"`
	ReconnectBackoffMs    int `envDefault:"500"  env:"RECONNECT_BACKOFF_MS"`
	ReconnectBackoffMaxMs int `envDefault:"4000" env:"RECONNECT_BACKOFF_MAX_MS"`
	SocketPingIntervalSec int `envDefault:"25"   env:"SOCKET_PING_INTERVAL_SEC"`
	SocketWriteTimeoutSec int `envDefault:"5"    env:"SOCKET_WRITE_TIMEOUT_SEC"`

	// Batch translation
	TranslateAPIURL      string `envDefault:"http://localhost:8000/api/v1/video" env:"TRANSLATE_API_URL"`
	MaxUploadSizeMB      int    `envDefault:"100"                                env:"MAX_UPLOAD_SIZE_MB"`
	AcceptedVideoFormats string `envDefault:"mp4,webm,mov,avi,mkv"               env:"ACCEPTED_VIDEO_FORMATS"`
	PollIntervalMs       int    `envDefault:"2000"                               env:"POLL_INTERVAL_MS"`
	ProcessingTimeoutSec int    `envDefault:"600"                                env:"PROCESSING_TIMEOUT_SEC"`
	PollFailureThreshold int    `envDefault:"5"                                  env:"POLL_FAILURE_THRESHOLD"`

	// Control API
	EventRecorderSize int `envDefault:"500" env:"EVENT_RECORDER_SIZE"`

	// Event forwarding
	WebhookURLs         string `envDefault:""                                                   env:"WEBHOOK_URLS"`
	WebhookSecret       string `envDefault:""                                                   env:"WEBHOOK_SECRET"`
	WebhookEventTypes   string `envDefault:"prediction.received,upload.completed,upload.failed" env:"WEBHOOK_EVENT_TYPES"`
	WebhookMaxRPS       int    `envDefault:"10"                                                 env:"WEBHOOK_MAX_RPS"`
	WebhookMaxRetries   int    `envDefault:"5"                                                  env:"WEBHOOK_MAX_RETRIES"`
	WebhookTimeoutSec   int    `envDefault:"10"                                                 env:"WEBHOOK_TIMEOUT_SEC"`
	WebhookBackoffMs    int    `envDefault:"1000"                                               env:"WEBHOOK_BACKOFF_MS"`
	WebhookBackoffMaxMs int    `envDefault:"30000"                                              env:"WEBHOOK_BACKOFF_MAX_MS"`
	CBFailThreshold     int    `envDefault:"5"                                                  env:"CB_FAIL_THRESHOLD"`
	CBResetTimeoutSec   int    `envDefault:"60"                                                 env:"CB_RESET_TIMEOUT_SEC"`
}

// Validate checks endpoints and numeric ranges.
func (c *TranslatorConfig) Validate() error {
	if err := urlvalidation.ValidateSocketURL(c.RecognizerSocketURL); err != nil {
		return fmt.Errorf("RECOGNIZER_SOCKET_URL: %w", err)
	}
	if err := urlvalidation.ValidateHTTPURL(c.TranslateAPIURL); err != nil {
		return fmt.Errorf("TRANSLATE_API_URL: %w", err)
	}
	if c.CaptureIntervalMs <= 0 {
		return fmt.Errorf("CAPTURE_INTERVAL_MS must be positive, got %d", c.CaptureIntervalMs)
	}
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		return fmt.Errorf("frame size must be positive, got %dx%d", c.FrameWidth, c.FrameHeight)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be within 1..100, got %d", c.JPEGQuality)
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("HISTORY_SIZE must be positive, got %d", c.HistorySize)
	}
	if c.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must not be negative, got %d", c.ReconnectMaxAttempts)
	}
	if c.MaxUploadSizeMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE_MB must be positive, got %d", c.MaxUploadSizeMB)
	}
	if len(c.VideoFormats()) == 0 {
		return fmt.Errorf("ACCEPTED_VIDEO_FORMATS must list at least one format")
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("POLL_INTERVAL_MS must be positive, got %d", c.PollIntervalMs)
	}
	if c.WebhookMaxRetries < 0 || c.WebhookMaxRPS < 0 {
		return fmt.Errorf("webhook limits must not be negative")
	}
	return nil
}

// CaptureInterval returns the frame capture cadence.
func (c *TranslatorConfig) CaptureInterval() time.Duration {
	return time.Duration(c.CaptureIntervalMs) * time.Millisecond
}

// CameraStartTimeout bounds the wait for the first renderable frame.
func (c *TranslatorConfig) CameraStartTimeout() time.Duration {
	return time.Duration(c.CameraStartTimeoutSec) * time.Second
}

// MaxUploadBytes converts the configured upload limit to bytes.
func (c *TranslatorConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadSizeMB) << 20
}

// VideoFormats returns the accepted extensions, lower-cased and without dots.
func (c *TranslatorConfig) VideoFormats() []string {
	var formats []string
	for _, f := range strings.Split(c.AcceptedVideoFormats, ",") {
		f = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(f), "."))
		if f != "" {
			formats = append(formats, f)
		}
	}
	return formats
}

// PollInterval returns the batch job polling cadence.
func (c *TranslatorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// ProcessingTimeout bounds how long a batch job may stay in processing.
func (c *TranslatorConfig) ProcessingTimeout() time.Duration {
	return time.Duration(c.ProcessingTimeoutSec) * time.Second
}

// ReconnectBackoff returns the initial and maximum reconnect delays.
func (c *TranslatorConfig) ReconnectBackoff() (initial, max time.Duration) {
	return time.Duration(c.ReconnectBackoffMs) * time.Millisecond,
		time.Duration(c.ReconnectBackoffMaxMs) * time.Millisecond
}

// SocketTimeouts returns the keepalive ping interval and write timeout.
func (c *TranslatorConfig) SocketTimeouts() (ping, write time.Duration) {
	return time.Duration(c.SocketPingIntervalSec) * time.Second,
		time.Duration(c.SocketWriteTimeoutSec) * time.Second
}

// WebhookBackoff returns the initial and maximum webhook retry delays.
func (c *TranslatorConfig) WebhookBackoff() (initial, max time.Duration) {
	return time.Duration(c.WebhookBackoffMs) * time.Millisecond,
		time.Duration(c.WebhookBackoffMaxMs) * time.Millisecond
}
