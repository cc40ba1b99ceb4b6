package config

import (
	"testing"
	"time"
)

func validConfig() TranslatorConfig {
	return TranslatorConfig{
		RecognizerSocketURL:   "ws://localhost:8000/ws/predict",
		SendDataURL:           true,
		CaptureIntervalMs:     150,
		FrameWidth:            320,
		FrameHeight:           240,
		JPEGQuality:           70,
		CameraDriver:          "watch",
		CameraPath:            "./camera/frame.jpg",
		CameraStartTimeoutSec: 10,
		HistorySize:           50,
		ReconnectMaxAttempts:  3,
		ReconnectBackoffMs:    500,
		ReconnectBackoffMaxMs: 4000,
		SocketPingIntervalSec: 25,
		SocketWriteTimeoutSec: 5,
		TranslateAPIURL:       "http://localhost:8000/api/v1/video",
		MaxUploadSizeMB:       100,
		AcceptedVideoFormats:  "mp4, .WebM,mov,,avi",
		PollIntervalMs:        2000,
		ProcessingTimeoutSec:  600,
		PollFailureThreshold:  5,
	}
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *TranslatorConfig)
	}{
		{name: "http socket url", modify: func(c *TranslatorConfig) { c.RecognizerSocketURL = "http://localhost/ws" }},
		{name: "ws api url", modify: func(c *TranslatorConfig) { c.TranslateAPIURL = "ws://localhost/api" }},
		{name: "zero interval", modify: func(c *TranslatorConfig) { c.CaptureIntervalMs = 0 }},
		{name: "bad quality", modify: func(c *TranslatorConfig) { c.JPEGQuality = 101 }},
		{name: "zero history", modify: func(c *TranslatorConfig) { c.HistorySize = 0 }},
		{name: "negative reconnects", modify: func(c *TranslatorConfig) { c.ReconnectMaxAttempts = -1 }},
		{name: "zero upload size", modify: func(c *TranslatorConfig) { c.MaxUploadSizeMB = 0 }},
		{name: "no formats", modify: func(c *TranslatorConfig) { c.AcceptedVideoFormats = " , " }},
		{name: "negative webhook retries", modify: func(c *TranslatorConfig) { c.WebhookMaxRetries = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDerivedValues(t *testing.T) {
	cfg := validConfig()

	if got := cfg.CaptureInterval(); got != 150*time.Millisecond {
		t.Errorf("CaptureInterval = %v, want 150ms", got)
	}
	if got := cfg.MaxUploadBytes(); got != 100*1024*1024 {
		t.Errorf("MaxUploadBytes = %d, want %d", got, 100*1024*1024)
	}

	formats := cfg.VideoFormats()
	want := []string{"mp4", "webm", "mov", "avi"}
	if len(formats) != len(want) {
		t.Fatalf("VideoFormats = %v, want %v", formats, want)
	}
	for i := range want {
		if formats[i] != want[i] {
			t.Errorf("VideoFormats[%d] = %q, want %q", i, formats[i], want[i])
		}
	}

	initial, max := cfg.ReconnectBackoff()
	if initial != 500*time.Millisecond || max != 4*time.Second {
		t.Errorf("ReconnectBackoff = %v, %v", initial, max)
	}
}
