// Package capture acquires still frames from a camera device and encodes
// them for streaming.
//
// The watch driver guards its device with a "<path>.lock" file naming the
// owning PID. Locks left by a process that has exited are reclaimed on the
// next Open. A lock without a readable PID keeps reporting ErrDeviceBusy
// until it is deleted.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"golang.org/x/image/draw"
)

var (
	ErrCameraUnavailable = errors.New("camera unavailable")
	ErrPermissionDenied  = errors.New("camera permission denied")
	ErrDeviceBusy        = errors.New("camera busy")
	ErrNotStarted        = errors.New("camera not started")
	ErrNoFrame           = errors.New("no frame available")
)

// Frame is a single encoded still.
type Frame struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	CapturedAt  time.Time
}

// Device is a camera that exposes its most recent image.
type Device interface {
	// Open acquires the device. It must map failures onto
	// ErrCameraUnavailable, ErrPermissionDenied or ErrDeviceBusy.
	Open(ctx context.Context) error
	// Ready is closed once the first image can be rendered.
	Ready() <-chan struct{}
	Latest() (image.Image, error)
	Close() error
}

// Options controls frame encoding and startup.
type Options struct {
	Width        int
	Height       int
	Quality      int
	StartTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.Width <= 0 {
		o.Width = 320
	}
	if o.Height <= 0 {
		o.Height = 240
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = 70
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = 10 * time.Second
	}
}

// Source wraps a Device and produces fixed-size JPEG frames.
type Source struct {
	dev  Device
	opts Options

	mu      sync.Mutex
	opened  bool
	started bool
}

// NewSource creates a source for dev.
func NewSource(dev Device, opts Options) *Source {
	opts.applyDefaults()
	return &Source{dev: dev, opts: opts}
}

// Start acquires the device and blocks until the first frame is renderable.
// Calling Start on a running source is a no-op.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if err := s.dev.Open(ctx); err != nil {
		_ = s.dev.Close()
		return err
	}
	s.opened = true

	timer := time.NewTimer(s.opts.StartTimeout)
	defer timer.Stop()

	select {
	case <-s.dev.Ready():
	case <-timer.C:
		s.closeLocked()
		return fmt.Errorf("%w: no frame within %s", ErrCameraUnavailable, s.opts.StartTimeout)
	case <-ctx.Done():
		s.closeLocked()
		return ctx.Err()
	}

	s.started = true
	return nil
}

// Running reports whether the source has been started and not stopped.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// CaptureFrame encodes the most recent device image. It has no effect on
// the device.
func (s *Source) CaptureFrame() (Frame, error) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	if !started {
		return Frame{}, ErrNotStarted
	}

	img, err := s.dev.Latest()
	if err != nil {
		return Frame{}, err
	}

	data, err := encodeJPEG(img, s.opts.Width, s.opts.Height, s.opts.Quality)
	if err != nil {
		return Frame{}, err
	}

	return Frame{
		Data:        data,
		ContentType: "image/jpeg",
		Width:       s.opts.Width,
		Height:      s.opts.Height,
		CapturedAt:  time.Now(),
	}, nil
}

// Stop releases the device. It is safe to call repeatedly and after a
// failed Start.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Source) closeLocked() {
	if s.opened {
		_ = s.dev.Close()
	}
	s.opened = false
	s.started = false
}

func encodeJPEG(src image.Image, width, height, quality int) ([]byte, error) {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
