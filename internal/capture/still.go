package capture

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"
)

// StillDevice serves a single fixed image.
type StillDevice struct {
	path  string
	ready chan struct{}

	mu   sync.RWMutex
	img  image.Image
	open bool
}

// NewStillDevice creates a device that always returns img.
func NewStillDevice(img image.Image) *StillDevice {
	return &StillDevice{img: img, ready: make(chan struct{})}
}

func newStillDevice(cfg DeviceConfig) (Device, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: still driver requires a path", ErrCameraUnavailable)
	}
	return &StillDevice{path: cfg.Path, ready: make(chan struct{})}, nil
}

func (d *StillDevice) Open(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.path != "" {
		f, err := os.Open(d.path)
		if err != nil {
			return classifyOpenError(d.path, err)
		}
		defer f.Close()

		img, _, err := image.Decode(f)
		if err != nil {
			return fmt.Errorf("%w: decode %s: %v", ErrCameraUnavailable, d.path, err)
		}
		d.img = img
	}
	if d.img == nil {
		return ErrCameraUnavailable
	}

	d.open = true
	select {
	case <-d.ready:
	default:
		close(d.ready)
	}
	return nil
}

func (d *StillDevice) Ready() <-chan struct{} {
	return d.ready
}

func (d *StillDevice) Latest() (image.Image, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.open {
		return nil, ErrNotStarted
	}
	return d.img, nil
}

func (d *StillDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}
