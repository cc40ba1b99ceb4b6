package capture

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := range 48 {
		for x := range 64 {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 128, A: 255})
		}
	}
	return img
}

func writeJPEG(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testImage(), nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestCaptureFrameScalesAndEncodes(t *testing.T) {
	src := NewSource(NewStillDevice(testImage()), Options{Width: 160, Height: 120, Quality: 50})
	if err := src.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()

	frame, err := src.CaptureFrame()
	if err != nil {
		t.Fatalf("CaptureFrame: %v", err)
	}
	if frame.ContentType != "image/jpeg" {
		t.Errorf("content type = %q", frame.ContentType)
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame.Data))
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if cfg.Width != 160 || cfg.Height != 120 {
		t.Errorf("frame size = %dx%d, want 160x120", cfg.Width, cfg.Height)
	}
}

func TestCaptureBeforeStart(t *testing.T) {
	src := NewSource(NewStillDevice(testImage()), Options{})
	if _, err := src.CaptureFrame(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("err = %v, want ErrNotStarted", err)
	}
}

func TestStopIdempotent(t *testing.T) {
	src := NewSource(NewStillDevice(testImage()), Options{})

	// Stop before Start must be harmless.
	src.Stop()

	if err := src.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src.Stop()
	src.Stop()

	if src.Running() {
		t.Error("source should not be running after Stop")
	}
	if _, err := src.CaptureFrame(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("capture after stop err = %v, want ErrNotStarted", err)
	}
}

func TestWatchDeviceErrors(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "frame.jpg")
	writeJPEG(t, present)
	if err := os.WriteFile(present+".lock", nil, 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		want error
	}{
		{name: "missing file", path: filepath.Join(dir, "absent.jpg"), want: ErrCameraUnavailable},
		{name: "held lock", path: present, want: ErrDeviceBusy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, err := Drivers.Create("watch", DeviceConfig{Path: tt.path})
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			src := NewSource(dev, Options{StartTimeout: time.Second})
			err = src.Start(t.Context())
			if !errors.Is(err, tt.want) {
				t.Errorf("Start err = %v, want %v", err, tt.want)
			}
			src.Stop()
		})
	}
}

func TestWatchDeviceLockOwner(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    error
	}{
		{name: "live owner", content: strconv.Itoa(os.Getpid()), want: ErrDeviceBusy},
		{name: "unreadable owner", content: "garbage", want: ErrDeviceBusy},
		// Above any kernel pid_max, so no such process can exist.
		{name: "dead owner", content: strconv.Itoa(1 << 30), want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "frame.jpg")
			writeJPEG(t, path)
			if err := os.WriteFile(path+".lock", []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}

			dev, err := Drivers.Create("watch", DeviceConfig{Path: path})
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			src := NewSource(dev, Options{StartTimeout: 2 * time.Second})
			err = src.Start(t.Context())
			defer src.Stop()

			if tt.want != nil {
				if !errors.Is(err, tt.want) {
					t.Fatalf("Start err = %v, want %v", err, tt.want)
				}
				return
			}
			if err != nil {
				t.Fatalf("Start with stale lock: %v", err)
			}
			raw, err := os.ReadFile(path + ".lock")
			if err != nil {
				t.Fatalf("read lock: %v", err)
			}
			if got := string(raw); got != strconv.Itoa(os.Getpid()) {
				t.Errorf("lock owner = %q, want %d", got, os.Getpid())
			}
		})
	}
}

func TestWatchDeviceStartAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.jpg")
	writeJPEG(t, path)

	dev, err := Drivers.Create("watch", DeviceConfig{Path: path})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	src := NewSource(dev, Options{StartTimeout: 2 * time.Second})
	if err := src.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := os.Stat(path + ".lock"); err != nil {
		t.Errorf("lock file not created: %v", err)
	}
	if _, err := src.CaptureFrame(); err != nil {
		t.Errorf("CaptureFrame: %v", err)
	}

	src.Stop()
	if _, err := os.Stat(path + ".lock"); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed after Stop, stat err = %v", err)
	}

	// A released device can be acquired again.
	if err := src.Start(t.Context()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	src.Stop()
}

func TestWatchDeviceStartTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.jpg")
	if err := os.WriteFile(path, []byte("not an image"), 0o600); err != nil {
		t.Fatal(err)
	}

	dev, err := Drivers.Create("watch", DeviceConfig{Path: path})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	src := NewSource(dev, Options{StartTimeout: 50 * time.Millisecond})

	err = src.Start(t.Context())
	if !errors.Is(err, ErrCameraUnavailable) {
		t.Fatalf("Start err = %v, want ErrCameraUnavailable", err)
	}
	if _, err := os.Stat(path + ".lock"); !os.IsNotExist(err) {
		t.Errorf("lock should be released after failed start, stat err = %v", err)
	}
	src.Stop()
}

func TestRegistry(t *testing.T) {
	for _, name := range []string{"still", "watch"} {
		if !Drivers.Has(name) {
			t.Errorf("driver %q not registered", name)
		}
	}

	if _, err := Drivers.Create("v4l2-missing", DeviceConfig{Path: "x"}); err == nil {
		t.Error("expected error for unknown driver")
	}

	r := NewRegistry()
	r.Register("b", newStillDevice)
	r.Register("a", newStillDevice)
	if got := r.List(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("List = %v", got)
	}
}
