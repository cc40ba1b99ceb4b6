package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
)

// watchDevice reads a still file that an external grabber keeps
// overwriting, e.g. `ffmpeg -i /dev/video0 -update 1 frame.jpg`.
// A sibling "<path>.lock" file holding the owner's PID marks the device as
// held. A lock whose PID names a dead process is reclaimed. A lock with no
// readable PID is treated as held and must be removed by hand.
type watchDevice struct {
	path     string
	lockPath string

	mu      sync.RWMutex
	latest  image.Image
	ready   chan struct{}
	open    bool
	done    chan struct{}
	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

func newWatchDevice(cfg DeviceConfig) (Device, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: watch driver requires a path", ErrCameraUnavailable)
	}
	path := filepath.Clean(cfg.Path)
	return &watchDevice{
		path:     path,
		lockPath: path + ".lock",
		ready:    make(chan struct{}),
	}, nil
}

func (d *watchDevice) Open(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.open {
		return nil
	}

	f, err := os.Open(d.path)
	if err != nil {
		return classifyOpenError(d.path, err)
	}
	f.Close()

	if err := d.acquireLock(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		os.Remove(d.lockPath)
		return fmt.Errorf("%w: create watcher: %v", ErrCameraUnavailable, err)
	}
	if err := watcher.Add(filepath.Dir(d.path)); err != nil {
		watcher.Close()
		os.Remove(d.lockPath)
		return classifyOpenError(d.path, err)
	}

	d.ready = make(chan struct{})
	d.latest = nil
	d.done = make(chan struct{})
	d.watcher = watcher
	d.open = true

	d.reloadLocked()

	d.wg.Add(1)
	go d.watch(watcher, d.done)
	return nil
}

func (d *watchDevice) watch(watcher *fsnotify.Watcher, done <-chan struct{}) {
	defer d.wg.Done()

	for {
		select {
		case <-done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != d.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				d.mu.Lock()
				d.reloadLocked()
				d.mu.Unlock()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("camera watch error", slog.String("path", d.path), slog.String("error", err.Error()))
		}
	}
}

// reloadLocked decodes the current file. A partially written file is
// skipped and the previous image kept.
func (d *watchDevice) reloadLocked() {
	f, err := os.Open(d.path)
	if err != nil {
		return
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		slog.Debug("camera frame decode skipped", slog.String("path", d.path), slog.String("error", err.Error()))
		return
	}

	d.latest = img
	select {
	case <-d.ready:
	default:
		close(d.ready)
	}
}

func (d *watchDevice) Ready() <-chan struct{} {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ready
}

func (d *watchDevice) Latest() (image.Image, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.open {
		return nil, ErrNotStarted
	}
	if d.latest == nil {
		return nil, ErrNoFrame
	}
	return d.latest, nil
}

func (d *watchDevice) Close() error {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return nil
	}
	d.open = false
	close(d.done)
	watcher := d.watcher
	d.watcher = nil
	d.mu.Unlock()

	err := watcher.Close()
	d.wg.Wait()
	os.Remove(d.lockPath)
	return err
}

func (d *watchDevice) acquireLock() error {
	err := createLock(d.lockPath)
	if errors.Is(err, fs.ErrExist) && lockIsStale(d.lockPath) {
		slog.Warn("removing stale device lock", "lock", d.lockPath)
		if rmErr := os.Remove(d.lockPath); rmErr == nil || errors.Is(rmErr, fs.ErrNotExist) {
			err = createLock(d.lockPath)
		}
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %s is held by another process (remove %s if its owner is gone)",
			ErrDeviceBusy, d.path, d.lockPath)
	default:
		return classifyOpenError(d.lockPath, err)
	}
}

func createLock(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	_, err = f.WriteString(strconv.Itoa(os.Getpid()))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
	}
	return err
}

// lockIsStale reports whether the lock at path names a process that no
// longer exists.
func lockIsStale(path string) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return false
	}
	return !processAlive(pid)
}

func processAlive(pid int) bool {
	if pid == os.Getpid() {
		return true
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	switch {
	case err == nil:
		return true
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, syscall.ESRCH):
		return false
	default:
		// EPERM: the process exists under another user.
		return true
	}
}

func classifyOpenError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s not found", ErrCameraUnavailable, path)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, path)
	default:
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}
}
