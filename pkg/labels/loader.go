package labels

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader loads and optionally hot-reloads a sign catalog file. A loader
// with an empty path accepts every label unchanged.
type Loader struct {
	path string

	mu      sync.RWMutex
	catalog *Catalog
}

// NewLoader creates a loader for the catalog at path.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load reads and validates the catalog file.
func (l *Loader) Load() (*Catalog, error) {
	if l.path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %q: %w", l.path, err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if c.Name == "" {
		c.Name = filepath.Base(l.path)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("catalog %q: %w", l.path, err)
	}

	l.mu.Lock()
	l.catalog = &c
	l.mu.Unlock()
	return &c, nil
}

// Current returns the last successfully loaded catalog, or nil.
func (l *Loader) Current() *Catalog {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.catalog
}

// Resolve applies the current catalog to a prediction.
func (l *Loader) Resolve(label string, confidence float64) (string, bool) {
	return l.Current().Resolve(label, confidence)
}

// WatchAndReload watches the catalog file and reloads it on change. A
// catalog that fails to load leaves the previous one in place. This blocks
// until done is closed.
func (l *Loader) WatchAndReload(done <-chan struct{}) error {
	if l.path == "" {
		<-done
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch dir %q: %w", dir, err)
	}

	target := filepath.Clean(l.path)
	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if _, err := l.Load(); err != nil {
					slog.Warn("labels: reload failed", slog.String("path", l.path), slog.String("error", err.Error()))
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
