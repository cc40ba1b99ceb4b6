package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// File is a video selected for upload.
type File struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// FileFromPath describes a file on local disk.
func FileFromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat %q: %w", path, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%w: %q is a directory", ErrUnsupportedFormat, path)
	}
	return File{
		Name: filepath.Base(path),
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// Validator checks size and format before any network activity.
type Validator struct {
	MaxBytes int64
	Formats  []string
}

// Validate returns the sniffed content type of f. Size is checked first so
// oversized files are never opened.
func (v Validator) Validate(f File) (string, error) {
	if v.MaxBytes > 0 && f.Size > v.MaxBytes {
		return "", fmt.Errorf("%w: %s is %s, limit is %s", ErrFileTooLarge, f.Name, formatBytes(f.Size), formatBytes(v.MaxBytes))
	}
	if f.Size <= 0 {
		return "", fmt.Errorf("%w: %s is empty", ErrUnsupportedFormat, f.Name)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(f.Name), "."))
	if !slices.Contains(v.Formats, ext) {
		return "", fmt.Errorf("%w: %q (accepted: %s)", ErrUnsupportedFormat, ext, strings.Join(v.Formats, ", "))
	}

	if f.Open == nil {
		return "", fmt.Errorf("%w: %s cannot be read", ErrUnsupportedFormat, f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	mt, err := mimetype.DetectReader(rc)
	if err != nil {
		return "", fmt.Errorf("sniff %s: %w", f.Name, err)
	}
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "video/") {
			return mt.String(), nil
		}
	}
	return "", fmt.Errorf("%w: %s content is %s", ErrUnsupportedFormat, f.Name, mt.String())
}

func formatBytes(n int64) string {
	const mb = 1 << 20
	if n >= mb {
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}
