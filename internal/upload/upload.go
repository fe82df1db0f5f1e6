package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"gatehouse.dev/internal/auth"
)

// DefaultImageTypes maps accepted image content types to stored extensions.
var DefaultImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Disk stores uploads as uuid-named files under a directory.
type Disk struct {
	dir      string
	maxBytes int64
	types    map[string]string
	newName  func() string
}

var _ auth.Uploader = (*Disk)(nil)

// NewDisk returns an uploader writing into dir and rejecting files larger
// than maxBytes.
func NewDisk(dir string, maxBytes int64) (*Disk, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("upload: directory is required")
	}
	if maxBytes <= 0 {
		return nil, errors.New("upload: size limit must be positive")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("upload: create dir: %w", err)
	}
	return &Disk{dir: dir, maxBytes: maxBytes, types: DefaultImageTypes, newName: uuid.NewString}, nil
}

// Dir returns the storage directory.
func (d *Disk) Dir() string { return d.dir }

// SaveImage validates the content type and size, then writes the body.
func (d *Disk) SaveImage(ctx context.Context, u auth.Upload) (string, error) {
	contentType := strings.ToLower(strings.TrimSpace(strings.Split(u.ContentType, ";")[0]))
	ext, ok := d.types[contentType]
	if !ok {
		return "", fmt.Errorf("%w: file type %q is not allowed", auth.ErrInvalidInput, u.ContentType)
	}
	if u.Body == nil {
		return "", fmt.Errorf("%w: empty upload", auth.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := io.ReadAll(io.LimitReader(u.Body, d.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > d.maxBytes {
		return "", fmt.Errorf("%w: file too large, maximum size is %dMB", auth.ErrInvalidInput, d.maxBytes>>20)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty upload", auth.ErrInvalidInput)
	}

	name := d.newName() + ext
	if err := os.WriteFile(filepath.Join(d.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return name, nil
}

// Remove deletes a previously stored file. Missing files are ignored.
func (d *Disk) Remove(name string) error {
	if name == "" || name != filepath.Base(name) {
		return fmt.Errorf("%w: invalid filename", auth.ErrInvalidInput)
	}
	err := os.Remove(filepath.Join(d.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
