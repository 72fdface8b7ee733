// Package artifacts stores the published app package and content file in
// fixed "latest" slots and finalizes uploads into them.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound reports an empty slot.
var ErrNotFound = errors.New("artifacts: not found")

// ObjectInfo describes a stored slot.
type ObjectInfo struct {
	Size         int64
	LastModified time.Time
}

// Backend persists named objects. Put overwrites.
type Backend interface {
	Put(ctx context.Context, name string, body io.Reader, size int64, contentType string) error
	Open(ctx context.Context, name string) (io.ReadCloser, ObjectInfo, error)
	Stat(ctx context.Context, name string) (ObjectInfo, error)
}

// FilesystemBackend keeps slots as files in a single directory.
type FilesystemBackend struct {
	root string
}

// NewFilesystemBackend creates root when missing.
func NewFilesystemBackend(root string) (*FilesystemBackend, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("artifacts: uploads directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: create uploads directory: %w", err)
	}
	return &FilesystemBackend{root: root}, nil
}

// Put streams body into a temporary file and renames it over the slot.
func (b *FilesystemBackend) Put(_ context.Context, name string, body io.Reader, _ int64, _ string) error {
	target, err := b.path(name)
	if err != nil {
		return err
	}
	temp, err := os.CreateTemp(b.root, "."+name+".*.tmp")
	if err != nil {
		return err
	}
	tempPath := temp.Name()
	if _, err := io.Copy(temp, body); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return err
	}
	if err := temp.Sync(); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return err
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	if err := os.Chmod(tempPath, 0o644); err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	return os.Rename(tempPath, target)
}

// Open returns the slot content.
func (b *FilesystemBackend) Open(_ context.Context, name string) (io.ReadCloser, ObjectInfo, error) {
	target, err := b.path(name)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	file, err := os.Open(target)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ObjectInfo{}, ErrNotFound
	}
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, ObjectInfo{}, err
	}
	return file, ObjectInfo{Size: stat.Size(), LastModified: stat.ModTime().UTC()}, nil
}

// Stat describes the slot without opening it.
func (b *FilesystemBackend) Stat(_ context.Context, name string) (ObjectInfo, error) {
	target, err := b.path(name)
	if err != nil {
		return ObjectInfo{}, err
	}
	stat, err := os.Stat(target)
	if errors.Is(err, os.ErrNotExist) {
		return ObjectInfo{}, ErrNotFound
	}
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{Size: stat.Size(), LastModified: stat.ModTime().UTC()}, nil
}

func (b *FilesystemBackend) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("artifacts: invalid object name %q", name)
	}
	return filepath.Join(b.root, name), nil
}
