package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/artifact-keeper/artifact-keeper/interfaces"
)

// FileBackend implements a storage backend using the local file system.
// Objects live at {baseDir}/{key}; keys may contain slashes.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a new file storage backend rooted at baseDir,
// creating the directory if it doesn't exist.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("%w: empty base directory", interfaces.ErrInvalidConfig)
	}

	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidConfig, err)
	}

	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileBackend{
		baseDir:     abs,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", abs),
	}, nil
}

// Put writes content to a temporary file and renames it into place so
// readers never observe a partial object.
func (b *FileBackend) Put(ctx context.Context, key string, content []byte) error {
	filePath, err := b.pathFor(key)
	if err != nil {
		return &interfaces.StorageError{Op: "put", Key: key, Err: err}
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &interfaces.StorageError{Op: "put", Key: key, Err: fmt.Errorf("failed to create directory: %w", err)}
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return &interfaces.StorageError{Op: "put", Key: key, Err: fmt.Errorf("failed to create temp file: %w", err)}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &interfaces.StorageError{Op: "put", Key: key, Err: fmt.Errorf("failed to write file: %w", err)}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &interfaces.StorageError{Op: "put", Key: key, Err: fmt.Errorf("failed to close file: %w", err)}
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		os.Remove(tmpName)
		return &interfaces.StorageError{Op: "put", Key: key, Err: fmt.Errorf("failed to rename file: %w", err)}
	}

	b.log.Debug("Stored content in file",
		slog.String("path", filePath),
		slog.Int("size", len(content)))

	return nil
}

// Get reads the object at key. Returns ErrContentNotFound if the file doesn't exist.
func (b *FileBackend) Get(ctx context.Context, key string) ([]byte, error) {
	filePath, err := b.pathFor(key)
	if err != nil {
		return nil, &interfaces.StorageError{Op: "get", Key: key, Err: err}
	}

	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &interfaces.StorageError{Op: "get", Key: key, Err: interfaces.ErrContentNotFound}
	}
	if err != nil {
		return nil, &interfaces.StorageError{Op: "get", Key: key, Err: fmt.Errorf("failed to read file: %w", err)}
	}

	b.log.Debug("Fetched content from file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return data, nil
}

// Exists reports whether a regular file is present at key.
func (b *FileBackend) Exists(ctx context.Context, key string) (bool, error) {
	filePath, err := b.pathFor(key)
	if err != nil {
		return false, &interfaces.StorageError{Op: "exists", Key: key, Err: err}
	}

	info, err := os.Stat(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &interfaces.StorageError{Op: "exists", Key: key, Err: err}
	}
	return info.Mode().IsRegular(), nil
}

// Delete removes the file at key. A missing file is not an error.
func (b *FileBackend) Delete(ctx context.Context, key string) error {
	filePath, err := b.pathFor(key)
	if err != nil {
		return &interfaces.StorageError{Op: "delete", Key: key, Err: err}
	}

	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &interfaces.StorageError{Op: "delete", Key: key, Err: fmt.Errorf("failed to remove file: %w", err)}
	}

	b.log.Debug("Deleted content file", slog.String("path", filePath))
	return nil
}

// SupportsRedirect is always false; local files have no client-followable URL.
func (b *FileBackend) SupportsRedirect() bool {
	return false
}

// PresignedURL always returns nil.
func (b *FileBackend) PresignedURL(ctx context.Context, key string, ttl time.Duration) (*interfaces.PresignedURL, error) {
	return nil, nil
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

// BaseDir returns the absolute root directory of this backend.
func (b *FileBackend) BaseDir() string {
	return b.baseDir
}

// pathFor maps key to a path under baseDir, rejecting keys that would
// escape it.
func (b *FileBackend) pathFor(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty key", interfaces.ErrInvalidConfig)
	}

	p := filepath.Join(b.baseDir, filepath.FromSlash(key))
	if p != b.baseDir && !strings.HasPrefix(p, b.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: key %q escapes storage root", interfaces.ErrInvalidConfig, key)
	}
	if p == b.baseDir {
		return "", fmt.Errorf("%w: key %q resolves to storage root", interfaces.ErrInvalidConfig, key)
	}
	return p, nil
}
