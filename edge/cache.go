package edge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/artifact-keeper/artifact-keeper/interfaces"
	"github.com/artifact-keeper/artifact-keeper/storage"
)

// Cache is the edge node's local artifact store. It keeps entry and byte
// counters for the heartbeat payload.
type Cache struct {
	backend interfaces.StorageBackend
	log     *slog.Logger

	mu    sync.RWMutex
	sizes map[string]int64
	bytes int64
}

// OpenCache opens a filesystem cache in dir and indexes what is already there.
// Dot-files, such as the persisted node id, are not cache entries.
func OpenCache(dir string, log *slog.Logger) (*Cache, error) {
	backend, err := storage.NewFileBackend(dir, log)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		backend: backend,
		log:     log,
		sizes:   make(map[string]int64),
	}

	root := backend.BaseDir()
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		c.sizes[filepath.ToSlash(rel)] = info.Size()
		c.bytes += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to index cache directory: %w", err)
	}

	log.Info("Opened edge cache",
		slog.String("dir", root),
		slog.Int("entries", len(c.sizes)),
		slog.Int64("bytes", c.bytes))
	return c, nil
}

// Get returns cached content. A miss is interfaces.ErrContentNotFound.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	return c.backend.Get(ctx, key)
}

// Put stores content under key and updates the counters.
func (c *Cache) Put(ctx context.Context, key string, content []byte) error {
	if err := c.backend.Put(ctx, key, content); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytes += int64(len(content)) - c.sizes[key]
	c.sizes[key] = int64(len(content))
	return nil
}

// Evict removes key from the cache. Evicting a missing key is not an error.
func (c *Cache) Evict(ctx context.Context, key string) error {
	if err := c.backend.Delete(ctx, key); err != nil && !errors.Is(err, interfaces.ErrContentNotFound) {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytes -= c.sizes[key]
	delete(c.sizes, key)
	return nil
}

// Size returns the total cached bytes.
func (c *Cache) Size() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bytes
}

// Len returns the number of cached entries.
func (c *Cache) Len() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(len(c.sizes))
}
