package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/artifact-keeper/artifact-keeper/interfaces"
)

// LegacyFallbackBackend wraps a driver without native migration support.
// Get and Exists retry a miss against the legacy checksum-sharded key; every
// other operation goes to the wrapped backend unchanged.
type LegacyFallbackBackend struct {
	backend interfaces.StorageBackend
	log     *slog.Logger
}

// NewLegacyFallbackBackend wraps backend with migration-mode fallback reads.
func NewLegacyFallbackBackend(backend interfaces.StorageBackend, logger *slog.Logger) *LegacyFallbackBackend {
	if logger == nil {
		logger = slog.Default()
	}

	return &LegacyFallbackBackend{
		backend: backend,
		log:     logger,
	}
}

func (l *LegacyFallbackBackend) Put(ctx context.Context, key string, content []byte) error {
	return l.backend.Put(ctx, key, content)
}

// Get returns the object at key, or at its legacy key when the canonical
// key is missing. Transport errors from either lookup are surfaced.
func (l *LegacyFallbackBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := l.backend.Get(ctx, key)
	if !errors.Is(err, interfaces.ErrContentNotFound) {
		return data, err
	}

	fallback, ok := LegacyFallbackKey(key)
	if !ok {
		return nil, err
	}

	l.log.Debug("Trying legacy fallback path",
		slog.String("backend_name", l.backend.Name()),
		slog.String("original", key),
		slog.String("fallback", fallback))

	data, ferr := l.backend.Get(ctx, fallback)
	if ferr != nil {
		if errors.Is(ferr, interfaces.ErrContentNotFound) {
			return nil, err
		}
		return nil, ferr
	}

	l.log.Info("Found artifact at legacy fallback path",
		slog.String("backend_name", l.backend.Name()),
		slog.String("key", key),
		slog.String("fallback", fallback))

	return data, nil
}

// Exists reports whether key or its legacy key is present.
func (l *LegacyFallbackBackend) Exists(ctx context.Context, key string) (bool, error) {
	found, err := l.backend.Exists(ctx, key)
	if err != nil || found {
		return found, err
	}

	fallback, ok := LegacyFallbackKey(key)
	if !ok {
		return false, nil
	}
	return l.backend.Exists(ctx, fallback)
}

// Delete removes only the canonical key; legacy objects are never the
// target of a catalog-driven delete.
func (l *LegacyFallbackBackend) Delete(ctx context.Context, key string) error {
	return l.backend.Delete(ctx, key)
}

func (l *LegacyFallbackBackend) SupportsRedirect() bool {
	return l.backend.SupportsRedirect()
}

func (l *LegacyFallbackBackend) PresignedURL(ctx context.Context, key string, ttl time.Duration) (*interfaces.PresignedURL, error) {
	return l.backend.PresignedURL(ctx, key, ttl)
}

// Name returns the name of the wrapped backend.
func (l *LegacyFallbackBackend) Name() string {
	return l.backend.Name()
}

// LocationURI returns the URI of the wrapped backend.
func (l *LegacyFallbackBackend) LocationURI() string {
	return l.backend.LocationURI()
}
