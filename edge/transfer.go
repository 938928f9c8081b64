package edge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/artifact-keeper/artifact-keeper/api"
	"github.com/artifact-keeper/artifact-keeper/interfaces"
	"github.com/artifact-keeper/artifact-keeper/metrics"
	"github.com/google/uuid"
)

// DefaultChunkedThreshold is the smallest artifact fetched with chunked transfer.
const DefaultChunkedThreshold int64 = 100 << 20

// Strategy is how an artifact is pulled from the primary.
type Strategy string

const (
	// StrategySimple fetches the whole object in one request to the primary.
	StrategySimple Strategy = "simple"
	// StrategyChunked uses the multi-peer chunked transfer protocol.
	StrategyChunked Strategy = "chunked"
)

// SelectStrategy picks chunked transfer only when it is enabled, the
// artifact is at least threshold bytes, and the node is addressable as a peer.
func SelectStrategy(enabled bool, size, threshold int64, hasNodeID bool) Strategy {
	if enabled && size >= threshold && hasNodeID {
		return StrategyChunked
	}
	return StrategySimple
}

// ChunkedTransfer fetches a large artifact from peers and the primary.
type ChunkedTransfer interface {
	Fetch(ctx context.Context, nodeID, artifactID uuid.UUID) ([]byte, error)
}

// FetcherConfig controls transfer strategy selection.
type FetcherConfig struct {
	ChunkedEnabled   bool
	ChunkedThreshold int64
}

// Fetcher pulls artifacts from the primary into the local cache.
type Fetcher struct {
	cfg     FetcherConfig
	primary api.PrimaryAPI
	chunked ChunkedTransfer
	state   *State
	cache   *Cache
	metrics *metrics.EdgeRecorder
	log     *slog.Logger
}

// NewFetcher creates a fetcher. chunked may be nil, which disables chunked
// transfer regardless of cfg.
func NewFetcher(cfg FetcherConfig, primary api.PrimaryAPI, chunked ChunkedTransfer, state *State, cache *Cache, recorder *metrics.EdgeRecorder, log *slog.Logger) *Fetcher {
	if cfg.ChunkedThreshold <= 0 {
		cfg.ChunkedThreshold = DefaultChunkedThreshold
	}
	if chunked == nil {
		cfg.ChunkedEnabled = false
	}
	return &Fetcher{
		cfg:     cfg,
		primary: primary,
		chunked: chunked,
		state:   state,
		cache:   cache,
		metrics: recorder,
		log:     log,
	}
}

// ArtifactKey is the cache key for an artifact fetched by id.
func ArtifactKey(artifactID uuid.UUID) string {
	return "artifacts/" + artifactID.String()
}

// PathKey is the cache key for an artifact fetched by repository and path.
func PathKey(repoKey, artifactPath string) string {
	return path.Join("repositories", repoKey, strings.TrimLeft(artifactPath, "/"))
}

// FetchArtifactByID returns the artifact from the cache or pulls it from the
// primary with the selected strategy.
func (f *Fetcher) FetchArtifactByID(ctx context.Context, artifactID uuid.UUID, size int64) ([]byte, error) {
	key := ArtifactKey(artifactID)
	if data, ok := f.cached(ctx, key); ok {
		return data, nil
	}

	nodeID, hasNodeID := f.state.NodeID()
	strategy := SelectStrategy(f.cfg.ChunkedEnabled, size, f.cfg.ChunkedThreshold, hasNodeID)

	var data []byte
	var err error
	switch strategy {
	case StrategyChunked:
		f.log.Info("Using chunked transfer", slog.String("artifact_id", artifactID.String()), slog.Int64("size", size))
		data, err = f.chunked.Fetch(ctx, nodeID, artifactID)
	default:
		f.log.Debug("Using simple fetch", slog.String("artifact_id", artifactID.String()), slog.Int64("size", size))
		data, err = readAll(f.primary.DownloadArtifact(ctx, artifactID))
	}
	f.metrics.RecordTransfer(string(strategy), err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch artifact %s: %w", artifactID, err)
	}

	f.store(ctx, key, data)
	return data, nil
}

// FetchByPath returns the artifact from the cache or downloads it whole from
// the primary.
func (f *Fetcher) FetchByPath(ctx context.Context, repoKey, artifactPath string) ([]byte, error) {
	key := PathKey(repoKey, artifactPath)
	if data, ok := f.cached(ctx, key); ok {
		return data, nil
	}

	data, err := readAll(f.primary.DownloadByPath(ctx, repoKey, artifactPath))
	f.metrics.RecordTransfer(string(StrategySimple), err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s/%s: %w", repoKey, artifactPath, err)
	}

	f.store(ctx, key, data)
	return data, nil
}

func (f *Fetcher) cached(ctx context.Context, key string) ([]byte, bool) {
	data, err := f.cache.Get(ctx, key)
	if err == nil {
		return data, true
	}
	if errors.Is(err, interfaces.ErrContentNotFound) {
		return nil, false
	}

	// An unreadable entry is dropped so the refetched copy can replace it
	f.log.Warn("Cache read failed, evicting entry", slog.String("key", key), "err", err)
	if err := f.cache.Evict(ctx, key); err != nil {
		f.log.Warn("Failed to evict cache entry", slog.String("key", key), "err", err)
	}
	return nil, false
}

// store failures are logged only; the caller still gets the bytes.
func (f *Fetcher) store(ctx context.Context, key string, data []byte) {
	if err := f.cache.Put(ctx, key, data); err != nil {
		f.log.Warn("Failed to cache artifact", slog.String("key", key), "err", err)
		return
	}
	f.metrics.RecordCache(f.cache.Size(), f.cache.Len())
}

func readAll(rc io.ReadCloser, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
