package gc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/artifact-keeper/artifact-keeper/interfaces"
	"github.com/artifact-keeper/artifact-keeper/metrics"
)

// Result summarizes one garbage collection run.
type Result struct {
	DryRun             bool     `json:"dry_run"`
	StorageKeysDeleted int64    `json:"storage_keys_deleted"`
	ArtifactsRemoved   int64    `json:"artifacts_removed"`
	BytesFreed         int64    `json:"bytes_freed"`
	Errors             []string `json:"errors"`
}

// Runner runs one collection pass.
type Runner interface {
	Run(ctx context.Context, dryRun bool) (*Result, error)
}

// Collector reclaims storage objects whose key is referenced only by
// soft-deleted artifacts, then hard-deletes those artifact rows.
type Collector struct {
	catalog  interfaces.Catalog
	backends interfaces.BackendResolver
	metrics  *metrics.GCRecorder
	log      *slog.Logger
}

// NewCollector creates a Collector. recorder may be nil.
func NewCollector(catalog interfaces.Catalog, backends interfaces.BackendResolver, recorder *metrics.GCRecorder, log *slog.Logger) *Collector {
	return &Collector{
		catalog:  catalog,
		backends: backends,
		metrics:  recorder,
		log:      log,
	}
}

// Run performs one pass. Only a failure of the orphan query is returned as
// an error; every per-group failure is recorded in Result.Errors and the
// group's catalog rows are left in place for the next run.
func (c *Collector) Run(ctx context.Context, dryRun bool) (*Result, error) {
	start := time.Now()

	orphans, err := c.catalog.FindOrphans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find orphaned storage keys: %w", err)
	}

	result := &Result{
		DryRun: dryRun,
		Errors: []string{},
	}

	if dryRun {
		for _, group := range orphans {
			result.StorageKeysDeleted++
			result.ArtifactsRemoved += group.ArtifactCount
			result.BytesFreed += group.TotalBytes
		}
		c.log.Info("Storage GC dry run",
			slog.Int64("storage_keys", result.StorageKeysDeleted),
			slog.Int64("artifacts", result.ArtifactsRemoved),
			slog.Int64("bytes", result.BytesFreed))
		c.metrics.RecordRun(true, result.StorageKeysDeleted, result.ArtifactsRemoved, result.BytesFreed, 0, time.Since(start))
		return result, nil
	}

	for _, group := range orphans {
		if err := ctx.Err(); err != nil {
			result.addError(c.log, fmt.Sprintf("storage gc interrupted: %v", err))
			break
		}
		c.collectGroup(ctx, group, result)
	}

	if result.StorageKeysDeleted > 0 {
		c.log.Info("Storage GC completed",
			slog.Int64("storage_keys_deleted", result.StorageKeysDeleted),
			slog.Int64("artifacts_removed", result.ArtifactsRemoved),
			slog.Int64("bytes_freed", result.BytesFreed),
			slog.Int("errors", len(result.Errors)))
	}

	c.metrics.RecordRun(false, result.StorageKeysDeleted, result.ArtifactsRemoved, result.BytesFreed, len(result.Errors), time.Since(start))
	return result, nil
}

// collectGroup deletes the physical object before any catalog row so a
// failure never leaves rows pointing at nothing.
func (c *Collector) collectGroup(ctx context.Context, group interfaces.OrphanGroup, result *Result) {
	backend, err := c.backends.BackendFor(group.StoragePath)
	if err != nil {
		result.addError(c.log, fmt.Sprintf("Failed to resolve storage backend for %s: %v", group.StoragePath, err))
		return
	}

	if err := backend.Delete(ctx, group.StorageKey); err != nil {
		result.addError(c.log, fmt.Sprintf("Failed to delete storage key %s: %v", group.StorageKey, err))
		return
	}

	if err := c.catalog.DeleteDependents(ctx, group.StorageKey); err != nil {
		result.addError(c.log, fmt.Sprintf("Failed to delete promotion approvals for key %s: %v", group.StorageKey, err))
		return
	}

	if _, err := c.catalog.HardDeleteArtifacts(ctx, group.StorageKey); err != nil {
		result.addError(c.log, fmt.Sprintf("Failed to hard-delete artifacts for key %s: %v", group.StorageKey, err))
		return
	}

	c.log.Debug("Reclaimed storage key",
		slog.String("storage_key", group.StorageKey),
		slog.String("storage_path", group.StoragePath),
		slog.String("backend", backend.Name()),
		slog.Int64("artifacts", group.ArtifactCount),
		slog.Int64("bytes", group.TotalBytes))

	result.StorageKeysDeleted++
	result.ArtifactsRemoved += group.ArtifactCount
	result.BytesFreed += group.TotalBytes
}

func (r *Result) addError(log *slog.Logger, msg string) {
	log.Warn("Storage GC error", "err", msg)
	r.Errors = append(r.Errors, msg)
}
